// Package storage provides the column-store collaborator used by the graph layer.
//
// The store keeps two independent kinds of rows:
//   - Primary records: one row per vertex or edge, keyed by element ID.
//   - Index rows: secondary rows that let the graph discover elements by
//     traversal (edge endpoints) or by property value (declared indexes).
//
// Writing a record and writing its index rows are separate operations. There is
// no multi-row transaction spanning both, so a concurrent reader may observe an
// index row before its record exists, or after the record has been deleted.
// The graph package tolerates and repairs this divergence.
package storage

import (
	"encoding/gob"
	"fmt"
	"maps"
	"time"
)

// ID identifies a vertex or an edge.
type ID string

// Kind distinguishes vertex rows from edge rows.
type Kind byte

const (
	KindVertex Kind = 'v'
	KindEdge   Kind = 'e'
)

func (k Kind) String() string {
	switch k {
	case KindVertex:
		return "vertex"
	case KindEdge:
		return "edge"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Direction selects which side of an edge a traversal follows.
type Direction byte

const (
	DirectionOut  Direction = 'o'
	DirectionIn   Direction = 'i'
	DirectionBoth Direction = 'b'
)

// Opposite returns the reverse direction. BOTH is its own opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionOut:
		return DirectionIn
	case DirectionIn:
		return DirectionOut
	default:
		return d
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "OUT"
	case DirectionIn:
		return "IN"
	case DirectionBoth:
		return "BOTH"
	default:
		return fmt.Sprintf("direction(%d)", byte(d))
	}
}

// ParseDirection parses OUT, IN or BOTH (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "out", "OUT", "Out":
		return DirectionOut, nil
	case "in", "IN", "In":
		return DirectionIn, nil
	case "both", "BOTH", "Both":
		return DirectionBoth, nil
	}
	return 0, fmt.Errorf("%w: unknown direction %q", ErrInvalidData, s)
}

// Record is the primary row of a vertex or an edge.
//
// Timestamps are unix milliseconds. OutV and InV are set for edges only: an
// edge points from OutV to InV.
type Record struct {
	ID         ID
	Kind       Kind
	Label      string
	CreatedAt  int64
	UpdatedAt  int64
	Properties map[string]any
	OutV       ID
	InV        ID
}

// Clone returns a deep copy of the record. Property values are scalars, so a
// shallow map copy is sufficient.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Properties = maps.Clone(r.Properties)
	if c.Properties == nil {
		c.Properties = make(map[string]any)
	}
	return &c
}

// Endpoint returns the vertex that owns the edge's index row for dir:
// OutV for OUT rows and InV for IN rows.
func (r *Record) Endpoint(dir Direction) ID {
	switch dir {
	case DirectionOut:
		return r.OutV
	case DirectionIn:
		return r.InV
	}
	return ""
}

// IndexKey names a secondary index. PropertyKey is empty for the edge
// endpoint index that every edge is written to.
type IndexKey struct {
	Kind        Kind
	Label       string
	PropertyKey string
}

func (k IndexKey) String() string {
	if k.PropertyKey == "" {
		return fmt.Sprintf("%s:%s", k.Kind, k.Label)
	}
	return fmt.Sprintf("%s:%s.%s", k.Kind, k.Label, k.PropertyKey)
}

// IndexMeta describes a declared property index.
type IndexMeta struct {
	Key       IndexKey
	Unique    bool
	CreatedAt int64
}

// IndexEntry identifies one physical index row and carries what the row says
// about the element it names.
//
// For edge endpoint rows Vertex is the vertex the row is stored under,
// Direction is the side of the edge that vertex is on and Other is the vertex
// at the opposite end. Value holds the encoded property value for property
// rows. Timestamp is the UpdatedAt of the record state the row was written
// from.
type IndexEntry struct {
	Key       IndexKey
	Element   ID
	Vertex    ID
	Direction Direction
	Other     ID
	Value     []byte
	Timestamp int64
}

// IsEndpoint reports whether the row lives under an edge endpoint vertex.
func (e IndexEntry) IsEndpoint() bool {
	return e.Key.Kind == KindEdge && e.Vertex != ""
}

// Mirror returns the same edge row as stored under the opposite endpoint.
// It is only meaningful for endpoint rows.
func (e IndexEntry) Mirror() IndexEntry {
	m := e
	m.Vertex, m.Other = e.Other, e.Vertex
	m.Direction = e.Direction.Opposite()
	return m
}

// Matches reports whether rec still satisfies the predicate the row encodes.
// A nil record never matches.
func (e IndexEntry) Matches(rec *Record) bool {
	if rec == nil || rec.ID != e.Element || rec.Kind != e.Key.Kind {
		return false
	}
	if rec.Label != e.Key.Label {
		return false
	}
	if e.IsEndpoint() {
		if rec.Endpoint(e.Direction) != e.Vertex || rec.Endpoint(e.Direction.Opposite()) != e.Other {
			return false
		}
	}
	if e.Key.PropertyKey != "" {
		v, ok := rec.Properties[e.Key.PropertyKey]
		if !ok {
			return false
		}
		enc, err := EncodeValue(v)
		if err != nil || string(enc) != string(e.Value) {
			return false
		}
	}
	return true
}

// IndexScan looks up vertices through a declared vertex property index.
// Either Value is matched exactly or, when Range is set, [From, To).
type IndexScan struct {
	Key   IndexKey
	Value any
	From  any
	To    any
	Range bool
}

// EdgeScan looks up the endpoint rows of one vertex.
//
// Without PropertyKey every edge with one of Labels (any label when empty) on
// the requested side is returned. With PropertyKey exactly one label must be
// given and a declared edge index on (label, key) must exist.
type EdgeScan struct {
	Vertex      ID
	Direction   Direction
	Labels      []string
	PropertyKey string
	Value       any
	From        any
	To          any
	Range       bool
}

func init() {
	// Property maps hold values behind interfaces; gob needs non-basic
	// concrete types registered.
	gob.Register(time.Time{})
}
