package storage

import (
	"bytes"
	"fmt"
)

// Key prefixes for row organization.
// Using single-byte prefixes for efficiency.
const (
	prefixVertexRecord  = byte(0x01) // vertex:id -> Record
	prefixEdgeRecord    = byte(0x02) // edge:id -> Record
	prefixVertexIndex   = byte(0x03) // vindex:label:key:value:id -> IndexEntry
	prefixEndpointIndex = byte(0x04) // endpoint:vertex:dir label:edgeID -> IndexEntry
	prefixEdgeIndex     = byte(0x05) // eindex:vertex:dir label:key:value:edgeID -> IndexEntry
	prefixIndexMeta     = byte(0x06) // meta:kind label:key -> IndexMeta
)

// validateID rejects IDs that cannot be embedded in row keys.
func validateID(id ID) error {
	if id == "" || bytes.IndexByte([]byte(id), 0x00) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func validateName(what, name string) error {
	if bytes.IndexByte([]byte(name), 0x00) >= 0 {
		return fmt.Errorf("%w: %s %q contains NUL", ErrInvalidData, what, name)
	}
	return nil
}

func validateRecord(rec *Record) error {
	if rec == nil {
		return ErrInvalidData
	}
	if err := validateID(rec.ID); err != nil {
		return err
	}
	if err := validateName("label", rec.Label); err != nil {
		return err
	}
	switch rec.Kind {
	case KindVertex:
	case KindEdge:
		if err := validateID(rec.OutV); err != nil {
			return fmt.Errorf("edge %s out vertex: %w", rec.ID, err)
		}
		if err := validateID(rec.InV); err != nil {
			return fmt.Errorf("edge %s in vertex: %w", rec.ID, err)
		}
	default:
		return fmt.Errorf("%w: record kind %v", ErrInvalidData, rec.Kind)
	}
	return nil
}

// recordKey creates a key for storing a primary record.
func recordKey(kind Kind, id ID) []byte {
	prefix := prefixVertexRecord
	if kind == KindEdge {
		prefix = prefixEdgeRecord
	}
	key := make([]byte, 0, 1+len(id))
	key = append(key, prefix)
	return append(key, id...)
}

// vertexIndexPrefix returns the prefix of all rows of one vertex property index.
// Format: prefix + label + 0x00 + key + 0x00
func vertexIndexPrefix(label, propertyKey string) []byte {
	key := make([]byte, 0, 1+len(label)+1+len(propertyKey)+1)
	key = append(key, prefixVertexIndex)
	key = append(key, label...)
	key = append(key, 0x00)
	key = append(key, propertyKey...)
	return append(key, 0x00)
}

// endpointDirPrefix returns the prefix of all endpoint rows of a vertex on one side.
// Format: prefix + vertexID + 0x00 + dir
func endpointDirPrefix(vertex ID, dir Direction) []byte {
	key := make([]byte, 0, 1+len(vertex)+2)
	key = append(key, prefixEndpointIndex)
	key = append(key, vertex...)
	key = append(key, 0x00, byte(dir))
	return key
}

// endpointLabelPrefix narrows endpointDirPrefix to one edge label.
// Format: prefix + vertexID + 0x00 + dir + label + 0x00
func endpointLabelPrefix(vertex ID, dir Direction, label string) []byte {
	key := endpointDirPrefix(vertex, dir)
	key = append(key, label...)
	return append(key, 0x00)
}

// edgeIndexPrefix returns the prefix of the property rows of one edge index
// under one vertex.
// Format: prefix + vertexID + 0x00 + dir + label + 0x00 + key + 0x00
func edgeIndexPrefix(vertex ID, dir Direction, label, propertyKey string) []byte {
	key := make([]byte, 0, 1+len(vertex)+2+len(label)+1+len(propertyKey)+1)
	key = append(key, prefixEdgeIndex)
	key = append(key, vertex...)
	key = append(key, 0x00, byte(dir))
	key = append(key, label...)
	key = append(key, 0x00)
	key = append(key, propertyKey...)
	return append(key, 0x00)
}

// indexMetaKey creates the key of a declared index.
// Format: prefix + kind + label + 0x00 + key
func indexMetaKey(k IndexKey) []byte {
	key := make([]byte, 0, 2+len(k.Label)+1+len(k.PropertyKey))
	key = append(key, prefixIndexMeta, byte(k.Kind))
	key = append(key, k.Label...)
	key = append(key, 0x00)
	return append(key, k.PropertyKey...)
}

// rowKey returns the physical key of an index row.
func rowKey(e IndexEntry) []byte {
	switch {
	case e.Key.Kind == KindVertex:
		key := escapeKeyPart(vertexIndexPrefix(e.Key.Label, e.Key.PropertyKey), e.Value)
		return append(key, e.Element...)
	case e.Key.PropertyKey == "":
		key := endpointLabelPrefix(e.Vertex, e.Direction, e.Key.Label)
		return append(key, e.Element...)
	default:
		key := escapeKeyPart(edgeIndexPrefix(e.Vertex, e.Direction, e.Key.Label, e.Key.PropertyKey), e.Value)
		return append(key, e.Element...)
	}
}

// keyRange is a prefix-bounded scan, optionally narrowed to [start, end).
type keyRange struct {
	prefix []byte
	start  []byte
	end    []byte
}

func (r keyRange) seek() []byte {
	if r.start != nil {
		return r.start
	}
	return r.prefix
}

// contains reports whether key is inside the range. Keys are visited in
// order, so a false result past the seek point ends the scan.
func (r keyRange) contains(key []byte) bool {
	if !bytes.HasPrefix(key, r.prefix) {
		return false
	}
	return r.end == nil || bytes.Compare(key, r.end) < 0
}

// valueRange narrows base (a property index prefix) to an exact value or to
// [from, to). Nil bounds are open.
func valueRange(base []byte, value, from, to any, isRange bool) (keyRange, error) {
	if !isRange {
		enc, err := EncodeValue(value)
		if err != nil {
			return keyRange{}, err
		}
		return keyRange{prefix: escapeKeyPart(bytes.Clone(base), enc)}, nil
	}
	r := keyRange{prefix: base}
	if from != nil {
		enc, err := EncodeValue(from)
		if err != nil {
			return keyRange{}, err
		}
		r.start = escapeKeyPart(bytes.Clone(base), enc)
	}
	if to != nil {
		enc, err := EncodeValue(to)
		if err != nil {
			return keyRange{}, err
		}
		r.end = escapeKeyPart(bytes.Clone(base), enc)
	}
	return r, nil
}

// vertexScanRange resolves an IndexScan to the key range it covers.
func vertexScanRange(scan IndexScan) (keyRange, error) {
	if scan.Key.Kind != KindVertex || scan.Key.PropertyKey == "" {
		return keyRange{}, fmt.Errorf("%w: vertex scan needs a vertex property index, got %s", ErrInvalidData, scan.Key)
	}
	return valueRange(vertexIndexPrefix(scan.Key.Label, scan.Key.PropertyKey), scan.Value, scan.From, scan.To, scan.Range)
}

// edgeScanRanges resolves an EdgeScan to one key range per direction and label.
func edgeScanRanges(scan EdgeScan) ([]keyRange, error) {
	if err := validateID(scan.Vertex); err != nil {
		return nil, err
	}
	dirs := []Direction{scan.Direction}
	if scan.Direction == DirectionBoth {
		dirs = []Direction{DirectionOut, DirectionIn}
	}

	var ranges []keyRange
	if scan.PropertyKey != "" {
		if len(scan.Labels) != 1 {
			return nil, fmt.Errorf("%w: property edge scan needs exactly one label", ErrInvalidData)
		}
		for _, dir := range dirs {
			r, err := valueRange(edgeIndexPrefix(scan.Vertex, dir, scan.Labels[0], scan.PropertyKey),
				scan.Value, scan.From, scan.To, scan.Range)
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, r)
		}
		return ranges, nil
	}

	for _, dir := range dirs {
		if len(scan.Labels) == 0 {
			ranges = append(ranges, keyRange{prefix: endpointDirPrefix(scan.Vertex, dir)})
			continue
		}
		for _, label := range scan.Labels {
			ranges = append(ranges, keyRange{prefix: endpointLabelPrefix(scan.Vertex, dir, label)})
		}
	}
	return ranges, nil
}
