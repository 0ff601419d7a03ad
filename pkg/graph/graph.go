// Package graph provides cached vertices and edges on top of a storage engine
// whose record writes and index writes are not atomic.
//
// A Graph is one session over an engine. Within a session each element id
// has at most one canonical in-memory instance, tracked by a Registry. Other
// instances of the same id can exist (for example ones built by a write path
// or obtained with UncachedVertex); every mutation pushes its effect onto the
// canonical instance through the registry so later lookups observe it.
//
// Reads of a vertex's edges go through a per-vertex AdjacencyCache, then the
// engine's endpoint index rows, then the edge records. Index rows can run
// ahead of or outlive their records; rows found to be stale are handed to a
// background Reconciler once they are older than StaleIndexExpiry.
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	g, err := graph.New(engine, graph.DefaultOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer g.Close()
//
//	alice, _ := g.AddVertex(ctx, "person", "name", "alice")
//	bob, _ := g.AddVertex(ctx, "person", "name", "bob")
//	alice.AddEdge(ctx, "knows", bob, "since", 2020)
//
//	friends, _ := alice.Vertices(ctx, storage.DirectionOut, "knows").Collect()
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// Graph is a cached session over a storage engine. It is safe for concurrent
// use. The engine is owned by the caller and is not closed by Close.
type Graph struct {
	engine storage.Engine
	opts   Options
	logger storage.Logger

	// nil when ElementCacheEnabled is false
	vertices *Registry[Vertex]
	edges    *Registry[Edge]

	loads      singleflight.Group
	reconciler *Reconciler
}

// New creates a graph session over engine.
func New(engine storage.Engine, opts Options) (*Graph, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine", ErrArgumentNil)
	}
	opts = opts.withDefaults()

	g := &Graph{
		engine: engine,
		opts:   opts,
		logger: opts.Logger,
	}
	if opts.ElementCacheEnabled {
		g.vertices = NewRegistry("vertex", func(id storage.ID) *Vertex {
			return newVertex(g, id, true)
		}, func(v *Vertex) bool {
			return !v.IsDeleted()
		}, opts.ElementCacheMaxSize, opts.ElementCacheTTL, opts.Clock)
		g.edges = NewRegistry("edge", func(id storage.ID) *Edge {
			return newEdge(g, id, true)
		}, func(e *Edge) bool {
			return !e.IsDeleted()
		}, opts.ElementCacheMaxSize, opts.ElementCacheTTL, opts.Clock)
	}
	g.reconciler = NewReconciler(engine, opts.Reconciler, opts.StaleIndexExpiry, opts.Clock, opts.Logger)
	return g, nil
}

// Close stops the reconciler after finishing queued cleanup jobs.
func (g *Graph) Close() error {
	g.reconciler.Close()
	return nil
}

// Flush waits for queued cleanup jobs to finish.
func (g *Graph) Flush(ctx context.Context) error {
	return g.reconciler.Flush(ctx)
}

// Engine returns the underlying storage engine.
func (g *Graph) Engine() storage.Engine { return g.engine }

// Reconciler returns the session's stale index reconciler.
func (g *Graph) Reconciler() *Reconciler { return g.reconciler }

func (g *Graph) nowMillis() int64 {
	return g.opts.Clock().UnixMilli()
}

// ============================================================================
// Canonical instances
// ============================================================================

// FindVertex returns the canonical instance for id. When none is live it is
// created if createIfAbsent is set, otherwise nil is returned. A removed
// instance is never canonical: the next lookup gets a fresh instance whose
// Load reports whatever the store now holds. With element caching disabled
// every created instance is fresh and uncached.
func (g *Graph) FindVertex(id storage.ID, createIfAbsent bool) *Vertex {
	if g.vertices == nil {
		if createIfAbsent {
			return newVertex(g, id, false)
		}
		return nil
	}
	if createIfAbsent {
		return g.vertices.FindOrCreate(id)
	}
	v, _ := g.vertices.Find(id)
	return v
}

// FindEdge is FindVertex for edges.
func (g *Graph) FindEdge(id storage.ID, createIfAbsent bool) *Edge {
	if g.edges == nil {
		if createIfAbsent {
			return newEdge(g, id, false)
		}
		return nil
	}
	if createIfAbsent {
		return g.edges.FindOrCreate(id)
	}
	e, _ := g.edges.Find(id)
	return e
}

// UncachedVertex returns a new instance for id that is not registered and
// does not cache adjacency. It is not loaded.
func (g *Graph) UncachedVertex(id storage.ID) *Vertex {
	return newVertex(g, id, false)
}

// invalidateVertex applies effect to the canonical instance of id if there
// is one. Without element caching it falls back to a freshly loaded
// instance.
func (g *Graph) invalidateVertex(ctx context.Context, id storage.ID, effect func(*Vertex)) {
	if g.vertices != nil {
		g.vertices.InvalidateIfPresent(id, effect)
		return
	}
	fresh := newVertex(g, id, false)
	if err := fresh.Load(ctx); err == nil {
		effect(fresh)
	}
}

func (g *Graph) invalidateEdge(ctx context.Context, id storage.ID, effect func(*Edge)) {
	if g.edges != nil {
		g.edges.InvalidateIfPresent(id, effect)
		return
	}
	fresh := newEdge(g, id, false)
	if err := fresh.Load(ctx); err == nil {
		effect(fresh)
	}
}

func (g *Graph) invalidateIfPresent(ctx context.Context, kind storage.Kind, id storage.ID, effect func(*element)) {
	if kind == storage.KindEdge {
		g.invalidateEdge(ctx, id, func(e *Edge) { effect(&e.element) })
		return
	}
	g.invalidateVertex(ctx, id, func(v *Vertex) { effect(&v.element) })
}

// invalidateAdjacency drops the adjacency caches of the given instances and
// of the canonical instance of every id.
func (g *Graph) invalidateAdjacency(ctx context.Context, ids []storage.ID, instances ...*Vertex) {
	for _, v := range instances {
		if v != nil {
			v.InvalidateAdjacency()
		}
	}
	for i, id := range ids {
		if id == "" || (i > 0 && id == ids[i-1]) {
			continue
		}
		g.invalidateVertex(ctx, id, (*Vertex).InvalidateAdjacency)
	}
}

// ============================================================================
// Vertices
// ============================================================================

// AddVertex creates a vertex. keyValues alternate property keys and values;
// IDKey supplies the id, otherwise a random UUID is used.
func (g *Graph) AddVertex(ctx context.Context, label string, keyValues ...any) (*Vertex, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	id, props, err := parseKeyValues(keyValues)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = storage.ID(uuid.NewString())
	}

	now := g.nowMillis()
	rec := &storage.Record{
		ID:         id,
		Kind:       storage.KindVertex,
		Label:      label,
		CreatedAt:  now,
		UpdatedAt:  now,
		Properties: props,
	}
	if err := g.engine.WriteIndexEntries(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to write index rows for vertex %s: %w", id, err)
	}
	if err := g.engine.PutRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to write vertex %s: %w", id, err)
	}

	v := g.FindVertex(id, true)
	v.copyFrom(rec)
	return v, nil
}

// Vertex looks up a vertex by id.
func (g *Graph) Vertex(ctx context.Context, id storage.ID) (*Vertex, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: vertex id", ErrArgumentNil)
	}
	v := g.FindVertex(id, true)
	if err := v.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// Vertices lazily looks up vertices by id, skipping ids that do not exist.
func (g *Graph) Vertices(ctx context.Context, ids ...storage.ID) *VertexIterator {
	return newIterator(ctx, func(ctx context.Context) ([]*Vertex, error) {
		out := make([]*Vertex, 0, len(ids))
		for _, id := range ids {
			v, err := g.Vertex(ctx, id)
			if errors.Is(err, ErrElementNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	})
}

// VerticesByProperty lazily finds vertices with label whose key equals value
// through a declared vertex index. Without an index it fails with
// storage.ErrNoIndex.
func (g *Graph) VerticesByProperty(ctx context.Context, label, key string, value any) *VertexIterator {
	return newIterator(ctx, func(ctx context.Context) ([]*Vertex, error) {
		if value == nil {
			return nil, fmt.Errorf("%w: nil value", ErrInvalidKeyValues)
		}
		return g.scanVertices(ctx, storage.IndexScan{
			Key:   storage.IndexKey{Kind: storage.KindVertex, Label: label, PropertyKey: key},
			Value: value,
		})
	})
}

// VerticesInRange is VerticesByProperty for values in [from, to). A nil bound
// is open.
func (g *Graph) VerticesInRange(ctx context.Context, label, key string, from, to any) *VertexIterator {
	return newIterator(ctx, func(ctx context.Context) ([]*Vertex, error) {
		return g.scanVertices(ctx, storage.IndexScan{
			Key:   storage.IndexKey{Kind: storage.KindVertex, Label: label, PropertyKey: key},
			From:  from,
			To:    to,
			Range: true,
		})
	})
}

func (g *Graph) scanVertices(ctx context.Context, scan storage.IndexScan) ([]*Vertex, error) {
	rows, err := g.engine.ScanByIndex(ctx, scan)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", scan.Key, err)
	}

	out := make([]*Vertex, 0, len(rows))
	for _, row := range rows {
		v := g.FindVertex(row.Element, true)
		if v.IsDeleted() {
			continue
		}
		v.setProvenance(row)
		if g.opts.LazyLoading && !v.IsLoaded() {
			v.adoptRow(row)
			out = append(out, v)
			continue
		}
		if err := v.ensureLoaded(ctx); err != nil {
			if errors.Is(err, ErrElementNotFound) {
				continue
			}
			return nil, err
		}
		if !row.Matches(v.record()) {
			g.reconciler.MaybeScheduleCleanup(&row)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// ============================================================================
// Edges
// ============================================================================

// Edge looks up an edge by id.
func (g *Graph) Edge(ctx context.Context, id storage.ID) (*Edge, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: edge id", ErrArgumentNil)
	}
	e := g.FindEdge(id, true)
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// ============================================================================
// Indexes
// ============================================================================

// CreateIndex declares a property index on elements of kind with label and
// backfills it.
func (g *Graph) CreateIndex(ctx context.Context, kind storage.Kind, label, key string, unique bool) error {
	if err := validateLabel(label); err != nil {
		return err
	}
	if err := validatePropertyKey(key); err != nil {
		return err
	}
	return g.engine.CreateIndex(ctx, storage.IndexKey{Kind: kind, Label: label, PropertyKey: key}, unique)
}

// DropIndex removes a declared property index.
func (g *Graph) DropIndex(ctx context.Context, kind storage.Kind, label, key string) error {
	return g.engine.DropIndex(ctx, storage.IndexKey{Kind: kind, Label: label, PropertyKey: key})
}

// Indexes lists the declared property indexes.
func (g *Graph) Indexes(ctx context.Context) ([]storage.IndexMeta, error) {
	return g.engine.Indexes(ctx)
}

// Stats is a snapshot of session counters.
type Stats struct {
	CanonicalVertices int             `json:"canonical_vertices"`
	CanonicalEdges    int             `json:"canonical_edges"`
	Reconciler        ReconcilerStats `json:"reconciler"`
}

// Stats returns session statistics.
func (g *Graph) Stats() Stats {
	s := Stats{Reconciler: g.reconciler.Stats()}
	if g.vertices != nil {
		s.CanonicalVertices = g.vertices.Len()
		s.CanonicalEdges = g.edges.Len()
	}
	return s
}
