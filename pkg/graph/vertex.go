package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// Vertex is an in-memory vertex. Canonical instances (IsCached) also cache
// the results of adjacency queries.
type Vertex struct {
	element
	adjacency *AdjacencyCache
}

func newVertex(g *Graph, id storage.ID, cached bool) *Vertex {
	v := &Vertex{element: newElement(g, storage.KindVertex, id, cached)}
	if cached {
		v.adjacency = NewAdjacencyCache(g.opts.RelationshipCacheMaxSize, g.opts.RelationshipCacheTTL, g.opts.Clock)
	}
	return v
}

func (v *Vertex) String() string {
	return fmt.Sprintf("v[%s]", v.id)
}

// CachedEdges returns the cached result for fp. Uncached instances always miss.
func (v *Vertex) CachedEdges(fp Fingerprint) ([]*Edge, bool) {
	if !v.IsCached() {
		return nil, false
	}
	return v.adjacency.Get(fp)
}

// CacheEdges stores a result for fp. It is a no-op on uncached instances.
func (v *Vertex) CacheEdges(fp Fingerprint, edges []*Edge) {
	if !v.IsCached() {
		return
	}
	v.adjacency.Put(fp, edges)
}

// adjacencyGeneration snapshots the cache generation before a store read.
func (v *Vertex) adjacencyGeneration() uint64 {
	return v.adjacency.Generation()
}

// cacheEdgesAt stores a result read after gen was taken, unless the cache was
// invalidated in the meantime.
func (v *Vertex) cacheEdgesAt(fp Fingerprint, edges []*Edge, gen uint64) {
	if !v.IsCached() {
		return
	}
	v.adjacency.PutIfGeneration(fp, edges, gen)
}

// InvalidateAdjacency drops every cached adjacency result of this instance.
func (v *Vertex) InvalidateAdjacency() {
	v.adjacency.InvalidateAll()
}

// VertexProperty sets a single-cardinality property. Other cardinalities and
// meta-properties are rejected.
func (v *Vertex) VertexProperty(ctx context.Context, cardinality Cardinality, key string, value any, metaKeyValues ...any) error {
	if cardinality != CardinalitySingle {
		return fmt.Errorf("%w: %s", ErrMultiPropertiesNotSupported, cardinality)
	}
	if len(metaKeyValues) > 0 {
		return ErrMetaPropertiesNotSupported
	}
	return v.SetProperty(ctx, key, value)
}

// AddEdge creates an edge labeled label from v to in.
//
// The endpoint index rows are written before the edge record. Once both are
// written, the adjacency caches of v, in and their canonical instances are
// dropped, and the returned edge is the canonical instance for the new id.
func (v *Vertex) AddEdge(ctx context.Context, label string, in *Vertex, keyValues ...any) (*Edge, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: in vertex", ErrArgumentNil)
	}
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	id, props, err := parseKeyValues(keyValues)
	if err != nil {
		return nil, err
	}
	if v.IsDeleted() || in.IsDeleted() {
		return nil, fmt.Errorf("%w: cannot add edge %s between %s and %s", ErrElementRemoved, label, v.id, in.id)
	}
	if id == "" {
		id = storage.ID(uuid.NewString())
	}

	g := v.g
	ctx, span := tracer.Start(ctx, "graph.AddEdge", trace.WithAttributes(
		attribute.String("label", label),
		attribute.String("out", string(v.id)),
		attribute.String("in", string(in.id)),
	))
	defer span.End()

	now := g.nowMillis()
	rec := &storage.Record{
		ID:         id,
		Kind:       storage.KindEdge,
		Label:      label,
		CreatedAt:  now,
		UpdatedAt:  now,
		Properties: props,
		OutV:       v.id,
		InV:        in.id,
	}
	if err := g.engine.WriteIndexEntries(ctx, rec); err != nil {
		return nil, spanError(span, fmt.Errorf("failed to write index rows for edge %s: %w", id, err))
	}
	if err := g.engine.PutRecord(ctx, rec); err != nil {
		return nil, spanError(span, fmt.Errorf("failed to write edge %s: %w", id, err))
	}

	g.invalidateAdjacency(ctx, []storage.ID{v.id, in.id}, v, in)

	e := g.FindEdge(id, true)
	e.copyFrom(rec)
	return e, nil
}

// Remove removes every incident edge, then the vertex record and its index
// rows, and marks this instance and the canonical instance deleted.
//
// The steps are not atomic. If one fails the error is returned and the
// steps already taken stay applied.
func (v *Vertex) Remove(ctx context.Context) error {
	if v.IsDeleted() {
		return nil
	}
	g := v.g
	ctx, span := tracer.Start(ctx, "graph.RemoveVertex", trace.WithAttributes(
		attribute.String("vertex", string(v.id)),
	))
	defer span.End()

	edges, err := g.adjacentEdges(ctx, v, edgeQuery{dir: storage.DirectionBoth}, modeRemove)
	if err != nil {
		return spanError(span, fmt.Errorf("failed to list edges of vertex %s: %w", v.id, err))
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.RemoveConcurrency)
	for _, e := range edges {
		eg.Go(func() error {
			return e.remove(egCtx, v)
		})
	}
	if err := eg.Wait(); err != nil {
		return spanError(span, fmt.Errorf("failed to remove edges of vertex %s: %w", v.id, err))
	}

	if err := v.ensureLoaded(ctx); err != nil && !errors.Is(err, ErrElementNotFound) {
		return spanError(span, err)
	}
	rec := v.record()
	if err := g.engine.DeleteRecord(ctx, storage.KindVertex, v.id); err != nil {
		return spanError(span, fmt.Errorf("failed to delete vertex %s: %w", v.id, err))
	}
	if err := g.engine.DeleteIndexEntries(ctx, rec); err != nil {
		return spanError(span, fmt.Errorf("failed to delete index rows of vertex %s: %w", v.id, err))
	}

	v.setDeleted(true)
	v.InvalidateAdjacency()
	g.invalidateVertex(ctx, v.id, func(canonical *Vertex) {
		canonical.setDeleted(true)
		canonical.InvalidateAdjacency()
	})
	return nil
}

// Edges lazily lists the edges on the dir side of v with any of labels (any
// label when none are given).
func (v *Vertex) Edges(ctx context.Context, dir storage.Direction, labels ...string) *EdgeIterator {
	q := edgeQuery{dir: dir, labels: labels}
	return newIterator(ctx, func(ctx context.Context) ([]*Edge, error) {
		return v.g.adjacentEdges(ctx, v, q, modeRead)
	})
}

// EdgesByProperty lazily lists label edges whose key equals value.
func (v *Vertex) EdgesByProperty(ctx context.Context, dir storage.Direction, label, key string, value any) *EdgeIterator {
	q := edgeQuery{dir: dir, labels: []string{label}, key: key, value: value}
	return newIterator(ctx, func(ctx context.Context) ([]*Edge, error) {
		return v.g.adjacentEdges(ctx, v, q, modeRead)
	})
}

// EdgesInRange lazily lists label edges whose key is in [from, to). A nil
// bound is open.
func (v *Vertex) EdgesInRange(ctx context.Context, dir storage.Direction, label, key string, from, to any) *EdgeIterator {
	q := edgeQuery{dir: dir, labels: []string{label}, key: key, from: from, to: to, isRange: true}
	return newIterator(ctx, func(ctx context.Context) ([]*Edge, error) {
		return v.g.adjacentEdges(ctx, v, q, modeRead)
	})
}

// Vertices lazily lists the vertices at the other end of Edges(dir, labels...).
func (v *Vertex) Vertices(ctx context.Context, dir storage.Direction, labels ...string) *VertexIterator {
	return v.otherEnds(ctx, edgeQuery{dir: dir, labels: labels})
}

// VerticesByProperty lists the other ends of EdgesByProperty.
func (v *Vertex) VerticesByProperty(ctx context.Context, dir storage.Direction, label, key string, value any) *VertexIterator {
	return v.otherEnds(ctx, edgeQuery{dir: dir, labels: []string{label}, key: key, value: value})
}

// VerticesInRange lists the other ends of EdgesInRange.
func (v *Vertex) VerticesInRange(ctx context.Context, dir storage.Direction, label, key string, from, to any) *VertexIterator {
	return v.otherEnds(ctx, edgeQuery{dir: dir, labels: []string{label}, key: key, from: from, to: to, isRange: true})
}

func (v *Vertex) otherEnds(ctx context.Context, q edgeQuery) *VertexIterator {
	return newIterator(ctx, func(ctx context.Context) ([]*Vertex, error) {
		edges, err := v.g.adjacentEdges(ctx, v, q, modeRead)
		if err != nil {
			return nil, err
		}
		out := make([]*Vertex, 0, len(edges))
		for _, e := range edges {
			out = append(out, v.g.FindVertex(e.OtherVertexID(v.id), true))
		}
		return out, nil
	})
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
