package graph

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// Edge is an in-memory edge. It holds the ids of its endpoints, not the
// vertices themselves; OutVertex and InVertex resolve them on demand.
type Edge struct {
	element
}

func newEdge(g *Graph, id storage.ID, cached bool) *Edge {
	return &Edge{element: newElement(g, storage.KindEdge, id, cached)}
}

func (e *Edge) String() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("e[%s][%s-%s->%s]", e.id, e.outV, e.label, e.inV)
}

// OutVertexID returns the id of the vertex the edge starts at.
func (e *Edge) OutVertexID() storage.ID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.outV
}

// InVertexID returns the id of the vertex the edge points to.
func (e *Edge) InVertexID() storage.ID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inV
}

// OtherVertexID returns the endpoint that is not id. For a self-loop both
// endpoints are id.
func (e *Edge) OtherVertexID(id storage.ID) storage.ID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.outV == id {
		return e.inV
	}
	return e.outV
}

// OutVertex resolves the out endpoint through the vertex registry.
func (e *Edge) OutVertex() *Vertex {
	return e.g.FindVertex(e.OutVertexID(), true)
}

// InVertex resolves the in endpoint through the vertex registry.
func (e *Edge) InVertex() *Vertex {
	return e.g.FindVertex(e.InVertexID(), true)
}

// Remove deletes the edge's index rows and record, marks it and its
// canonical instance deleted and drops the adjacency caches of both
// endpoints.
func (e *Edge) Remove(ctx context.Context) error {
	return e.remove(ctx, nil)
}

// remove is Remove with the endpoint instance that initiated it, whose cache
// is dropped alongside the canonical ones.
func (e *Edge) remove(ctx context.Context, caller *Vertex) error {
	if e.IsDeleted() {
		return nil
	}
	g := e.g
	ctx, span := tracer.Start(ctx, "graph.RemoveEdge", trace.WithAttributes(
		attribute.String("edge", string(e.id)),
	))
	defer span.End()

	loadErr := e.ensureLoaded(ctx)
	if loadErr != nil && !errors.Is(loadErr, ErrElementNotFound) {
		return spanError(span, loadErr)
	}
	rec := e.record()
	if rec.OutV != "" && rec.InV != "" {
		if err := g.engine.DeleteIndexEntries(ctx, rec); err != nil {
			return spanError(span, fmt.Errorf("failed to delete index rows of edge %s: %w", e.id, err))
		}
	}
	if loadErr != nil {
		// Without a record the properties are unknown; the row the edge was
		// found through still names one indexed value.
		if err := e.removeProvenanceRows(ctx); err != nil {
			return spanError(span, err)
		}
	}
	if err := g.engine.DeleteRecord(ctx, storage.KindEdge, e.id); err != nil {
		return spanError(span, fmt.Errorf("failed to delete edge %s: %w", e.id, err))
	}

	e.setDeleted(true)
	g.invalidateEdge(ctx, e.id, func(canonical *Edge) { canonical.setDeleted(true) })
	g.invalidateAdjacency(ctx, []storage.ID{rec.OutV, rec.InV}, caller)
	return nil
}

// removeProvenanceRows deletes the property row this instance was discovered
// through and its twin under the other endpoint.
func (e *Edge) removeProvenanceRows(ctx context.Context) error {
	prov := e.IndexProvenance()
	if prov == nil || !prov.IsEndpoint() || prov.Key.PropertyKey == "" {
		return nil
	}
	for _, row := range []storage.IndexEntry{*prov, prov.Mirror()} {
		if err := e.g.engine.DeleteIndexEntry(ctx, row); err != nil {
			return fmt.Errorf("failed to delete index row of edge %s: %w", e.id, err)
		}
	}
	return nil
}
