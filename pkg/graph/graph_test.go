package graph

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

func addVertex(t *testing.T, g *testGraph, id storage.ID, kv ...any) *Vertex {
	t.Helper()
	v, err := g.AddVertex(context.Background(), "person", append([]any{IDKey, id}, kv...)...)
	require.NoError(t, err)
	return v
}

func addEdge(t *testing.T, out *Vertex, label string, in *Vertex, kv ...any) *Edge {
	t.Helper()
	e, err := out.AddEdge(context.Background(), label, in, kv...)
	require.NoError(t, err)
	return e
}

// ============================================================================
// Vertices
// ============================================================================

func TestGraph_AddVertexAndLookup(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	v := addVertex(t, g, "1", "name", "alice", "age", 30)
	assert.Equal(t, storage.ID("1"), v.ID())
	assert.Equal(t, "person", v.Label())
	assert.True(t, v.IsCached())
	assert.True(t, v.IsLoaded())
	assert.Equal(t, g.clock.Now().UnixMilli(), v.CreatedAt())

	got, err := g.Vertex(ctx, "1")
	require.NoError(t, err)
	assert.Same(t, v, got, "lookups return the canonical instance")

	name, ok, err := got.Property(ctx, "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", name)

	keys, err := got.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "name"}, keys)

	_, err = g.Vertex(ctx, "missing")
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestGraph_AddVertexGeneratesID(t *testing.T) {
	g := newTestGraph(t)

	a, err := g.AddVertex(context.Background(), "person")
	require.NoError(t, err)
	b, err := g.AddVertex(context.Background(), "person")
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestGraph_VerticesSkipsMissing(t *testing.T) {
	g := newTestGraph(t)
	addVertex(t, g, "1")
	addVertex(t, g, "2")

	got := collectVertices(t, g.Vertices(context.Background(), "1", "missing", "2"))
	assert.Equal(t, []storage.ID{"1", "2"}, vertexIDs(got))
}

func TestGraph_VerticesByPropertyNeedsIndex(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	addVertex(t, g, "1", "name", "alice")

	_, err := g.VerticesByProperty(ctx, "person", "name", "alice").Collect()
	assert.ErrorIs(t, err, storage.ErrNoIndex)

	require.NoError(t, g.CreateIndex(ctx, storage.KindVertex, "person", "name", false))
	addVertex(t, g, "2", "name", "bob")
	addVertex(t, g, "3", "name", "alice")

	got := collectVertices(t, g.VerticesByProperty(ctx, "person", "name", "alice"))
	assert.ElementsMatch(t, []storage.ID{"1", "3"}, vertexIDs(got))

	_, err = g.VerticesByProperty(ctx, "person", "name", nil).Collect()
	assert.ErrorIs(t, err, ErrInvalidKeyValues)
}

func TestGraph_VerticesInRange(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	require.NoError(t, g.CreateIndex(ctx, storage.KindVertex, "person", "age", false))

	addVertex(t, g, "1", "age", 10)
	addVertex(t, g, "2", "age", 20)
	addVertex(t, g, "3", "age", 30)

	got := collectVertices(t, g.VerticesInRange(ctx, "person", "age", 15, 30))
	assert.Equal(t, []storage.ID{"2"}, vertexIDs(got))

	got = collectVertices(t, g.VerticesInRange(ctx, "person", "age", nil, 25))
	assert.Equal(t, []storage.ID{"1", "2"}, vertexIDs(got))
}

func TestGraph_SetPropertyUpdatesIndexAndCanonical(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	require.NoError(t, g.CreateIndex(ctx, storage.KindVertex, "person", "name", false))
	canonical := addVertex(t, g, "1", "name", "alice")

	other := g.UncachedVertex("1")
	g.clock.Advance(time.Second)
	require.NoError(t, other.SetProperty(ctx, "name", "carol"))

	name, _, err := canonical.Property(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "carol", name)
	assert.Equal(t, other.UpdatedAt(), canonical.UpdatedAt())

	got := collectVertices(t, g.VerticesByProperty(ctx, "person", "name", "alice"))
	assert.Empty(t, got)
	got = collectVertices(t, g.VerticesByProperty(ctx, "person", "name", "carol"))
	assert.Equal(t, []storage.ID{"1"}, vertexIDs(got))

	require.NoError(t, canonical.RemoveProperty(ctx, "name"))
	require.NoError(t, canonical.RemoveProperty(ctx, "name"))
	got = collectVertices(t, g.VerticesByProperty(ctx, "person", "name", "carol"))
	assert.Empty(t, got)
}

func TestGraph_StaleVertexIndexRowIsSkippedAndReconciled(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	require.NoError(t, g.CreateIndex(ctx, storage.KindVertex, "person", "name", false))
	addVertex(t, g, "1", "name", "alice")

	// A row left behind by an older state of the vertex.
	stale := &storage.Record{
		ID:         "1",
		Kind:       storage.KindVertex,
		Label:      "person",
		CreatedAt:  g.clock.Now().Add(-time.Hour).UnixMilli(),
		UpdatedAt:  g.clock.Now().Add(-time.Hour).UnixMilli(),
		Properties: map[string]any{"name": "bob"},
	}
	require.NoError(t, g.engine.WriteIndexEntries(ctx, stale))

	got := collectVertices(t, g.VerticesByProperty(ctx, "person", "name", "bob"))
	assert.Empty(t, got)
	g.flush(t)

	rows, err := g.engine.ScanByIndex(ctx, storage.IndexScan{
		Key:   storage.IndexKey{Kind: storage.KindVertex, Label: "person", PropertyKey: "name"},
		Value: "bob",
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int64(1), g.Stats().Reconciler.Deleted)
}

func TestGraph_VertexPropertyCardinality(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	v := addVertex(t, g, "1")

	require.NoError(t, v.VertexProperty(ctx, CardinalitySingle, "name", "alice"))
	name, _, err := v.Property(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	err = v.VertexProperty(ctx, CardinalityList, "name", "bob")
	assert.ErrorIs(t, err, ErrMultiPropertiesNotSupported)
	err = v.VertexProperty(ctx, CardinalitySet, "name", "bob")
	assert.ErrorIs(t, err, ErrMultiPropertiesNotSupported)
	err = v.VertexProperty(ctx, CardinalitySingle, "name", "bob", "acl", "private")
	assert.ErrorIs(t, err, ErrMetaPropertiesNotSupported)
}

// ============================================================================
// Validation
// ============================================================================

func TestGraph_ValidationHappensBeforeAnyWrite(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "a")
	b := addVertex(t, g, "b")
	before := g.engine.writeCount()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"nil in vertex", func() error { _, err := a.AddEdge(ctx, "knows", nil); return err }, ErrArgumentNil},
		{"empty edge label", func() error { _, err := a.AddEdge(ctx, "", b); return err }, ErrInvalidLabel},
		{"odd key values", func() error { _, err := a.AddEdge(ctx, "knows", b, "since"); return err }, ErrInvalidKeyValues},
		{"non-string key", func() error { _, err := a.AddEdge(ctx, "knows", b, 1, 2); return err }, ErrInvalidKeyValues},
		{"nil value", func() error { _, err := a.AddEdge(ctx, "knows", b, "since", nil); return err }, ErrInvalidKeyValues},
		{"unsupported value", func() error { _, err := a.AddEdge(ctx, "knows", b, "x", struct{}{}); return err }, storage.ErrUnsupportedValue},
		{"empty vertex label", func() error { _, err := g.AddVertex(ctx, ""); return err }, ErrInvalidLabel},
		{"reserved key", func() error { return a.SetProperty(ctx, IDKey, "x") }, ErrInvalidKeyValues},
		{"empty key", func() error { return a.SetProperty(ctx, "", "x") }, ErrInvalidKeyValues},
		{"nil property", func() error { return a.SetProperty(ctx, "name", nil) }, ErrInvalidKeyValues},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}

	assert.Equal(t, before, g.engine.writeCount(), "rejected calls must not touch storage")
	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionBoth)))
}

func TestGraph_RejectsInvalidDirection(t *testing.T) {
	g := newTestGraph(t)
	v := addVertex(t, g, "1")

	_, err := v.Edges(context.Background(), storage.Direction('x')).Collect()
	assert.ErrorIs(t, err, storage.ErrInvalidData)
}

// ============================================================================
// Edges and adjacency
// ============================================================================

func TestGraph_AddEdgeVisibleFromBothEnds(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")

	// Prime both caches so AddEdge has something to invalidate.
	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut)))
	assert.Empty(t, collectEdges(t, b.Edges(ctx, storage.DirectionIn)))

	e := addEdge(t, a, "knows", b, "since", 2020)
	assert.True(t, e.IsCached())
	assert.Equal(t, storage.ID("1"), e.OutVertexID())
	assert.Equal(t, storage.ID("2"), e.InVertexID())
	assert.Same(t, a, e.OutVertex())
	assert.Same(t, b, e.InVertex())

	out := collectEdges(t, a.Edges(ctx, storage.DirectionOut))
	require.Len(t, out, 1)
	assert.Same(t, e, out[0])

	in := collectEdges(t, b.Edges(ctx, storage.DirectionIn))
	assert.Equal(t, []storage.ID{e.ID()}, edgeIDs(in))

	// Any instance of the endpoints sees the edge.
	in = collectEdges(t, g.UncachedVertex("2").Edges(ctx, storage.DirectionIn, "knows"))
	assert.Equal(t, []storage.ID{e.ID()}, edgeIDs(in))

	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionIn)))
	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut, "likes")))

	friends := collectVertices(t, a.Vertices(ctx, storage.DirectionOut, "knows"))
	require.Len(t, friends, 1)
	assert.Same(t, b, friends[0])
}

func TestGraph_AddEdgeThroughOtherInstanceInvalidatesCanonical(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	v1a := addVertex(t, g, "1")
	v2 := addVertex(t, g, "2")

	assert.Empty(t, collectEdges(t, v1a.Edges(ctx, storage.DirectionOut)))

	v1b := g.UncachedVertex("1")
	require.NotSame(t, v1a, v1b)
	e := addEdge(t, v1b, "knows", v2)

	out := collectEdges(t, v1a.Edges(ctx, storage.DirectionOut))
	assert.Equal(t, []storage.ID{e.ID()}, edgeIDs(out))
}

func TestGraph_RemoveVertexRemovesIncidentEdges(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	v1 := addVertex(t, g, "1")
	v2 := addVertex(t, g, "2")
	v3 := addVertex(t, g, "3")
	e12 := addEdge(t, v1, "knows", v2)
	e32 := addEdge(t, v3, "knows", v2)
	e13 := addEdge(t, v1, "knows", v3)

	require.Len(t, collectEdges(t, v1.Edges(ctx, storage.DirectionOut)), 2)

	require.NoError(t, g.UncachedVertex("2").Remove(ctx))

	assert.True(t, v2.IsDeleted(), "the canonical instance observes the removal")
	assert.True(t, e12.IsDeleted())
	assert.True(t, e32.IsDeleted())
	assert.False(t, e13.IsDeleted())

	out := collectEdges(t, v1.Edges(ctx, storage.DirectionOut))
	assert.Equal(t, []storage.ID{e13.ID()}, edgeIDs(out))
	assert.Empty(t, collectEdges(t, v3.Edges(ctx, storage.DirectionOut)))
	assert.Empty(t, collectEdges(t, v2.Edges(ctx, storage.DirectionBoth)))

	_, err := g.Vertex(ctx, "2")
	assert.ErrorIs(t, err, ErrElementNotFound)
	_, err = g.engine.GetRecord(ctx, storage.KindEdge, e12.ID())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, endpointRows(t, g.engine, "2", storage.DirectionBoth))

	// Removing again is a no-op.
	require.NoError(t, v2.Remove(ctx))
}

func TestGraph_RemoveVertexWithSelfLoop(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	v := addVertex(t, g, "1")
	loop := addEdge(t, v, "self", v)

	both := collectEdges(t, v.Edges(ctx, storage.DirectionBoth))
	assert.Len(t, both, 2, "a self-loop is listed once per side")

	require.NoError(t, v.Remove(ctx))
	assert.True(t, loop.IsDeleted())
	assert.Empty(t, endpointRows(t, g.engine, "1", storage.DirectionBoth))
}

func TestGraph_RemoveEdge(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	e := addEdge(t, a, "knows", b)

	fp := mustFingerprint(t, storage.DirectionOut)
	require.Len(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut)), 1)
	_, ok := a.CachedEdges(fp)
	require.True(t, ok)

	// Remove through a second instance of the edge.
	other := newEdge(g.Graph, e.ID(), false)
	require.NoError(t, other.Remove(ctx))

	assert.True(t, other.IsDeleted())
	assert.True(t, e.IsDeleted())
	_, ok = a.CachedEdges(fp)
	assert.False(t, ok, "removal invalidates the endpoint caches")

	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut)))
	assert.Empty(t, collectEdges(t, b.Edges(ctx, storage.DirectionIn)))

	_, err := g.Edge(ctx, e.ID())
	assert.ErrorIs(t, err, ErrElementNotFound)
	require.NoError(t, e.Remove(ctx))
}

func TestGraph_ReAddAfterRemoveGetsLiveInstance(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	old := addVertex(t, g, "1")
	require.NoError(t, old.Remove(ctx))

	fresh := addVertex(t, g, "1")
	assert.NotSame(t, old, fresh)
	assert.False(t, fresh.IsDeleted())
	assert.True(t, old.IsDeleted())

	got, err := g.Vertex(ctx, "1")
	require.NoError(t, err)
	assert.Same(t, fresh, got)
}

func TestGraph_RecreatedRecordsAreVisibleAfterRemove(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	e := addEdge(t, a, "knows", b, IDKey, "k1")

	require.NoError(t, e.Remove(ctx))
	require.NoError(t, b.Remove(ctx))
	assert.Nil(t, g.FindVertex("2", false), "a removed instance is not canonical")
	_, err := g.Vertex(ctx, "2")
	require.ErrorIs(t, err, ErrElementNotFound)

	// Another writer re-creates both records behind this session.
	now := g.nowMillis()
	require.NoError(t, g.engine.PutRecord(ctx, &storage.Record{
		ID: "2", Kind: storage.KindVertex, Label: "person", CreatedAt: now, UpdatedAt: now,
		Properties: map[string]any{"name": "bob"},
	}))
	edgeRec := &storage.Record{
		ID: "k1", Kind: storage.KindEdge, Label: "knows", CreatedAt: now, UpdatedAt: now,
		OutV: "1", InV: "2",
	}
	require.NoError(t, g.engine.WriteIndexEntries(ctx, edgeRec))
	require.NoError(t, g.engine.PutRecord(ctx, edgeRec))

	got, err := g.Vertex(ctx, "2")
	require.NoError(t, err)
	assert.NotSame(t, b, got)
	assert.False(t, got.IsDeleted())
	name, ok, err := got.Property(ctx, "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bob", name)

	gotEdge, err := g.Edge(ctx, "k1")
	require.NoError(t, err)
	assert.NotSame(t, e, gotEdge)

	out := collectEdges(t, a.Edges(ctx, storage.DirectionOut))
	require.Len(t, out, 1)
	assert.Same(t, gotEdge, out[0])
}

func TestGraph_AddEdgeToRemovedVertexFails(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	require.NoError(t, b.Remove(ctx))

	_, err := a.AddEdge(ctx, "knows", b)
	assert.ErrorIs(t, err, ErrElementRemoved)
	assert.ErrorIs(t, b.SetProperty(ctx, "x", 1), ErrElementRemoved)
}

func TestGraph_EdgeProperties(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	e := addEdge(t, a, "knows", b, "since", 2020, "weight", 0.5)

	props, err := e.Properties(ctx)
	require.NoError(t, err)
	assert.Len(t, props, 2)

	got, err := g.Edge(ctx, e.ID())
	require.NoError(t, err)
	assert.Same(t, e, got)
	assert.Equal(t, fmt.Sprintf("e[%s][1-knows->2]", e.ID()), e.String())
	assert.Equal(t, "v[1]", a.String())
}

func TestGraph_EdgesByPropertyWithoutIndexFilters(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	c := addVertex(t, g, "3")
	old := addEdge(t, a, "knows", b, "since", 2010)
	recent := addEdge(t, a, "knows", c, "since", 2020)
	addEdge(t, a, "likes", c, "since", 2020)

	got := collectEdges(t, a.EdgesByProperty(ctx, storage.DirectionOut, "knows", "since", 2020))
	assert.Equal(t, []storage.ID{recent.ID()}, edgeIDs(got))

	got = collectEdges(t, a.EdgesInRange(ctx, storage.DirectionOut, "knows", "since", nil, 2015))
	assert.Equal(t, []storage.ID{old.ID()}, edgeIDs(got))

	vs := collectVertices(t, a.VerticesByProperty(ctx, storage.DirectionOut, "knows", "since", 2010))
	assert.Equal(t, []storage.ID{"2"}, vertexIDs(vs))
}

func TestGraph_EdgesByPropertyWithIndex(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	require.NoError(t, g.CreateIndex(ctx, storage.KindEdge, "knows", "since", false))
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	c := addVertex(t, g, "3")
	addEdge(t, a, "knows", b, "since", 2010)
	recent := addEdge(t, a, "knows", c, "since", 2020)

	got := collectEdges(t, a.EdgesByProperty(ctx, storage.DirectionOut, "knows", "since", 2020))
	assert.Equal(t, []storage.ID{recent.ID()}, edgeIDs(got))

	vs := collectVertices(t, c.VerticesInRange(ctx, storage.DirectionIn, "knows", "since", 2015, nil))
	assert.Equal(t, []storage.ID{"1"}, vertexIDs(vs))

	// Changing the property moves the edge out of the cached result.
	require.NoError(t, recent.SetProperty(ctx, "since", 1999))
	assert.Empty(t, collectEdges(t, a.EdgesByProperty(ctx, storage.DirectionOut, "knows", "since", 2020)))
	got = collectEdges(t, a.EdgesByProperty(ctx, storage.DirectionOut, "knows", "since", 1999))
	assert.Equal(t, []storage.ID{recent.ID()}, edgeIDs(got))
}

// ============================================================================
// Stale endpoint rows
// ============================================================================

func TestGraph_OrphanEdgeRowIsSkippedAndReconciled(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	addVertex(t, g, "2")

	// Index rows whose record write never happened.
	orphan := staleEdgeRecord("ghost", "1", "2", g.clock.Now().Add(-2*time.Minute).UnixMilli())
	require.NoError(t, g.engine.WriteIndexEntries(ctx, orphan))

	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut)))
	g.flush(t)

	assert.Empty(t, endpointRows(t, g.engine, "1", storage.DirectionOut))
	assert.Equal(t, int64(1), g.Stats().Reconciler.Deleted)
}

func TestGraph_FreshOrphanRowIsLeftAlone(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	addVertex(t, g, "2")

	// An in-progress write: rows present, record not yet.
	pending := staleEdgeRecord("pending", "1", "2", g.clock.Now().UnixMilli())
	require.NoError(t, g.engine.WriteIndexEntries(ctx, pending))

	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut)))
	g.flush(t)

	assert.Len(t, endpointRows(t, g.engine, "1", storage.DirectionOut), 1)
	assert.Equal(t, int64(1), g.Stats().Reconciler.Skipped)

	// The record write lands and the edge shows up once the cache is dropped.
	require.NoError(t, g.engine.PutRecord(ctx, pending))
	a.InvalidateAdjacency()
	out := collectEdges(t, a.Edges(ctx, storage.DirectionOut))
	assert.Equal(t, []storage.ID{"pending"}, edgeIDs(out))
}

func TestGraph_MismatchedEndpointRowIsReconciled(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	addVertex(t, g, "a")
	b := addVertex(t, g, "b")
	c := addVertex(t, g, "c")

	// Rows from an earlier state of e1 that pointed at b.
	before := staleEdgeRecord("e1", "a", "b", g.clock.Now().Add(-2*time.Minute).UnixMilli())
	require.NoError(t, g.engine.WriteIndexEntries(ctx, before))

	now := staleEdgeRecord("e1", "a", "c", g.clock.Now().UnixMilli())
	require.NoError(t, g.engine.WriteIndexEntries(ctx, now))
	require.NoError(t, g.engine.PutRecord(ctx, now))

	assert.Empty(t, collectEdges(t, b.Edges(ctx, storage.DirectionIn)))
	g.flush(t)
	assert.Empty(t, endpointRows(t, g.engine, "b", storage.DirectionIn))

	in := collectEdges(t, c.Edges(ctx, storage.DirectionIn))
	assert.Equal(t, []storage.ID{"e1"}, edgeIDs(in))
}

func TestGraph_RecordWriteFailureLeavesRowsForReconciler(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")

	g.engine.failOn("PutRecord", errInjected)
	_, err := a.AddEdge(ctx, "knows", b, IDKey, "e1")
	require.ErrorIs(t, err, errInjected)
	g.engine.failOn("PutRecord", nil)

	assert.Len(t, endpointRows(t, g.engine, "1", storage.DirectionOut), 1)
	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut)))

	g.clock.Advance(2 * time.Minute)
	a.InvalidateAdjacency()
	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut)))
	g.flush(t)
	assert.Empty(t, endpointRows(t, g.engine, "1", storage.DirectionOut))
}

func TestGraph_RemoveFailurePropagates(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	e := addEdge(t, a, "knows", b)

	g.engine.failOn("DeleteIndexEntries", errInjected)
	err := a.Remove(ctx)
	require.ErrorIs(t, err, errInjected)
	assert.False(t, a.IsDeleted())
	assert.False(t, e.IsDeleted())

	g.engine.failOn("DeleteIndexEntries", nil)
	require.NoError(t, a.Remove(ctx))
	assert.True(t, a.IsDeleted())
	assert.True(t, e.IsDeleted())
}

// ============================================================================
// Options
// ============================================================================

func TestGraph_LazyLoading(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, func(o *Options) { o.LazyLoading = true })
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	id := addEdge(t, a, "knows", b, "since", 2020).ID()

	// Start from a clean session view of the edge.
	g.edges.Purge()
	a.InvalidateAdjacency()

	out := collectEdges(t, a.Edges(ctx, storage.DirectionOut))
	require.Len(t, out, 1)
	e := out[0]
	assert.Equal(t, id, e.ID())
	assert.False(t, e.IsLoaded())
	assert.Equal(t, "knows", e.Label())
	assert.Equal(t, storage.ID("2"), e.InVertexID())
	require.NotNil(t, e.IndexProvenance())

	since, ok, err := e.Property(ctx, "since")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2020, since)
	assert.True(t, e.IsLoaded())
}

func TestGraph_LazyLoadedOrphanIsReconciledOnLoad(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, func(o *Options) { o.LazyLoading = true })
	a := addVertex(t, g, "1")
	addVertex(t, g, "2")

	orphan := staleEdgeRecord("ghost", "1", "2", g.clock.Now().Add(-2*time.Minute).UnixMilli())
	require.NoError(t, g.engine.WriteIndexEntries(ctx, orphan))

	out := collectEdges(t, a.Edges(ctx, storage.DirectionOut))
	require.Len(t, out, 1, "lazy results are not verified until loaded")

	_, _, err := out[0].Property(ctx, "anything")
	assert.ErrorIs(t, err, ErrElementNotFound)
	g.flush(t)
	assert.Empty(t, endpointRows(t, g.engine, "1", storage.DirectionOut))
}

func TestGraph_RemoveLazyEdgeWithoutRecordDropsPropertyRows(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, func(o *Options) { o.LazyLoading = true })
	require.NoError(t, g.CreateIndex(ctx, storage.KindEdge, "knows", "since", false))
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	id := addEdge(t, a, "knows", b, "since", 2020).ID()

	require.NoError(t, g.engine.DeleteRecord(ctx, storage.KindEdge, id))
	g.edges.Purge()
	a.InvalidateAdjacency()

	out := collectEdges(t, a.EdgesByProperty(ctx, storage.DirectionOut, "knows", "since", 2020))
	require.Len(t, out, 1)
	e := out[0]
	require.False(t, e.IsLoaded())
	require.NoError(t, e.Remove(ctx))

	assert.Empty(t, endpointRows(t, g.engine, "1", storage.DirectionBoth))
	assert.Empty(t, endpointRows(t, g.engine, "2", storage.DirectionBoth))
	for _, side := range []struct {
		v   storage.ID
		dir storage.Direction
	}{{"1", storage.DirectionOut}, {"2", storage.DirectionIn}} {
		rows, err := g.engine.ScanEdges(ctx, storage.EdgeScan{
			Vertex: side.v, Direction: side.dir, Labels: []string{"knows"},
			PropertyKey: "since", Value: 2020,
		})
		require.NoError(t, err)
		assert.Empty(t, rows, "property rows under %s", side.v)
	}
}

func TestGraph_ElementCacheDisabled(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, func(o *Options) { o.ElementCacheEnabled = false })
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")

	assert.False(t, a.IsCached())
	assert.Nil(t, g.FindVertex("1", false))

	e := addEdge(t, a, "knows", b)
	out := collectEdges(t, a.Edges(ctx, storage.DirectionOut))
	assert.Equal(t, []storage.ID{e.ID()}, edgeIDs(out))
	assert.NotSame(t, e, out[0])

	got, err := g.Vertex(ctx, "1")
	require.NoError(t, err)
	assert.NotSame(t, a, got)

	require.NoError(t, b.Remove(ctx))
	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut)))
	stats := g.Stats()
	assert.Zero(t, stats.CanonicalVertices)
	assert.Zero(t, stats.CanonicalEdges)
}

func TestGraph_RelationshipCacheDisabled(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, func(o *Options) { o.RelationshipCacheMaxSize = 0 })
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	addEdge(t, a, "knows", b)

	require.Len(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut)), 1)
	_, ok := a.CachedEdges(mustFingerprint(t, storage.DirectionOut))
	assert.False(t, ok)
}

func TestGraph_AdjacencyCacheHit(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")
	addEdge(t, a, "knows", b)

	first := collectEdges(t, a.Edges(ctx, storage.DirectionOut, "knows"))
	require.Len(t, first, 1)

	// A write behind the graph's back is not seen while the cache holds.
	sneaky := staleEdgeRecord("sneaky", "1", "2", g.clock.Now().UnixMilli())
	require.NoError(t, g.engine.WriteIndexEntries(ctx, sneaky))
	require.NoError(t, g.engine.PutRecord(ctx, sneaky))

	cached := collectEdges(t, a.Edges(ctx, storage.DirectionOut, "knows"))
	assert.Equal(t, edgeIDs(first), edgeIDs(cached))

	g.clock.Advance(time.Hour)
	expired := collectEdges(t, a.Edges(ctx, storage.DirectionOut, "knows"))
	assert.Len(t, expired, 2)
}

// ============================================================================
// Iterators and concurrency
// ============================================================================

func TestGraph_InvalidationDuringReadIsNotLost(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")

	// The edge lands after the read scanned its rows but before it caches.
	var added *Edge
	g.engine.afterNextScanEdges(func() {
		added = addEdge(t, a, "knows", b)
	})
	first := collectEdges(t, a.Edges(ctx, storage.DirectionOut, "knows"))
	assert.Empty(t, first, "the scan ran before the edge existed")
	require.NotNil(t, added)

	_, ok := a.CachedEdges(mustFingerprint(t, storage.DirectionOut, "knows"))
	assert.False(t, ok, "a result read before an invalidation is not cached")

	out := collectEdges(t, a.Edges(ctx, storage.DirectionOut, "knows"))
	assert.Equal(t, []storage.ID{added.ID()}, edgeIDs(out))
}

func TestGraph_IteratorIsLazyAndSingleUse(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	a := addVertex(t, g, "1")
	b := addVertex(t, g, "2")

	it := a.Edges(ctx, storage.DirectionOut)
	e := addEdge(t, a, "knows", b)

	require.True(t, it.Next(), "nothing is read before the first Next")
	assert.Same(t, e, it.Value())
	assert.False(t, it.Next())
	assert.False(t, it.Next())
	assert.Nil(t, it.Value())
	assert.NoError(t, it.Err())

	closed := a.Edges(ctx, storage.DirectionOut)
	closed.Close()
	assert.False(t, closed.Next())
}

func TestGraph_ConcurrentLoadsShareInstance(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	addVertex(t, g, "1", "name", "alice")
	g.vertices.Purge()

	var wg sync.WaitGroup
	results := make([]*Vertex, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := g.Vertex(ctx, "1")
			if err == nil {
				results[i] = v
			}
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		require.NotNil(t, v)
		assert.Same(t, results[0], v)
	}
	name, _, err := results[0].Property(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

// ============================================================================
// Engines
// ============================================================================

func TestGraph_CancelledLoaderDoesNotFailSharedLoad(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	addVertex(t, g, "1")

	started, release := g.engine.holdGetRecord()
	firstCtx, cancel := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() { firstErr <- g.UncachedVertex("1").Load(firstCtx) }()

	<-started
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled, "a cancelled loader stops waiting")

	second := g.UncachedVertex("1")
	secondErr := make(chan error, 1)
	go func() { secondErr <- second.Load(ctx) }()
	time.Sleep(20 * time.Millisecond) // let the second loader join the held read
	release()

	require.NoError(t, <-secondErr)
	assert.Equal(t, "person", second.Label())
}

func TestGraph_BadgerEngine(t *testing.T) {
	ctx := context.Background()
	engine, err := storage.NewBadgerEngineInMemory()
	require.NoError(t, err)
	defer engine.Close()

	g, err := New(engine, DefaultOptions())
	require.NoError(t, err)
	defer g.Close()

	a, err := g.AddVertex(ctx, "person", IDKey, "1")
	require.NoError(t, err)
	b, err := g.AddVertex(ctx, "person", IDKey, "2")
	require.NoError(t, err)
	e, err := a.AddEdge(ctx, "knows", b)
	require.NoError(t, err)

	in := collectEdges(t, b.Edges(ctx, storage.DirectionIn))
	assert.Equal(t, []storage.ID{e.ID()}, edgeIDs(in))

	require.NoError(t, b.Remove(ctx))
	assert.True(t, e.IsDeleted())
	assert.Empty(t, collectEdges(t, a.Edges(ctx, storage.DirectionOut)))
}

func TestNew_RejectsNilEngine(t *testing.T) {
	_, err := New(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrArgumentNil)
}
