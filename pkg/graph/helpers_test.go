package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// ============================================================================
// Test Helpers
// ============================================================================

var errInjected = errors.New("injected failure")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// captureLogger records log calls.
type captureLogger struct {
	mu      sync.Mutex
	entries []capturedLog
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

func (l *captureLogger) Log(level, msg string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// faultEngine wraps an engine, counts writes and fails chosen operations.
type faultEngine struct {
	storage.Engine

	mu         sync.Mutex
	fail       map[string]error
	writes     int
	afterScans func()
	holdGets   chan struct{}
	getStarted chan struct{}
}

func newFaultEngine(inner storage.Engine) *faultEngine {
	return &faultEngine{Engine: inner, fail: make(map[string]error)}
}

func (f *faultEngine) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

func (f *faultEngine) check(op string, write bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[op]; err != nil {
		return err
	}
	if write {
		f.writes++
	}
	return nil
}

// afterNextScanEdges runs fn once, after the next ScanEdges has read its rows
// and before the caller sees them.
func (f *faultEngine) afterNextScanEdges(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterScans = fn
}

func (f *faultEngine) ScanEdges(ctx context.Context, scan storage.EdgeScan) ([]storage.IndexEntry, error) {
	if err := f.check("ScanEdges", false); err != nil {
		return nil, err
	}
	rows, err := f.Engine.ScanEdges(ctx, scan)
	f.mu.Lock()
	fn := f.afterScans
	f.afterScans = nil
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return rows, err
}

func (f *faultEngine) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// holdGetRecord makes GetRecord wait until release is called. started
// receives once the first held read begins.
func (f *faultEngine) holdGetRecord() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdGets = make(chan struct{})
	f.getStarted = make(chan struct{}, 1)
	hold := f.holdGets
	return f.getStarted, func() { close(hold) }
}

func (f *faultEngine) GetRecord(ctx context.Context, kind storage.Kind, id storage.ID) (*storage.Record, error) {
	if err := f.check("GetRecord", false); err != nil {
		return nil, err
	}
	f.mu.Lock()
	hold, started := f.holdGets, f.getStarted
	f.mu.Unlock()
	if hold != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		<-hold
	}
	return f.Engine.GetRecord(ctx, kind, id)
}

func (f *faultEngine) PutRecord(ctx context.Context, rec *storage.Record) error {
	if err := f.check("PutRecord", true); err != nil {
		return err
	}
	return f.Engine.PutRecord(ctx, rec)
}

func (f *faultEngine) DeleteRecord(ctx context.Context, kind storage.Kind, id storage.ID) error {
	if err := f.check("DeleteRecord", true); err != nil {
		return err
	}
	return f.Engine.DeleteRecord(ctx, kind, id)
}

func (f *faultEngine) WriteIndexEntries(ctx context.Context, rec *storage.Record) error {
	if err := f.check("WriteIndexEntries", true); err != nil {
		return err
	}
	return f.Engine.WriteIndexEntries(ctx, rec)
}

func (f *faultEngine) UpdateIndexEntries(ctx context.Context, prev, next *storage.Record) error {
	if err := f.check("UpdateIndexEntries", true); err != nil {
		return err
	}
	return f.Engine.UpdateIndexEntries(ctx, prev, next)
}

func (f *faultEngine) DeleteIndexEntries(ctx context.Context, rec *storage.Record) error {
	if err := f.check("DeleteIndexEntries", true); err != nil {
		return err
	}
	return f.Engine.DeleteIndexEntries(ctx, rec)
}

func (f *faultEngine) DeleteIndexEntry(ctx context.Context, entry storage.IndexEntry) error {
	if err := f.check("DeleteIndexEntry", true); err != nil {
		return err
	}
	return f.Engine.DeleteIndexEntry(ctx, entry)
}

type testGraph struct {
	*Graph
	engine *faultEngine
	clock  *fakeClock
	logger *captureLogger
}

// newTestGraph creates a graph over a fresh MemoryEngine with a fake clock
// and a one minute grace period.
func newTestGraph(t *testing.T, configure ...func(*Options)) *testGraph {
	t.Helper()
	inner := storage.NewMemoryEngine()
	engine := newFaultEngine(inner)
	clock := newFakeClock()
	logger := &captureLogger{}

	opts := DefaultOptions().WithClock(clock.Now)
	opts.Logger = logger
	opts.StaleIndexExpiry = time.Minute
	for _, fn := range configure {
		fn(&opts)
	}

	g, err := New(engine, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		g.Close()
		inner.Close()
	})
	return &testGraph{Graph: g, engine: engine, clock: clock, logger: logger}
}

func (tg *testGraph) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tg.Flush(ctx))
}

func edgeIDs(edges []*Edge) []storage.ID {
	ids := make([]storage.ID, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.ID())
	}
	return ids
}

func vertexIDs(vertices []*Vertex) []storage.ID {
	ids := make([]storage.ID, 0, len(vertices))
	for _, v := range vertices {
		ids = append(ids, v.ID())
	}
	return ids
}

func collectEdges(t *testing.T, it *EdgeIterator) []*Edge {
	t.Helper()
	edges, err := it.Collect()
	require.NoError(t, err)
	return edges
}

func collectVertices(t *testing.T, it *VertexIterator) []*Vertex {
	t.Helper()
	vertices, err := it.Collect()
	require.NoError(t, err)
	return vertices
}
