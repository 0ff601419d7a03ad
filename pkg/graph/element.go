package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// element is the state shared by vertices and edges.
//
// deleted only ever goes from false to true and updatedAt never decreases.
// properties is only complete when loaded is set; readers load first.
type element struct {
	g    *Graph
	kind storage.Kind
	id   storage.ID

	mu         sync.RWMutex
	label      string
	createdAt  int64
	updatedAt  int64
	properties map[string]any
	loaded     bool
	deleted    bool
	cached     bool
	provenance *storage.IndexEntry

	// Edge endpoints. Empty for vertices.
	outV storage.ID
	inV  storage.ID
}

func newElement(g *Graph, kind storage.Kind, id storage.ID, cached bool) element {
	return element{
		g:          g,
		kind:       kind,
		id:         id,
		cached:     cached,
		properties: make(map[string]any),
	}
}

// ID returns the element id.
func (e *element) ID() storage.ID { return e.id }

// Label returns the element label. It may be empty until the element is loaded.
func (e *element) Label() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.label
}

// CreatedAt returns the creation time in unix milliseconds.
func (e *element) CreatedAt() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.createdAt
}

// UpdatedAt returns the last update time in unix milliseconds.
func (e *element) UpdatedAt() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.updatedAt
}

// IsDeleted reports whether the element has been removed.
func (e *element) IsDeleted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.deleted
}

// IsCached reports whether this is the canonical instance for its id.
func (e *element) IsCached() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cached
}

// IsLoaded reports whether the property map is complete.
func (e *element) IsLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// IndexProvenance returns the index row this instance was discovered
// through, or nil when it was looked up directly.
func (e *element) IndexProvenance() *storage.IndexEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.provenance == nil {
		return nil
	}
	p := *e.provenance
	return &p
}

func (e *element) setProvenance(entry storage.IndexEntry) {
	e.mu.Lock()
	e.provenance = &entry
	e.mu.Unlock()
}

func (e *element) setDeleted(deleted bool) {
	e.mu.Lock()
	if deleted {
		e.deleted = true
	}
	e.mu.Unlock()
}

// adoptRow fills label and endpoints from an index row without loading.
func (e *element) adoptRow(row storage.IndexEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return
	}
	e.label = row.Key.Label
	if row.IsEndpoint() {
		switch row.Direction {
		case storage.DirectionOut:
			e.outV, e.inV = row.Vertex, row.Other
		case storage.DirectionIn:
			e.outV, e.inV = row.Other, row.Vertex
		}
	}
}

// copyFrom publishes a record state into this instance. Older states than
// the one already held are ignored.
func (e *element) copyFrom(rec *storage.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded && rec.UpdatedAt < e.updatedAt {
		return
	}
	e.label = rec.Label
	e.createdAt = rec.CreatedAt
	e.updatedAt = rec.UpdatedAt
	e.properties = maps.Clone(rec.Properties)
	if e.properties == nil {
		e.properties = make(map[string]any)
	}
	e.outV, e.inV = rec.OutV, rec.InV
	e.loaded = true
}

// record returns the element state as a storage record.
func (e *element) record() *storage.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &storage.Record{
		ID:         e.id,
		Kind:       e.kind,
		Label:      e.label,
		CreatedAt:  e.createdAt,
		UpdatedAt:  e.updatedAt,
		Properties: maps.Clone(e.properties),
		OutV:       e.outV,
		InV:        e.inV,
	}
}

// Load reads the element's record from the store. Concurrent loads of the
// same element share one store read; the shared read is not cancelled with
// any single caller, and each caller stops waiting when its own ctx is done.
//
// When the record is missing and this instance was discovered through an
// index row, the row is handed to the reconciler before ErrElementNotFound
// is returned.
func (e *element) Load(ctx context.Context) error {
	key := e.kind.String() + ":" + string(e.id)
	shared := context.WithoutCancel(ctx)
	ch := e.g.loads.DoChan(key, func() (any, error) {
		return e.g.engine.GetRecord(shared, e.kind, e.id)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to load %s %s: %w", e.kind, e.id, ctx.Err())
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if errors.Is(err, storage.ErrNotFound) {
		if prov := e.IndexProvenance(); prov != nil {
			e.g.reconciler.MaybeScheduleCleanup(prov)
		}
		return fmt.Errorf("%w: %s %s", ErrElementNotFound, e.kind, e.id)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", e.kind, e.id, err)
	}
	e.copyFrom(v.(*storage.Record).Clone())
	return nil
}

func (e *element) ensureLoaded(ctx context.Context) error {
	if e.IsLoaded() {
		return nil
	}
	return e.Load(ctx)
}

// Property returns the value stored under key.
func (e *element) Property(ctx context.Context, key string) (any, bool, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.properties[key]
	return v, ok, nil
}

// Keys returns the sorted property keys.
func (e *element) Keys(ctx context.Context) ([]string, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.properties)), nil
}

// Properties returns a copy of all properties.
func (e *element) Properties(ctx context.Context) (map[string]any, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.properties), nil
}

// SetProperty stores value under key, then rewrites the element's index rows.
func (e *element) SetProperty(ctx context.Context, key string, value any) error {
	if err := validatePropertyKey(key); err != nil {
		return err
	}
	if err := validatePropertyValue(key, value); err != nil {
		return err
	}
	return e.mutateProperties(ctx, func(props map[string]any) bool {
		props[key] = value
		return true
	})
}

// RemoveProperty deletes key. Removing an absent key is a no-op.
func (e *element) RemoveProperty(ctx context.Context, key string) error {
	if err := validatePropertyKey(key); err != nil {
		return err
	}
	return e.mutateProperties(ctx, func(props map[string]any) bool {
		if _, ok := props[key]; !ok {
			return false
		}
		delete(props, key)
		return true
	})
}

func (e *element) mutateProperties(ctx context.Context, mutate func(map[string]any) bool) error {
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	if e.IsDeleted() {
		return fmt.Errorf("%w: %s %s", ErrElementRemoved, e.kind, e.id)
	}

	prev := e.record()
	next := prev.Clone()
	if !mutate(next.Properties) {
		return nil
	}
	next.UpdatedAt = max(e.g.nowMillis(), prev.UpdatedAt)

	if err := e.g.engine.UpdateIndexEntries(ctx, prev, next); err != nil {
		return fmt.Errorf("failed to update index rows of %s %s: %w", e.kind, e.id, err)
	}
	if err := e.g.engine.PutRecord(ctx, next); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", e.kind, e.id, err)
	}

	e.copyFrom(next)
	e.g.invalidateIfPresent(ctx, e.kind, e.id, func(canonical *element) {
		if canonical != e {
			canonical.copyFrom(next)
		}
	})
	if e.kind == storage.KindEdge {
		// Cached property-filtered adjacency results may no longer hold.
		e.g.invalidateAdjacency(ctx, []storage.ID{next.OutV, next.InV})
	}
	return nil
}
