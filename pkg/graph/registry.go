package graph

import (
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// Registry maps element ids to their one canonical in-memory instance.
//
// Slots hold weak pointers: the registry never keeps an instance alive on its
// own. A bounded hot set keeps recently used instances strongly reachable
// until they expire or are evicted, after which the garbage collector may
// reclaim them and the slot is dropped.
//
// An instance that live rejects (a removed element) is no longer canonical:
// Find treats its slot as empty and FindOrCreate replaces it.
type Registry[T any] struct {
	name   string
	create func(storage.ID) *T
	live   func(*T) bool

	mu    sync.Mutex
	slots map[storage.ID]weak.Pointer[T]
	hot   *expiringLRU[storage.ID, *T]
}

// NewRegistry creates a registry that builds missing instances with create.
// A nil live accepts every instance. hotSize <= 0 disables the hot set.
func NewRegistry[T any](name string, create func(storage.ID) *T, live func(*T) bool, hotSize int, hotTTL time.Duration, now func() time.Time) *Registry[T] {
	r := &Registry[T]{
		name:   name,
		create: create,
		live:   live,
		slots:  make(map[storage.ID]weak.Pointer[T]),
	}
	if hotSize > 0 {
		if hot, err := newExpiringLRU[storage.ID, *T](hotSize, hotTTL, now); err == nil {
			r.hot = hot
		}
	}
	return r
}

type registrySlot[T any] struct {
	id storage.ID
	wp weak.Pointer[T]
}

// FindOrCreate returns the live canonical instance for id, creating and
// registering one when none exists.
func (r *Registry[T]) FindOrCreate(id storage.ID) *T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v := r.lookupLocked(id); v != nil {
		registryLookups.WithLabelValues(r.name, "hit").Inc()
		return v
	}
	registryLookups.WithLabelValues(r.name, "miss").Inc()

	v := r.create(id)
	wp := weak.Make(v)
	r.slots[id] = wp
	runtime.AddCleanup(v, r.drop, registrySlot[T]{id: id, wp: wp})
	if r.hot != nil {
		r.hot.Add(id, v)
	}
	return v
}

// Find returns the live canonical instance for id without creating one.
func (r *Registry[T]) Find(id storage.ID) (*T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.lookupLocked(id)
	return v, v != nil
}

// InvalidateIfPresent applies effect to the canonical instance for id if one
// is live. It reports whether effect ran.
func (r *Registry[T]) InvalidateIfPresent(id storage.ID, effect func(*T)) bool {
	v, ok := r.Find(id)
	if !ok {
		return false
	}
	effect(v)
	return true
}

// Remove forgets the canonical instance for id.
func (r *Registry[T]) Remove(id storage.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, id)
	if r.hot != nil {
		r.hot.Remove(id)
	}
}

// Len returns the number of registered slots, including ones whose instance
// was collected but whose cleanup has not run yet.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Purge forgets every canonical instance.
func (r *Registry[T]) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.slots)
	if r.hot != nil {
		r.hot.Purge()
	}
}

func (r *Registry[T]) lookupLocked(id storage.ID) *T {
	wp, ok := r.slots[id]
	if !ok {
		return nil
	}
	v := wp.Value()
	if v == nil {
		delete(r.slots, id)
		return nil
	}
	if r.live != nil && !r.live(v) {
		delete(r.slots, id)
		if r.hot != nil {
			r.hot.Remove(id)
		}
		return nil
	}
	if r.hot != nil {
		if _, ok := r.hot.Get(id); !ok {
			r.hot.Add(id, v)
		}
	}
	return v
}

// drop runs after a registered instance is collected. The slot may already
// hold a newer instance for the same id, which must stay.
func (r *Registry[T]) drop(slot registrySlot[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.slots[slot.id]; ok && cur == slot.wp {
		delete(r.slots, slot.id)
	}
}
