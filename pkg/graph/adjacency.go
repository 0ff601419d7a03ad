package graph

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// expiringLRU is a thread-safe LRU whose entries also expire after ttl
// without access. Expiry is checked lazily on Get; entries nobody reads are
// reclaimed by LRU eviction.
type expiringLRU[K comparable, V any] struct {
	cache *lru.Cache[K, *expiringEntry[V]]
	ttl   time.Duration
	now   func() time.Time
}

type expiringEntry[V any] struct {
	value    V
	accessed atomic.Int64 // unix nanos
}

func newExpiringLRU[K comparable, V any](size int, ttl time.Duration, now func() time.Time) (*expiringLRU[K, V], error) {
	cache, err := lru.New[K, *expiringEntry[V]](size)
	if err != nil {
		return nil, err
	}
	return &expiringLRU[K, V]{cache: cache, ttl: ttl, now: now}, nil
}

func (c *expiringLRU[K, V]) Get(key K) (V, bool) {
	var zero V
	entry, ok := c.cache.Get(key)
	if !ok {
		return zero, false
	}
	now := c.now().UnixNano()
	if c.ttl > 0 && now-entry.accessed.Load() > int64(c.ttl) {
		c.cache.Remove(key)
		return zero, false
	}
	entry.accessed.Store(now)
	return entry.value, true
}

func (c *expiringLRU[K, V]) Add(key K, value V) {
	entry := &expiringEntry[V]{value: value}
	entry.accessed.Store(c.now().UnixNano())
	c.cache.Add(key, entry)
}

func (c *expiringLRU[K, V]) Remove(key K) { c.cache.Remove(key) }
func (c *expiringLRU[K, V]) Purge()       { c.cache.Purge() }
func (c *expiringLRU[K, V]) Len() int     { return c.cache.Len() }

// Fingerprint identifies one adjacency query against one vertex. Labels are
// sorted and values are stored encoded, so equal queries compare equal.
type Fingerprint struct {
	Direction   storage.Direction
	Labels      string
	PropertyKey string
	Value       string
	From        string
	To          string
	Range       bool
}

func newFingerprint(dir storage.Direction, labels []string, key string, value, from, to any, isRange bool) (Fingerprint, error) {
	sorted := slices.Clone(labels)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	fp := Fingerprint{
		Direction:   dir,
		Labels:      strings.Join(sorted, "\x00"),
		PropertyKey: key,
		Range:       isRange,
	}
	if key == "" {
		return fp, nil
	}
	encode := func(v any) (string, error) {
		if v == nil {
			return "", nil
		}
		enc, err := storage.EncodeValue(v)
		return string(enc), err
	}
	var err error
	if isRange {
		if fp.From, err = encode(from); err != nil {
			return Fingerprint{}, err
		}
		if fp.To, err = encode(to); err != nil {
			return Fingerprint{}, err
		}
		return fp, nil
	}
	if value == nil {
		return Fingerprint{}, ErrInvalidKeyValues
	}
	fp.Value, err = encode(value)
	return fp, err
}

// AdjacencyCache caches adjacency query results for one vertex.
//
// Stored slices are never modified. Invalidation always drops every entry:
// a single edge change can affect any number of fingerprints. Every
// invalidation also advances the generation, so a result computed before an
// invalidation can be refused with PutIfGeneration.
type AdjacencyCache struct {
	mu         sync.Mutex
	generation uint64
	entries    *expiringLRU[Fingerprint, []*Edge]
}

// NewAdjacencyCache returns a cache holding at most size results that expire
// after ttl without access. It returns nil when size is not positive.
func NewAdjacencyCache(size int, ttl time.Duration, now func() time.Time) *AdjacencyCache {
	if size <= 0 {
		return nil
	}
	entries, err := newExpiringLRU[Fingerprint, []*Edge](size, ttl, now)
	if err != nil {
		return nil
	}
	return &AdjacencyCache{entries: entries}
}

// Get returns the cached result for fp without edges removed since it was
// cached. A result whose edges were all removed is still a hit.
func (c *AdjacencyCache) Get(fp Fingerprint) ([]*Edge, bool) {
	if c == nil {
		return nil, false
	}
	edges, ok := c.entries.Get(fp)
	if !ok {
		adjacencyRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	adjacencyRequests.WithLabelValues("hit").Inc()

	live := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if !e.IsDeleted() {
			live = append(live, e)
		}
	}
	return live, true
}

// Put stores a copy of edges under fp.
func (c *AdjacencyCache) Put(fp Fingerprint, edges []*Edge) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(fp, slices.Clone(edges))
}

// Generation returns the number of invalidations so far.
func (c *AdjacencyCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// PutIfGeneration stores a copy of edges under fp only if no invalidation
// happened since gen was read. It reports whether the result was stored.
func (c *AdjacencyCache) PutIfGeneration(fp Fingerprint, edges []*Edge, gen uint64) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		adjacencyRequests.WithLabelValues("stale_put").Inc()
		return false
	}
	c.entries.Add(fp, slices.Clone(edges))
	return true
}

// InvalidateAll drops every cached result.
func (c *AdjacencyCache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generation++
	c.entries.Purge()
	c.mu.Unlock()
	adjacencyInvalidations.Inc()
}

// Len returns the number of cached results.
func (c *AdjacencyCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
