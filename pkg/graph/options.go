package graph

import (
	"time"

	"github.com/orneryd/nornicgraph/pkg/config"
	"github.com/orneryd/nornicgraph/pkg/storage"
)

// Options configures a Graph session.
type Options struct {
	// ElementCacheEnabled tracks one canonical instance per element id.
	// When false every lookup builds a fresh, uncached instance and
	// invalidation falls back to reading the store.
	ElementCacheEnabled bool

	// ElementCacheMaxSize and ElementCacheTTL bound the set of recently used
	// canonical instances that are held strongly. Others are only weakly
	// referenced and disappear once the caller drops them.
	ElementCacheMaxSize int
	ElementCacheTTL     time.Duration

	// RelationshipCacheMaxSize and RelationshipCacheTTL bound each vertex's
	// adjacency cache. A size of zero disables adjacency caching.
	RelationshipCacheMaxSize int
	RelationshipCacheTTL     time.Duration

	// StaleIndexExpiry is the grace period an index row must outlive before
	// the reconciler may remove it.
	StaleIndexExpiry time.Duration

	// LazyLoading defers reading element records discovered through index
	// rows until a property is requested.
	LazyLoading bool

	// RemoveConcurrency bounds parallel edge removals when a vertex is removed.
	RemoveConcurrency int

	Reconciler ReconcilerConfig

	// Logger receives background diagnostics. Defaults to NewLogger("graph").
	Logger storage.Logger

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		ElementCacheEnabled:      true,
		ElementCacheMaxSize:      10000,
		ElementCacheTTL:          10 * time.Minute,
		RelationshipCacheMaxSize: 64,
		RelationshipCacheTTL:     30 * time.Second,
		StaleIndexExpiry:         time.Minute,
		RemoveConcurrency:        4,
		Reconciler:               DefaultReconcilerConfig(),
	}
}

// OptionsFromConfig maps the graph and reconciler sections of cfg to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	opts.ElementCacheEnabled = cfg.Graph.ElementCacheEnabled
	opts.ElementCacheMaxSize = cfg.Graph.ElementCacheMaxSize
	opts.ElementCacheTTL = cfg.Graph.ElementCacheTTL
	opts.RelationshipCacheMaxSize = cfg.Graph.RelationshipCacheMaxSize
	opts.RelationshipCacheTTL = cfg.Graph.RelationshipCacheTTL
	opts.StaleIndexExpiry = cfg.Graph.StaleIndexExpiry
	opts.LazyLoading = cfg.Graph.LazyLoading
	opts.Reconciler.NumWorkers = cfg.Reconciler.Workers
	opts.Reconciler.QueueSize = cfg.Reconciler.QueueSize
	opts.Reconciler.DeleteRateLimit = cfg.Reconciler.DeleteRateLimit
	return opts
}

// WithClock returns a copy of o that reads time from now.
func (o Options) WithClock(now func() time.Time) Options {
	o.Clock = now
	return o
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = storage.NewLogger("graph")
	}
	if o.RemoveConcurrency < 1 {
		o.RemoveConcurrency = 1
	}
	return o
}
