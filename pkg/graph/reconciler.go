package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// ReconcileStore is the part of the storage engine the reconciler needs.
type ReconcileStore interface {
	GetRecord(ctx context.Context, kind storage.Kind, id storage.ID) (*storage.Record, error)
	DeleteIndexEntry(ctx context.Context, entry storage.IndexEntry) error
}

// ReconcilerConfig holds configuration for the stale index reconciler.
type ReconcilerConfig struct {
	NumWorkers      int     // Concurrent cleanup workers (default: 2)
	QueueSize       int     // Pending jobs before new ones are dropped (default: 1024)
	DeleteRateLimit float64 // Index deletions per second, 0 = unlimited
}

// DefaultReconcilerConfig returns sensible defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		NumWorkers: 2,
		QueueSize:  1024,
	}
}

// ReconcilerStats is a snapshot of reconciler counters.
type ReconcilerStats struct {
	Scheduled int64 `json:"scheduled"`
	Skipped   int64 `json:"skipped"`
	Dropped   int64 `json:"dropped"`
	Verified  int64 `json:"verified"`
	Deleted   int64 `json:"deleted"`
	Failed    int64 `json:"failed"`
}

// Reconciler removes index rows whose element no longer backs them.
//
// Index rows and records are written independently, so a row may briefly
// point at a record that is not visible yet or no longer exists. Rows are
// only acted on once they are older than the grace period; a background job
// then re-reads the record and deletes the row if it no longer matches.
// Jobs are fire-and-forget: a full queue drops them and failures are only
// logged.
type Reconciler struct {
	store   ReconcileStore
	config  ReconcilerConfig
	expiry  time.Duration
	now     func() time.Time
	logger  storage.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	jobs   chan storage.IndexEntry

	inflight atomic.Int64

	mu     sync.Mutex
	closed bool
	stats  ReconcilerStats
}

// NewReconciler starts a reconciler pool. expiry is the grace period.
func NewReconciler(store ReconcileStore, config ReconcilerConfig, expiry time.Duration, now func() time.Time, logger storage.Logger) *Reconciler {
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = storage.NopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		store:  store,
		config: config,
		expiry: expiry,
		now:    now,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan storage.IndexEntry, config.QueueSize),
	}
	if config.DeleteRateLimit > 0 {
		burst := int(config.DeleteRateLimit)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(config.DeleteRateLimit), burst)
	}

	for i := 0; i < config.NumWorkers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// MaybeScheduleCleanup queues a verification job for entry if it is strictly
// older than the grace period. It never blocks and reports whether a job was
// queued.
func (r *Reconciler) MaybeScheduleCleanup(entry *storage.IndexEntry) bool {
	if entry == nil {
		return false
	}
	age := r.now().UnixMilli() - entry.Timestamp
	if age <= r.expiry.Milliseconds() {
		r.count(outcomeSkipped)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	r.inflight.Add(1)
	select {
	case r.jobs <- *entry:
		r.countLocked(outcomeScheduled)
		return true
	default:
		r.inflight.Add(-1)
		r.countLocked(outcomeDropped)
		r.logger.Log(storage.LevelWarn, "stale index cleanup dropped: queue full", map[string]any{
			"index":   entry.Key.String(),
			"element": string(entry.Element),
		})
		return false
	}
}

func (r *Reconciler) worker() {
	defer r.wg.Done()
	for entry := range r.jobs {
		r.reconcile(entry)
		r.inflight.Add(-1)
	}
}

// reconcile verifies one row against its record and deletes it if stale.
func (r *Reconciler) reconcile(entry storage.IndexEntry) {
	start := time.Now()
	defer func() { reconcileDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := tracer.Start(r.ctx, "graph.reconcile", trace.WithAttributes(
		attribute.String("index", entry.Key.String()),
		attribute.String("element", string(entry.Element)),
	))
	defer span.End()

	rec, err := r.store.GetRecord(ctx, entry.Key.Kind, entry.Element)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		r.fail(span, "stale index verification failed", entry, err)
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		rec = nil
	}
	if entry.Matches(rec) {
		r.count(outcomeVerified)
		return
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.fail(span, "stale index cleanup cancelled", entry, err)
			return
		}
	}
	if err := r.store.DeleteIndexEntry(ctx, entry); err != nil {
		r.fail(span, "stale index deletion failed", entry, err)
		return
	}
	r.count(outcomeDeleted)
	r.logger.Log(storage.LevelDebug, "stale index row removed", map[string]any{
		"index":   entry.Key.String(),
		"element": string(entry.Element),
		"vertex":  string(entry.Vertex),
	})
}

func (r *Reconciler) fail(span trace.Span, msg string, entry storage.IndexEntry, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	r.count(outcomeFailed)
	r.logger.Log(storage.LevelError, msg, map[string]any{
		"index":   entry.Key.String(),
		"element": string(entry.Element),
		"error":   err,
	})
}

func (r *Reconciler) count(outcome string) {
	r.mu.Lock()
	r.countLocked(outcome)
	r.mu.Unlock()
}

func (r *Reconciler) countLocked(outcome string) {
	switch outcome {
	case outcomeScheduled:
		r.stats.Scheduled++
	case outcomeSkipped:
		r.stats.Skipped++
	case outcomeDropped:
		r.stats.Dropped++
	case outcomeVerified:
		r.stats.Verified++
	case outcomeDeleted:
		r.stats.Deleted++
	case outcomeFailed:
		r.stats.Failed++
	}
	reconcilerJobs.WithLabelValues(outcome).Inc()
}

// Stats returns current reconciler statistics.
func (r *Reconciler) Stats() ReconcilerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Flush waits until every queued job has finished or ctx is done.
func (r *Reconciler) Flush(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for r.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting jobs, finishes the queued ones and stops the workers.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
}
