package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Tracer for mutations, edge scans and reconciliation jobs.
var tracer = otel.Tracer("nornicgraph.graph")

var (
	adjacencyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nornicgraph_adjacency_cache_requests_total",
		Help: "Adjacency cache lookups and refused stale stores by result",
	}, []string{"result"})

	adjacencyInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nornicgraph_adjacency_cache_invalidations_total",
		Help: "Whole-cache adjacency invalidations",
	})

	registryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nornicgraph_registry_lookups_total",
		Help: "Canonical instance lookups by kind and result",
	}, []string{"kind", "result"})

	reconcilerJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nornicgraph_reconciler_jobs_total",
		Help: "Stale index cleanup jobs by outcome",
	}, []string{"outcome"})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nornicgraph_reconcile_duration_seconds",
		Help:    "Time spent verifying and removing one stale index row",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

// Reconciler outcomes.
const (
	outcomeScheduled = "scheduled"
	outcomeSkipped   = "skipped"
	outcomeDropped   = "dropped"
	outcomeVerified  = "verified"
	outcomeDeleted   = "deleted"
	outcomeFailed    = "failed"
)
