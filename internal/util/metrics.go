package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRunsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_started_total",
		Help: "Total number of sync runs started",
	}, []string{"kind"})

	SyncRunsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_rejected_total",
		Help: "Total number of sync triggers rejected because a run was active",
	}, []string{"kind"})

	SyncRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_run_duration_seconds",
		Help:    "Duration of sync runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"kind"})

	SyncSourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_source_errors_total",
		Help: "Total number of per-source failures during sync runs",
	}, []string{"source"})

	OrdersUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_orders_upserted_total",
		Help: "Total number of canonical orders written to the ledger",
	}, []string{"source", "result"})

	ItemsUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_items_upserted_total",
		Help: "Total number of canonical order items written to the ledger",
	})

	OrdersSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_suppressed_total",
		Help: "Total number of raw orders suppressed during normalization",
	}, []string{"source", "reason"})

	IdentityCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_identity_collisions_total",
		Help: "Total number of rejected records claiming an existing order identity",
	})

	FetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_fetch_retries_total",
		Help: "Total number of fetch retries after transient errors",
	}, []string{"source"})

	FetchPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_fetch_pages_total",
		Help: "Total number of pages fetched from source connectors",
	}, []string{"source"})

	CostCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cost_cache_hits_total",
		Help: "Total number of cost cache hits",
	})

	CostCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cost_cache_misses_total",
		Help: "Total number of cost cache misses",
	})

	CostResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cost_resolved_total",
		Help: "Total number of cost resolutions by fallback step",
	}, []string{"step"})

	CostUnresolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cost_unresolved_total",
		Help: "Total number of line items whose cost could not be resolved",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
