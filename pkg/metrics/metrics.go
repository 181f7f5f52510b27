package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatedir_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estatedir_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// CacheLookups counts expiring cache reads by result (hit|miss|expired|corrupt).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatedir_cache_lookups_total",
			Help: "Expiring cache lookups by outcome",
		},
		[]string{"result"},
	)

	// CacheEvictions counts entries evicted to make room after a quota failure.
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estatedir_cache_evictions_total",
			Help: "Cache entries evicted under storage quota pressure",
		},
	)

	// SheetFetches counts upstream spreadsheet fetches by sheet and result (ok|error|fallback).
	SheetFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatedir_sheet_fetches_total",
			Help: "Spreadsheet export fetches by sheet and outcome",
		},
		[]string{"sheet", "result"},
	)

	// FetchRetries counts retried outbound HTTP attempts.
	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatedir_fetch_retries_total",
			Help: "Outbound HTTP attempts that were retried, by reason",
		},
		[]string{"reason"},
	)

	// SyncActions counts replayed pending actions by result (processed|failed).
	SyncActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatedir_sync_actions_total",
			Help: "Pending actions replayed by the sync coordinator",
		},
		[]string{"result"},
	)

	// PendingActions reports the number of unprocessed pending actions after the last pass.
	PendingActions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estatedir_pending_actions",
			Help: "Unprocessed pending actions",
		},
	)

	// Online is 1 while the spreadsheet host is reachable, 0 otherwise.
	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estatedir_upstream_online",
			Help: "Whether the upstream spreadsheet host is reachable",
		},
	)

	// APILatency measures HTTP request latencies per route template and status class (2xx, 4xx...).
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "estatedir_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// APIInFlight counts requests currently being served.
	APIInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estatedir_api_in_flight_requests",
			Help: "HTTP requests currently being served",
		},
	)
)
