// Package metrics exposes the Prometheus collectors shared across every
// component (store, daemon, RPC client, sync, dedup, supervisor). Each
// collector is registered exactly once via promauto at package init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store metrics.
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tgfeed_store_query_duration_seconds",
			Help:    "Duration of store queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_store_query_errors_total",
			Help: "Total number of store query errors",
		},
		[]string{"operation"},
	)

	// RPC client / daemon metrics.
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_rpc_requests_total",
			Help: "Total number of RPC requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tgfeed_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	FloodWaitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_flood_wait_total",
			Help: "Total number of flood_wait responses received, by method",
		},
		[]string{"method"},
	)

	SessionConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tgfeed_session_connected",
			Help: "Whether a given upstream session is currently connected (1) or not (0)",
		},
		[]string{"credential_id"},
	)

	// Circuit breaker metrics (mirrors the teacher's naming convention).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tgfeed_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Sync pipeline metrics.
	SyncStageRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_sync_stage_runs_total",
			Help: "Total number of sync stage passes, by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	SyncMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_sync_messages_processed_total",
			Help: "Total number of messages processed by the sync pipeline",
		},
		[]string{"stage"},
	)

	SyncLagSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tgfeed_sync_lag_seconds",
			Help: "Seconds between now and the newest synced message's date, per channel",
		},
		[]string{"channel_id"},
	)

	// Dedup metrics.
	DedupHashRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_dedup_hash_registrations_total",
			Help: "Total number of hash registry outcomes",
		},
		[]string{"registry", "outcome"}, // outcome: first_writer, duplicate
	)

	DedupAISummaryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tgfeed_dedup_ai_summary_duration_seconds",
			Help:    "Duration of AI summary provider calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Backup reuse metrics.
	BackupReuseHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgfeed_backup_reuse_hits_total",
			Help: "Total number of downloads satisfied by a backup-index hash match",
		},
	)

	BackupIndexSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tgfeed_backup_index_entries",
			Help: "Current number of indexed files per channel backup",
		},
		[]string{"channel_id"},
	)

	// Maintenance worker metrics.
	MaintenanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_maintenance_runs_total",
			Help: "Total number of maintenance worker passes, by worker and outcome",
		},
		[]string{"worker", "outcome"},
	)

	ThumbnailsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_thumbnails_generated_total",
			Help: "Total number of video thumbnails generated, by outcome",
		},
		[]string{"outcome"}, // outcome: success, too_short, failed
	)

	TelegraphPagesArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_telegraph_pages_archived_total",
			Help: "Total number of telegra.ph pages archived, by outcome",
		},
		[]string{"outcome"}, // outcome: success, failed
	)

	RetentionMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_retention_messages_processed_total",
			Help: "Total number of messages affected by retention cleanup, by phase",
		},
		[]string{"phase"}, // phase: media_cleared, row_deleted
	)

	SearchIndexBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tgfeed_search_index_backlog",
			Help: "Number of messages not yet indexed into FTS, per channel",
		},
		[]string{"channel_id"},
	)

	// Supervisor metrics.
	SupervisorRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_supervisor_restarts_total",
			Help: "Total number of supervised service restarts",
		},
		[]string{"service"},
	)

	ChainStageRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_chain_stage_runs_total",
			Help: "Total number of supervisor chain stage runs, by chain, script, and outcome",
		},
		[]string{"chain", "script", "outcome"}, // outcome: success, error
	)

	ChainCrashLogsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_chain_crash_logs_written_total",
			Help: "Total number of crash-log files written for non-zero script exits",
		},
		[]string{"chain", "script"},
	)
)

// ObserveDuration records a histogram observation in seconds; a thin helper
// so call sites can `defer metrics.ObserveDuration(...)` with a captured
// start time, matching the teacher's timing convention.
func ObserveDuration(hist prometheus.Observer, start time.Time) {
	hist.Observe(time.Since(start).Seconds())
}
