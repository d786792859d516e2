package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_converter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_converter_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_converter_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"type"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_converter_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Conversion metrics
var (
	ConversionJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_conversion_jobs_total",
			Help: "Total number of conversion requests by outcome",
		},
		[]string{"status"},
	)

	ConversionJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_converter_conversion_job_duration_seconds",
			Help:    "Conversion duration from guard acquisition to commit or failure",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	ConversionJobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_conversion_jobs_in_progress",
			Help: "Number of conversions currently waiting on the remote host",
		},
	)

	ConversionProbeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_converter_conversion_probe_fallbacks_total",
			Help: "Conversions committed with requested bitrate and source duration because the output could not be probed",
		},
	)

	ConversionReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_conversion_reconciled_total",
			Help: "Indeterminate conversions resolved by the reconciler",
		},
		[]string{"outcome"},
	)
)

// Remote gateway metrics
var (
	GatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_gateway_calls_total",
			Help: "Total number of remote gateway calls",
		},
		[]string{"operation", "status"},
	)

	GatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_converter_gateway_call_duration_seconds",
			Help:    "Remote gateway call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"operation"},
	)

	GatewayRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_gateway_retry_attempts_total",
			Help: "Retries of read-only gateway calls after transport errors",
		},
		[]string{"operation"},
	)

	GatewayRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_gateway_retry_success_total",
			Help: "Gateway calls that succeeded after at least one retry",
		},
		[]string{"operation"},
	)

	GatewayRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_gateway_retry_failures_total",
			Help: "Gateway calls that failed after exhausting retries",
		},
		[]string{"operation"},
	)
)

// Quota metrics
var (
	QuotaRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_quota_rejections_total",
			Help: "Requests rejected because the bucket lacked free space",
		},
		[]string{"operation"},
	)

	QuotaCommittedMB = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_converter_quota_committed_mb_total",
			Help: "Megabytes added to bucket usage",
		},
	)

	QuotaReleasedMB = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_converter_quota_released_mb_total",
			Help: "Megabytes released from bucket usage",
		},
	)
)

// Asset metrics
var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_uploads_total",
			Help: "Total number of uploads by status",
		},
		[]string{"status"},
	)

	AssetsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_converter_assets_total",
			Help: "Number of catalogued assets by kind",
		},
		[]string{"kind"}, // "original", "converted", "incompatible"
	)

	StorageMB = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_converter_storage_mb",
			Help: "Bucket storage across all accounts",
		},
		[]string{"state"}, // "used", "allotted"
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the Go memory limit",
		},
	)

	UploadsSpooledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_converter_uploads_spooled_total",
			Help: "Uploads parsed straight to disk because memory was under pressure",
		},
	)
)

// Event metrics
var (
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_events_published_total",
			Help: "Lifecycle events handed to the event publisher",
		},
		[]string{"type", "status"},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_converter_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo publishes build information as a constant gauge.
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
