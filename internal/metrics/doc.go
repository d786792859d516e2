// Package metrics provides Prometheus instrumentation for the media converter.
//
// All metrics are registered with the default registry through promauto and
// are prefixed with "media_converter_".
//
// # Metric Categories
//
// ## HTTP Metrics
//
//   - HTTPRequestsTotal: Counter of requests by method, path, and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of currently processing requests
//
// ## Database Metrics
//
//   - DBQueryTotal: Counter of catalog queries by operation and status
//   - DBQueryDuration: Histogram of query duration by operation
//   - DBTransactionDuration: Histogram of transaction duration by outcome
//   - DBConnectionsOpen: Gauge of open database connections
//   - DBSizeBytes: Gauge of database file sizes (main, WAL, SHM)
//
// ## Conversion Metrics
//
//   - ConversionJobsTotal: Counter of conversion requests by outcome
//   - ConversionJobDuration: Histogram of time spent waiting on ffmpeg
//   - ConversionJobsInProgress: Gauge of conversions holding the per-asset guard
//   - ConversionProbeFallbacks: Counter of outputs committed without probe data
//   - ConversionReconciledTotal: Counter of indeterminate jobs resolved later
//
// ## Remote Gateway Metrics
//
// Recorded through the observer returned by [NewGatewayObserver]:
//
//   - GatewayCallsTotal, GatewayCallDuration: per remote operation
//   - GatewayRetryAttempts, GatewayRetrySuccess, GatewayRetryFailures
//
// ## Quota and Asset Metrics
//
//   - QuotaRejectionsTotal, QuotaCommittedMB, QuotaReleasedMB
//   - UploadsTotal, AssetsTotal, StorageMB
//   - EventsPublishedTotal
//
// # Collector
//
// [Collector] periodically gathers catalog statistics from a [StatsProvider]
// and refreshes the asset, storage and database gauges:
//
//	collector := metrics.NewCollector(db, db, time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Conversion failure rate:
//
//	sum(rate(media_converter_conversion_jobs_total{status="failed"}[1h])) /
//	sum(rate(media_converter_conversion_jobs_total[1h]))
//
// P95 remote command latency by operation:
//
//	histogram_quantile(0.95, sum(rate(media_converter_gateway_call_duration_seconds_bucket[5m])) by (le, operation))
//
// Storage utilisation:
//
//	media_converter_storage_mb{state="used"} / media_converter_storage_mb{state="allotted"}
package metrics
