package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	// --- Database storage ---
	for _, file := range []string{"main", "wal", "shm"} {
		DBSizeBytes.WithLabelValues(file)
	}

	for _, op := range []string{"migrate", "get_asset", "list_assets", "insert_asset", "delete_asset",
		"bucket_usage", "add_used_mb", "subtract_used_mb", "reserve_used_mb",
		"create_job", "fail_job", "complete_conversion", "latest_job", "list_in_progress_jobs"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, t := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(t)
	}

	// --- Conversions ---
	for _, status := range []string{"completed", "failed", "rejected", "indeterminate"} {
		ConversionJobsTotal.WithLabelValues(status)
	}
	for _, outcome := range []string{"completed", "failed", "abandoned", "pending"} {
		ConversionReconciledTotal.WithLabelValues(outcome)
	}

	// --- Remote gateway (per operation) ---
	for _, op := range []string{"execute", "stat", "delete", "upload", "mkdir"} {
		GatewayCallsTotal.WithLabelValues(op, "success")
		GatewayCallsTotal.WithLabelValues(op, "error")
		GatewayCallDuration.WithLabelValues(op)
	}
	for _, op := range []string{"stat", "mkdir", "probe"} {
		GatewayRetryAttempts.WithLabelValues(op)
		GatewayRetrySuccess.WithLabelValues(op)
		GatewayRetryFailures.WithLabelValues(op)
	}

	// --- Quota and assets ---
	for _, op := range []string{"upload", "conversion"} {
		QuotaRejectionsTotal.WithLabelValues(op)
	}
	for _, status := range []string{"success", "rejected", "error"} {
		UploadsTotal.WithLabelValues(status)
	}
	for _, kind := range []string{"original", "converted", "incompatible"} {
		AssetsTotal.WithLabelValues(kind)
	}
	for _, state := range []string{"used", "allotted"} {
		StorageMB.WithLabelValues(state)
	}

	// --- Events ---
	for _, typ := range []string{"asset.uploaded", "asset.converted", "asset.deleted", "conversion.failed"} {
		EventsPublishedTotal.WithLabelValues(typ, "success")
		EventsPublishedTotal.WithLabelValues(typ, "error")
	}
}
