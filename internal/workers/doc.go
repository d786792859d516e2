/*
Package workers sizes and runs small worker pools in containerized
environments.

runtime.NumCPU reports the host's CPUs, not the container's CPU limit, so
worker counts are derived from GOMAXPROCS instead:

	n := workers.ForIO(8) // 2 per available CPU, at most 8

The RECONCILE_WORKERS environment variable overrides the calculation.

ForEach fans a slice out over a bounded pool and waits for completion:

	workers.ForEach(ctx, n, jobs, func(ctx context.Context, job database.ConversionJob) {
		reconcile(ctx, job)
	})
*/
package workers
