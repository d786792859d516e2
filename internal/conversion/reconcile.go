package conversion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"media-converter/internal/database"
	"media-converter/internal/logging"
	"media-converter/internal/metrics"
	"media-converter/internal/transcoder"
	"media-converter/internal/workers"
)

// maxReconcileWorkers caps concurrent SSH sessions opened by one pass.
const maxReconcileWorkers = 4

// ReconcilerConfig controls how in-progress jobs nobody is waiting on are
// resolved.
type ReconcilerConfig struct {
	// Interval between passes.
	Interval time.Duration
	// StaleAfter is how long a job must be untouched before a pass looks at it.
	StaleAfter time.Duration
	// AbandonAfter is the age at which a job whose output never appeared is
	// failed.
	AbandonAfter time.Duration
}

// Reconciler resolves conversions that outlived their request: those that
// hit the wait ceiling and those interrupted by a restart.
type Reconciler struct {
	o        *Orchestrator
	cfg      ReconcilerConfig
	stopChan chan struct{}
	done     chan struct{}
	now      func() time.Time
}

// NewReconciler creates a Reconciler for o.
func NewReconciler(o *Orchestrator, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reconciler{
		o:        o,
		cfg:      cfg,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the reconcile loop.
func (r *Reconciler) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop ends the loop and waits for the current pass.
func (r *Reconciler) Stop() {
	close(r.stopChan)
	<-r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single pass over stale in-progress jobs.
func (r *Reconciler) RunOnce(ctx context.Context) {
	jobs, err := r.o.catalog.ListInProgressJobs(ctx, r.now().Add(-r.cfg.StaleAfter))
	if err != nil {
		logging.Error("Reconcile: failed to list in-progress jobs: %v", err)
		return
	}

	pending := jobs[:0]
	for _, job := range jobs {
		if !r.o.isRunning(job.ID) {
			pending = append(pending, job)
		}
	}
	if len(pending) == 0 {
		return
	}

	logging.Info("Reconcile: checking %d stale conversion(s)", len(pending))
	workers.ForEach(ctx, workers.ForIO(maxReconcileWorkers), pending, func(ctx context.Context, job database.ConversionJob) {
		outcome := r.reconcile(ctx, &job)
		metrics.ConversionReconciledTotal.WithLabelValues(outcome).Inc()
		logging.Debug("Reconcile: job %s -> %s", job.ID, outcome)
	})
}

func (r *Reconciler) reconcile(ctx context.Context, job *database.ConversionJob) string {
	reservation := r.o.ledger.Resume(job.BucketID, job.ReservedMB)

	src, err := r.o.catalog.GetAsset(ctx, job.AccountID, job.SourceAssetID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logging.Warn("Reconcile: job %s: %v", job.ID, err)
			return "pending"
		}
		_ = r.o.fail(ctx, job, reservation, fmt.Errorf("source asset %d no longer exists", job.SourceAssetID))
		return "abandoned"
	}

	preset, err := r.o.presetFromJob(job)
	if err != nil {
		_ = r.o.fail(ctx, job, reservation, fmt.Errorf("unreadable job settings: %w", err))
		return "failed"
	}

	info, err := r.o.transcoder.Stat(ctx, job.ServerID, job.OutputPath)
	if err != nil {
		logging.Warn("Reconcile: job %s: stat failed: %v", job.ID, err)
		return "pending"
	}

	if info.Exists {
		probed, err := r.o.transcoder.Probe(ctx, job.ServerID, job.OutputPath)
		switch {
		case err == nil:
			if _, err := r.o.commit(ctx, job, src, preset, reservation, info.Size, probed); err != nil {
				logging.Warn("Reconcile: job %s: %v", job.ID, err)
				return "failed"
			}
			return "completed"
		case !errors.Is(err, transcoder.ErrProbeUnavailable):
			logging.Warn("Reconcile: job %s: probe failed: %v", job.ID, err)
			return "pending"
		}
		// an unfinished +faststart mp4 does not probe yet
	}

	if r.now().Sub(job.CreatedAt) < r.cfg.AbandonAfter {
		if err := r.o.catalog.TouchJob(ctx, job.ID); err != nil {
			logging.Warn("Reconcile: job %s: %v", job.ID, err)
		}
		return "pending"
	}

	_ = r.o.fail(ctx, job, reservation, fmt.Errorf("abandoned after %s without a playable output", r.cfg.AbandonAfter))
	return "abandoned"
}
