package conversion

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-converter/internal/database"
	"media-converter/internal/metrics"
	"media-converter/internal/quota"
)

// orphanJob records an in-progress job as if an earlier process had started
// it and died.
func orphanJob(t *testing.T, f *fixture, reservedMB int64) *database.ConversionJob {
	t.Helper()
	job := &database.ConversionJob{
		AccountID:     f.account.ID,
		SourceAssetID: f.source.ID,
		BucketID:      f.bucket.ID,
		ServerID:      f.source.ServerID,
		Quality:       "media",
		BitrateKbps:   1500,
		Resolution:    "1280x720",
		CRF:           25,
		OutputPath:    sourceOutput,
		ReservedMB:    reservedMB,
	}
	require.NoError(t, f.db.CreateJob(context.Background(), job))
	return job
}

func newTestReconciler(f *fixture, abandonAfter time.Duration) *Reconciler {
	r := NewReconciler(f.o, ReconcilerConfig{Interval: time.Hour, AbandonAfter: abandonAfter})
	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	return r
}

func TestReconcileCommitsFinishedOutput(t *testing.T) {
	f := newFixture(t, 1000, Config{})
	ctx := context.Background()

	// strict ledger: the dead process had already held 20 MB
	f.o.ledger = quota.NewLedger(f.db, true)
	require.NoError(t, f.db.AddUsedMB(ctx, f.bucket.ID, 20))
	job := orphanJob(t, f, 20)
	f.server.SetFile(sourceOutput, 5_000_000)

	before := testutil.ToFloat64(metrics.ConversionReconciledTotal.WithLabelValues("completed"))
	newTestReconciler(f, 6*time.Hour).RunOnce(ctx)

	got, err := f.db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, got.Status)
	require.NotNil(t, got.ResultAssetID)

	converted, err := f.db.GetAsset(ctx, f.account.ID, *got.ResultAssetID)
	require.NoError(t, err)
	assert.Equal(t, 1480, converted.BitrateKbps)
	assert.Equal(t, "media", *converted.AppliedQuality)

	assert.Equal(t, int64(5), f.usedMB(t), "held reservation settled to the actual size")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ConversionReconciledTotal.WithLabelValues("completed")))
}

func TestReconcileLeavesYoungJobPending(t *testing.T) {
	f := newFixture(t, 1000, Config{})
	ctx := context.Background()
	job := orphanJob(t, f, 0)

	newTestReconciler(f, 6*time.Hour).RunOnce(ctx)

	got, err := f.db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobInProgress, got.Status)
	assert.True(t, got.UpdatedAt.After(job.UpdatedAt) || got.UpdatedAt.Equal(job.UpdatedAt))
	assert.Equal(t, 1, f.assetCount(t))
}

func TestReconcileAbandonsOldJob(t *testing.T) {
	f := newFixture(t, 1000, Config{})
	ctx := context.Background()

	f.o.ledger = quota.NewLedger(f.db, true)
	require.NoError(t, f.db.AddUsedMB(ctx, f.bucket.ID, 20))
	job := orphanJob(t, f, 20)
	f.server.SetFile(sourceOutput, 1024)
	f.server.probeStdout = "NO_PROBE\n"

	newTestReconciler(f, time.Minute).RunOnce(ctx)

	got, err := f.db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, got.Status)
	assert.Contains(t, got.Error, "abandoned")
	assert.False(t, f.server.HasFile(sourceOutput), "partial output removed")
	assert.Zero(t, f.usedMB(t), "held reservation returned")
	assert.Equal(t, 1, f.assetCount(t))
}

func TestReconcileSkipsRunningJobs(t *testing.T) {
	f := newFixture(t, 1000, Config{})
	ctx := context.Background()
	job := orphanJob(t, f, 0)
	f.o.track(job.ID)
	defer f.o.untrack(job.ID)

	newTestReconciler(f, time.Minute).RunOnce(ctx)

	got, err := f.db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobInProgress, got.Status)
	assert.Zero(t, f.server.Count(""))
}

func TestReconcilerStartStop(t *testing.T) {
	f := newFixture(t, 1000, Config{})
	job := orphanJob(t, f, 0)
	f.server.SetFile(sourceOutput, 5_000_000)

	r := newTestReconciler(f, time.Hour)
	r.Start(context.Background())

	require.Eventually(t, func() bool {
		got, err := f.db.GetJob(context.Background(), job.ID)
		return err == nil && got.Status == database.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
}
