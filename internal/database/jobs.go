package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrConversionInProgress is returned by CreateJob when the source asset
// already has a running conversion.
var ErrConversionInProgress = errors.New("conversion already in progress")

const jobColumns = `id, account_id, source_asset_id, bucket_id, server_id, quality, bitrate_kbps, resolution,
	crf, output_path, reserved_mb, status, error, result_asset_id, created_at, updated_at`

// CreateJob records a new in-progress conversion and assigns its id.
func (d *Database) CreateJob(ctx context.Context, job *ConversionJob) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_job", start, err) }()

	now := time.Now().UTC()
	job.ID = uuid.NewString()
	job.Status = JobInProgress
	job.CreatedAt = now
	job.UpdatedAt = now

	query, args, err := sq.Insert("conversion_jobs").
		Columns("id", "account_id", "source_asset_id", "bucket_id", "server_id", "quality", "bitrate_kbps",
			"resolution", "crf", "output_path", "reserved_mb", "status", "created_at", "updated_at").
		Values(job.ID, job.AccountID, job.SourceAssetID, job.BucketID, job.ServerID, job.Quality, job.BitrateKbps,
			job.Resolution, job.CRF, job.OutputPath, job.ReservedMB, job.Status, job.CreatedAt, job.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	err = d.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if isUniqueViolation(err) {
		err = ErrConversionInProgress
	}
	return err
}

// FailJob marks a running job failed.
func (d *Database) FailJob(ctx context.Context, jobID, reason string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("fail_job", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.execOne(ctx,
		`UPDATE conversion_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		JobFailed, reason, time.Now().UTC(), jobID, JobInProgress)
	return err
}

// CompleteConversion stores the converted asset and marks its job completed
// in one transaction.
func (d *Database) CompleteConversion(ctx context.Context, jobID string, converted *Asset) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("complete_conversion", start, err) }()

	err = d.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertAsset(ctx, tx, converted); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE conversion_jobs SET status = ?, result_asset_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
			JobCompleted, converted.ID, time.Now().UTC(), jobID, JobInProgress)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("job %s is no longer in progress: %w", jobID, ErrNotFound)
		}
		return nil
	})
	return err
}

// GetJob returns a job by id.
func (d *Database) GetJob(ctx context.Context, jobID string) (*ConversionJob, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_job", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var job ConversionJob
	err = notFound(d.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM conversion_jobs WHERE id = ?`, jobID))
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LatestJobForSource returns the most recent job for a source asset.
func (d *Database) LatestJobForSource(ctx context.Context, sourceAssetID int64) (*ConversionJob, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("latest_job", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var job ConversionJob
	err = notFound(d.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM conversion_jobs
		WHERE source_asset_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, sourceAssetID))
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// HasActiveJob reports whether an asset is the source of a running
// conversion.
func (d *Database) HasActiveJob(ctx context.Context, sourceAssetID int64) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("has_active_job", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var active bool
	err = d.db.GetContext(ctx, &active,
		`SELECT COUNT(*) > 0 FROM conversion_jobs WHERE source_asset_id = ? AND status = ?`,
		sourceAssetID, JobInProgress)
	return active, err
}

// ListInProgressJobs returns running jobs last updated before cutoff, oldest
// first.
func (d *Database) ListInProgressJobs(ctx context.Context, cutoff time.Time) ([]ConversionJob, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_in_progress_jobs", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	jobs := []ConversionJob{}
	err = d.db.SelectContext(ctx, &jobs, `SELECT `+jobColumns+` FROM conversion_jobs
		WHERE status = ? AND updated_at < ? ORDER BY updated_at`, JobInProgress, cutoff.UTC())
	return jobs, err
}

// TouchJob bumps a running job's updated_at so the reconciler leaves it
// alone until the next interval.
func (d *Database) TouchJob(ctx context.Context, jobID string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("touch_job", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.execOne(ctx, `UPDATE conversion_jobs SET updated_at = ? WHERE id = ? AND status = ?`,
		time.Now().UTC(), jobID, JobInProgress)
	return err
}
