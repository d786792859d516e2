package conversion

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"media-converter/internal/apperror"
	"media-converter/internal/compat"
	"media-converter/internal/database"
	"media-converter/internal/events"
	"media-converter/internal/logging"
	"media-converter/internal/metrics"
	"media-converter/internal/quality"
	"media-converter/internal/quota"
	"media-converter/internal/transcoder"
)

// audioBitrateKbps matches the fixed AAC bitrate of the transcode command.
const audioBitrateKbps = 128

// Catalog is the persistence the orchestrator needs.
type Catalog interface {
	GetAccount(ctx context.Context, id int64) (*database.Account, error)
	GetBucket(ctx context.Context, accountID, bucketID int64) (*database.Bucket, error)
	GetAsset(ctx context.Context, accountID, assetID int64) (*database.Asset, error)
	ListAssets(ctx context.Context, f database.AssetFilter) ([]database.Asset, error)
	CreateJob(ctx context.Context, job *database.ConversionJob) error
	FailJob(ctx context.Context, jobID, reason string) error
	CompleteConversion(ctx context.Context, jobID string, converted *database.Asset) error
	GetJob(ctx context.Context, jobID string) (*database.ConversionJob, error)
	LatestJobForSource(ctx context.Context, sourceAssetID int64) (*database.ConversionJob, error)
	ListInProgressJobs(ctx context.Context, cutoff time.Time) ([]database.ConversionJob, error)
	TouchJob(ctx context.Context, jobID string) error
}

// Remover deletes an asset together with its remote file and quota usage.
type Remover interface {
	Remove(ctx context.Context, asset *database.Asset) error
}

// Config holds orchestrator settings.
type Config struct {
	// ContentRoot is the media server directory asset paths are relative to.
	ContentRoot string
	// Wait bounds how long RequestConversion blocks on ffmpeg. Past it the
	// request reports an indeterminate result and the conversion finishes in
	// the background. Zero waits indefinitely.
	Wait time.Duration
}

// Orchestrator drives conversions from request to committed asset.
type Orchestrator struct {
	catalog    Catalog
	ledger     *quota.Ledger
	transcoder *transcoder.Transcoder
	presets    *quality.Table
	remover    Remover
	publisher  events.Publisher
	cfg        Config

	// conversions outlive the request that started them
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	runningMu sync.Mutex
	running   map[string]struct{}
}

// New creates an Orchestrator. publisher may be nil.
func New(catalog Catalog, ledger *quota.Ledger, tr *transcoder.Transcoder, presets *quality.Table,
	remover Remover, publisher events.Publisher, cfg Config) *Orchestrator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		catalog:    catalog,
		ledger:     ledger,
		transcoder: tr,
		presets:    presets,
		remover:    remover,
		publisher:  publisher,
		cfg:        cfg,
		baseCtx:    ctx,
		cancel:     cancel,
		running:    make(map[string]struct{}),
	}
}

// Request asks for one conversion. Quality names a preset; "custom" or an
// empty Quality with custom settings selects caller-supplied parameters.
type Request struct {
	AssetID           int64
	Quality           string
	CustomBitrateKbps int
	CustomResolution  string
}

// Summary describes a committed conversion.
type Summary struct {
	JobID           string `json:"job_id"`
	AssetID         int64  `json:"converted_video_id"`
	SourceAssetID   int64  `json:"original_video_id"`
	Name            string `json:"name"`
	Path            string `json:"path"`
	SizeBytes       int64  `json:"size"`
	DurationSeconds int    `json:"duration"`
	BitrateKbps     int    `json:"bitrate"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Quality         string `json:"quality"`
	ProbeFallback   bool   `json:"probe_fallback"`
}

// RequestConversion validates req, transcodes the source asset on its media
// server and records the output as a new asset.
//
// Validation, ownership and quota failures are reported before any remote
// command runs. When the caller's context ends or Config.Wait elapses while
// ffmpeg is still running, an indeterminate error is returned and the
// conversion is committed in the background when it finishes.
func (o *Orchestrator) RequestConversion(ctx context.Context, accountID int64, req Request) (*Summary, error) {
	if req.AssetID <= 0 {
		return nil, apperror.Validation("video_id is required")
	}

	acct, err := o.catalog.GetAccount(ctx, accountID)
	if err != nil {
		return nil, translate(err, "account not found")
	}

	preset, err := o.resolvePreset(req)
	if err != nil {
		return nil, err
	}
	if preset.BitrateKbps > acct.BitrateLimitKbps {
		metrics.ConversionJobsTotal.WithLabelValues("rejected").Inc()
		return nil, apperror.Validation("bitrate %d kbps exceeds plan limit of %d kbps",
			preset.BitrateKbps, acct.BitrateLimitKbps).
			WithDetail(map[string]int{"requested_bitrate": preset.BitrateKbps, "limit": acct.BitrateLimitKbps})
	}

	src, err := o.catalog.GetAsset(ctx, accountID, req.AssetID)
	if err != nil {
		return nil, translate(err, "video not found")
	}

	input := o.remotePath(src.Path)
	output := transcoder.OutputPath(input, preset)

	reservation, err := o.ledger.Reserve(ctx, src.BucketID, estimateMB(src, preset))
	if err != nil {
		return nil, o.quotaError(err)
	}

	job := &database.ConversionJob{
		AccountID:     accountID,
		SourceAssetID: src.ID,
		BucketID:      src.BucketID,
		ServerID:      src.ServerID,
		Quality:       preset.Name,
		BitrateKbps:   preset.BitrateKbps,
		Resolution:    preset.Resolution.String(),
		CRF:           preset.CRF,
		OutputPath:    output,
		ReservedMB:    reservation.MB,
	}
	if err := o.catalog.CreateJob(ctx, job); err != nil {
		o.cancelReservation(ctx, reservation)
		if errors.Is(err, database.ErrConversionInProgress) {
			metrics.ConversionJobsTotal.WithLabelValues("rejected").Inc()
			return nil, apperror.Conflict("a conversion of this video is already in progress")
		}
		return nil, apperror.Internal(err, "failed to record conversion job")
	}

	logging.Info("Conversion %s started: asset %d -> %s (%s)", job.ID, src.ID, output, preset.Name)

	type outcome struct {
		summary *Summary
		err     error
	}
	done := make(chan outcome, 1)

	o.track(job.ID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.untrack(job.ID)
		s, err := o.run(o.baseCtx, job, src, preset, reservation)
		done <- outcome{s, err}
	}()

	var ceiling <-chan time.Time
	if o.cfg.Wait > 0 {
		timer := time.NewTimer(o.cfg.Wait)
		defer timer.Stop()
		ceiling = timer.C
	}

	select {
	case out := <-done:
		return out.summary, out.err
	case <-ctx.Done():
	case <-ceiling:
	}

	metrics.ConversionJobsTotal.WithLabelValues("indeterminate").Inc()
	logging.Warn("Conversion %s still running after the wait ceiling; it will be reconciled", job.ID)
	return nil, apperror.New(apperror.KindIndeterminate, "conversion is still running").
		WithDetail(map[string]string{"job_id": job.ID, "status": string(database.JobInProgress)})
}

// run executes the remote part of a conversion and commits or fails the job.
func (o *Orchestrator) run(ctx context.Context, job *database.ConversionJob, src *database.Asset,
	preset quality.Preset, reservation quota.Reservation) (*Summary, error) {
	start := time.Now()
	defer func() { metrics.ConversionJobDuration.Observe(time.Since(start).Seconds()) }()

	input := o.remotePath(src.Path)
	if err := o.transcoder.Transcode(ctx, job.ServerID, input, job.OutputPath, preset); err != nil {
		return nil, o.abort(ctx, job, reservation, err)
	}

	var size int64
	info, err := o.transcoder.Stat(ctx, job.ServerID, job.OutputPath)
	if err != nil {
		return nil, o.abort(ctx, job, reservation, fmt.Errorf("stat output: %w", err))
	}
	if info.Exists {
		size = info.Size
	} else {
		logging.Warn("Conversion %s: %s not found after a successful transcode", job.ID, job.OutputPath)
	}

	probed, err := o.transcoder.Probe(ctx, job.ServerID, job.OutputPath)
	if err != nil && !errors.Is(err, transcoder.ErrProbeUnavailable) {
		return nil, o.abort(ctx, job, reservation, fmt.Errorf("probe output: %w", err))
	}
	return o.commit(ctx, job, src, preset, reservation, size, probed)
}

// abort settles a job whose remote work returned err. A cancelled context
// means the service is shutting down, so the job stays in progress for the
// reconciler.
func (o *Orchestrator) abort(ctx context.Context, job *database.ConversionJob, reservation quota.Reservation, err error) error {
	if ctx.Err() != nil {
		logging.Warn("Conversion %s interrupted: %v", job.ID, err)
		return apperror.New(apperror.KindIndeterminate, "conversion interrupted").
			WithDetail(map[string]string{"job_id": job.ID, "status": string(database.JobInProgress)})
	}
	return o.fail(ctx, job, reservation, err)
}

// commit records a finished output of size bytes. A nil probed means ffprobe
// could not describe the file, so requested and source values stand in. It
// is shared by the request path and the reconciler.
func (o *Orchestrator) commit(ctx context.Context, job *database.ConversionJob, src *database.Asset,
	preset quality.Preset, reservation quota.Reservation, size int64, probed *transcoder.VideoInfo) (*Summary, error) {
	summary := &Summary{
		JobID:         job.ID,
		SourceAssetID: src.ID,
		Quality:       preset.Name,
		SizeBytes:     size,
		Width:         preset.Resolution.Width,
		Height:        preset.Resolution.Height,
	}

	info := probed
	if info == nil {
		logging.Warn("Conversion %s: probe unavailable, using requested bitrate and source duration", job.ID)
		metrics.ConversionProbeFallbacks.Inc()
		summary.ProbeFallback = true
		info = &transcoder.VideoInfo{}
	}
	summary.BitrateKbps = info.BitrateKbps
	if summary.BitrateKbps <= 0 {
		summary.BitrateKbps = preset.BitrateKbps
	}
	summary.DurationSeconds = info.DurationSeconds
	if summary.DurationSeconds <= 0 {
		summary.DurationSeconds = src.DurationSeconds
	}
	if info.Width > 0 && info.Height > 0 {
		summary.Width, summary.Height = info.Width, info.Height
	}

	appliedQuality := preset.Name
	summary.Name = path.Base(job.OutputPath)
	summary.Path = path.Join(path.Dir(src.Path), summary.Name)

	converted := &database.Asset{
		AccountID:             src.AccountID,
		BucketID:              src.BucketID,
		ServerID:              src.ServerID,
		Name:                  summary.Name,
		Path:                  summary.Path,
		SizeBytes:             size,
		DurationSeconds:       summary.DurationSeconds,
		BitrateKbps:           summary.BitrateKbps,
		Container:             compat.CanonicalContainer,
		Codec:                 compat.CanonicalCodec,
		Width:                 summary.Width,
		Height:                summary.Height,
		IsNormalizedContainer: true,
		Compatible:            true,
		SourceAssetID:         &src.ID,
		AppliedQuality:        &appliedQuality,
	}

	if err := o.catalog.CompleteConversion(ctx, job.ID, converted); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// resolved elsewhere, which also settled its quota
			return nil, apperror.Conflict("conversion %s was already resolved", job.ID)
		}
		return nil, o.fail(ctx, job, reservation, fmt.Errorf("catalog commit: %w", err))
	}
	summary.AssetID = converted.ID

	if err := o.ledger.Commit(ctx, reservation, quota.RequiredMB(size)); err != nil {
		logging.Error("Conversion %s: asset %d stored but quota not updated: %v", job.ID, converted.ID, err)
	}

	metrics.ConversionJobsTotal.WithLabelValues("completed").Inc()
	logging.Info("Conversion %s completed: asset %d (%d bytes, %d kbps, %ds)",
		job.ID, converted.ID, size, summary.BitrateKbps, summary.DurationSeconds)

	events.Emit(ctx, o.publisher, events.Event{
		Type:          events.AssetConverted,
		AccountID:     src.AccountID,
		BucketID:      src.BucketID,
		AssetID:       converted.ID,
		SourceAssetID: src.ID,
		JobID:         job.ID,
		Quality:       appliedQuality,
		Path:          converted.Path,
		SizeBytes:     size,
	})
	return summary, nil
}

// fail marks the job failed, returns held quota and removes any partial
// output. The returned error is what the caller sees.
func (o *Orchestrator) fail(ctx context.Context, job *database.ConversionJob, reservation quota.Reservation, cause error) error {
	metrics.ConversionJobsTotal.WithLabelValues("failed").Inc()
	logging.Error("Conversion %s failed: %v", job.ID, cause)

	// bookkeeping must survive a cancelled request
	ctx = context.WithoutCancel(ctx)

	switch err := o.catalog.FailJob(ctx, job.ID, cause.Error()); {
	case errors.Is(err, database.ErrNotFound):
		// resolved elsewhere, which also settled its quota and output
		logging.Warn("Conversion %s was already resolved", job.ID)
	case err != nil:
		logging.Warn("Conversion %s: failed to record failure: %v", job.ID, err)
		fallthrough
	default:
		o.cancelReservation(ctx, reservation)
		if err := o.transcoder.Discard(ctx, job.ServerID, job.OutputPath); err != nil {
			logging.Warn("Conversion %s: could not remove partial output %s: %v", job.ID, job.OutputPath, err)
		}
	}

	events.Emit(ctx, o.publisher, events.Event{
		Type:          events.ConversionFailed,
		AccountID:     job.AccountID,
		BucketID:      job.BucketID,
		SourceAssetID: job.SourceAssetID,
		JobID:         job.ID,
		Quality:       job.Quality,
		Error:         cause.Error(),
	})

	if errors.Is(cause, transcoder.ErrConversionFailed) {
		return apperror.Wrap(apperror.KindConversionFailed, cause, "conversion failed")
	}
	return apperror.Wrap(apperror.KindRemoteExecution, cause, "conversion failed on the media server")
}

func (o *Orchestrator) resolvePreset(req Request) (quality.Preset, error) {
	if req.Quality != "" && req.Quality != quality.Custom {
		p, ok := o.presets.Lookup(req.Quality)
		if !ok {
			return quality.Preset{}, apperror.Validation("unknown quality %q", req.Quality)
		}
		return p, nil
	}

	if req.Quality == "" && req.CustomBitrateKbps == 0 && req.CustomResolution == "" {
		return quality.Preset{}, apperror.Validation("quality or custom bitrate and resolution are required")
	}
	if req.CustomBitrateKbps <= 0 {
		return quality.Preset{}, apperror.Validation("custom_bitrate must be a positive number of kbps")
	}
	res, err := quality.ParseResolution(req.CustomResolution)
	if err != nil {
		return quality.Preset{}, apperror.Validation("custom_resolution: %v", err)
	}
	return quality.NewCustom(req.CustomBitrateKbps, res), nil
}

func (o *Orchestrator) quotaError(err error) error {
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		metrics.QuotaRejectionsTotal.WithLabelValues("conversion").Inc()
		metrics.ConversionJobsTotal.WithLabelValues("rejected").Inc()
		return apperror.Wrap(apperror.KindQuotaExceeded, exceeded, "insufficient storage for the converted video").
			WithDetail(exceeded)
	}
	return translate(err, "folder not found")
}

func (o *Orchestrator) cancelReservation(ctx context.Context, r quota.Reservation) {
	if err := o.ledger.Cancel(context.WithoutCancel(ctx), r); err != nil {
		logging.Warn("Quota reservation on bucket %d not returned: %v", r.BucketID, err)
	}
}

func (o *Orchestrator) remotePath(rel string) string {
	return path.Join(o.cfg.ContentRoot, rel)
}

func (o *Orchestrator) track(jobID string) {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	o.running[jobID] = struct{}{}
}

func (o *Orchestrator) untrack(jobID string) {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	delete(o.running, jobID)
}

func (o *Orchestrator) isRunning(jobID string) bool {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	_, ok := o.running[jobID]
	return ok
}

// Shutdown waits for background conversions until ctx ends, then cancels
// them. Cancelled jobs stay in progress for the reconciler.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("Shutdown deadline reached with conversions still running")
		o.cancel()
		<-done
	}
	o.cancel()
}

// estimateMB predicts the output size from the target video bitrate plus
// audio over the source duration. Without a known duration the source size
// is used.
func estimateMB(src *database.Asset, p quality.Preset) int64 {
	if src.DurationSeconds <= 0 {
		return quota.RequiredMB(src.SizeBytes)
	}
	bytes := int64(p.BitrateKbps+audioBitrateKbps) * 1000 / 8 * int64(src.DurationSeconds)
	return quota.RequiredMB(bytes)
}

// translate maps catalog errors onto the public taxonomy.
func translate(err error, notFoundMsg string) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	if errors.Is(err, database.ErrNotFound) {
		return apperror.NotFound("%s", notFoundMsg)
	}
	return apperror.Internal(err, "catalog error")
}
