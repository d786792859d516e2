package conversion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"media-converter/internal/apperror"
	"media-converter/internal/compat"
	"media-converter/internal/database"
	"media-converter/internal/quality"
)

// QualityView is a preset as offered to one account.
type QualityView struct {
	Quality     string `json:"quality"`
	Label       string `json:"label"`
	BitrateKbps int    `json:"bitrate"`
	Resolution  string `json:"resolution"`
	CanConvert  bool   `json:"can_convert"`
	Reason      string `json:"reason,omitempty"`
	Description string `json:"description"`
}

// AssetView is an asset annotated with its live classification and the
// presets the owning account may convert it to.
type AssetView struct {
	database.Asset
	NeedsConversion        bool          `json:"needs_conversion"`
	CanUseCurrent          bool          `json:"can_use_current"`
	IncompatibilityReasons []string      `json:"incompatibility_reasons"`
	CurrentBitrateKbps     int           `json:"current_bitrate"`
	UserBitrateLimitKbps   int           `json:"user_bitrate_limit"`
	AvailableQualities     []QualityView `json:"available_qualities"`
}

// QualityOptions lists every preset with its availability under the
// account's ceiling.
type QualityOptions struct {
	Qualities     []QualityView `json:"qualities"`
	CustomAllowed bool          `json:"custom_allowed"`
	UserLimitKbps int           `json:"user_limit"`
}

// Status reports where an asset stands with respect to conversion.
type Status struct {
	Status         database.JobStatus `json:"status"`
	BitrateKbps    int                `json:"bitrate"`
	ConvertedAt    *time.Time         `json:"converted_at,omitempty"`
	OriginalFormat string             `json:"original_format"`
	Quality        string             `json:"quality,omitempty"`
	JobID          string             `json:"job_id,omitempty"`
	ResultAssetID  *int64             `json:"converted_video_id,omitempty"`
	Error          string             `json:"error,omitempty"`
}

func (o *Orchestrator) qualityViews(limitKbps int) []QualityView {
	opts := o.presets.Options(limitKbps)
	out := make([]QualityView, len(opts))
	for i, opt := range opts {
		v := QualityView{
			Quality:     opt.Name,
			Label:       opt.Label,
			BitrateKbps: opt.BitrateKbps,
			Resolution:  opt.Resolution.String(),
			CanConvert:  opt.Available,
			Description: opt.Description(),
		}
		if !opt.Available {
			v.Reason = fmt.Sprintf("exceeds plan limit (%d kbps)", limitKbps)
		}
		out[i] = v
	}
	return out
}

// ListConvertibleAssets returns the account's assets with their conversion
// options, newest first. An unknown bucket id lists every bucket.
func (o *Orchestrator) ListConvertibleAssets(ctx context.Context, accountID int64, bucketID *int64) ([]AssetView, error) {
	acct, err := o.catalog.GetAccount(ctx, accountID)
	if err != nil {
		return nil, translate(err, "account not found")
	}

	filter := database.AssetFilter{AccountID: accountID}
	if bucketID != nil {
		if _, err := o.catalog.GetBucket(ctx, accountID, *bucketID); err == nil {
			filter.BucketID = bucketID
		} else if !errors.Is(err, database.ErrNotFound) {
			return nil, translate(err, "folder not found")
		}
	}

	assets, err := o.catalog.ListAssets(ctx, filter)
	if err != nil {
		return nil, translate(err, "")
	}

	options := o.qualityViews(acct.BitrateLimitKbps)
	views := make([]AssetView, len(assets))
	for i, a := range assets {
		c := compat.Classify(a.Container, a.BitrateKbps, acct.BitrateLimitKbps)
		views[i] = AssetView{
			Asset:                  a,
			NeedsConversion:        c.NeedsConversion,
			CanUseCurrent:          c.Compatible,
			IncompatibilityReasons: compat.Messages(c.Reasons),
			CurrentBitrateKbps:     a.BitrateKbps,
			UserBitrateLimitKbps:   acct.BitrateLimitKbps,
			AvailableQualities:     options,
		}
	}
	return views, nil
}

// Qualities returns the preset table as seen by an account.
func (o *Orchestrator) Qualities(ctx context.Context, accountID int64) (*QualityOptions, error) {
	acct, err := o.catalog.GetAccount(ctx, accountID)
	if err != nil {
		return nil, translate(err, "account not found")
	}
	return &QualityOptions{
		Qualities:     o.qualityViews(acct.BitrateLimitKbps),
		CustomAllowed: true,
		UserLimitKbps: acct.BitrateLimitKbps,
	}, nil
}

// GetConversionStatus reports the latest conversion of an asset. Without any
// job a compatible asset reads as completed and any other as not started.
func (o *Orchestrator) GetConversionStatus(ctx context.Context, accountID, assetID int64) (*Status, error) {
	src, err := o.catalog.GetAsset(ctx, accountID, assetID)
	if err != nil {
		return nil, translate(err, "video not found")
	}

	st := &Status{OriginalFormat: src.Container, BitrateKbps: src.BitrateKbps}

	job, err := o.catalog.LatestJobForSource(ctx, src.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		st.Status = database.JobNotStarted
		if src.Compatible {
			st.Status = database.JobCompleted
		}
		if src.AppliedQuality != nil {
			st.Quality = *src.AppliedQuality
			st.ConvertedAt = &src.CreatedAt
		}
		return st, nil
	case err != nil:
		return nil, translate(err, "")
	}

	st.Status = job.Status
	st.JobID = job.ID
	st.Quality = job.Quality
	st.Error = job.Error
	if job.Status == database.JobCompleted {
		converted := job.UpdatedAt
		st.ConvertedAt = &converted
		st.ResultAssetID = job.ResultAssetID
		st.BitrateKbps = job.BitrateKbps
		if job.ResultAssetID != nil {
			if result, err := o.catalog.GetAsset(ctx, accountID, *job.ResultAssetID); err == nil {
				st.BitrateKbps = result.BitrateKbps
			}
		}
	}
	return st, nil
}

// Job returns a job owned by the account.
func (o *Orchestrator) Job(ctx context.Context, accountID int64, jobID string) (*database.ConversionJob, error) {
	job, err := o.catalog.GetJob(ctx, jobID)
	if err != nil {
		return nil, translate(err, "conversion job not found")
	}
	if job.AccountID != accountID {
		return nil, apperror.NotFound("conversion job not found")
	}
	return job, nil
}

// RemoveConvertedAsset deletes an asset produced by a conversion.
func (o *Orchestrator) RemoveConvertedAsset(ctx context.Context, accountID, assetID int64) error {
	a, err := o.catalog.GetAsset(ctx, accountID, assetID)
	if err != nil {
		return translate(err, "video not found")
	}
	if !a.IsConverted() {
		return apperror.Validation("asset is not a converted asset")
	}
	return o.remover.Remove(ctx, a)
}

// presetFromJob rebuilds the encoder settings a job was started with.
func (o *Orchestrator) presetFromJob(job *database.ConversionJob) (quality.Preset, error) {
	res, err := quality.ParseResolution(job.Resolution)
	if err != nil {
		return quality.Preset{}, err
	}
	if job.Quality == quality.Custom {
		p := quality.NewCustom(job.BitrateKbps, res)
		p.CRF = job.CRF
		return p, nil
	}
	p, ok := o.presets.Lookup(job.Quality)
	if !ok {
		p = quality.Preset{Name: job.Quality, Label: job.Quality}
	}
	p.BitrateKbps, p.Resolution, p.CRF = job.BitrateKbps, res, job.CRF
	return p, nil
}
