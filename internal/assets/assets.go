package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"media-converter/internal/apperror"
	"media-converter/internal/compat"
	"media-converter/internal/database"
	"media-converter/internal/events"
	"media-converter/internal/logging"
	"media-converter/internal/metrics"
	"media-converter/internal/quota"
	"media-converter/internal/remote"
	"media-converter/internal/transcoder"
)

// Catalog is the persistence the service needs.
type Catalog interface {
	GetAccount(ctx context.Context, id int64) (*database.Account, error)
	GetBucket(ctx context.Context, accountID, bucketID int64) (*database.Bucket, error)
	GetAsset(ctx context.Context, accountID, assetID int64) (*database.Asset, error)
	ListAssets(ctx context.Context, f database.AssetFilter) ([]database.Asset, error)
	InsertAsset(ctx context.Context, a *database.Asset) error
	SetAssetSize(ctx context.Context, assetID, sizeBytes int64) error
	DeleteAsset(ctx context.Context, accountID, assetID int64) error
	HasActiveJob(ctx context.Context, sourceAssetID int64) (bool, error)
}

// Prober describes a local video file.
type Prober interface {
	ProbeLocal(ctx context.Context, file string) (*transcoder.VideoInfo, error)
}

// Config holds service settings.
type Config struct {
	// ContentRoot is the media server directory asset paths are relative to.
	ContentRoot string
	// UploadDir is the local staging directory for incoming files.
	UploadDir string
}

// Service ingests, lists and deletes stored videos.
type Service struct {
	catalog   Catalog
	ledger    *quota.Ledger
	gateway   remote.Gateway
	prober    Prober
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
}

// New creates a Service. publisher may be nil.
func New(catalog Catalog, ledger *quota.Ledger, gateway remote.Gateway, prober Prober,
	publisher events.Publisher, cfg Config) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		catalog:   catalog,
		ledger:    ledger,
		gateway:   gateway,
		prober:    prober,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// UploadInput is a file already staged on local disk.
type UploadInput struct {
	LocalPath    string
	OriginalName string
	Size         int64
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	repeated    = regexp.MustCompile(`_{2,}`)
)

// SanitizeName replaces characters outside [a-zA-Z0-9.-] with underscores
// and collapses runs of underscores.
func SanitizeName(name string) string {
	name = unsafeChars.ReplaceAllString(filepath.Base(name), "_")
	return repeated.ReplaceAllString(name, "_")
}

// StoredName is the name a file is stored under on the media server.
func StoredName(original string, at time.Time) string {
	return fmt.Sprintf("%d_%s", at.UnixMilli(), SanitizeName(original))
}

// Stage copies an incoming upload into the staging directory.
func (s *Service) Stage(r io.Reader, originalName string) (UploadInput, error) {
	local := filepath.Join(s.cfg.UploadDir, uuid.NewString()+filepath.Ext(SanitizeName(originalName)))

	f, err := os.OpenFile(local, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return UploadInput{}, apperror.Internal(err, "failed to stage upload")
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(local)
		return UploadInput{}, apperror.Wrap(apperror.KindValidation, err, "failed to receive upload")
	}
	return UploadInput{LocalPath: local, OriginalName: originalName, Size: n}, nil
}

// Upload stores a staged file in a bucket: it checks type and quota, sends
// the file to the bucket's media server and records it. The staged file is
// always removed.
func (s *Service) Upload(ctx context.Context, accountID, bucketID int64, in UploadInput) (*database.Asset, error) {
	defer func() {
		if err := os.Remove(in.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Failed to remove staged upload %s: %v", in.LocalPath, err)
		}
	}()

	a, err := s.upload(ctx, accountID, bucketID, in)
	switch {
	case err == nil:
		metrics.UploadsTotal.WithLabelValues("success").Inc()
	case apperror.Is(err, apperror.KindValidation), apperror.Is(err, apperror.KindQuotaExceeded),
		apperror.Is(err, apperror.KindNotFound):
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
	default:
		metrics.UploadsTotal.WithLabelValues("error").Inc()
	}
	return a, err
}

func (s *Service) upload(ctx context.Context, accountID, bucketID int64, in UploadInput) (*database.Asset, error) {
	if !compat.IsAcceptedUpload(in.OriginalName) {
		return nil, apperror.Validation("unsupported file type %q", filepath.Ext(in.OriginalName))
	}

	acct, err := s.catalog.GetAccount(ctx, accountID)
	if err != nil {
		return nil, translate(err, "account not found")
	}
	bucket, err := s.catalog.GetBucket(ctx, accountID, bucketID)
	if err != nil {
		return nil, translate(err, "folder not found")
	}

	size := in.Size
	if size <= 0 {
		if fi, err := os.Stat(in.LocalPath); err == nil {
			size = fi.Size()
		}
	}

	reservation, err := s.ledger.Reserve(ctx, bucket.ID, quota.RequiredMB(size))
	if err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			metrics.QuotaRejectionsTotal.WithLabelValues("upload").Inc()
			return nil, apperror.Wrap(apperror.KindQuotaExceeded, exceeded, "insufficient storage space").
				WithDetail(exceeded)
		}
		return nil, apperror.Internal(err, "failed to check quota")
	}

	info, err := s.prober.ProbeLocal(ctx, in.LocalPath)
	if err != nil {
		logging.Warn("Could not probe %s, storing without metadata: %v", in.OriginalName, err)
		info = transcoder.UnknownVideoInfo()
	}

	container := compat.Extension(in.OriginalName)
	class := compat.Classify(container, info.BitrateKbps, acct.BitrateLimitKbps)

	name := StoredName(in.OriginalName, s.now())
	rel := path.Join(acct.Login, bucket.Name, name)
	remotePath := path.Join(s.cfg.ContentRoot, rel)

	if err := s.transfer(ctx, bucket.ServerID, in.LocalPath, remotePath); err != nil {
		s.cancel(ctx, reservation)
		return nil, err
	}

	a := &database.Asset{
		AccountID:             accountID,
		BucketID:              bucket.ID,
		ServerID:              bucket.ServerID,
		Name:                  name,
		Path:                  rel,
		SizeBytes:             size,
		DurationSeconds:       info.DurationSeconds,
		BitrateKbps:           info.BitrateKbps,
		Container:             container,
		Codec:                 info.Codec,
		Width:                 info.Width,
		Height:                info.Height,
		IsNormalizedContainer: compat.IsNormalizedContainer(container),
		Compatible:            class.Compatible,
		Reasons:               class.Reasons,
	}
	if err := s.catalog.InsertAsset(ctx, a); err != nil {
		if derr := s.gateway.DeleteFile(context.WithoutCancel(ctx), bucket.ServerID, remotePath); derr != nil {
			logging.Warn("Orphaned upload %s left on server %d: %v", remotePath, bucket.ServerID, derr)
		}
		s.cancel(ctx, reservation)
		return nil, apperror.Internal(err, "failed to record upload")
	}

	if err := s.ledger.Commit(ctx, reservation, quota.RequiredMB(size)); err != nil {
		logging.Error("Asset %d stored but quota not updated: %v", a.ID, err)
	}

	logging.Info("Uploaded %s to bucket %d as asset %d (%d bytes, compatible=%t)",
		in.OriginalName, bucket.ID, a.ID, size, a.Compatible)

	events.Emit(ctx, s.publisher, events.Event{
		Type:      events.AssetUploaded,
		AccountID: accountID,
		BucketID:  bucket.ID,
		AssetID:   a.ID,
		Path:      a.Path,
		SizeBytes: size,
	})
	return a, nil
}

// transfer creates the account and bucket directories and uploads the file.
func (s *Service) transfer(ctx context.Context, serverID int64, local, remotePath string) error {
	bucketDir := path.Dir(remotePath)
	for _, dir := range []string{path.Dir(bucketDir), bucketDir} {
		if err := s.gateway.EnsureDirectory(ctx, serverID, dir); err != nil {
			return apperror.Wrap(apperror.KindRemoteExecution, err, "failed to prepare folder on media server")
		}
	}
	if err := s.gateway.UploadFile(ctx, serverID, local, remotePath); err != nil {
		return apperror.Wrap(apperror.KindRemoteExecution, err, "failed to send file to media server")
	}
	return nil
}

// View is an asset annotated with its live classification.
type View struct {
	database.Asset
	NeedsConversion        bool     `json:"needs_conversion"`
	CanUseInPlaylist       bool     `json:"can_use_in_playlist"`
	IncompatibilityReasons []string `json:"incompatibility_reasons"`
}

// List returns the assets of one bucket, newest first.
func (s *Service) List(ctx context.Context, accountID, bucketID int64) ([]View, error) {
	acct, err := s.catalog.GetAccount(ctx, accountID)
	if err != nil {
		return nil, translate(err, "account not found")
	}
	if _, err := s.catalog.GetBucket(ctx, accountID, bucketID); err != nil {
		return nil, translate(err, "folder not found")
	}

	assets, err := s.catalog.ListAssets(ctx, database.AssetFilter{AccountID: accountID, BucketID: &bucketID})
	if err != nil {
		return nil, apperror.Internal(err, "failed to list videos")
	}

	views := make([]View, len(assets))
	for i, a := range assets {
		c := compat.Classify(a.Container, a.BitrateKbps, acct.BitrateLimitKbps)
		views[i] = View{
			Asset:                  a,
			NeedsConversion:        c.NeedsConversion,
			CanUseInPlaylist:       c.Compatible,
			IncompatibilityReasons: compat.Messages(c.Reasons),
		}
	}
	return views, nil
}

// Delete removes an asset owned by the account.
func (s *Service) Delete(ctx context.Context, accountID, assetID int64) error {
	a, err := s.catalog.GetAsset(ctx, accountID, assetID)
	if err != nil {
		return translate(err, "video not found")
	}
	return s.Remove(ctx, a)
}

// Remove deletes an asset's remote file, its catalog row and playlist
// entries, and releases its quota. Remote failures are logged and do not
// stop the removal.
func (s *Service) Remove(ctx context.Context, a *database.Asset) error {
	active, err := s.catalog.HasActiveJob(ctx, a.ID)
	if err != nil {
		return apperror.Internal(err, "failed to check conversions")
	}
	if active {
		return apperror.Conflict("video has a conversion in progress")
	}

	remotePath := path.Join(s.cfg.ContentRoot, a.Path)

	size := a.SizeBytes
	if size <= 0 {
		if info, err := s.gateway.StatFile(ctx, a.ServerID, remotePath); err == nil && info.Exists {
			size = info.Size
		}
	}

	switch err := s.gateway.DeleteFile(ctx, a.ServerID, remotePath); {
	case errors.Is(err, remote.ErrNotFound):
		logging.Debug("Remote file %s already gone", remotePath)
	case err != nil:
		logging.Warn("Failed to delete %s on server %d: %v", remotePath, a.ServerID, err)
	}

	if err := s.catalog.DeleteAsset(ctx, a.AccountID, a.ID); err != nil {
		return translate(err, "video not found")
	}

	if err := s.ledger.Release(ctx, a.BucketID, quota.RequiredMB(size)); err != nil {
		logging.Error("Asset %d deleted but quota not released: %v", a.ID, err)
	}

	logging.Info("Deleted asset %d (%s)", a.ID, a.Path)

	events.Emit(ctx, s.publisher, events.Event{
		Type:      events.AssetDeleted,
		AccountID: a.AccountID,
		BucketID:  a.BucketID,
		AssetID:   a.ID,
		Path:      a.Path,
		SizeBytes: size,
	})
	return nil
}

// FileCheck reports whether an asset's file is present on its media server.
type FileCheck struct {
	AssetID   int64  `json:"video_id"`
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"size_bytes"`
	URL       string `json:"url"`
}

// Check stats an asset's remote file. A size learned this way is recorded
// on the asset and charged to its bucket.
func (s *Service) Check(ctx context.Context, accountID, assetID int64) (*FileCheck, error) {
	a, err := s.catalog.GetAsset(ctx, accountID, assetID)
	if err != nil {
		return nil, translate(err, "video not found")
	}

	remotePath := path.Join(s.cfg.ContentRoot, a.Path)
	info, err := s.gateway.StatFile(ctx, a.ServerID, remotePath)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindRemoteExecution, err, "failed to check file on media server")
	}

	fc := &FileCheck{AssetID: a.ID, Path: a.Path, Exists: info.Exists, SizeBytes: a.SizeBytes, URL: "/content/" + a.Path}
	if !info.Exists {
		return nil, apperror.NotFound("file not found on the media server").WithDetail(fc)
	}

	if a.SizeBytes <= 0 && info.Size > 0 {
		if err := s.catalog.SetAssetSize(ctx, a.ID, info.Size); err != nil {
			return nil, translate(err, "video not found")
		}
		if err := s.ledger.Commit(ctx, quota.Reservation{BucketID: a.BucketID}, quota.RequiredMB(info.Size)); err != nil {
			logging.Error("Asset %d size recorded but quota not updated: %v", a.ID, err)
		}
		logging.Info("Recorded size of asset %d from the media server: %d bytes", a.ID, info.Size)
	}
	fc.SizeBytes = info.Size
	return fc, nil
}

// Quota returns the quota summary of a bucket owned by the account.
func (s *Service) Quota(ctx context.Context, accountID, bucketID int64) (quota.Info, error) {
	if _, err := s.catalog.GetBucket(ctx, accountID, bucketID); err != nil {
		return quota.Info{}, translate(err, "folder not found")
	}
	info, err := s.ledger.Info(ctx, bucketID)
	if err != nil {
		return quota.Info{}, apperror.Internal(err, "failed to read quota")
	}
	return info, nil
}

func (s *Service) cancel(ctx context.Context, r quota.Reservation) {
	if err := s.ledger.Cancel(context.WithoutCancel(ctx), r); err != nil {
		logging.Warn("Quota reservation on bucket %d not returned: %v", r.BucketID, err)
	}
}

func translate(err error, notFoundMsg string) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperror.NotFound("%s", notFoundMsg)
	}
	return apperror.Internal(err, "catalog error")
}
