package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-converter/internal/apperror"
	"media-converter/internal/database"
	"media-converter/internal/events"
	"media-converter/internal/quota"
	"media-converter/internal/remote/remotetest"
	"media-converter/internal/transcoder"
)

type stubProber struct {
	info *transcoder.VideoInfo
	err  error
}

func (p stubProber) ProbeLocal(context.Context, string) (*transcoder.VideoInfo, error) {
	return p.info, p.err
}

type capturePublisher struct {
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type fixture struct {
	db      *database.Database
	gw      *remotetest.Fake
	pub     *capturePublisher
	svc     *Service
	account *database.Account
	bucket  *database.Bucket
}

func newFixture(t *testing.T, allottedMB int64, prober Prober) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(ctx, filepath.Join(t.TempDir(), "catalog.db"), database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	acct, err := db.CreateAccount(ctx, "alice", 2500)
	require.NoError(t, err)
	bucket, err := db.CreateBucket(ctx, acct.ID, "live", allottedMB, 1)
	require.NoError(t, err)

	gw := remotetest.New()
	pub := &capturePublisher{}
	svc := New(db, quota.NewLedger(db, false), gw, prober, pub, Config{
		ContentRoot: "/content",
		UploadDir:   t.TempDir(),
	})
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }

	return &fixture{db: db, gw: gw, pub: pub, svc: svc, account: acct, bucket: bucket}
}

func (f *fixture) stage(t *testing.T, name string, size int) UploadInput {
	t.Helper()
	in, err := f.svc.Stage(strings.NewReader(strings.Repeat("x", size)), name)
	require.NoError(t, err)
	return in
}

func (f *fixture) usedMB(t *testing.T) int64 {
	t.Helper()
	usage, err := f.db.BucketUsage(context.Background(), f.bucket.ID)
	require.NoError(t, err)
	return usage.UsedMB
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "clip.mp4", want: "clip.mp4"},
		{in: "my  holiday (1).avi", want: "my_holiday_1_.avi"},
		{in: "../../etc/passwd.mp4", want: "passwd.mp4"},
		{in: "façade.mov", want: "fa_ade.mov"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestStoredName(t *testing.T) {
	assert.Equal(t, "1700000000000_clip_1.avi", StoredName("clip 1.avi", time.UnixMilli(1700000000000)))
}

func TestUploadCompatible(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{
		DurationSeconds: 60, BitrateKbps: 1200, Width: 1280, Height: 720, Format: "mp4", Codec: "h264",
	}})
	ctx := context.Background()
	in := f.stage(t, "Clip One.mp4", 2*1024*1024+1)

	a, err := f.svc.Upload(ctx, f.account.ID, f.bucket.ID, in)
	require.NoError(t, err)

	assert.Equal(t, "alice/live/1700000000000_Clip_One.mp4", a.Path)
	assert.Equal(t, "mp4", a.Container)
	assert.True(t, a.Compatible)
	assert.True(t, a.IsNormalizedContainer)
	assert.Empty(t, a.Reasons)
	assert.Equal(t, 1200, a.BitrateKbps)

	assert.True(t, f.gw.HasDir("/content/alice"))
	assert.True(t, f.gw.HasDir("/content/alice/live"))
	assert.True(t, f.gw.HasFile("/content/alice/live/1700000000000_Clip_One.mp4"))

	assert.Equal(t, int64(3), f.usedMB(t), "2 MiB + 1 byte rounds up")

	_, err = os.Stat(in.LocalPath)
	assert.True(t, errors.Is(err, os.ErrNotExist), "staged file removed")

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.AssetUploaded, f.pub.events[0].Type)
	assert.Equal(t, a.ID, f.pub.events[0].AssetID)
}

func TestUploadIncompatibleWithoutProbe(t *testing.T) {
	f := newFixture(t, 100, stubProber{err: transcoder.ErrProbeUnavailable})

	a, err := f.svc.Upload(context.Background(), f.account.ID, f.bucket.ID, f.stage(t, "old.avi", 1024))
	require.NoError(t, err)

	assert.Equal(t, "avi", a.Container)
	assert.Equal(t, "unknown", a.Codec)
	assert.Zero(t, a.DurationSeconds)
	assert.False(t, a.Compatible)
	require.Len(t, a.Reasons, 1)

	views, err := f.svc.List(context.Background(), f.account.ID, f.bucket.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].NeedsConversion)
	assert.False(t, views[0].CanUseInPlaylist)
	assert.Equal(t, []string{"container is not normalized format"}, views[0].IncompatibilityReasons)
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		size     int
		bucketID func(f *fixture) int64
		kind     apperror.Kind
	}{
		{name: "unsupported type", file: "notes.txt", size: 10, kind: apperror.KindValidation},
		{name: "unknown bucket", file: "a.mp4", size: 10, bucketID: func(*fixture) int64 { return 999 }, kind: apperror.KindNotFound},
		{name: "over quota", file: "big.mp4", size: 2*1024*1024 + 1, kind: apperror.KindQuotaExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 2, stubProber{info: &transcoder.VideoInfo{}})
			bucketID := f.bucket.ID
			if tt.bucketID != nil {
				bucketID = tt.bucketID(f)
			}
			in := f.stage(t, tt.file, tt.size)

			_, err := f.svc.Upload(context.Background(), f.account.ID, bucketID, in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperror.KindOf(err))

			assert.Zero(t, f.gw.Count(""), "nothing reaches the media server")
			assert.Zero(t, f.usedMB(t))
			_, statErr := os.Stat(in.LocalPath)
			assert.True(t, errors.Is(statErr, os.ErrNotExist), "staged file removed")
		})
	}
}

func TestUploadQuotaDetail(t *testing.T) {
	f := newFixture(t, 2, stubProber{info: &transcoder.VideoInfo{}})

	_, err := f.svc.Upload(context.Background(), f.account.ID, f.bucket.ID, f.stage(t, "big.mp4", 3*1024*1024))
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	detail, ok := appErr.Detail.(*quota.ExceededError)
	require.True(t, ok)
	assert.Equal(t, int64(3), detail.RequiredMB)
	assert.Equal(t, int64(2), detail.AvailableMB)
	assert.Equal(t, int64(2), detail.TotalMB)
}

func TestUploadTransferFailure(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})
	f.gw.UploadErr = errors.New("connection reset")

	_, err := f.svc.Upload(context.Background(), f.account.ID, f.bucket.ID, f.stage(t, "a.mp4", 10))
	assert.Equal(t, apperror.KindRemoteExecution, apperror.KindOf(err))

	assets, err := f.db.ListAssets(context.Background(), database.AssetFilter{AccountID: f.account.ID})
	require.NoError(t, err)
	assert.Empty(t, assets)
	assert.Zero(t, f.usedMB(t))
}

func TestDelete(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})
	ctx := context.Background()

	a, err := f.svc.Upload(ctx, f.account.ID, f.bucket.ID, f.stage(t, "a.mp4", 3*1024*1024))
	require.NoError(t, err)
	require.Equal(t, int64(3), f.usedMB(t))

	other, err := f.db.CreateAccount(ctx, "mallory", 2500)
	require.NoError(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(f.svc.Delete(ctx, other.ID, a.ID)))

	require.NoError(t, f.svc.Delete(ctx, f.account.ID, a.ID))

	assert.False(t, f.gw.HasFile("/content/"+a.Path))
	assert.Zero(t, f.usedMB(t))
	_, err = f.db.GetAsset(ctx, f.account.ID, a.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Equal(t, events.AssetDeleted, f.pub.events[len(f.pub.events)-1].Type)

	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(f.svc.Delete(ctx, f.account.ID, a.ID)))
}

func TestDeleteToleratesRemoteFailure(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})
	ctx := context.Background()

	a, err := f.svc.Upload(ctx, f.account.ID, f.bucket.ID, f.stage(t, "a.mp4", 10))
	require.NoError(t, err)
	f.gw.DeleteErr = errors.New("ssh: handshake failed")

	require.NoError(t, f.svc.Delete(ctx, f.account.ID, a.ID))
	_, err = f.db.GetAsset(ctx, f.account.ID, a.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDeleteUnknownSizeUsesRemoteStat(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})
	ctx := context.Background()

	a := &database.Asset{
		AccountID: f.account.ID,
		BucketID:  f.bucket.ID,
		ServerID:  1,
		Name:      "legacy.mp4",
		Path:      "alice/live/legacy.mp4",
		Container: "mp4",
	}
	require.NoError(t, f.db.InsertAsset(ctx, a))
	require.NoError(t, f.db.AddUsedMB(ctx, f.bucket.ID, 10))
	f.gw.SetFile("/content/alice/live/legacy.mp4", 4*1024*1024)

	require.NoError(t, f.svc.Delete(ctx, f.account.ID, a.ID))
	assert.Equal(t, int64(6), f.usedMB(t))
	assert.Equal(t, 1, f.gw.Count(remotetest.OpStat))
}

func TestDeleteBlockedByRunningConversion(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})
	ctx := context.Background()

	a, err := f.svc.Upload(ctx, f.account.ID, f.bucket.ID, f.stage(t, "a.avi", 10))
	require.NoError(t, err)
	require.NoError(t, f.db.CreateJob(ctx, &database.ConversionJob{
		AccountID:     f.account.ID,
		SourceAssetID: a.ID,
		BucketID:      f.bucket.ID,
		ServerID:      1,
		Quality:       "media",
		BitrateKbps:   1500,
		Resolution:    "1280x720",
		CRF:           25,
		OutputPath:    "/content/alice/live/a_media.mp4",
	}))

	err = f.svc.Delete(ctx, f.account.ID, a.ID)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Zero(t, f.gw.Count(remotetest.OpDelete))
}

func TestListRequiresBucket(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})

	_, err := f.svc.List(context.Background(), f.account.ID, 999)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestQuota(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})
	ctx := context.Background()
	require.NoError(t, f.db.AddUsedMB(ctx, f.bucket.ID, 25))

	info, err := f.svc.Quota(ctx, f.account.ID, f.bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, quota.Info{TotalMB: 100, UsedMB: 25, AvailableMB: 75, UsagePercent: 25}, info)

	_, err = f.svc.Quota(ctx, f.account.ID+1, f.bucket.ID)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestCheck(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})
	ctx := context.Background()

	a, err := f.svc.Upload(ctx, f.account.ID, f.bucket.ID, f.stage(t, "a.mp4", 2048))
	require.NoError(t, err)

	fc, err := f.svc.Check(ctx, f.account.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, fc.Exists)
	assert.Equal(t, a.Path, fc.Path)
	assert.Equal(t, "/content/"+a.Path, fc.URL)
	assert.Equal(t, int64(1), f.usedMB(t), "a known size is not charged twice")

	other, err := f.db.CreateAccount(ctx, "mallory", 2500)
	require.NoError(t, err)
	_, err = f.svc.Check(ctx, other.ID, a.ID)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
	assert.Equal(t, 1, f.gw.Count(remotetest.OpStat), "foreign assets are never stat'ed")
}

func TestCheckMissingFile(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})
	ctx := context.Background()

	a := &database.Asset{
		AccountID: f.account.ID,
		BucketID:  f.bucket.ID,
		ServerID:  1,
		Name:      "gone.mp4",
		Path:      "alice/live/gone.mp4",
		Container: "mp4",
	}
	require.NoError(t, f.db.InsertAsset(ctx, a))

	_, err := f.svc.Check(ctx, f.account.ID, a.ID)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindNotFound, appErr.Kind)
	assert.Equal(t, "/content/alice/live/gone.mp4", appErr.Detail.(*FileCheck).URL)
}

func TestCheckRecordsUnknownSize(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})
	ctx := context.Background()

	a := &database.Asset{
		AccountID: f.account.ID,
		BucketID:  f.bucket.ID,
		ServerID:  1,
		Name:      "legacy.mp4",
		Path:      "alice/live/legacy.mp4",
		Container: "mp4",
	}
	require.NoError(t, f.db.InsertAsset(ctx, a))
	f.gw.SetFile("/content/alice/live/legacy.mp4", 4*1024*1024)

	fc, err := f.svc.Check(ctx, f.account.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4*1024*1024), fc.SizeBytes)
	assert.Equal(t, int64(4), f.usedMB(t))

	got, err := f.db.GetAsset(ctx, f.account.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4*1024*1024), got.SizeBytes)

	_, err = f.svc.Check(ctx, f.account.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), f.usedMB(t), "charged once")

	require.NoError(t, f.svc.Delete(ctx, f.account.ID, a.ID))
	assert.Zero(t, f.usedMB(t))
}

func TestCheckGatewayError(t *testing.T) {
	f := newFixture(t, 100, stubProber{info: &transcoder.VideoInfo{}})
	ctx := context.Background()

	a, err := f.svc.Upload(ctx, f.account.ID, f.bucket.ID, f.stage(t, "a.mp4", 10))
	require.NoError(t, err)
	f.gw.StatErr = errors.New("ssh: connection reset")

	_, err = f.svc.Check(ctx, f.account.ID, a.ID)
	assert.Equal(t, apperror.KindRemoteExecution, apperror.KindOf(err))
}
