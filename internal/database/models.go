package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"media-converter/internal/compat"
)

type Account struct {
	ID               int64     `db:"id" json:"id"`
	Login            string    `db:"login" json:"login"`
	BitrateLimitKbps int       `db:"bitrate_limit_kbps" json:"bitrate_limit"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

type Bucket struct {
	ID         int64     `db:"id" json:"id"`
	AccountID  int64     `db:"account_id" json:"account_id"`
	Name       string    `db:"name" json:"name"`
	AllottedMB int64     `db:"allotted_mb" json:"allotted_mb"`
	UsedMB     int64     `db:"used_mb" json:"used_mb"`
	ServerID   int64     `db:"server_id" json:"server_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Reasons is the catalog encoding of incompatibility reasons: a JSON array.
type Reasons []compat.Reason

// Value implements driver.Valuer.
func (r Reasons) Value() (driver.Value, error) {
	if len(r) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]compat.Reason(r))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (r *Reasons) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into Reasons", src)
	}

	var out []compat.Reason
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("invalid incompatibility reasons %q: %w", data, err)
	}
	if len(out) == 0 {
		out = nil
	}
	*r = out
	return nil
}

// Asset is a stored video file. Converted assets carry the id of the asset
// they were produced from and the quality that was applied.
type Asset struct {
	ID                    int64     `db:"id" json:"id"`
	AccountID             int64     `db:"account_id" json:"account_id"`
	BucketID              int64     `db:"bucket_id" json:"bucket_id"`
	ServerID              int64     `db:"server_id" json:"server_id"`
	Name                  string    `db:"name" json:"name"`
	Path                  string    `db:"path" json:"path"`
	SizeBytes             int64     `db:"size_bytes" json:"size"`
	DurationSeconds       int       `db:"duration_seconds" json:"duration"`
	BitrateKbps           int       `db:"bitrate_kbps" json:"bitrate"`
	Container             string    `db:"container" json:"format"`
	Codec                 string    `db:"codec" json:"codec"`
	Width                 int       `db:"width" json:"width"`
	Height                int       `db:"height" json:"height"`
	IsNormalizedContainer bool      `db:"is_normalized_container" json:"is_mp4"`
	Compatible            bool      `db:"compatible" json:"compatible"`
	Reasons               Reasons   `db:"incompatibility_reasons" json:"-"`
	SourceAssetID         *int64    `db:"source_asset_id" json:"source_asset_id,omitempty"`
	AppliedQuality        *string   `db:"applied_quality" json:"applied_quality,omitempty"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// IsConverted reports whether the asset was produced by a conversion. It
// stays true after the original is deleted.
func (a *Asset) IsConverted() bool {
	return a.SourceAssetID != nil || a.AppliedQuality != nil
}

type Playlist struct {
	ID        int64     `db:"id" json:"id"`
	AccountID int64     `db:"account_id" json:"account_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type JobStatus string

const (
	JobNotStarted JobStatus = "not_started"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ConversionJob records one conversion attempt. At most one job per source
// asset may be in progress.
type ConversionJob struct {
	ID            string    `db:"id" json:"id"`
	AccountID     int64     `db:"account_id" json:"account_id"`
	SourceAssetID int64     `db:"source_asset_id" json:"source_asset_id"`
	BucketID      int64     `db:"bucket_id" json:"bucket_id"`
	ServerID      int64     `db:"server_id" json:"server_id"`
	Quality       string    `db:"quality" json:"quality"`
	BitrateKbps   int       `db:"bitrate_kbps" json:"bitrate"`
	Resolution    string    `db:"resolution" json:"resolution"`
	CRF           int       `db:"crf" json:"crf"`
	OutputPath    string    `db:"output_path" json:"output_path"`
	ReservedMB    int64     `db:"reserved_mb" json:"reserved_mb"`
	Status        JobStatus `db:"status" json:"status"`
	Error         string    `db:"error" json:"error,omitempty"`
	ResultAssetID *int64    `db:"result_asset_id" json:"result_asset_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
