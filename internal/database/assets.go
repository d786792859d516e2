package database

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

const assetColumns = `id, account_id, bucket_id, server_id, name, path, size_bytes, duration_seconds,
	bitrate_kbps, container, codec, width, height, is_normalized_container, compatible,
	incompatibility_reasons, source_asset_id, applied_quality, created_at, updated_at`

// AssetFilter narrows ListAssets.
type AssetFilter struct {
	AccountID int64
	// BucketID restricts results to one bucket when non-nil.
	BucketID *int64
	// OriginalsOnly excludes assets produced by a conversion.
	OriginalsOnly bool
}

// GetAsset returns an asset owned by accountID.
func (d *Database) GetAsset(ctx context.Context, accountID, assetID int64) (*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_asset", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var a Asset
	err = notFound(d.db.GetContext(ctx, &a,
		`SELECT `+assetColumns+` FROM assets WHERE id = ? AND account_id = ?`, assetID, accountID))
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAssets returns assets matching f, newest first.
func (d *Database) ListAssets(ctx context.Context, f AssetFilter) ([]Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_assets", start, err) }()

	where := sq.And{sq.Eq{"account_id": f.AccountID}}
	if f.BucketID != nil {
		where = append(where, sq.Eq{"bucket_id": *f.BucketID})
	}
	if f.OriginalsOnly {
		where = append(where, sq.Eq{"source_asset_id": nil})
	}

	query, args, err := sq.Select(assetColumns).
		From("assets").
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build asset query: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	assets := []Asset{}
	err = d.db.SelectContext(ctx, &assets, query, args...)
	return assets, err
}

// InsertAsset stores a new asset and fills in its id and timestamps.
func (d *Database) InsertAsset(ctx context.Context, a *Asset) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_asset", start, err) }()

	err = d.WithTx(ctx, func(tx *sqlx.Tx) error {
		return insertAsset(ctx, tx, a)
	})
	return err
}

func insertAsset(ctx context.Context, tx *sqlx.Tx, a *Asset) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query, args, err := sq.Insert("assets").
		Columns("account_id", "bucket_id", "server_id", "name", "path", "size_bytes", "duration_seconds",
			"bitrate_kbps", "container", "codec", "width", "height", "is_normalized_container", "compatible",
			"incompatibility_reasons", "source_asset_id", "applied_quality", "created_at", "updated_at").
		Values(a.AccountID, a.BucketID, a.ServerID, a.Name, a.Path, a.SizeBytes, a.DurationSeconds,
			a.BitrateKbps, a.Container, a.Codec, a.Width, a.Height, a.IsNormalizedContainer, a.Compatible,
			a.Reasons, a.SourceAssetID, a.AppliedQuality, a.CreatedAt, a.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert asset %q: %w", a.Name, err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// SetAssetSize records a size learned after the asset was stored.
func (d *Database) SetAssetSize(ctx context.Context, assetID, sizeBytes int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_asset_size", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.execOne(ctx, `UPDATE assets SET size_bytes = ?, updated_at = ? WHERE id = ?`,
		sizeBytes, time.Now().UTC(), assetID)
	return err
}

// DeleteAsset removes an asset and its playlist entries. Assets converted
// from it keep existing with their source cleared.
func (d *Database) DeleteAsset(ctx context.Context, accountID, assetID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_asset", start, err) }()

	err = d.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM playlist_assets WHERE asset_id = ?`, assetID); err != nil {
			return fmt.Errorf("remove playlist entries: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE id = ? AND account_id = ?`, assetID, accountID)
		if err != nil {
			return fmt.Errorf("delete asset: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	return err
}
