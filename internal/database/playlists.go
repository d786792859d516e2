package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// CreatePlaylist inserts an empty playlist.
func (d *Database) CreatePlaylist(ctx context.Context, accountID int64, name string) (*Playlist, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_playlist", start, err) }()

	var p Playlist
	err = d.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO playlists (account_id, name, created_at) VALUES (?, ?, ?)`,
			accountID, name, time.Now().UTC())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		return tx.GetContext(ctx, &p, `SELECT * FROM playlists WHERE id = ?`, id)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AddToPlaylist appends an asset to a playlist.
func (d *Database) AddToPlaylist(ctx context.Context, playlistID, assetID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("add_to_playlist", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO playlist_assets (playlist_id, asset_id, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM playlist_assets WHERE playlist_id = ?))`,
		playlistID, assetID, playlistID)
	return err
}

// PlaylistAssetIDs returns the asset ids in a playlist, in order.
func (d *Database) PlaylistAssetIDs(ctx context.Context, playlistID int64) ([]int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("playlist_assets", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	ids := []int64{}
	err = d.db.SelectContext(ctx, &ids,
		`SELECT asset_id FROM playlist_assets WHERE playlist_id = ? ORDER BY position`, playlistID)
	return ids, err
}
