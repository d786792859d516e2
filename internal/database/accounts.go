package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"media-converter/internal/quota"
)

// CreateAccount inserts an account with the given bitrate ceiling.
func (d *Database) CreateAccount(ctx context.Context, login string, bitrateLimitKbps int) (*Account, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_account", start, err) }()

	var acct Account
	err = d.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (login, bitrate_limit_kbps, created_at) VALUES (?, ?, ?)`,
			login, bitrateLimitKbps, time.Now().UTC())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		return tx.GetContext(ctx, &acct, `SELECT * FROM accounts WHERE id = ?`, id)
	})
	if isUniqueViolation(err) {
		err = ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("create account %q: %w", login, err)
	}
	return &acct, nil
}

// GetAccount returns an account by id.
func (d *Database) GetAccount(ctx context.Context, id int64) (*Account, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_account", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var acct Account
	err = notFound(d.db.GetContext(ctx, &acct, `SELECT * FROM accounts WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// SetBitrateLimit changes an account's bitrate ceiling.
func (d *Database) SetBitrateLimit(ctx context.Context, accountID int64, limitKbps int) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_bitrate_limit", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.ExecContext(ctx, `UPDATE accounts SET bitrate_limit_kbps = ? WHERE id = ?`, limitKbps, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrNotFound
	}
	return err
}

// CreateBucket inserts a storage bucket (folder) for an account.
func (d *Database) CreateBucket(ctx context.Context, accountID int64, name string, allottedMB, serverID int64) (*Bucket, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_bucket", start, err) }()

	var b Bucket
	err = d.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO buckets (account_id, name, allotted_mb, server_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			accountID, name, allottedMB, serverID, time.Now().UTC())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		return tx.GetContext(ctx, &b, `SELECT * FROM buckets WHERE id = ?`, id)
	})
	if isUniqueViolation(err) {
		err = ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", name, err)
	}
	return &b, nil
}

// GetBucket returns a bucket owned by accountID.
func (d *Database) GetBucket(ctx context.Context, accountID, bucketID int64) (*Bucket, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_bucket", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var b Bucket
	err = notFound(d.db.GetContext(ctx, &b,
		`SELECT * FROM buckets WHERE id = ? AND account_id = ?`, bucketID, accountID))
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBuckets returns an account's buckets ordered by name.
func (d *Database) ListBuckets(ctx context.Context, accountID int64) ([]Bucket, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_buckets", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	buckets := []Bucket{}
	err = d.db.SelectContext(ctx, &buckets, `SELECT * FROM buckets WHERE account_id = ? ORDER BY name`, accountID)
	return buckets, err
}

// BucketUsage implements quota.Store.
func (d *Database) BucketUsage(ctx context.Context, bucketID int64) (quota.Usage, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("bucket_usage", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var row struct {
		AllottedMB int64 `db:"allotted_mb"`
		UsedMB     int64 `db:"used_mb"`
	}
	err = notFound(d.db.GetContext(ctx, &row, `SELECT allotted_mb, used_mb FROM buckets WHERE id = ?`, bucketID))
	if err != nil {
		return quota.Usage{}, err
	}
	return quota.Usage{BucketID: bucketID, AllottedMB: row.AllottedMB, UsedMB: row.UsedMB}, nil
}

// AddUsedMB implements quota.Store.
func (d *Database) AddUsedMB(ctx context.Context, bucketID, deltaMB int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("add_used_mb", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.execOne(ctx, `UPDATE buckets SET used_mb = used_mb + ? WHERE id = ?`, deltaMB, bucketID)
	return err
}

// SubtractUsedMB implements quota.Store. Usage never drops below zero.
func (d *Database) SubtractUsedMB(ctx context.Context, bucketID, deltaMB int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("subtract_used_mb", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.execOne(ctx, `UPDATE buckets SET used_mb = MAX(used_mb - ?, 0) WHERE id = ?`, deltaMB, bucketID)
	return err
}

// AddUsedMBWithin implements quota.Store with a single conditional update.
func (d *Database) AddUsedMBWithin(ctx context.Context, bucketID, deltaMB int64) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("reserve_used_mb", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.ExecContext(ctx,
		`UPDATE buckets SET used_mb = used_mb + ? WHERE id = ? AND used_mb + ? <= allotted_mb`,
		deltaMB, bucketID, deltaMB)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// distinguish a full bucket from a missing one
	var exists bool
	err = d.db.GetContext(ctx, &exists, `SELECT COUNT(*) > 0 FROM buckets WHERE id = ?`, bucketID)
	if err != nil {
		return false, err
	}
	if !exists {
		err = ErrNotFound
		return false, err
	}
	return false, nil
}

func (d *Database) execOne(ctx context.Context, query string, args ...any) error {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
