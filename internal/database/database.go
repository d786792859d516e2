package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	sqldblogger "github.com/simukti/sqldb-logger"

	"media-converter/internal/logging"
	"media-converter/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its configuration in package globals.
var migrateMu sync.Mutex

// ErrNotFound is returned when a row does not exist or belongs to another
// account.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a login or a bucket name is already taken.
var ErrDuplicate = errors.New("already exists")

// Options tunes how the catalog is opened.
type Options struct {
	// LogSQL logs every statement at debug level.
	LogSQL bool
}

// Database is the catalog of accounts, buckets, assets, playlists and
// conversion jobs.
type Database struct {
	db     *sqlx.DB
	dbPath string
	mu     sync.RWMutex
}

// New opens the catalog at dbPath and applies pending migrations.
// dbPath is the full path to the database FILE and its parent directory must
// already exist and be writable.
func New(ctx context.Context, dbPath string, opts Options) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// busy_timeout and immediate transactions keep concurrent writers from
	// failing with "database is locked"
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY"+
		"&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", dbPath)

	var raw *sql.DB
	if opts.LogSQL {
		raw = sqldblogger.OpenDriver(dsn, &sqlite3.SQLiteDriver{}, &sqlLogger{},
			sqldblogger.WithMinimumLevel(sqldblogger.LevelDebug),
			sqldblogger.WithSQLQueryAsMessage(true),
		)
	} else {
		var err error
		raw, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}
	db := sqlx.NewDb(raw, "sqlite3")

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.migrate(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after migration failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) migrate(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("migrate", start, err) }()

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(logging.Migrations{})
	if err = goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	err = goose.UpContext(ctx, d.db.DB, "migrations")
	return err
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// WithTx runs fn inside a transaction, committing when it returns nil and
// rolling back otherwise.
func (d *Database) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	txStart := time.Now()
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		duration := time.Since(txStart).Seconds()
		if p := recover(); p != nil {
			_ = tx.Rollback()
			metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
			panic(p)
		}
		if err != nil {
			metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
			}
			return
		}
		metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
		err = tx.Commit()
	}()

	return fn(tx)
}

// GetStats summarizes catalog contents for the metrics collector.
func (d *Database) GetStats() metrics.Stats {
	start := time.Now()
	var err error
	defer func() { recordQuery("catalog_stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var row struct {
		Original     int `db:"original"`
		Converted    int `db:"converted"`
		Incompatible int `db:"incompatible"`
	}
	err = d.db.GetContext(ctx, &row, `
		SELECT
			COALESCE(SUM(CASE WHEN source_asset_id IS NULL THEN 1 ELSE 0 END), 0) AS original,
			COALESCE(SUM(CASE WHEN source_asset_id IS NOT NULL THEN 1 ELSE 0 END), 0) AS converted,
			COALESCE(SUM(CASE WHEN compatible = 0 THEN 1 ELSE 0 END), 0) AS incompatible
		FROM assets`)
	if err != nil {
		logging.Warn("failed to collect asset stats: %v", err)
		return metrics.Stats{}
	}

	var storage struct {
		Used     int64 `db:"used"`
		Allotted int64 `db:"allotted"`
	}
	err = d.db.GetContext(ctx, &storage,
		`SELECT COALESCE(SUM(used_mb), 0) AS used, COALESCE(SUM(allotted_mb), 0) AS allotted FROM buckets`)
	if err != nil {
		logging.Warn("failed to collect storage stats: %v", err)
		return metrics.Stats{}
	}

	var running int
	err = d.db.GetContext(ctx, &running, `SELECT COUNT(*) FROM conversion_jobs WHERE status = ?`, JobInProgress)
	if err != nil {
		logging.Warn("failed to collect job stats: %v", err)
		return metrics.Stats{}
	}

	return metrics.Stats{
		OriginalAssets:     row.Original,
		ConvertedAssets:    row.Converted,
		IncompatibleAssets: row.Incompatible,
		UsedMB:             storage.Used,
		AllottedMB:         storage.Allotted,
		JobsInProgress:     running,
	}
}

// Ping checks that the catalog is reachable.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Vacuum optimizes the database.
func (d *Database) Vacuum(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// UpdateDBMetrics updates database connection and file size metrics
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))

	for label, p := range map[string]string{"main": d.dbPath, "wal": d.dbPath + "-wal", "shm": d.dbPath + "-shm"} {
		if info, err := os.Stat(p); err == nil {
			metrics.DBSizeBytes.WithLabelValues(label).Set(float64(info.Size()))
		} else {
			metrics.DBSizeBytes.WithLabelValues(label).Set(0)
		}
	}
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// sqlLogger forwards sqldb-logger output to the application log.
type sqlLogger struct{}

func (sqlLogger) Log(_ context.Context, level sqldblogger.Level, msg string, data map[string]any) {
	switch level {
	case sqldblogger.LevelError:
		logging.Error("sql: %s %v", msg, data)
	case sqldblogger.LevelDebug, sqldblogger.LevelInfo:
		logging.Debug("sql: %s [%vms] args=%v", msg, data["duration"], data["args"])
	case sqldblogger.LevelTrace:
		// connection lifecycle noise
	}
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}

	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)
	logging.Debug("Database directory is writable")

	if dbInfo, err := os.Stat(dbPath); err == nil {
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", dbPath, dbInfo.Mode(), dbInfo.Size())
		if dbInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file is read-only! Mode: %v", dbInfo.Mode())
		}
	}

	// WAL and SHM files left behind by another user break writes
	for _, side := range []string{dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(side)
		if err != nil {
			continue
		}
		logging.Debug("Database side file exists: %s (mode: %v, size: %d bytes)", side, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 != 0 {
			continue
		}
		logging.Warn("%s is read-only! Mode: %v - this will cause write failures", side, info.Mode())
		if chmodErr := os.Chmod(side, 0o600); chmodErr != nil {
			logging.Error("Failed to fix permissions on %s: %v", side, chmodErr)
		} else {
			logging.Info("Fixed permissions on %s", side)
		}
	}

	return nil
}
