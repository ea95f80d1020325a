package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"dispatchq/internal/migrations"
	"dispatchq/internal/models"
	"dispatchq/internal/retry"
	"dispatchq/internal/security"
)

// Database is the durable queue store: queued messages, their delivery events and templates.
type Database struct {
	db        *sql.DB
	dialect   dialect
	encryptor *encryptor
}

// New opens the store described by cfg, applies pending migrations and prepares field encryption
func New(ctx context.Context, cfg models.DatabaseConfig) (*Database, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var dsn string
	switch driver {
	case DriverSQLite:
		path, err := prepareSQLiteFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// single writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}

	connect := retry.NewBackoff(retry.DefaultBackoffConfig())
	if err := connect.RetryWithPredicate(ctx, func() error { return db.PingContext(ctx) }, isRetryableDBError); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to ping database: %w", err))
	}

	if _, err := migrations.Apply(ctx, db, driver); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize schema: %w", err))
	}

	enc, err := NewEncryptor()
	if err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize encryptor: %w", err))
	}

	return &Database{db: db, dialect: dialect{driver: driver}, encryptor: enc}, nil
}

func prepareSQLiteFile(dbPath string) (string, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return "", fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return "", fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close database file: %w", err)
	}
	return dbPath, nil
}

func closeWith(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Driver returns the SQL dialect in use
func (d *Database) Driver() string {
	return d.dialect.driver
}

// Ping checks store connectivity for health reporting
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.db.PingContext(ctx)
}

// SchemaVersion returns the highest applied migration version
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := d.queryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (d *Database) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.rebind(query), args...)
}

func (d *Database) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.dialect.rebind(query), args...)
}

func (d *Database) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.db.QueryRowContext(ctx, d.dialect.rebind(query), args...)
}
