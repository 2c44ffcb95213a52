package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Config selects and locates the backing store
type Config struct {
	// Driver is DriverSQLite or DriverPostgres
	Driver string
	// File is the sqlite database path
	File string
	// URL is the postgres connection string
	URL string
	// HealthInterval is the period of the background ping; 0 uses 30s
	HealthInterval time.Duration
	Logger         *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// DatabaseManager handles all database operations
type DatabaseManager struct {
	driver        string
	healthChecker *HealthChecker
	logger        *slog.Logger
}

// Create creates a new store and applies the schema. It fails with
// ErrAlreadyExists when the sqlite file or the postgres table already exists.
func Create(ctx context.Context, cfg Config) (*DatabaseManager, error) {
	if cfg.Driver == DriverSQLite {
		if _, err := os.Stat(cfg.File); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, cfg.File)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", cfg.File, err)
		}
		if dir := filepath.Dir(cfg.File); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	dm, err := newDatabaseManager(ctx, cfg, false)
	if err != nil {
		return nil, err
	}

	if cfg.Driver == DriverPostgres {
		exists, err := readingTableExists(ctx, dm.DB(), cfg.Driver)
		if err != nil {
			dm.Close()
			return nil, err
		}
		if exists {
			dm.Close()
			return nil, fmt.Errorf("%w: reading table present", ErrAlreadyExists)
		}
	}

	if err := dm.Init(ctx); err != nil {
		dm.Close()
		return nil, err
	}

	dm.logger.Info("✓ Database created", "driver", cfg.Driver)
	return dm, nil
}

// Open opens an existing store for writing and applies pending migrations
func Open(ctx context.Context, cfg Config) (*DatabaseManager, error) {
	if err := requireFile(cfg); err != nil {
		return nil, err
	}

	dm, err := newDatabaseManager(ctx, cfg, false)
	if err != nil {
		return nil, err
	}

	if err := dm.Init(ctx); err != nil {
		dm.Close()
		return nil, err
	}

	return dm, nil
}

// OpenOrCreate opens the store, creating it first when it does not exist
func OpenOrCreate(ctx context.Context, cfg Config) (*DatabaseManager, error) {
	dm, err := Create(ctx, cfg)
	if errors.Is(err, ErrAlreadyExists) {
		return Open(ctx, cfg)
	}
	return dm, err
}

// OpenReader opens an existing store for the read API. Sqlite readers are
// read-only and give up on a locked database sooner than the writer.
func OpenReader(ctx context.Context, cfg Config) (*DatabaseManager, error) {
	if err := requireFile(cfg); err != nil {
		return nil, err
	}
	return newDatabaseManager(ctx, cfg, true)
}

func requireFile(cfg Config) error {
	if cfg.Driver != DriverSQLite {
		return nil
	}
	if _, err := os.Stat(cfg.File); err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.File, err)
	}
	return nil
}

func newDatabaseManager(ctx context.Context, cfg Config, readOnly bool) (*DatabaseManager, error) {
	connect := func(ctx context.Context) (*sql.DB, error) {
		return connectDatabase(ctx, cfg, readOnly)
	}

	db, err := connect(ctx)
	if err != nil {
		return nil, err
	}

	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	dm := &DatabaseManager{
		driver:        cfg.Driver,
		healthChecker: NewHealthChecker(db, interval, connect, cfg.logger()),
		logger:        cfg.logger(),
	}

	// Start health checking
	dm.healthChecker.Start()

	return dm, nil
}

func connectDatabase(ctx context.Context, cfg Config, readOnly bool) (*sql.DB, error) {
	connStr, err := dsn(cfg, readOnly)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == DriverSQLite && !readOnly {
		// sqlite allows one writer; the scheduler is the only one
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// DB returns the underlying database connection
func (dm *DatabaseManager) DB() *sql.DB {
	return dm.healthChecker.DB()
}

// Driver returns the name of the backing driver
func (dm *DatabaseManager) Driver() string {
	return dm.driver
}

// Close closes the database connection and stops health checking
func (dm *DatabaseManager) Close() error {
	dm.healthChecker.Stop()
	if db := dm.DB(); db != nil {
		return db.Close()
	}
	return nil
}

// QueryWithHealthCheck executes a query with connection health verification
func (dm *DatabaseManager) QueryWithHealthCheck(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		return nil, err
	}

	return dm.DB().QueryContext(ctx, rebind(dm.driver, query), args...)
}

// ExecWithHealthCheck executes a statement with connection health verification
func (dm *DatabaseManager) ExecWithHealthCheck(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		return nil, err
	}

	return dm.DB().ExecContext(ctx, rebind(dm.driver, query), args...)
}

// TxWithHealthCheck runs fn inside a transaction, committing when it returns nil
func (dm *DatabaseManager) TxWithHealthCheck(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		return err
	}

	tx, err := dm.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsConnectionHealthy returns the current health status
func (dm *DatabaseManager) IsConnectionHealthy() bool {
	return dm.healthChecker.IsHealthy()
}

// Init applies pending migrations
func (dm *DatabaseManager) Init(ctx context.Context) error {
	runner, err := NewMigrationsRunner(dm.DB(), dm.driver, dm.logger)
	if err != nil {
		return fmt.Errorf("failed to create migration runner: %w", err)
	}

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
