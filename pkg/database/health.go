package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConnectFunc opens a fresh connection pool
type ConnectFunc func(ctx context.Context) (*sql.DB, error)

// HealthChecker monitors and maintains database connection health
type HealthChecker struct {
	db            *sql.DB
	connect       ConnectFunc
	checkInterval time.Duration
	logger        *slog.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	ticker        *time.Ticker
	mu            sync.RWMutex
	isHealthy     bool
}

// NewHealthChecker creates a new health checker. connect may be nil, in which
// case a failed check only marks the connection unhealthy.
func NewHealthChecker(db *sql.DB, checkInterval time.Duration, connect ConnectFunc, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HealthChecker{
		db:            db,
		connect:       connect,
		checkInterval: checkInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
		isHealthy:     true,
	}
}

// Start begins monitoring the database connection
func (chc *HealthChecker) Start() {
	chc.ticker = time.NewTicker(chc.checkInterval)

	go func() {
		for {
			select {
			case <-chc.stopChan:
				chc.ticker.Stop()
				return
			case <-chc.ticker.C:
				chc.checkConnection()
			}
		}
	}()
}

// Stop stops monitoring the database connection
func (chc *HealthChecker) Stop() {
	chc.stopOnce.Do(func() {
		close(chc.stopChan)
	})
}

// DB returns the current connection pool
func (chc *HealthChecker) DB() *sql.DB {
	chc.mu.RLock()
	defer chc.mu.RUnlock()
	return chc.db
}

// checkConnection performs a health check on the database connection
func (chc *HealthChecker) checkConnection() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := chc.DB().PingContext(ctx)

	chc.mu.Lock()
	defer chc.mu.Unlock()

	if err != nil {
		chc.logger.Error("❌ Database connection health check failed", "error", err)
		chc.isHealthy = false

		if err := chc.reconnect(ctx); err != nil {
			chc.logger.Error("❌ Failed to reconnect to database", "error", err)
		}
		return
	}

	if !chc.isHealthy {
		chc.logger.Info("✓ Database connection restored")
	}
	chc.isHealthy = true
}

// reconnect replaces the pool with a new one; the caller holds mu
func (chc *HealthChecker) reconnect(ctx context.Context) error {
	if chc.connect == nil {
		return fmt.Errorf("no reconnect function configured")
	}

	newDB, err := chc.connect(ctx)
	if err != nil {
		return err
	}

	if chc.db != nil {
		chc.db.Close()
	}
	chc.db = newDB
	chc.isHealthy = true
	chc.logger.Info("✓ Database connection re-established")
	return nil
}

// IsHealthy returns the current health status of the connection
func (chc *HealthChecker) IsHealthy() bool {
	chc.mu.RLock()
	defer chc.mu.RUnlock()
	return chc.isHealthy
}

// EnsureConnection verifies the connection before a query. An unhealthy
// connection is pinged again so a recovered database is used right away.
func (chc *HealthChecker) EnsureConnection(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := chc.DB().PingContext(pingCtx); err != nil {
		chc.mu.Lock()
		chc.isHealthy = false
		chc.mu.Unlock()
		return fmt.Errorf("database connection check failed: %w", err)
	}

	chc.mu.Lock()
	chc.isHealthy = true
	chc.mu.Unlock()
	return nil
}
