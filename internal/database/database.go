package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds database connection configuration.
type Config struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration

	// ConnectTimeout bounds each ping. PingAttempts pings are tried,
	// PingBackoff apart, before Connect gives up.
	ConnectTimeout time.Duration
	PingAttempts   int
	PingBackoff    time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns defaults sized for a single poller process. The
// checkpoint store issues at most one transaction per round.
func DefaultConfig() Config {
	return Config{
		MaxConnections:     4,
		MaxIdleConnections: 2,
		ConnMaxLifetime:    5 * time.Minute,
		ConnectTimeout:     10 * time.Second,
		PingAttempts:       5,
		PingBackoff:        2 * time.Second,
	}
}

// Connect opens a PostgreSQL pool and pings it until it answers, so a
// database that is still starting does not fail the service.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.PingAttempts <= 0 {
		cfg.PingAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pingWithRetry(ctx, db, cfg); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB, cfg Config) error {
	var err error
	for attempt := 1; attempt <= cfg.PingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == cfg.PingAttempts {
			break
		}

		cfg.Logger.Warn("database not ready, retrying",
			"attempt", attempt,
			"max_attempts", cfg.PingAttempts,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to ping database: %w", ctx.Err())
		case <-time.After(cfg.PingBackoff):
		}
	}
	return fmt.Errorf("failed to ping database after %d attempt(s): %w", cfg.PingAttempts, err)
}

// HealthCheck pings the checkpoint database with a short deadline. A pool
// whose connections are all busy is reported along with the ping error.
func HealthCheck(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		stats := db.Stats()
		return fmt.Errorf("checkpoint database unreachable (open=%d in_use=%d waiting=%d): %w",
			stats.OpenConnections, stats.InUse, stats.WaitCount, err)
	}
	return nil
}
