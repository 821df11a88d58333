// Package database opens the PostgreSQL pool behind the persistent
// geocode cache. The database is optional: when DATABASE_URL is unset
// both binaries fall back to the in-memory cache and keep serving.
package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds pool settings for the geocode cache database.
type Config struct {
	// URL is the postgres:// connection string. Empty disables the
	// database.
	URL string

	// MaxConns and MinConns bound the pool size. Zero keeps the
	// pgxpool default.
	MaxConns int32
	MinConns int32

	// ConnMaxLifetime retires connections older than this.
	ConnMaxLifetime time.Duration
}

// ConfigFromEnv reads DATABASE_URL and the DB_* pool tuning variables.
// Defaults are sized for a single small instance.
func ConfigFromEnv() Config {
	return Config{
		URL:             os.Getenv("DATABASE_URL"),
		MaxConns:        envInt32("DB_MAX_CONNS", 10),
		MinConns:        envInt32("DB_MIN_CONNS", 2),
		ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

// Configured reports whether a connection URL is present.
func (c Config) Configured() bool {
	return c.URL != ""
}

// Connect opens a pool for cfg and verifies it with a ping, so a bad
// URL fails at startup rather than at the first cache lookup.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("no database URL configured")
	}

	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if pc.ConnConfig.RuntimeParams["application_name"] == "" {
		pc.ConnConfig.RuntimeParams["application_name"] = "optimap"
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func envInt32(key string, fallback int32) int32 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(n) //nolint:gosec // ParseInt bitSize 32 bounds n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
