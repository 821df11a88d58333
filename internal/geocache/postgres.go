package geocache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of Store. It keeps the
// cache warm across restarts; the in-memory cache stays authoritative.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed geocache store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS geocode_cache (
			address_key TEXT PRIMARY KEY,
			latitude    DOUBLE PRECISION NOT NULL,
			longitude   DOUBLE PRECISION NOT NULL,
			geocoded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure geocode_cache schema: %w", err)
	}
	return nil
}

// Load retrieves the stored coordinate for a normalized address key.
func (s *PostgresStore) Load(ctx context.Context, key string) (Coordinate, time.Time, error) {
	query := `
		SELECT latitude, longitude, geocoded_at
		FROM geocode_cache
		WHERE address_key = $1
	`

	var (
		lat, lon   float64
		geocodedAt time.Time
	)

	err := s.pool.QueryRow(ctx, query, key).Scan(&lat, &lon, &geocodedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Coordinate{}, time.Time{}, ErrNotFound
		}
		return Coordinate{}, time.Time{}, fmt.Errorf("load geocode_cache key %q: %w", key, err)
	}

	return Coordinate{Lat: lat, Lon: lon}, geocodedAt, nil
}

// Save upserts the coordinate for a normalized address key and
// refreshes its geocoded-at timestamp.
func (s *PostgresStore) Save(ctx context.Context, key string, coord Coordinate) error {
	query := `
		INSERT INTO geocode_cache (address_key, latitude, longitude, geocoded_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (address_key) DO UPDATE
		SET latitude    = EXCLUDED.latitude,
			longitude   = EXCLUDED.longitude,
			geocoded_at = EXCLUDED.geocoded_at
	`

	if _, err := s.pool.Exec(ctx, query, key, coord.Lat, coord.Lon); err != nil {
		return fmt.Errorf("save geocode_cache key %q: %w", key, err)
	}
	return nil
}
