package geocache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when no entry exists for a key.
var ErrNotFound = errors.New("geocache: address not found")

// Store persists geocoded addresses across process restarts. Keys are
// normalized address strings. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns the stored coordinate for a key and the time it was
	// geocoded. Returns ErrNotFound when the key is absent.
	Load(ctx context.Context, key string) (Coordinate, time.Time, error)

	// Save upserts the coordinate for a key, refreshing its geocoded-at
	// timestamp.
	Save(ctx context.Context, key string, coord Coordinate) error
}
