package store

import (
	"context"
	"errors"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
)

var ErrNotFound = errors.New("store: not found")

// Store is the root data access interface for the tables gatehouse owns.
// Concrete drivers (sqlite today) implement it. Sub-repositories keep
// concerns tidy and independently testable.
//
// There is deliberately no transaction surface here: the rate limiter's
// count-then-insert is an accepted approximate window, and nothing else in
// this subsystem needs multi-statement atomicity.
type Store interface {
	RequestLog() RequestLog
	Blocks() Blocks
	Sessions() Sessions
	Errors() Errors

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

type RequestLog interface {
	// CountSince counts entries for (identifier, endpoint) created after the
	// cutoff. This is the sliding-window read half of the rate check.
	CountSince(ctx context.Context, identifier, endpoint string, cutoff time.Time) (int, error)

	// Insert appends one entry for the current request.
	Insert(ctx context.Context, e domain.RateWindowEntry) error

	// DeleteOlderThan purges entries created before the cutoff, returning
	// how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Blocks interface {
	// Get returns the block entry for the identifier, or ErrNotFound.
	Get(ctx context.Context, identifier string) (domain.BlockEntry, error)

	// Upsert inserts or extends a block entry.
	Upsert(ctx context.Context, b domain.BlockEntry) error

	// DeleteExpired removes entries whose blocked_until has passed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Sessions interface {
	// Touch upserts the active-session row, bumping last_activity.
	Touch(ctx context.Context, s domain.ActiveSession) error

	// Delete removes one session row (logout).
	Delete(ctx context.Context, sessionID string) error

	// DeleteStale removes rows whose last_activity predates the cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type Errors interface {
	// Insert records the full detail behind a 500 response.
	Insert(ctx context.Context, rec domain.ErrorRecord) error

	// DeleteOlderThan purges records past the retention period.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
