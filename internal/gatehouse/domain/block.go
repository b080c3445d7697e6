package domain

import "time"

// BlockEntry marks an identifier as rejected until BlockedUntil passes.
// Repeat blocks upsert the row, extending the window.
type BlockEntry struct {
	Identifier   string
	BlockedUntil time.Time
	Reason       string
	CreatedAt    time.Time
}

// Active reports whether the block still applies at the given instant.
func (b BlockEntry) Active(now time.Time) bool {
	return now.Before(b.BlockedUntil)
}

// RetryAfter returns the remaining block duration, never negative.
func (b BlockEntry) RetryAfter(now time.Time) time.Duration {
	d := b.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
