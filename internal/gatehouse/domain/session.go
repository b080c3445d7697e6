package domain

import "time"

// ActiveSession mirrors a live client session on the server side. Heartbeats
// bump LastActivity; housekeeping prunes rows idle past the stale cutoff.
type ActiveSession struct {
	SessionID    string
	UserType     string
	LastActivity time.Time
	ExpiresAt    time.Time
}

// SessionStaleAfter is the idle period after which an active session row is
// considered abandoned.
const SessionStaleAfter = 2 * time.Hour
