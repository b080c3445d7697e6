package domain

import "time"

// RateWindowEntry is one row of the persistent request log. The rate limiter
// counts entries inside a trailing window; housekeeping purges them after 24h.
type RateWindowEntry struct {
	ID         string
	Identifier string
	Endpoint   string
	Method     string
	CreatedAt  time.Time
}

// RequestLogRetention is how long request log rows are kept before the
// background cleanup removes them.
const RequestLogRetention = 24 * time.Hour
