package domain

import "time"

// ErrorRecord is the server-side detail behind a 500 response. Clients only
// ever receive the correlation id.
type ErrorRecord struct {
	ID            string
	CorrelationID string
	Path          string
	Method        string
	Detail        string
	CreatedAt     time.Time
}

// ErrorLogRetention is how long error records are kept.
const ErrorLogRetention = 30 * 24 * time.Hour
