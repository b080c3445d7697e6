package portalsdk

import "time"

// Record tags. Every value written to Storage carries one; a read that finds
// the wrong tag (or no parseable JSON at all) is treated as corruption and
// the entry is evicted silently.
const (
	recordTagSession  = "session"
	recordTagRegistry = "registry"
	recordTagFlag     = "conflict_flag"
)

const (
	// SessionTTL is the rolling validity window; reads extend it.
	SessionTTL = 2 * time.Hour

	// SessionMaxAge is the absolute cap regardless of activity.
	SessionMaxAge = 24 * time.Hour
)

// sessionEntry is the stored shape of one session value.
type sessionEntry struct {
	Record    string    `json:"record"`
	UserType  string    `json:"user_type"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegistryRecord is the shared presence record for one (userType, key).
// Last writer wins.
type RegistryRecord struct {
	Record      string    `json:"record"`
	UserType    string    `json:"user_type"`
	Key         string    `json:"key"`
	SessionID   string    `json:"session_id"`
	LastUpdated time.Time `json:"last_updated"`
	Fingerprint string    `json:"fingerprint"`
}

// conflictFlag marks a detected session conflict for a user type. It expires
// after ConflictFlagTTL; the grace re-check only forces logout while the flag
// is still live.
type conflictFlag struct {
	Record   string    `json:"record"`
	UserType string    `json:"user_type"`
	SetAt    time.Time `json:"set_at"`
}

// ConflictFlagTTL is how long a conflict flag stays meaningful.
const ConflictFlagTTL = 30 * time.Second
