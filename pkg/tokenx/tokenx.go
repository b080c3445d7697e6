// Package tokenx encodes and validates the opaque bearer tokens used by the
// registration portal. The wire format is fixed:
//
//	<role>-token-<base64(subject:issuedAtMillis:role)>
//
// Tokens are not signed; they are an opaque session credential whose only
// server-side checks are structural integrity and age.
package tokenx

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// MaxAge is how long an issued token stays valid.
const MaxAge = 2 * time.Hour

const separator = "-token-"

// Identity is the subject/role pair recovered from a valid token.
type Identity struct {
	Subject string
	Role    string
}

// Codec issues and validates portal tokens. The zero value is not usable;
// construct with New.
type Codec struct {
	now func() time.Time
}

// New returns a Codec using the wall clock.
func New() *Codec {
	return &Codec{now: time.Now}
}

// NewWithClock returns a Codec with an injected clock, for expiry tests.
func NewWithClock(now func() time.Time) *Codec {
	return &Codec{now: now}
}

// Issue encodes a token for the subject under the given role. Pure, no I/O.
func (c *Codec) Issue(subject, role string) string {
	issuedAt := c.now().UnixMilli()
	payload := subject + ":" + strconv.FormatInt(issuedAt, 10) + ":" + role
	return role + separator + base64.StdEncoding.EncodeToString([]byte(payload))
}

// Validate decodes and checks a token against the expected role. It returns
// the embedded identity, or (nil, false) on any failure: role prefix
// mismatch, decode error, malformed field count, embedded role disagreement
// or age beyond MaxAge. It never panics.
func (c *Codec) Validate(token, expectedRole string) (*Identity, bool) {
	encoded, ok := strings.CutPrefix(token, expectedRole+separator)
	if !ok || encoded == "" {
		return nil, false
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}

	fields := strings.Split(string(raw), ":")
	if len(fields) != 3 {
		return nil, false
	}

	subject, issuedField, role := fields[0], fields[1], fields[2]
	if subject == "" || role != expectedRole {
		return nil, false
	}

	issuedMillis, err := strconv.ParseInt(issuedField, 10, 64)
	if err != nil {
		return nil, false
	}

	issuedAt := time.UnixMilli(issuedMillis)
	if c.now().Sub(issuedAt) > MaxAge {
		return nil, false
	}

	return &Identity{Subject: subject, Role: role}, true
}
