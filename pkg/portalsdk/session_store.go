package portalsdk

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/confreg/gatehouse/pkg/idx"
)

const (
	sessionKeyPrefix = "ghs:"
	tokenKey         = "token"
)

// SessionStore holds one context's session values over a shared Storage.
// Construct one per context with NewSessionStore; there is no package-level
// instance.
//
// Values are namespaced per user type so an admin and an attendee session can
// coexist in the same storage area. Every read enforces the rolling TTL and
// the absolute age cap; anything expired or unparseable is evicted on the
// spot and reported as absent.
type SessionStore struct {
	storage  Storage
	registry *SessionRegistry
	logger   *slog.Logger

	sessionID string
	startedAt time.Time
	now       func() time.Time
	fpAttrs   []string
}

// StoreOption configures a SessionStore.
type StoreOption func(*SessionStore)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *SessionStore) { s.logger = l }
}

// WithClock injects a clock for expiry tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *SessionStore) { s.now = now }
}

// WithSessionID pins the context's session id instead of generating one.
func WithSessionID(id string) StoreOption {
	return func(s *SessionStore) { s.sessionID = id }
}

// WithFingerprintAttrs sets the context attributes hashed into the registry
// fingerprint (platform, device name, anything stable for this context).
func WithFingerprintAttrs(attrs ...string) StoreOption {
	return func(s *SessionStore) { s.fpAttrs = attrs }
}

// NewSessionStore creates a store over the given storage. The registry is
// created alongside it on the same storage bus.
func NewSessionStore(storage Storage, opts ...StoreOption) *SessionStore {
	s := &SessionStore{
		storage:   storage,
		logger:    slog.Default(),
		sessionID: idx.New().String(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = newSessionRegistry(storage, s)
	if len(s.fpAttrs) > 0 {
		s.registry.setFingerprint(s.fpAttrs)
	}
	s.startedAt = s.now()
	return s
}

// SessionID returns this context's session id.
func (s *SessionStore) SessionID() string { return s.sessionID }

// Registry returns the presence registry sharing this store's bus.
func (s *SessionStore) Registry() *SessionRegistry { return s.registry }

// Set writes a session value for the user type and updates the presence
// registry. On a quota failure it sweeps expired entries, then oldest-first,
// logs a warning and gives up; the write is not retried.
func (s *SessionStore) Set(key, value, userType string) error {
	now := s.now()
	entry := sessionEntry{
		Record:    recordTagSession,
		UserType:  userType,
		Key:       key,
		Value:     value,
		SessionID: s.sessionID,
		Timestamp: now,
		ExpiresAt: now.Add(SessionTTL),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode session entry: %w", err)
	}

	if err := s.storage.Set(storageKey(userType, key), string(raw)); err != nil {
		s.sweep(userType)
		s.logger.Warn("session write dropped after storage quota failure",
			"user_type", userType, "key", key, "error", err)
		return fmt.Errorf("store session entry: %w", err)
	}

	s.registry.Update(userType, key)
	return nil
}

// Get returns the value for the user type, or "" when absent. Expired,
// over-age and corrupt entries are evicted and reported as absent; corruption
// never surfaces as an error. A successful read extends the rolling TTL.
func (s *SessionStore) Get(key, userType string) string {
	sk := storageKey(userType, key)
	raw, ok := s.storage.Get(sk)
	if !ok {
		return ""
	}

	var entry sessionEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Record != recordTagSession {
		s.storage.Delete(sk)
		s.logger.Warn("evicted corrupt session entry", "user_type", userType, "key", key)
		return ""
	}

	now := s.now()
	if now.After(entry.ExpiresAt) || now.Sub(entry.Timestamp) > SessionMaxAge {
		s.storage.Delete(sk)
		return ""
	}

	// Rolling expiry: reads push the window forward, bounded by the age cap.
	entry.ExpiresAt = now.Add(SessionTTL)
	if refreshed, err := json.Marshal(entry); err == nil {
		_ = s.storage.Set(sk, string(refreshed))
	}

	return entry.Value
}

// Remove deletes one value and its registry record.
func (s *SessionStore) Remove(key, userType string) {
	s.storage.Delete(storageKey(userType, key))
	s.registry.Remove(userType, key)
}

// Clear removes every value for the user type, registry included.
func (s *SessionStore) Clear(userType string) {
	prefix := storageKey(userType, "")
	for _, k := range s.storage.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.storage.Delete(k)
		}
	}
	s.registry.Clear(userType)
}

// SetToken, GetToken and ClearToken are the convenience surface the UI layer
// uses for the bearer credential itself.

func (s *SessionStore) SetToken(userType, token string) error {
	return s.Set(tokenKey, token, userType)
}

func (s *SessionStore) GetToken(userType string) string {
	return s.Get(tokenKey, userType)
}

func (s *SessionStore) ClearToken(userType string) {
	s.Remove(tokenKey, userType)
}

// sweep frees storage by dropping expired session entries first, then the
// oldest live ones for this user type.
func (s *SessionStore) sweep(userType string) {
	now := s.now()
	type aged struct {
		key string
		ts  time.Time
	}
	var live []aged

	for _, k := range s.storage.Keys() {
		if !strings.HasPrefix(k, sessionKeyPrefix) {
			continue
		}
		raw, ok := s.storage.Get(k)
		if !ok {
			continue
		}
		var entry sessionEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Record != recordTagSession {
			s.storage.Delete(k)
			continue
		}
		if now.After(entry.ExpiresAt) || now.Sub(entry.Timestamp) > SessionMaxAge {
			s.storage.Delete(k)
			continue
		}
		if entry.UserType == userType {
			live = append(live, aged{key: k, ts: entry.Timestamp})
		}
	}

	// Oldest-first, drop up to half of what remains for this user type.
	sort.Slice(live, func(i, j int) bool { return live[i].ts.Before(live[j].ts) })
	for i := 0; i < len(live)/2; i++ {
		s.storage.Delete(live[i].key)
	}
}

func storageKey(userType, key string) string {
	return sessionKeyPrefix + userType + ":" + key
}
