package portalsdk

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const registryKeyPrefix = "ghreg:"

// RegistryIdleCutoff is how long a presence record may sit untouched before
// an opportunistic prune removes it.
const RegistryIdleCutoff = 2 * time.Hour

// pruneSampling is the probability that one Update also runs a prune pass.
const pruneSampling = 0.01

// SessionRegistry is the cross-context presence table: one record per
// (userType, key), last writer wins. Sibling contexts watch the storage bus
// for registry writes to detect that another context took over a session.
type SessionRegistry struct {
	storage Storage
	owner   *SessionStore
	logger  *slog.Logger

	fingerprint string

	// sample is injectable so tests can force or suppress the prune pass.
	sample func() float64
}

func newSessionRegistry(storage Storage, owner *SessionStore) *SessionRegistry {
	r := &SessionRegistry{
		storage: storage,
		owner:   owner,
		logger:  owner.logger,
		sample:  rand.Float64,
	}
	r.setFingerprint([]string{owner.sessionID})
	return r
}

func (r *SessionRegistry) setFingerprint(attrs []string) {
	sum := blake2b.Sum256([]byte(strings.Join(attrs, "\x00")))
	r.fingerprint = hex.EncodeToString(sum[:16])
}

// Fingerprint returns this context's registry fingerprint.
func (r *SessionRegistry) Fingerprint() string { return r.fingerprint }

// Update upserts the presence record for (userType, key), claiming it for
// this context. Roughly one update in a hundred also prunes records idle
// past the cutoff.
func (r *SessionRegistry) Update(userType, key string) {
	rec := RegistryRecord{
		Record:      recordTagRegistry,
		UserType:    userType,
		Key:         key,
		SessionID:   r.owner.sessionID,
		LastUpdated: r.owner.now(),
		Fingerprint: r.fingerprint,
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := r.storage.Set(registryKey(userType, key), string(raw)); err != nil {
		r.logger.Warn("registry update dropped", "user_type", userType, "key", key, "error", err)
		return
	}

	if r.sample() < pruneSampling {
		r.prune()
	}
}

// Lookup returns the presence record for (userType, key). Corrupt records
// are evicted and reported as absent.
func (r *SessionRegistry) Lookup(userType, key string) (RegistryRecord, bool) {
	sk := registryKey(userType, key)
	raw, ok := r.storage.Get(sk)
	if !ok {
		return RegistryRecord{}, false
	}

	var rec RegistryRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Record != recordTagRegistry {
		r.storage.Delete(sk)
		return RegistryRecord{}, false
	}
	return rec, true
}

// Remove deletes one presence record.
func (r *SessionRegistry) Remove(userType, key string) {
	r.storage.Delete(registryKey(userType, key))
}

// Clear removes every presence record for the user type.
func (r *SessionRegistry) Clear(userType string) {
	prefix := registryKey(userType, "")
	for _, k := range r.storage.Keys() {
		if strings.HasPrefix(k, prefix) {
			r.storage.Delete(k)
		}
	}
}

func (r *SessionRegistry) prune() {
	cutoff := r.owner.now().Add(-RegistryIdleCutoff)

	for _, k := range r.storage.Keys() {
		if !strings.HasPrefix(k, registryKeyPrefix) {
			continue
		}
		raw, ok := r.storage.Get(k)
		if !ok {
			continue
		}
		var rec RegistryRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Record != recordTagRegistry {
			r.storage.Delete(k)
			continue
		}
		if rec.LastUpdated.Before(cutoff) {
			r.storage.Delete(k)
		}
	}
}

func registryKey(userType, key string) string {
	return registryKeyPrefix + userType + ":" + key
}
