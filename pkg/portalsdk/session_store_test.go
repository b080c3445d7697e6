package portalsdk

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	return func() time.Time { return current },
		func(d time.Duration) { current = current.Add(d) }
}

func TestSessionStoreRoundTrip(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage(0)
	store := NewSessionStore(storage)

	require.NoError(t, store.Set("token", "abc123", "attendee"))
	require.Equal(t, "abc123", store.Get("token", "attendee"))

	// User types are namespaced; the admin bucket is untouched.
	require.Empty(t, store.Get("token", "admin"))
}

func TestSessionStoreRollingExpiry(t *testing.T) {
	t.Parallel()

	now, advance := testClock(time.Unix(1_700_000_000, 0))
	store := NewSessionStore(NewMemoryStorage(0), WithClock(now))

	require.NoError(t, store.Set("token", "abc123", "attendee"))

	// Reads inside the window extend it.
	advance(90 * time.Minute)
	require.Equal(t, "abc123", store.Get("token", "attendee"))
	advance(90 * time.Minute)
	require.Equal(t, "abc123", store.Get("token", "attendee"))

	// Left alone past the window, the entry is evicted on read.
	advance(2*time.Hour + time.Second)
	require.Empty(t, store.Get("token", "attendee"))
}

func TestSessionStoreAbsoluteAgeCap(t *testing.T) {
	t.Parallel()

	now, advance := testClock(time.Unix(1_700_000_000, 0))
	store := NewSessionStore(NewMemoryStorage(0), WithClock(now))

	require.NoError(t, store.Set("token", "abc123", "attendee"))

	// Constant activity cannot keep an entry alive past the cap.
	for i := 0; i < 24; i++ {
		advance(time.Hour)
		store.Get("token", "attendee")
	}
	advance(time.Hour)
	require.Empty(t, store.Get("token", "attendee"))
}

func TestSessionStoreEvictsCorruptEntries(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage(0)
	store := NewSessionStore(storage)

	require.NoError(t, storage.Set(storageKey("attendee", "token"), "{not json"))
	require.Empty(t, store.Get("token", "attendee"))

	// The corrupt entry is gone, not just hidden.
	_, ok := storage.Get(storageKey("attendee", "token"))
	require.False(t, ok)
}

func TestSessionStoreEvictsWrongRecordTag(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage(0)
	store := NewSessionStore(storage)

	require.NoError(t, storage.Set(storageKey("attendee", "token"),
		`{"record":"registry","value":"abc"}`))
	require.Empty(t, store.Get("token", "attendee"))
}

func TestSessionStoreQuotaFailureSweepsWithoutRetry(t *testing.T) {
	t.Parallel()

	now, advance := testClock(time.Unix(1_700_000_000, 0))
	storage := NewMemoryStorage(1200)
	store := NewSessionStore(storage, WithClock(now))

	require.NoError(t, store.Set("a", "first-value", "attendee"))
	advance(time.Minute)
	require.NoError(t, store.Set("b", "second-value", "attendee"))
	advance(time.Minute)

	// This write does not fit. It must fail, and must not appear even after
	// the sweep frees space: the write is never retried.
	err := store.Set("c", strings.Repeat("x", 2000), "attendee")
	require.Error(t, err)
	require.Empty(t, store.Get("c", "attendee"))

	// The sweep dropped the oldest live entry.
	require.Empty(t, store.Get("a", "attendee"))
	require.Equal(t, "second-value", store.Get("b", "attendee"))
}

func TestSessionStoreClear(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(NewMemoryStorage(0))

	require.NoError(t, store.Set("token", "t1", "attendee"))
	require.NoError(t, store.Set("profile", "p1", "attendee"))
	require.NoError(t, store.Set("token", "t2", "admin"))

	store.Clear("attendee")

	require.Empty(t, store.Get("token", "attendee"))
	require.Empty(t, store.Get("profile", "attendee"))
	require.Equal(t, "t2", store.Get("token", "admin"))
}

func TestSessionStoreTokenConvenience(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(NewMemoryStorage(0))

	require.NoError(t, store.SetToken("admin", "admin-token-xyz"))
	require.Equal(t, "admin-token-xyz", store.GetToken("admin"))

	store.ClearToken("admin")
	require.Empty(t, store.GetToken("admin"))
}

func TestSessionStoreSetUpdatesRegistry(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(NewMemoryStorage(0))

	require.NoError(t, store.SetToken("attendee", "tok"))

	rec, ok := store.Registry().Lookup("attendee", "token")
	require.True(t, ok)
	require.Equal(t, store.SessionID(), rec.SessionID)
	require.NotEmpty(t, rec.Fingerprint)
}
