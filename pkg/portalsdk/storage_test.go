package portalsdk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStorageQuota(t *testing.T) {
	t.Parallel()

	m := NewMemoryStorage(10)

	require.NoError(t, m.Set("ab", "cdef")) // 6 bytes
	require.ErrorIs(t, m.Set("gh", "ijklm"), ErrQuotaExceeded)

	// Overwriting an existing key only charges the delta.
	require.NoError(t, m.Set("ab", "cdefghij")) // 10 bytes
	require.ErrorIs(t, m.Set("ab", "cdefghijk"), ErrQuotaExceeded)

	// Deleting frees the budget back.
	m.Delete("ab")
	require.NoError(t, m.Set("gh", "ijklmnop"))
}

func TestMemoryStorageFanout(t *testing.T) {
	t.Parallel()

	m := NewMemoryStorage(0)

	ch1, cancel1 := m.Subscribe()
	ch2, cancel2 := m.Subscribe()
	defer cancel1()
	defer cancel2()

	require.NoError(t, m.Set("k", "v"))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			require.Equal(t, "k", ev.Key)
			require.Equal(t, "v", ev.Value)
			require.False(t, ev.Deleted)
		case <-time.After(time.Second):
			t.Fatal("subscriber never saw the write")
		}
	}

	m.Delete("k")
	select {
	case ev := <-ch1:
		require.True(t, ev.Deleted)
	case <-time.After(time.Second):
		t.Fatal("subscriber never saw the delete")
	}
}

func TestMemoryStorageCancelledSubscriberGetsNothing(t *testing.T) {
	t.Parallel()

	m := NewMemoryStorage(0)

	ch, cancel := m.Subscribe()
	cancel()
	cancel() // idempotent

	require.NoError(t, m.Set("k", "v"))

	_, open := <-ch
	require.False(t, open)
}

func TestMemoryStorageKeys(t *testing.T) {
	t.Parallel()

	m := NewMemoryStorage(0)
	require.NoError(t, m.Set("a", "1"))
	require.NoError(t, m.Set("b", "2"))

	require.ElementsMatch(t, []string{"a", "b"}, m.Keys())
}
