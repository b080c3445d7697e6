package portalsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientParsesErrorEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "rate_limit_exceeded",
			"error_description": "too many requests, please try again later",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Do(context.Background(), http.MethodGet, "/api/rooms", "", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	require.Equal(t, "rate_limit_exceeded", apiErr.Code)
}

func TestClientDeduplicatesConcurrentRequests(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte(`{"rooms":[]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Do(context.Background(), http.MethodGet, "/api/rooms", "", nil)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}()
	}
	wg.Wait()

	// The four calls started within the one round trip's window; most, if
	// not all, share it.
	require.Less(t, hits.Load(), int32(4))
}

func TestClientMarksOfflineOnTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	client := NewClient(srv.URL)

	_, err := client.Do(context.Background(), http.MethodGet, "/api/rooms", "", nil)
	require.NoError(t, err)
	require.True(t, client.Monitor.Online())

	srv.Close()

	_, err = client.Do(context.Background(), http.MethodGet, "/api/rooms", "", nil)
	require.Error(t, err)
	require.False(t, client.Monitor.Online())
}

func TestClientHeartbeatAndLogout(t *testing.T) {
	t.Parallel()

	type seen struct {
		method, path, auth string
		body               map[string]string
	}
	requests := make(chan seen, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests <- seen{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			body:   body,
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, client.Heartbeat(ctx, "attendee-token-abc", "sess-1", "attendee"))
	got := <-requests
	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "/api/session/heartbeat", got.path)
	require.Equal(t, "Bearer attendee-token-abc", got.auth)
	require.Equal(t, "sess-1", got.body["session_id"])
	require.Equal(t, "attendee", got.body["user_type"])

	require.NoError(t, client.Logout(ctx, "attendee-token-abc", "sess-1"))
	got = <-requests
	require.Equal(t, http.MethodDelete, got.method)
	require.Equal(t, "/api/session", got.path)
	require.Equal(t, "sess-1", got.body["session_id"])
}
