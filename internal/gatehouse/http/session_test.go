package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/confreg/gatehouse/internal/gatehouse/store"
)

func newTestRouter(t *testing.T) (*Router, *Gate, store.Store) {
	t.Helper()

	g, st := newTestGate(t)
	return NewRouter(g, st, "test", g.Logger), g, st
}

func doJSON(t *testing.T, h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHeartbeatTouchesSession(t *testing.T) {
	t.Parallel()

	router, g, st := newTestRouter(t)
	token := g.Codec.Issue("REF001", "attendee")

	rec := doJSON(t, router, http.MethodPost, "/api/session/heartbeat", token,
		`{"session_id":"sess-1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The row exists and is fresh, so a stale sweep must not remove it.
	removed, err := st.Sessions().DeleteStale(context.Background(),
		time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Zero(t, removed)

	// But a sweep with a future cutoff does, proving the row was written.
	removed, err = st.Sessions().DeleteStale(context.Background(),
		time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestHeartbeatRequiresToken(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/session/heartbeat", "",
		`{"session_id":"sess-1"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHeartbeatRejectsEmptySessionID(t *testing.T) {
	t.Parallel()

	router, g, _ := newTestRouter(t)
	token := g.Codec.Issue("REF001", "attendee")

	rec := doJSON(t, router, http.MethodPost, "/api/session/heartbeat", token, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutRemovesSession(t *testing.T) {
	t.Parallel()

	router, g, st := newTestRouter(t)
	token := g.Codec.Issue("REF001", "attendee")

	rec := doJSON(t, router, http.MethodPost, "/api/session/heartbeat", token,
		`{"session_id":"sess-1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/session", token,
		`{"session_id":"sess-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	removed, err := st.Sessions().DeleteStale(context.Background(),
		time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestLivezAndReadyz(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/livez", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}
