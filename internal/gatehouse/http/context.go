package http

import (
	"context"
	"net/http"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
	"github.com/confreg/gatehouse/pkg/tokenx"
)

type ctxKey string

const ctxKeyVerdict ctxKey = "verdict"

// WithVerdict attaches the pipeline's verdict to the request context.
func WithVerdict(ctx context.Context, v domain.Verdict) context.Context {
	return context.WithValue(ctx, ctxKeyVerdict, v)
}

// VerdictFrom returns the verdict computed by the middleware pipeline.
// CRUD handlers read this instead of touching limiter or guard state.
func VerdictFrom(ctx context.Context) (domain.Verdict, bool) {
	v, ok := ctx.Value(ctxKeyVerdict).(domain.Verdict)
	return v, ok
}

// RequireIdentity extracts the verdict identity or writes a 401 and returns
// false. Invalid tokens always fail closed.
func RequireIdentity(w http.ResponseWriter, r *http.Request) (*tokenx.Identity, bool) {
	v, ok := VerdictFrom(r.Context())
	if !ok || v.Identity == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token",
			"the bearer token is missing, malformed or expired")
		return nil, false
	}
	return v.Identity, true
}
