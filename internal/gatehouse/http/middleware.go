package http

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
	"github.com/confreg/gatehouse/internal/gatehouse/service"
	"github.com/confreg/gatehouse/internal/gatehouse/store"
	"github.com/confreg/gatehouse/pkg/httpx"
	"github.com/confreg/gatehouse/pkg/idx"
	"github.com/confreg/gatehouse/pkg/slogx"
	"github.com/confreg/gatehouse/pkg/tokenx"
)

const (
	// SuspiciousBlockDuration is applied when a request trips an attack
	// signature.
	SuspiciousBlockDuration = 5 * time.Minute

	// AbuseBlockDuration is applied when a caller keeps hammering past
	// twice their rate budget.
	AbuseBlockDuration = 10 * time.Minute

	// defaultCleanupSampling is the fraction of requests that trigger an
	// opportunistic background cleanup sweep.
	defaultCleanupSampling = 0.01
)

// Gate is the per-request pipeline every inbound API call passes through
// before reaching a CRUD handler: abuse screening, block list, tiered rate
// limiting, token verdict, response headers and panic containment. The
// pipeline is stateless per invocation; the store is the only shared state.
type Gate struct {
	Limiter      *service.RateLimiter
	Guard        *service.AbuseGuard
	Codec        *tokenx.Codec
	Errors       store.Errors
	Housekeeping *service.HousekeepingService
	Logger       *slog.Logger

	// Roles the codec will accept as token prefixes.
	// Defaults to admin and attendee.
	Roles []string

	// AllowedOrigins for CORS. Empty means same-origin only.
	AllowedOrigins []string

	// CleanupSampling overrides the cleanup trigger probability; zero means
	// the default 1%.
	CleanupSampling float64
}

func (g *Gate) roles() []string {
	if len(g.Roles) > 0 {
		return g.Roles
	}
	return []string{"admin", "attendee"}
}

// Middleware returns the pipeline as a composable middleware. Static and
// other non-API paths bypass it entirely.
func (g *Gate) Middleware() httpx.Middleware {
	sampling := g.CleanupSampling
	if sampling <= 0 {
		sampling = defaultCleanupSampling
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAPIPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = idx.New().String()
			}

			ctx := slogx.WithContext(r.Context(), g.Logger)
			ctx = slogx.WithRequestID(ctx, reqID)
			log := slogx.FromContext(ctx)
			r = r.WithContext(ctx)

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK, start: start}

			w.Header().Set("X-Request-ID", reqID)
			httpx.SecurityHeaders(w)
			httpx.CORSHeaders(w, r, g.AllowedOrigins)
			httpx.NoCache(w)

			// Registered before the recover defer so it runs after it and
			// logs the final status, panic or not.
			defer func() {
				log.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", rw.status,
					"duration_ms", time.Since(start).Milliseconds(),
					"user_agent", r.UserAgent(),
				)

				if g.Housekeeping != nil && rand.Float64() < sampling {
					go g.Housekeeping.RunOnce(context.Background())
				}
			}()

			defer func() {
				if rec := recover(); rec != nil {
					g.recordPanic(ctx, r, reqID, rec)
					if !rw.wroteHeader {
						httpx.WriteJSON(rw, http.StatusInternalServerError, map[string]string{
							"error":          "internal_error",
							"correlation_id": reqID,
						})
					}
				}
			}()

			identifier := httpx.ClientIP(r)

			if hit, reason := g.Guard.IsSuspicious(r.URL.RequestURI(), r.Header); hit {
				_ = g.Guard.Block(ctx, identifier, SuspiciousBlockDuration, reason)
				w.Header().Set("X-Blocked-Reason", reason)
				writeError(rw, http.StatusForbidden, "suspicious_request",
					"the request matches a known attack signature")
				return
			}

			if g.Guard.IsTooLarge(r.ContentLength) {
				writeError(rw, http.StatusRequestEntityTooLarge, "payload_too_large",
					fmt.Sprintf("request bodies are capped at %d bytes", service.MaxBodyBytes))
				return
			}

			if blocked, retryAfter := g.Guard.IsBlocked(ctx, identifier); blocked {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
				writeError(rw, http.StatusTooManyRequests, "blocked",
					"this client is temporarily blocked")
				return
			}

			res := g.Limiter.CheckRequest(ctx, identifier, r.Method, r.URL.Path, r.UserAgent())
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				// Persistent hammering well past the budget earns a block on
				// top of the 429.
				if res.CurrentCount >= 2*res.Limit {
					_ = g.Guard.Block(ctx, identifier, AbuseBlockDuration, "rate_limit_abuse")
				}

				retryAfter := retryAfterSeconds(time.Until(res.ResetAt))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Warn("rate limit exceeded",
					"identifier", identifier,
					"endpoint", r.URL.Path,
					"count", res.CurrentCount,
					"limit", res.Limit,
				)

				writeError(rw, http.StatusTooManyRequests, "rate_limit_exceeded",
					"too many requests, please try again later")
				return
			}

			r = r.WithContext(WithVerdict(r.Context(), g.verdict(r)))
			next.ServeHTTP(rw, r)
		})
	}
}

// verdict computes the identity verdict for downstream handlers. An absent
// or invalid token yields a nil identity, never an error: protected handlers
// decide whether that is a 401.
func (g *Gate) verdict(r *http.Request) domain.Verdict {
	v := domain.Verdict{Allowed: true}

	authz := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok {
		return v
	}
	raw = strings.TrimSpace(raw)

	// The role rides in front of the opaque payload; only known roles are
	// attempted against the codec.
	role, _, found := strings.Cut(raw, "-token-")
	if !found {
		return v
	}
	for _, allowed := range g.roles() {
		if role == allowed {
			if id, valid := g.Codec.Validate(raw, role); valid {
				v.Identity = id
			}
			break
		}
	}

	return v
}

func (g *Gate) recordPanic(ctx context.Context, r *http.Request, correlationID string, rec any) {
	detail := fmt.Sprintf("panic: %v", rec)

	slogx.FromContext(ctx).Error("unhandled panic in request pipeline",
		"correlation_id", correlationID,
		"method", r.Method,
		"path", r.URL.Path,
		"panic", rec,
	)

	if g.Errors == nil {
		return
	}
	// Best effort; the client already gets the correlation id either way.
	_ = g.Errors.Insert(ctx, domain.ErrorRecord{
		ID:            idx.New().String(),
		CorrelationID: correlationID,
		Path:          r.URL.Path,
		Method:        r.Method,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(d.Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// responseWriter records the status and stamps X-Response-Time when the
// first header is written, since headers are immutable afterwards.
type responseWriter struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
	start       time.Time
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.status = code
	rw.Header().Set("X-Response-Time", strconv.FormatInt(time.Since(rw.start).Milliseconds(), 10)+"ms")
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
