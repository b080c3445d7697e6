package service

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
	"github.com/confreg/gatehouse/internal/gatehouse/store"
	"github.com/confreg/gatehouse/pkg/idx"
	"github.com/confreg/gatehouse/pkg/slogx"
)

// RatePolicy defines the request budget for one endpoint category.
type RatePolicy struct {
	// MaxRequests is the number of requests allowed in the window.
	MaxRequests int
	// Window is the trailing interval the budget applies to.
	Window time.Duration
}

// Per-category policies. Login endpoints get the tightest budget (brute
// force prevention), bulk endpoints are throttled hard because each request
// is expensive, admin traffic is trusted further.
// Override via env: RATELIMIT_{LOGIN,BULK,ADMIN,DEFAULT}_{REQUESTS,WINDOW_SEC}
var (
	LoginPolicy   = RatePolicy{MaxRequests: 5, Window: time.Minute}
	BulkPolicy    = RatePolicy{MaxRequests: 3, Window: 5 * time.Minute}
	AdminPolicy   = RatePolicy{MaxRequests: 100, Window: time.Minute}
	DefaultPolicy = RatePolicy{MaxRequests: 60, Window: time.Minute}
)

func init() {
	LoginPolicy = ParseRatePolicyFromEnv("LOGIN", LoginPolicy)
	BulkPolicy = ParseRatePolicyFromEnv("BULK", BulkPolicy)
	AdminPolicy = ParseRatePolicyFromEnv("ADMIN", AdminPolicy)
	DefaultPolicy = ParseRatePolicyFromEnv("DEFAULT", DefaultPolicy)
}

// ParseRatePolicyFromEnv reads a policy override from environment variables
// following the pattern RATELIMIT_{prefix}_{field}. Useful for testing and
// per-deployment tuning.
func ParseRatePolicyFromEnv(prefix string, defaultPolicy RatePolicy) RatePolicy {
	policy := defaultPolicy

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			policy.MaxRequests = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			policy.Window = time.Duration(windowSec) * time.Second
		}
	}

	return policy
}

// PolicyFor classifies a request path into its endpoint category.
func PolicyFor(path string) RatePolicy {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "/login") || strings.Contains(lower, "/auth"):
		return LoginPolicy
	case strings.Contains(lower, "/import") || strings.Contains(lower, "/upload") || strings.Contains(lower, "/bulk"):
		return BulkPolicy
	case strings.Contains(lower, "/admin"):
		return AdminPolicy
	default:
		return DefaultPolicy
	}
}

// ForBot quarters the budget for callers with bot-like signatures. The
// window is unchanged; the limit never drops below one.
func (p RatePolicy) ForBot() RatePolicy {
	limit := p.MaxRequests / 4
	if limit < 1 {
		limit = 1
	}
	return RatePolicy{MaxRequests: limit, Window: p.Window}
}

var botSignatures = []string{
	"bot", "crawler", "spider", "scraper",
	"curl/", "wget/", "python-requests", "scrapy", "headless",
}

// IsBotLike reports whether a User-Agent matches known automated-client
// signatures. An empty User-Agent also counts.
func IsBotLike(userAgent string) bool {
	if strings.TrimSpace(userAgent) == "" {
		return true
	}
	lower := strings.ToLower(userAgent)
	for _, sig := range botSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// RateResult is the outcome of one rate check.
type RateResult struct {
	Allowed      bool
	Limit        int
	Remaining    int
	ResetAt      time.Time
	CurrentCount int
}

// RateLimiter counts requests per (identifier, endpoint) against a
// persistent log using a sliding window. The count-then-insert sequence is
// deliberately not transactional: two concurrent requests may both observe a
// count below the limit and both proceed. That overshoot is an accepted
// property of the approximate window.
//
// The limiter fails OPEN: if the store errors, the request is allowed and
// the failure logged. Availability wins over strict enforcement here; the
// abuse guard is the component that fails closed.
type RateLimiter struct {
	Store store.Store

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (l *RateLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// Check counts prior requests for (identifier, endpoint) within the window,
// records the current request, and reports whether the prior count was under
// the limit.
func (l *RateLimiter) Check(
	ctx context.Context,
	identifier string,
	maxRequests int,
	window time.Duration,
	endpoint string,
) RateResult {
	return l.check(ctx, identifier, "", endpoint, RatePolicy{MaxRequests: maxRequests, Window: window})
}

// CheckRequest applies the tiered policy for the path, quartered for
// bot-like callers.
func (l *RateLimiter) CheckRequest(
	ctx context.Context,
	identifier, method, path, userAgent string,
) RateResult {
	policy := PolicyFor(path)
	if IsBotLike(userAgent) {
		policy = policy.ForBot()
	}
	return l.check(ctx, identifier, method, path, policy)
}

func (l *RateLimiter) check(
	ctx context.Context,
	identifier, method, endpoint string,
	policy RatePolicy,
) RateResult {
	log := slogx.FromContext(ctx)
	now := l.now()

	open := RateResult{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests,
		ResetAt:   now.Add(policy.Window),
	}

	count, err := l.Store.RequestLog().CountSince(ctx, identifier, endpoint, now.Add(-policy.Window))
	if err != nil {
		log.Error("rate limit count failed, failing open", "identifier", identifier, "error", err)
		return open
	}

	err = l.Store.RequestLog().Insert(ctx, domain.RateWindowEntry{
		ID:         idx.New().String(),
		Identifier: identifier,
		Endpoint:   endpoint,
		Method:     method,
		CreatedAt:  now,
	})
	if err != nil {
		log.Error("rate limit insert failed, failing open", "identifier", identifier, "error", err)
		return open
	}

	remaining := policy.MaxRequests - count - 1
	if remaining < 0 {
		remaining = 0
	}

	return RateResult{
		Allowed:      count < policy.MaxRequests,
		Limit:        policy.MaxRequests,
		Remaining:    remaining,
		ResetAt:      now.Add(policy.Window),
		CurrentCount: count + 1,
	}
}
