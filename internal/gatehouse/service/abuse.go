package service

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
	"github.com/confreg/gatehouse/internal/gatehouse/store"
	"github.com/confreg/gatehouse/pkg/slogx"
)

const (
	// MaxBodyBytes is the hard cap on request bodies.
	MaxBodyBytes = 10 << 20 // 10MB

	// MaxHeaderValueLen rejects abnormally long header values.
	MaxHeaderValueLen = 1000

	// FallbackRetryAfter is reported when the block list is unreadable and
	// the guard has to fail closed without knowing the real block window.
	FallbackRetryAfter = time.Minute
)

// suspiciousPatterns cover path traversal, script and SQL injection
// signatures, and protocol-smuggling strings. Matched case-insensitively
// against the raw request path.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.\.[/\\]`),
	regexp.MustCompile(`(?i)%2e%2e`),
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\bon(error|load|click)\s*=`),
	regexp.MustCompile(`(?i)\bunion\b.+\bselect\b`),
	regexp.MustCompile(`(?i)\bdrop\s+table\b`),
	regexp.MustCompile(`(?i)'\s*or\s+'?1'?\s*=\s*'?1`),
	regexp.MustCompile(`(?i);\s*--`),
	regexp.MustCompile(`[\r\n]`),
	regexp.MustCompile(`(?i)%0d%0a`),
}

// AbuseGuard screens requests for attack signatures and maintains the
// persistent block list. Unlike the rate limiter it fails CLOSED: if the
// block list cannot be read, the caller is treated as blocked.
type AbuseGuard struct {
	Store store.Store

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (g *AbuseGuard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

// IsSuspicious checks the path and header values for attack signatures.
// It returns the matched category so the response can carry a reason.
func (g *AbuseGuard) IsSuspicious(path string, headers http.Header) (bool, string) {
	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(path) {
			return true, "suspicious_pattern"
		}
	}

	for _, values := range headers {
		for _, v := range values {
			if len(v) > MaxHeaderValueLen {
				return true, "oversized_header"
			}
		}
	}

	return false, ""
}

// IsTooLarge reports whether a declared content length exceeds the body cap.
func (g *AbuseGuard) IsTooLarge(contentLength int64) bool {
	return contentLength > MaxBodyBytes
}

// IsBlocked reports whether the identifier is currently blocked and for how
// much longer. A store failure counts as blocked (fail closed) with a
// fallback retry window.
func (g *AbuseGuard) IsBlocked(ctx context.Context, identifier string) (bool, time.Duration) {
	entry, err := g.Store.Blocks().Get(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, 0
		}
		slogx.FromContext(ctx).Error("block list read failed, failing closed",
			"identifier", identifier, "error", err)
		return true, FallbackRetryAfter
	}

	now := g.now()
	if !entry.Active(now) {
		return false, 0
	}
	return true, entry.RetryAfter(now)
}

// Block adds or extends a block entry for the identifier.
func (g *AbuseGuard) Block(ctx context.Context, identifier string, duration time.Duration, reason string) error {
	now := g.now()
	err := g.Store.Blocks().Upsert(ctx, domain.BlockEntry{
		Identifier:   identifier,
		BlockedUntil: now.Add(duration),
		Reason:       reason,
		CreatedAt:    now,
	})
	if err != nil {
		slogx.FromContext(ctx).Error("block upsert failed",
			"identifier", identifier, "reason", reason, "error", err)
		return err
	}

	slogx.FromContext(ctx).Warn("identifier blocked",
		"identifier", identifier, "reason", reason, "duration", duration)
	return nil
}
