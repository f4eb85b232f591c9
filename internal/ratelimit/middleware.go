package ratelimit

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/relaywing/relaywing/internal/claude"
)

// Middleware wraps an HTTP handler with per-client rate limiting. Clients are
// keyed by their x-api-key header when present, otherwise by remote address.
type Middleware struct {
	limiter  *Limiter
	enabled  bool
	logger   *log.Logger
	onReject func()
}

// NewMiddleware creates a rate limiting middleware. onReject fires for each
// rejected request; pass nil when no accounting is needed.
func NewMiddleware(limiter *Limiter, enabled bool, logger *log.Logger, onReject func()) *Middleware {
	return &Middleware{
		limiter:  limiter,
		enabled:  enabled,
		logger:   logger,
		onReject: onReject,
	}
}

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		if !m.limiter.Allow(r.Context(), key) {
			m.addRateLimitHeaders(w, r, key)

			if m.logger != nil {
				m.logger.Printf("[WARN] rate limit exceeded: path=%s", r.URL.Path)
			}
			if m.onReject != nil {
				m.onReject()
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(claude.NewErrorEnvelope(
				"rate_limit_error", "Rate limit exceeded. Please try again later."))
			return
		}

		m.addRateLimitHeaders(w, r, key)
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller. API keys take precedence over addresses so
// a keyed client behind a shared NAT gets its own bucket.
func clientKey(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// addRateLimitHeaders adds standard rate limit headers to the response.
// See: https://datatracker.ietf.org/doc/html/draft-polli-ratelimit-headers
func (m *Middleware) addRateLimitHeaders(w http.ResponseWriter, r *http.Request, key string) {
	remaining := m.limiter.Remaining(r.Context(), key)
	limit := m.limiter.capacity

	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", remaining))

	if remaining < limit {
		resetTime := time.Now().Add(m.calculateResetDuration(remaining, limit))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
	}
}

// calculateResetDuration estimates when the bucket will be full again.
func (m *Middleware) calculateResetDuration(remaining, limit float64) time.Duration {
	secondsNeeded := (limit - remaining) / m.limiter.refillRate
	return time.Duration(secondsNeeded * float64(time.Second))
}
