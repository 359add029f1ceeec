/*
ratelimit.go - Per-client fixed-window rate limiting for the device webhook

PURPOSE:
  Caps the number of webhook requests a single client may send per minute.
  A misconfigured device replaying its buffer in a loop must not be able to
  flood the ingestion path.

ALGORITHM:
  Fixed window. The key is (client IP, minute bucket); a request is
  rejected once its key has reached the limit. Counters of older buckets
  are dropped when a new bucket starts.

CLIENT IP:
  First entry of X-Forwarded-For, else the host part of RemoteAddr.

SEE ALSO:
  - webhook.go: The only rate limited route
  - config/config.go: webhook.rate_limit
*/
package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter counts requests per client per window.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	bucket int64
	counts map[string]int
}

// NewRateLimiter allows limit requests per client per minute.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: time.Minute,
		now:    time.Now,
		counts: make(map[string]int),
	}
}

// Allow records a request from client and reports whether it is within
// the limit.
func (l *RateLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.now().UnixNano() / int64(l.window)
	if bucket != l.bucket {
		l.bucket = bucket
		clear(l.counts)
	}
	if l.counts[client] >= l.limit {
		return false
	}
	l.counts[client]++
	return true
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, WebhookResponse{
				OK:      false,
				Reason:  "rate_limit_exceeded",
				Results: []WebhookItemResult{},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
