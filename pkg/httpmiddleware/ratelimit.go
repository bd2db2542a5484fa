package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter. Max hits
// are allowed per Window for each key; both must be positive.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

// window counts hits in the current fixed window and remembers the previous
// one; the estimate weights the previous count by its remaining overlap.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// Limiter is a sliding window rate limiter keyed by client. It approximates
// a true sliding window with two fixed windows, weighting the previous
// window's count by how much of it still overlaps the sliding one. Memory is
// one small record per active key.
//
// A Limiter is safe for concurrent use.
type Limiter struct {
	max    int
	period time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

// NewLimiter returns a Limiter that allows limit hits per period for each
// key. Idle keys are kept until Prune or RunPruner removes them.
func NewLimiter(limit int, period time.Duration) *Limiter {
	return &Limiter{
		max:     limit,
		period:  period,
		windows: make(map[string]*window),
	}
}

// Allow records a hit for key at now. It reports whether the hit is within
// the limit, how many hits remain and when the current window ends.
func (l *Limiter) Allow(key string, now time.Time) (ok bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.period)
	w, found := l.windows[key]
	switch {
	case !found:
		w = &window{start: start}
		l.windows[key] = w
	case start.Sub(w.start) >= 2*l.period:
		*w = window{start: start}
	case !start.Equal(w.start):
		*w = window{start: start, prev: w.curr}
	}

	overlap := 1 - float64(now.Sub(w.start))/float64(l.period)
	estimate := w.prev*math.Max(overlap, 0) + w.curr
	reset = w.start.Add(l.period)
	if estimate >= float64(l.max) {
		return false, 0, reset
	}
	w.curr++
	return true, max(int(float64(l.max)-estimate-1), 0), reset
}

// Prune forgets keys that have not been seen for two windows. Their counts
// could no longer affect a decision, so dropping them is lossless.
func (l *Limiter) Prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.period {
			delete(l.windows, key)
		}
	}
}

// RunPruner calls Prune every two windows until ctx is done. It blocks, so
// run it on its own goroutine.
func (l *Limiter) RunPruner(ctx context.Context) {
	t := time.NewTicker(2 * l.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.Prune(now)
		}
	}
}

// RateLimit returns a middleware that enforces a per-client sliding window
// limit. Clients over the limit get 429 Too Many Requests with the API's JSON
// error body. Every response carries X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset.
//
// A pruning goroutine evicts idle clients until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewLimiter(cfg.Max, cfg.Window)
	go l.RunPruner(ctx)
	return RateLimitWith(l, cfg.KeyFunc)
}

// RateLimitWith returns a middleware that enforces an existing Limiter, so
// several handlers can share one budget. keyFunc identifies the client and
// defaults to ClientIP. Rejected requests get a Retry-After header with the
// seconds until the current window ends.
func RateLimitWith(l *Limiter, keyFunc func(*http.Request) string) Middleware {
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	limit := strconv.Itoa(l.max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			ok, remaining, reset := l.Allow(keyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := math.Ceil(max(reset.Sub(now), 0).Seconds())
				h.Set("Retry-After", strconv.Itoa(int(wait)))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP identifies the client of r for rate limiting. It prefers the first
// X-Forwarded-For hop, then X-Real-IP, then the host part of RemoteAddr.
//
// Forwarding headers are trusted as sent. Deploy behind a proxy that
// overwrites them, or supply a KeyFunc that does not read them.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
