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

// RateLimitConfig configures RateLimiter.
type RateLimitConfig struct {
	// Max requests per key and window.
	Max    int
	Window time.Duration
	// Key extracts the limited identity. Defaults to ClientIP.
	Key func(*http.Request) string
}

// counter holds the counts of the current and the previous fixed window.
// The effective count interpolates the previous one by how much of it still
// overlaps the sliding window.
type counter struct {
	start time.Time
	curr  float64
	prev  float64
}

// RateLimiter is a per-key sliding window limiter.
type RateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

// NewRateLimiter creates a RateLimiter. Call Run to evict idle keys.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Key == nil {
		cfg.Key = ClientIP
	}
	return &RateLimiter{
		cfg:      cfg,
		now:      time.Now,
		counters: make(map[string]*counter),
	}
}

// take consumes one request for key and returns the remaining budget and the
// end of the current window.
func (l *RateLimiter) take(key string) (remaining int, reset time.Time, ok bool) {
	now := l.now()
	window := l.cfg.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	c, found := l.counters[key]
	if !found {
		c = &counter{start: now.Truncate(window)}
		l.counters[key] = c
	}
	switch elapsed := now.Sub(c.start); {
	case elapsed >= 2*window:
		c.start, c.prev, c.curr = now.Truncate(window), 0, 0
	case elapsed >= window:
		c.start, c.prev, c.curr = c.start.Add(window), c.curr, 0
	}

	overlap := 1 - now.Sub(c.start).Seconds()/window.Seconds()
	effective := c.prev*math.Max(overlap, 0) + c.curr
	reset = c.start.Add(window)
	if effective >= float64(l.cfg.Max) {
		return 0, reset, false
	}
	c.curr++
	return max(l.cfg.Max-int(math.Ceil(effective+1)), 0), reset, true
}

// evict drops keys idle for two windows.
func (l *RateLimiter) evict() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	for key, c := range l.counters {
		if now.Sub(c.start) >= 2*l.cfg.Window {
			delete(l.counters, key)
			n++
		}
	}
	return n
}

// Run evicts idle keys every two windows until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.evict()
		}
	}
}

// Middleware rejects requests over the limit with 429. Every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
func (l *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, reset, ok := l.take(l.cfg.Key(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := max(reset.Sub(l.now()), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by the first X-Forwarded-For address, X-Real-IP or
// the remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HeaderOrIP keys requests by the value of header, falling back to ClientIP
// when it is absent. Used to limit per API key.
func HeaderOrIP(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return ClientIP(r)
	}
}
