package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg RateLimitConfig) (*RateLimiter, *clock) {
	c := &clock{t: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(cfg)
	l.now = c.now
	return l, c
}

func do(h http.Handler, remote string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_UnderAndOverLimit(t *testing.T) {
	l, _ := newTestLimiter(RateLimitConfig{Max: 3, Window: time.Minute})
	h := l.Middleware()(okHandler())

	for i, want := range []string{"2", "1", "0"} {
		w := do(h, "10.0.0.1:1000")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
	}

	w := do(h, "10.0.0.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	d := jx.DecodeBytes(w.Body.Bytes())
	var (
		code int
		msg  string
	)
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Int()
		case "message":
			msg, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", msg)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	l, c := newTestLimiter(RateLimitConfig{Max: 4, Window: time.Minute})
	h := l.Middleware()(okHandler())

	for range 4 {
		require.Equal(t, http.StatusOK, do(h, "10.0.0.1:1").Code)
	}

	// Half of the previous window still counts: 4*0.5 = 2 of 4 used.
	c.advance(90 * time.Second)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.1:1").Code)

	// Two idle windows reset the key.
	c.advance(3 * time.Minute)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1").Code)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	h := l.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.2:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.1:5678").Code)
}

func TestRateLimiter_HeaderOrIP(t *testing.T) {
	l, _ := newTestLimiter(RateLimitConfig{Max: 1, Window: time.Minute, Key: HeaderOrIP("X-API-Key")})
	h := l.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", "X-API-Key", "a").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.2:1", "X-API-Key", "a").Code)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", "X-API-Key", "b").Code)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1").Code, "without the header the client ip is used")
}

func TestRateLimiter_XForwardedFor(t *testing.T) {
	l, _ := newTestLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	h := l.Middleware()(okHandler())

	xff := "203.0.113.50, 70.41.3.18"
	assert.Equal(t, http.StatusOK, do(h, "192.168.1.1:4444", "X-Forwarded-For", xff).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, "192.168.1.2:5555", "X-Forwarded-For", xff).Code)
}

func TestRateLimiter_Evict(t *testing.T) {
	l, c := newTestLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	h := l.Middleware()(okHandler())

	do(h, "10.0.0.1:1")
	c.advance(time.Minute)
	do(h, "10.0.0.2:1")

	c.advance(time.Minute)
	assert.Equal(t, 1, l.evict())
	assert.Len(t, l.counters, 1)
}
