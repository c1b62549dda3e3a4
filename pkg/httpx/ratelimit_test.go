package httpx_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/pkg/httpx"
)

type mapCounter struct {
	mu   sync.Mutex
	vals map[string]int64
	err  error
}

func (c *mapCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	if c.vals == nil {
		c.vals = map[string]int64{}
	}
	c.vals[key]++
	return c.vals[key], nil
}

func TestIPKeyExtractor(t *testing.T) {
	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		require.Equal(t, "192.168.1.1", httpx.IPKeyExtractor(req))
	})

	t.Run("prefers X-Forwarded-For", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1, 192.168.1.1")
		require.Equal(t, "203.0.113.1", httpx.IPKeyExtractor(req))
	})

	t.Run("uses X-Real-IP if X-Forwarded-For absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Real-IP", "203.0.113.2")
		require.Equal(t, "203.0.113.2", httpx.IPKeyExtractor(req))
	})
}

func TestFallbackKeyExtractor(t *testing.T) {
	empty := func(*http.Request) string { return "" }
	user := func(*http.Request) string { return "user1" }
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1"

	require.Equal(t, "1:user1", httpx.FallbackKeyExtractor(empty, user, httpx.IPKeyExtractor)(req))
	require.Equal(t, "1:10.0.0.1", httpx.FallbackKeyExtractor(empty, httpx.IPKeyExtractor)(req))
	require.Equal(t, "", httpx.FallbackKeyExtractor(empty)(req))
}

func TestParseRateLimitFromEnv(t *testing.T) {
	t.Setenv("RATELIMIT_TEST_REQUESTS", "42")
	t.Setenv("RATELIMIT_TEST_WINDOW_SEC", "90")
	t.Setenv("RATELIMIT_BAD_REQUESTS", "-1")
	t.Setenv("RATELIMIT_BAD_WINDOW_SEC", "soon")

	def := httpx.RateLimitConfig{Requests: 10, Window: 15 * time.Minute}

	got := httpx.ParseRateLimitFromEnv("TEST", def)
	require.Equal(t, httpx.RateLimitConfig{Requests: 42, Window: 90 * time.Second}, got)

	require.Equal(t, def, httpx.ParseRateLimitFromEnv("BAD", def))
	require.Equal(t, def, httpx.ParseRateLimitFromEnv("UNSET", def))
}

func TestDefaultProfiles(t *testing.T) {
	require.Equal(t, 10, httpx.AuthLimit.Requests)
	require.Equal(t, 15*time.Minute, httpx.AuthLimit.Window)
	require.Less(t, float64(httpx.AuthLimit.Requests)/httpx.AuthLimit.Window.Minutes(),
		float64(httpx.APILimit.Requests)/httpx.APILimit.Window.Minutes(),
		"auth window must be stricter than the general API window")
}

func TestFixedWindow_TripsAndResets(t *testing.T) {
	// 12:07:00 is 7 minutes into the 12:00 15-minute window.
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 7, 0, 0, time.UTC))
	l := httpx.NewFixedWindow("auth", &mapCounter{}, clock, httpx.AuthLimit)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d, err := l.Allow(ctx, "203.0.113.9")
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i)
		require.Equal(t, 10-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.False(t, d.Allowed, "11th attempt must be rejected")
	require.Equal(t, 8*time.Minute, d.RetryAfter)

	other, err := l.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	require.True(t, other.Allowed, "limits are per key")

	clock.Advance(d.RetryAfter)
	d, err = l.Allow(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.True(t, d.Allowed, "new window admits again")
	require.Equal(t, 9, d.Remaining)
}

func TestFixedWindow_OnDecision(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := httpx.NewFixedWindow("api", &mapCounter{}, clock, httpx.RateLimitConfig{Requests: 1, Window: time.Minute})

	var rejected int
	l.OnDecision = func(name string, d httpx.Decision) {
		require.Equal(t, "api", name)
		if !d.Allowed {
			rejected++
		}
	}
	_, _ = l.Allow(context.Background(), "k")
	_, _ = l.Allow(context.Background(), "k")
	require.Equal(t, 1, rejected)
}

func TestRateLimitMiddleware(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC))
	l := httpx.NewFixedWindow("api", &mapCounter{}, clock, httpx.RateLimitConfig{Requests: 2, Window: time.Minute})

	var calls int
	h := httpx.RateLimitMiddleware(l, httpx.IPKeyExtractor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
		req.RemoteAddr = "10.1.1.1:5555"
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, do().Code)
	rec := do()
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "30", rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), `"error":"rate_limited"`)
	require.Equal(t, 2, calls, "rejected request must not reach the handler")
}

func TestRateLimitMiddleware_CounterFailure(t *testing.T) {
	l := httpx.NewFixedWindow("api", &mapCounter{err: errors.New("connection refused")}, nil, httpx.APILimit)

	h := httpx.RateLimitMiddleware(l, httpx.IPKeyExtractor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
}
