package httpx

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

// RateLimitConfig defines a fixed window: at most Requests per Window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Rate limit profiles. Override with RATELIMIT_{AUTH,API}_{REQUESTS,WINDOW_SEC}.
var (
	// AuthLimit guards credential submission (brute force prevention).
	AuthLimit = RateLimitConfig{Requests: 10, Window: 15 * time.Minute}

	// APILimit applies to general authenticated traffic.
	APILimit = RateLimitConfig{Requests: 300, Window: time.Minute}
)

// ParseRateLimitFromEnv reads RATELIMIT_{prefix}_REQUESTS and
// RATELIMIT_{prefix}_WINDOW_SEC, keeping defaults for unset or invalid values.
func ParseRateLimitFromEnv(prefix string, def RateLimitConfig) RateLimitConfig {
	cfg := def

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Requests = n
		}
	}
	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if sec, err := strconv.Atoi(val); err == nil && sec > 0 {
			cfg.Window = time.Duration(sec) * time.Second
		}
	}
	return cfg
}

// Counter is a shared atomic counter store. Incr creates missing keys with
// the given ttl and returns the post-increment value.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// FixedWindow counts requests per key in wall-clock aligned windows held in
// a shared Counter, so every instance sees the same totals. Windows are not
// rolled over: up to 2x Requests can pass across a boundary.
type FixedWindow struct {
	name    string
	counter Counter
	clock   clockwork.Clock
	cfg     RateLimitConfig

	// OnDecision, when set, observes every decision.
	OnDecision func(name string, d Decision)
}

// NewFixedWindow creates a limiter. name namespaces its counter keys.
func NewFixedWindow(name string, counter Counter, clock clockwork.Clock, cfg RateLimitConfig) *FixedWindow {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FixedWindow{name: name, counter: counter, clock: clock, cfg: cfg}
}

// Name returns the limiter name.
func (l *FixedWindow) Name() string { return l.name }

// Allow counts one request for key.
func (l *FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.clock.Now()
	start := now.Truncate(l.cfg.Window)

	n, err := l.counter.Incr(ctx, l.key(key, start), l.cfg.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit %s: %w", l.name, err)
	}

	d := Decision{
		Allowed:   n <= int64(l.cfg.Requests),
		Limit:     l.cfg.Requests,
		Remaining: max(l.cfg.Requests-int(n), 0),
	}
	if !d.Allowed {
		d.RetryAfter = start.Add(l.cfg.Window).Sub(now)
	}
	if l.OnDecision != nil {
		l.OnDecision(l.name, d)
	}
	return d, nil
}

func (l *FixedWindow) key(key string, start time.Time) string {
	return "ratelimit:" + l.name + ":" + key + ":" + strconv.FormatInt(start.Unix(), 10)
}

// KeyExtractor extracts the rate limit key from the request.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor extracts the client IP address from the request.
// It honours X-Forwarded-For and X-Real-IP, so the service must sit behind
// a proxy that overwrites them.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// FallbackKeyExtractor returns the first non-empty key, prefixed with the
// index of the extractor that produced it so keys from different sources
// never collide.
func FallbackKeyExtractor(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		for i, extract := range extractors {
			if key := extract(r); key != "" {
				return strconv.Itoa(i) + ":" + key
			}
		}
		return ""
	}
}

// RateLimitMiddleware admits requests through l before the wrapped handler
// does any work. Over-limit requests get 429 with Retry-After; a counter
// store failure is a 500.
func RateLimitMiddleware(l *FixedWindow, keyFn KeyExtractor) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			key := keyFn(r)
			if key == "" {
				key = "anonymous"
			}

			d, err := l.Allow(r.Context(), key)
			if err != nil {
				log.Error("rate limit: counter store failed", "limiter", l.name, "err", err)
				WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error.")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				retryAfter := max(int(math.Ceil(d.RetryAfter.Seconds())), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Warn("rate limit exceeded",
					"limiter", l.name,
					"key", key,
					"retry_after", retryAfter,
				)
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
