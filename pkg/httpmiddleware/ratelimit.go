package httpmiddleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests a key may make per Window.
	Max int
	// Window is the length of one counting window.
	Window time.Duration
	// KeyFunc picks the limited identity. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts matching requests, e.g. probes and payment callbacks.
	Skip func(*http.Request) bool
}

// window counts requests in the current fixed window and remembers the
// previous one; the estimate weights the previous count by how much of it
// still overlaps the sliding window ending now.
type window struct {
	start     time.Time
	count     float64
	prevCount float64
}

func (w *window) advance(now time.Time, size time.Duration) {
	start := now.Truncate(size)
	gap := start.Sub(w.start)
	if gap <= 0 {
		return
	}
	if gap == size {
		w.prevCount = w.count
	} else {
		w.prevCount = 0
	}
	w.start, w.count = start, 0
}

func (w *window) estimate(now time.Time, size time.Duration) float64 {
	overlap := 1 - float64(now.Sub(w.start))/float64(size)
	return w.prevCount*max(overlap, 0) + w.count
}

type decision struct {
	allowed   bool
	remaining int
	reset     time.Time
}

type limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	windows *ttlcache.Cache[string, *window]
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &limiter{
		cfg: cfg,
		now: time.Now,
		// A key idle for two windows has nothing left to weight.
		windows: ttlcache.New[string, *window](
			ttlcache.WithTTL[string, *window](2 * cfg.Window),
		),
	}
}

func (l *limiter) take(key string) decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	var w *window
	if item := l.windows.Get(key); item != nil {
		w = item.Value()
	} else {
		w = &window{start: now.Truncate(l.cfg.Window)}
		l.windows.Set(key, w, ttlcache.DefaultTTL)
	}
	w.advance(now, l.cfg.Window)

	d := decision{reset: w.start.Add(l.cfg.Window)}
	est := w.estimate(now, l.cfg.Window)
	if est >= float64(l.cfg.Max) {
		return d
	}
	w.count++
	d.allowed = true
	d.remaining = max(int(float64(l.cfg.Max)-est-1), 0)
	return d
}

// RateLimit limits each key to cfg.Max requests per sliding cfg.Window and
// answers excess requests with 429. Idle keys are dropped lazily; use
// RateLimitWithCleanup in long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit with background eviction of idle keys
// until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.windows.Start()
	context.AfterFunc(ctx, l.windows.Stop)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.cfg.Skip != nil && l.cfg.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		d := l.take(l.cfg.KeyFunc(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))
		if d.allowed {
			next.ServeHTTP(w, r)
			return
		}

		wait := max(d.reset.Sub(l.now()), 0)
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		h.Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write(errorBody("Too many requests. Please slow down."))
	})
}
