package httpmiddleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LimitStore counts requests per key and window.
type LimitStore interface {
	// Hit records one request for key at now and returns the number of
	// requests seen in the current window, including this one, together
	// with the time the window resets.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, resetAt time.Time, err error)
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
	// Store holds the counters. If nil, an in-process MemoryStore is used,
	// which limits each replica independently.
	Store LimitStore
}

// RateLimit returns a middleware that enforces a per-key request limit. Over
// the limit it responds with 429 and a JSON body. Every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset headers.
// When the store fails the request is let through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			count, resetAt, err := cfg.Store.Hit(r.Context(), cfg.KeyFunc(r), cfg.Window, now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit store failed, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := max(int64(cfg.Max)-count, 0)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if count > int64(cfg.Max) {
				retryAfter := max(resetAt.Sub(now), 0)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))

				var e jx.Encoder
				e.ObjStart()
				e.FieldStart("code")
				e.Int(http.StatusTooManyRequests)
				e.FieldStart("message")
				e.Str("rate limit exceeded")
				e.ObjEnd()

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write(e.Bytes())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type window struct {
	start time.Time
	count int64
}

// MemoryStore is an in-process LimitStore. A key's window starts at its first
// request. Expired windows are swept on access.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Hit implements LimitStore.
func (s *MemoryStore) Hit(_ context.Context, key string, size time.Duration, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= size {
		for k, w := range s.windows {
			if now.Sub(w.start) >= size {
				delete(s.windows, k)
			}
		}
		s.lastSweep = now
	}

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= size {
		w = &window{start: now}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.start.Add(size), nil
}

// RedisStore is a LimitStore shared by all replicas. Windows are aligned to
// multiples of the window size.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a RedisStore whose keys start with prefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Hit implements LimitStore.
func (s *RedisStore) Hit(ctx context.Context, key string, size time.Duration, now time.Time) (int64, time.Time, error) {
	start := now.Truncate(size)
	bucket := s.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, bucket)
		p.PExpire(ctx, bucket, size)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("incrementing rate limit bucket %q: %w", bucket, err)
	}
	return incr.Val(), start.Add(size), nil
}

// clientIP extracts the client IP from the request, checking
// X-Forwarded-For first, then X-Real-IP, then falling back to RemoteAddr.
func clientIP(r *http.Request) string {
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
