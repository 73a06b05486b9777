package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration, time.Time) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("redis: connection refused")
}

// --- Helpers ---

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- Tests ---

func TestRateLimit_UnderLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

	for i := range 5 {
		w := hit(h, "192.168.1.1:12345", nil)

		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(4-i), w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:9999", nil).Code)
	}

	w := hit(h, "10.0.0.1:9999", nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_Keys(t *testing.T) {
	tests := []struct {
		name    string
		keyFunc func(*http.Request) string
		first   func(http.Handler) *httptest.ResponseRecorder
		second  func(http.Handler) *httptest.ResponseRecorder
		limited bool
	}{
		{
			name:    "different ips are independent",
			first:   func(h http.Handler) *httptest.ResponseRecorder { return hit(h, "10.0.0.1:1234", nil) },
			second:  func(h http.Handler) *httptest.ResponseRecorder { return hit(h, "10.0.0.2:1234", nil) },
			limited: false,
		},
		{
			name:    "same ip on another port is limited",
			first:   func(h http.Handler) *httptest.ResponseRecorder { return hit(h, "10.0.0.1:1234", nil) },
			second:  func(h http.Handler) *httptest.ResponseRecorder { return hit(h, "10.0.0.1:5678", nil) },
			limited: true,
		},
		{
			name: "forwarded client ip wins over remote addr",
			first: func(h http.Handler) *httptest.ResponseRecorder {
				return hit(h, "192.168.1.1:4444", map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"})
			},
			second: func(h http.Handler) *httptest.ResponseRecorder {
				return hit(h, "192.168.1.2:5555", map[string]string{"X-Forwarded-For": "203.0.113.50"})
			},
			limited: true,
		},
		{
			name: "custom key",
			keyFunc: func(r *http.Request) string {
				return r.Header.Get("X-Customer-ID")
			},
			first: func(h http.Handler) *httptest.ResponseRecorder {
				return hit(h, "10.0.0.1:1", map[string]string{"X-Customer-ID": "a"})
			},
			second: func(h http.Handler) *httptest.ResponseRecorder {
				return hit(h, "10.0.0.1:1", map[string]string{"X-Customer-ID": "b"})
			},
			limited: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, KeyFunc: tt.keyFunc})(okHandler())

			require.Equal(t, http.StatusOK, tt.first(h).Code)

			want := http.StatusOK
			if tt.limited {
				want = http.StatusTooManyRequests
			}
			assert.Equal(t, want, tt.second(h).Code)
		})
	}
}

func TestRateLimit_StoreFailureAllows(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, Store: failingStore{}})(okHandler())

	for range 3 {
		w := hit(h, "10.0.0.1:1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMemoryStore_WindowExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2025, 6, 18, 12, 0, 30, 0, time.UTC)

	n, reset, err := s.Hit(ctx, "k", time.Minute, start)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, start.Add(time.Minute), reset)

	n, _, err = s.Hit(ctx, "k", time.Minute, start.Add(59*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, reset, err = s.Hit(ctx, "k", time.Minute, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a new window starts once the old one elapsed")
	assert.Equal(t, start.Add(2*time.Minute), reset)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)

	_, _, err := s.Hit(ctx, "old", time.Minute, start)
	require.NoError(t, err)
	_, _, err = s.Hit(ctx, "new", time.Minute, start.Add(2*time.Minute))
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotContains(t, s.windows, "old")
	assert.Contains(t, s.windows, "new")
}
