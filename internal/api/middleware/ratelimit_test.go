package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/confide/internal/metrics"
)

func newTestLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rl := NewRateLimiter(client, zerolog.Nop(), cfg)
	fixed := time.Date(2024, 1, 1, 12, 0, 5, 0, time.UTC)
	rl.now = func() time.Time { return fixed }
	return rl, mr
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// limitedRouter mounts rl the way the application router does.
func limitedRouter(rl *RateLimiter, proxies ...string) http.Handler {
	r := chi.NewRouter()
	r.Use(TrustedProxies(proxies))
	r.Use(rl.Guard)
	r.Get("/", okHandler)
	r.With(rl.Limit).Post("/submit", okHandler)
	r.With(rl.Limit).Get("/messages/{id}", okHandler)
	r.With(rl.Limit).Post("/delete_mesg/{id}", okHandler)
	return r
}

func doRequest(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	return doForwarded(h, method, path, remote, "")
}

func doForwarded(h http.Handler, method, path, remote, xff string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_Limit(t *testing.T) {
	t.Run("Should allow submits up to the limit and reject the next one", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{})
		h := limitedRouter(rl)
		before := testutil.ToFloat64(metrics.RateLimitHits.WithLabelValues("/submit"))

		for i := 0; i < 30; i++ {
			w := doRequest(h, http.MethodPost, "/submit", "10.0.0.1:1234")
			require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		}
		w := doRequest(h, http.MethodPost, "/submit", "10.0.0.1:1234")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "30", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "60", w.Header().Get("Retry-After"))
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimitHits.WithLabelValues("/submit")))
	})
	t.Run("Should key parameterised routes on the pattern, not the path", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{})
		h := limitedRouter(rl)
		for i := 0; i < 60; i++ {
			w := doRequest(h, http.MethodPost, "/delete_mesg/"+strconv.Itoa(i), "10.0.0.1:1234")
			require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		}
		w := doRequest(h, http.MethodPost, "/delete_mesg/999", "10.0.0.1:1234")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	})
	t.Run("Should count each route separately", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{})
		h := limitedRouter(rl)
		for i := 0; i < 31; i++ {
			doRequest(h, http.MethodPost, "/submit", "10.0.0.1:1234")
		}
		w := doRequest(h, http.MethodGet, "/messages/1", "10.0.0.1:1234")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	})
	t.Run("Should count each client separately", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{})
		h := limitedRouter(rl)
		for i := 0; i < 30; i++ {
			doRequest(h, http.MethodPost, "/submit", "10.0.0.1:1234")
		}
		w := doRequest(h, http.MethodPost, "/submit", "10.0.0.2:1234")
		assert.Equal(t, http.StatusOK, w.Code)
	})
	t.Run("Should not limit routes without a configured limit", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{})
		h := limitedRouter(rl)
		for i := 0; i < 100; i++ {
			w := doRequest(h, http.MethodGet, "/", "10.0.0.1:1234")
			require.Equal(t, http.StatusOK, w.Code)
		}
		assert.Empty(t, doRequest(h, http.MethodGet, "/", "10.0.0.1:1234").Header().Get("X-RateLimit-Limit"))
	})
	t.Run("Should pass through when mounted outside chi", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{})
		w := doRequest(rl.Limit(okHandler), http.MethodPost, "/submit", "10.0.0.1:1234")
		assert.Equal(t, http.StatusOK, w.Code)
	})
	t.Run("Should skip whitelisted addresses", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{Whitelist: []string{"192.168.0.0/16", "10.0.0.9", "bad/cidr"}})
		h := limitedRouter(rl)
		for i := 0; i < 40; i++ {
			require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "/submit", "192.168.4.4:1").Code)
			require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "/submit", "10.0.0.9:1").Code)
		}
	})
	t.Run("Should fail open when redis is unavailable", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer client.Close()
		h := limitedRouter(NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{}))
		for i := 0; i < 3; i++ {
			require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "/submit", "10.0.0.1:1234").Code)
		}
	})
}

func TestRateLimiter_Guard(t *testing.T) {
	t.Run("Should auto-block repeat offenders when enabled", func(t *testing.T) {
		rl, mr := newTestLimiter(t, RateLimiterConfig{AutoBlockEnabled: true})
		h := limitedRouter(rl)
		for i := 0; i < 30+violationsBeforeBlock; i++ {
			doRequest(h, http.MethodPost, "/submit", "10.0.0.1:1234")
		}
		assert.True(t, mr.Exists("blocked:ip:10.0.0.1"))

		w := doRequest(h, http.MethodGet, "/", "10.0.0.1:1234")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "/", "10.0.0.2:1234").Code)
	})
	t.Run("Should not block without auto-block", func(t *testing.T) {
		rl, mr := newTestLimiter(t, RateLimiterConfig{})
		h := limitedRouter(rl)
		for i := 0; i < 30+violationsBeforeBlock; i++ {
			doRequest(h, http.MethodPost, "/submit", "10.0.0.1:1234")
		}
		assert.False(t, mr.Exists("blocked:ip:10.0.0.1"))
		assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "/", "10.0.0.1:1234").Code)
	})
	t.Run("Should lift a block once it expires", func(t *testing.T) {
		rl, mr := newTestLimiter(t, RateLimiterConfig{})
		h := limitedRouter(rl)
		require.NoError(t, mr.Set(blockKey("10.0.0.1"), "manual"))
		mr.SetTTL(blockKey("10.0.0.1"), time.Minute)
		assert.Equal(t, http.StatusForbidden, doRequest(h, http.MethodGet, "/", "10.0.0.1:1234").Code)

		mr.FastForward(2 * time.Minute)
		assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "/", "10.0.0.1:1234").Code)
	})
	t.Run("Should let whitelisted addresses through a block", func(t *testing.T) {
		rl, mr := newTestLimiter(t, RateLimiterConfig{Whitelist: []string{"10.0.0.9"}})
		require.NoError(t, mr.Set(blockKey("10.0.0.9"), "manual"))
		assert.Equal(t, http.StatusOK, doRequest(limitedRouter(rl), http.MethodGet, "/", "10.0.0.9:1").Code)
	})
}

func TestRateLimiter_ForwardedHeaders(t *testing.T) {
	t.Run("Should not let a spoofed X-Forwarded-For block another client", func(t *testing.T) {
		rl, mr := newTestLimiter(t, RateLimiterConfig{AutoBlockEnabled: true})
		h := limitedRouter(rl)
		for i := 0; i < 45; i++ {
			doForwarded(h, http.MethodPost, "/submit", "10.0.0.1:1234", "203.0.113.7")
		}
		assert.False(t, mr.Exists("blocked:ip:203.0.113.7"))
		assert.True(t, mr.Exists("blocked:ip:10.0.0.1"))
		assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "/", "203.0.113.7:4444").Code)
	})
	t.Run("Should not let a rotating X-Forwarded-For evade the limit", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{})
		h := limitedRouter(rl)
		codes := map[int]int{}
		for i := 0; i < 45; i++ {
			xff := "198.51.100." + strconv.Itoa(i+1)
			codes[doForwarded(h, http.MethodPost, "/submit", "10.0.0.1:1234", xff).Code]++
		}
		assert.Equal(t, map[int]int{http.StatusOK: 30, http.StatusTooManyRequests: 15}, codes)
	})
	t.Run("Should key on the forwarded client behind a trusted proxy", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{})
		h := limitedRouter(rl, "10.0.0.0/8")
		for i := 0; i < 30; i++ {
			doForwarded(h, http.MethodPost, "/submit", "10.0.0.5:80", "203.0.113.7")
		}
		assert.Equal(t, http.StatusTooManyRequests,
			doForwarded(h, http.MethodPost, "/submit", "10.0.0.5:80", "203.0.113.7").Code)
		assert.Equal(t, http.StatusOK,
			doForwarded(h, http.MethodPost, "/submit", "10.0.0.5:80", "203.0.113.8").Code)
	})
}
