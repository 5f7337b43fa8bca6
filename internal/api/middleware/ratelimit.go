package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/confide/internal/metrics"
)

const (
	violationsBeforeBlock = 10
	violationWindow       = time.Hour
	blockDuration         = 24 * time.Hour
)

type routeLimit struct {
	requests int
	window   time.Duration
}

// routeLimits is keyed by chi route pattern. Routes not listed are unlimited.
var routeLimits = map[string]routeLimit{
	"/submit":           {requests: 30, window: time.Minute},
	"/messages/{id}":    {requests: 60, window: time.Minute},
	"/delete_mesg/{id}": {requests: 60, window: time.Minute},
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from limits and blocks
	AutoBlockEnabled bool
}

// RateLimiter keeps a per-route, per-client sliding window in Redis and,
// when enabled, blocks clients that keep running into it.
type RateLimiter struct {
	client    *redis.Client
	logger    zerolog.Logger
	limits    map[string]routeLimit
	whitelist ipSet
	autoBlock bool
	now       func() time.Time
	seq       atomic.Uint64
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	whitelist, invalid := parseIPSet(cfg.Whitelist)
	for _, entry := range invalid {
		logger.Warn().Str("entry", entry).Msg("invalid rate limit whitelist entry")
	}
	if len(whitelist) > 0 {
		logger.Info().Int("entries", len(whitelist)).Msg("rate limit whitelist configured")
	}
	return &RateLimiter{
		client:    client,
		logger:    logger,
		limits:    routeLimits,
		whitelist: whitelist,
		autoBlock: cfg.AutoBlockEnabled,
		now:       time.Now,
	}
}

// Guard rejects blocked clients on every route. It runs before routing.
func (rl *RateLimiter) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !rl.whitelist.contains(ip) && rl.blocked(r.Context(), ip) {
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("path", r.URL.Path).
				Msg("blocked client attempted request")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			http.Error(w, "temporarily blocked", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Limit applies the limit registered for the matched route pattern. It must be
// mounted inline on a route so chi has resolved the pattern.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		limit, ok := rl.limits[pattern]
		ip := ClientIP(r)
		if !ok || rl.whitelist.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		now := rl.now()
		count := rl.hit(r.Context(), "ratelimit:"+pattern+":"+ip, now, limit.window)
		remaining := limit.requests - count - 1
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(limit.window).Unix(), 10))

		if count >= limit.requests {
			w.Header().Set("Retry-After", strconv.Itoa(int(limit.window.Seconds())))
			metrics.RateLimitHits.WithLabelValues(pattern).Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("route", pattern).
				Msg("rate limit exceeded")
			rl.recordViolation(r.Context(), ip)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hit records a request and returns how many earlier requests fall inside the
// window. Redis errors count as zero so requests are let through.
func (rl *RateLimiter) hit(ctx context.Context, key string, now time.Time, window time.Duration) int {
	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d-%d", now.UnixNano(), rl.seq.Add(1)),
	})
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
		return 0
	}
	return int(count.Val())
}

func (rl *RateLimiter) recordViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}
	key := "violations:ip:" + ip
	pipe := rl.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, violationWindow)
	if _, err := pipe.Exec(ctx); err != nil || count.Val() < violationsBeforeBlock {
		return
	}
	if err := rl.client.Set(ctx, blockKey(ip), "repeated rate limit violations", blockDuration).Err(); err != nil {
		rl.logger.Warn().Err(err).Str("ip", ip).Msg("failed to block client")
		return
	}
	metrics.BlockedRequests.WithLabelValues("auto_block").Inc()
	rl.logger.Warn().
		Str("type", "security").
		Str("event", "ip_auto_blocked").
		Str("ip", ip).
		Int64("violations", count.Val()).
		Msg("client auto-blocked for repeated violations")
}

func (rl *RateLimiter) blocked(ctx context.Context, ip string) bool {
	n, err := rl.client.Exists(ctx, blockKey(ip)).Result()
	return err == nil && n > 0
}

func blockKey(ip string) string {
	return "blocked:ip:" + ip
}
