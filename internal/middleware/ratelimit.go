package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/iliyamo/scholar-slot-booking/internal/config"
)

// limiterScript refills and takes one token atomically.  It returns
// {allowed, remaining, retry_after_ms}.
var limiterScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill_tokens = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl_seconds = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last_refill = tonumber(state[2])

    if tokens == nil or last_refill == nil then
        tokens = capacity
        last_refill = now_ms
    end

    if interval_ms > 0 and refill_tokens > 0 then
        local elapsed = math.max(0, now_ms - last_refill)
        local intervals = math.floor(elapsed / interval_ms)
        if intervals > 0 then
            tokens = math.min(capacity, tokens + (intervals * refill_tokens))
            last_refill = last_refill + (intervals * interval_ms)
        end
    end

    local allowed = 0
    local retry_after_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        local until_next = interval_ms - (now_ms - last_refill)
        if until_next < 0 then until_next = 0 end
        retry_after_ms = until_next
    end

    redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
    redis.call('EXPIRE', key, ttl_seconds)

    return { allowed, tokens, retry_after_ms }
`)

// decision is the outcome of one take from a bucket.
type decision struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

// bucket takes one token for key.  ok is false when the backend could not
// decide, in which case the request is let through.
type bucket interface {
	take(c echo.Context, key string) (d decision, ok bool)
}

type redisBucket struct {
	cfg config.RateLimitConfig
	rdb *redis.Client
}

func (b redisBucket) take(c echo.Context, key string) (decision, bool) {
	args := []interface{}{
		time.Now().UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL / time.Second),
	}
	vals, err := limiterScript.Run(c.Request().Context(), b.rdb, []string{key}, args...).Result()
	if err != nil {
		if b.cfg.Debug {
			c.Logger().Warnf("[ratelimit] redis error for key=%s: %v", key, err)
		}
		return decision{}, false
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		if b.cfg.Debug {
			c.Logger().Warnf("[ratelimit] unexpected script result for key=%s: %#v", key, vals)
		}
		return decision{}, false
	}
	return decision{
		allowed:   fmt.Sprint(arr[0]) == "1",
		remaining: asInt64(arr[1]),
		retry:     time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, true
}

// localBucket keeps one rate.Limiter per key in process memory.  Idle
// limiters expire after the configured TTL.
type localBucket struct {
	mu       sync.Mutex
	limiters *cache.Cache
	every    rate.Limit
	burst    int
	ttl      time.Duration
}

func newLocalBucket(cfg config.RateLimitConfig) *localBucket {
	return &localBucket{
		limiters: cache.New(cfg.TTL, 2*cfg.TTL),
		every:    rate.Every(cfg.RefillInterval / time.Duration(cfg.RefillTokens)),
		burst:    cfg.Capacity,
		ttl:      cfg.TTL,
	}
}

func (b *localBucket) limiter(key string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.limiters.Get(key); ok {
		b.limiters.Set(key, v, b.ttl) // slide expiry while in use
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(b.every, b.burst)
	b.limiters.Set(key, l, b.ttl)
	return l
}

func (b *localBucket) take(_ echo.Context, key string) (decision, bool) {
	l := b.limiter(key)
	now := time.Now()
	r := l.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return decision{allowed: false, retry: delay}, true
	}
	return decision{allowed: true, remaining: int64(math.Floor(l.TokensAt(now)))}, true
}

// NewTokenBucket limits requests per key (see KeyStrategy).  It uses the
// Redis script when rdb is set and an in-process limiter otherwise, unless
// cfg.LocalFallback is off.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	var b bucket
	switch {
	case !cfg.Enabled:
	case rdb != nil:
		b = redisBucket{cfg: cfg, rdb: rdb}
	case cfg.LocalFallback:
		b = newLocalBucket(cfg)
	}
	if b == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			d, ok := b.take(c, key)
			if !ok {
				return next(c)
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(d.remaining, 0), 10))

			if !d.allowed {
				secs := int(math.Ceil(d.retry.Seconds()))
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				if cfg.Debug {
					c.Logger().Infof("[ratelimit] block key=%s retry=%s", key, d.retry)
				}
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}

			if cfg.Debug {
				c.Response().Header().Set("X-RateLimit-Key", key)
			}
			return next(c)
		}
	}
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	parts := []string{cfg.Prefix}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := currentUserID(c)
	route := c.Request().Method + " " + c.Path()

	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}

// currentUserID returns the authenticated user ID or "anon".
func currentUserID(c echo.Context) string {
	if id, ok := c.Get(CtxUserID).(uint64); ok && id != 0 {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
