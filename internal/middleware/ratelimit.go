package middleware

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sessionscribe/api/pkg/response"
)

// Counter increments a fixed-window counter and reports the hit count and
// the time left in the window.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisCounter keeps rate limit windows in redis with INCR and EXPIRE.
type RedisCounter struct {
	redis *redis.Client
}

func NewRedisCounter(redisClient *redis.Client) *RedisCounter {
	return &RedisCounter{redis: redisClient}
}

func (rc *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := rc.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		rc.redis.Expire(ctx, key, window)
		return count, window, nil
	}
	ttl, err := rc.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		// key lost its expiry; restart the window
		rc.redis.Expire(ctx, key, window)
		ttl = window
	}
	return count, ttl, nil
}

type RateLimiter struct {
	counter Counter
}

func NewRateLimiter(counter Counter) *RateLimiter {
	return &RateLimiter{counter: counter}
}

// Limit creates a rate limiting middleware keyed by client IP.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if maxRequests <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, c.IP())

		count, ttl, err := rl.counter.Hit(c.UserContext(), key, window)
		if err != nil {
			// If Redis fails, allow the request but log the error
			log.Printf("[RateLimit] %s counter unavailable: %v", keyPrefix, err)
			return c.Next()
		}

		if count > int64(maxRequests) {
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// SessionLimit limits pipeline runs, each of which spends speech API quota.
func (rl *RateLimiter) SessionLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("sessions", maxPerHour, time.Hour)
}

// ExportLimit limits note exports to object storage.
func (rl *RateLimiter) ExportLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("export", maxPerHour, time.Hour)
}
