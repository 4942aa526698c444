package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/genreswap/pkg/response"
)

// RateLimiter is a fixed-window counter per caller kept in redis.
type RateLimiter struct {
	redis  *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{redis: redisClient, prefix: "genreswap:ratelimit", logger: logger}
}

// Limit allows maxRequests per window for each caller. Callers are keyed
// by user id, or by client IP when unauthenticated. A redis failure lets
// the request through.
func (rl *RateLimiter) Limit(name string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := GetUserID(c)
		if caller == "" {
			caller = "ip:" + c.IP()
		}
		key := fmt.Sprintf("%s:%s:%s", rl.prefix, name, caller)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		pipe := rl.redis.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		if _, err := pipe.Exec(ctx); err != nil {
			rl.logger.Warn("rate limiter unavailable", "error", err)
			return c.Next()
		}

		count := incr.Val()
		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))
		return c.Next()
	}
}

// SubmitLimit bounds job submissions per caller per hour.
func (rl *RateLimiter) SubmitLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("submit", maxPerHour, time.Hour)
}
