package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/leadpilot/api/pkg/response"
)

// RateLimiter throttles job triggers and send enqueues per user. This is
// request admission only; the outbound email cap lives in the send queue.
type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit creates a rate limiting middleware
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.redis == nil {
			return c.Next()
		}
		userID := GetUserID(c)
		if userID == "" {
			return c.Next() // auth middleware should have caught this
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx := context.Background()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// If redis fails, allow the request rather than block the app.
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// ScanLimit throttles discovery and scaffolding scan triggers.
func (rl *RateLimiter) ScanLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("scan", maxPerHour, time.Hour)
}

// ResearchLimit throttles research run triggers.
func (rl *RateLimiter) ResearchLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("research", maxPerHour, time.Hour)
}

// AgentLimit throttles street agent triggers.
func (rl *RateLimiter) AgentLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("agent", maxPerHour, time.Hour)
}

// SendLimit throttles send enqueue requests.
func (rl *RateLimiter) SendLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("send", maxPerMin, time.Minute)
}
