package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func rateLimitKey(c *gin.Context) string {
	return "RateLimit:" + c.ClientIP()
}

// RateLimitMiddleware counts requests per client ip in a fixed window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	if rl == nil || rl.client == nil {
		c.Next()
		return
	}
	ctx := c.Request.Context()
	key := rateLimitKey(c)

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
			"code":  "RATE_LIMITED",
		})
		return
	}
	c.Next()
}
