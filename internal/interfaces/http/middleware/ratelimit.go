package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/turtacn/subsim/pkg/errors"
)

// RateLimitConfig configures run admission.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained admission rate.  <= 0 disables
	// the limiter.
	RequestsPerSecond float64

	// BurstSize is the number of requests admitted at once.
	BurstSize int
}

// RateLimit admits requests through a shared token bucket.  Rejected
// requests get 429 with Retry-After.
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if config.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := config.BurstSize
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	return rateLimit(limiter)
}

func rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	retryAfter := time.Duration(float64(time.Second) / float64(limiter.Limit()))
	return func(c *gin.Context) {
		if !limiter.Allow() {
			reject(c, limiter, retryAfter)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, limiter.Tokens()))))
		c.Next()
	}
}

func reject(c *gin.Context, limiter *rate.Limiter, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"code":    errors.ErrCodeTooManyRequests.String(),
		"message": "run admission limit exceeded",
	})
}
