package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jack/qr-redirect-service/internal/config"
)

// WindowStore keeps sliding-window hit counters shared by every instance.
type WindowStore interface {
	CountWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	AddToWindow(ctx context.Context, key string, window time.Duration) error
}

// KeyFunc derives the counter key of a request.
type KeyFunc func(c *gin.Context) string

func KeyByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// KeyByIPAndCode scopes the counter to one client guessing one code's password.
func KeyByIPAndCode(c *gin.Context) string {
	return "pw:" + c.Param("code") + ":" + c.ClientIP()
}

// RateLimiter implements a sliding window rate limiter over a WindowStore
type RateLimiter struct {
	store    WindowStore
	requests int
	window   time.Duration
	key      KeyFunc
	logger   zerolog.Logger

	// countStatus, when set, counts only responses with this status.
	countStatus int
}

// NewRateLimiter limits every request per client IP
func NewRateLimiter(store WindowStore, cfg *config.RateLimitConfig, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		store:    store,
		requests: cfg.Requests,
		window:   cfg.Duration,
		key:      KeyByIP,
		logger:   logger.With().Str("component", "rate_limit").Logger(),
	}
}

// NewPasswordLimiter limits failed password attempts per client and code.
func NewPasswordLimiter(store WindowStore, cfg *config.RateLimitConfig, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		store:       store,
		requests:    cfg.PasswordAttempts,
		window:      cfg.PasswordWindow,
		key:         KeyByIPAndCode,
		logger:      logger.With().Str("component", "password_limit").Logger(),
		countStatus: http.StatusUnauthorized,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.key(c)
		ctx := c.Request.Context()

		count, err := rl.store.CountWindow(ctx, key, rl.window)
		if err != nil {
			// fail open
			rl.logger.Warn().Err(err).Str("key", key).Str("path", c.Request.URL.Path).Msg("rate limit precheck failed")
			c.Next()
			return
		}

		reset := strconv.FormatInt(time.Now().Add(rl.window).Unix(), 10)

		if count >= int64(rl.requests) {
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", reset)
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please try again later.",
			})
			return
		}

		remaining := int64(rl.requests) - count
		if rl.countStatus == 0 {
			rl.record(ctx, key, c)
			remaining--
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(remaining, 0), 10))
		c.Header("X-RateLimit-Reset", reset)

		c.Next()

		if rl.countStatus != 0 && c.Writer.Status() == rl.countStatus {
			rl.record(ctx, key, c)
		}
	}
}

func (rl *RateLimiter) record(ctx context.Context, key string, c *gin.Context) {
	if err := rl.store.AddToWindow(ctx, key, rl.window); err != nil {
		rl.logger.Warn().Err(err).Str("key", key).Str("path", c.Request.URL.Path).Msg("rate limit record failed")
	}
}
