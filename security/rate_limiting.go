package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/redis/go-redis/v9"
)

const (
	defaultCheckoutLimit = 10
	defaultAntiBotLimit  = 30
)

type RateLimiter struct {
	redis *redis.Client

	// checkoutLimit is the number of checkouts a client may start per window.
	checkoutLimit int64
	// antiBotLimit is the number of API requests a client may make per window.
	antiBotLimit int64
	window       time.Duration
}

func NewRateLimiter(redisClient *redis.Client, checkoutLimit, antiBotLimit int, window time.Duration) *RateLimiter {
	if checkoutLimit <= 0 {
		checkoutLimit = defaultCheckoutLimit
	}
	if antiBotLimit <= 0 {
		antiBotLimit = defaultAntiBotLimit
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		redis:         redisClient,
		checkoutLimit: int64(checkoutLimit),
		antiBotLimit:  int64(antiBotLimit),
		window:        window,
	}
}

// CheckoutRateLimit limits how often one client can create Pix charges.
func (r *RateLimiter) CheckoutRateLimit() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: &redisStore{
			redis:  r.redis,
			prefix: "ratelimit:checkout",
			limit:  r.checkoutLimit,
			window: r.window,
		},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error": "Unable to identify client.",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		},
	})
}

// AntiBotMiddleware rejects crawler user agents and clients that exceed the
// per-window request budget.
func (r *RateLimiter) AntiBotMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userAgent := c.Request().Header.Get("User-Agent")
			if isSuspiciousUserAgent(userAgent) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "Access denied",
				})
			}

			key := fmt.Sprintf("antibot:%s", c.RealIP())
			count, err := hit(c.Request().Context(), r.redis, key, r.window)
			if err != nil {
				// fail open, redis is not on the payment path
				slog.Warn("anti-bot counter unavailable", "error", err)
				return next(c)
			}
			if count > r.antiBotLimit {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "Too many requests",
				})
			}

			return next(c)
		}
	}
}

// redisStore is a fixed window counter shared by every instance of the
// service.
type redisStore struct {
	redis  *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func (s *redisStore) Allow(identifier string) (bool, error) {
	count, err := hit(context.Background(), s.redis, fmt.Sprintf("%s:%s", s.prefix, identifier), s.window)
	if err != nil {
		slog.Warn("rate limit counter unavailable", "error", err)
		return true, nil
	}
	return count <= s.limit, nil
}

// hit increments the counter at key. The window TTL is set in the same
// transaction whenever the key has none, so a counter never outlives it.
func hit(ctx context.Context, rdb *redis.Client, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
