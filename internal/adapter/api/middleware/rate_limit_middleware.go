package middleware

import (
	"fmt"
	"math"

	"github.com/labstack/echo/v4"

	"jobchat/internal/infrastructure/ratelimit"
	"jobchat/pkg/errors"
	"jobchat/pkg/logger"
	"jobchat/pkg/response"
)

// RateLimit throttles requests per client IP.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			allowed, wait := limiter.Allow(ip, ratelimit.ActionHTTP)
			if !allowed {
				retryAfter := int(math.Ceil(wait.Seconds()))
				logger.Warn("RATE LIMIT: Blocked request from IP %s (reset in %v)", ip, wait)
				c.Response().Header().Set("Retry-After", fmt.Sprint(retryAfter))
				return response.Error(c, errors.TooManyRequests(fmt.Sprintf("Rate limit exceeded, retry in %ds", retryAfter)))
			}

			return next(c)
		}
	}
}
