package server

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const ownerHeader = "X-Owner-ID"

// rateLimit throttles requests per caller. Callers are identified by
// owner header when present, falling back to client IP for anonymous
// endpoints like project creation.
func (s *Server) rateLimit() echo.MiddlewareFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)

	burst := int(s.config.RateLimit)
	if burst < 1 {
		burst = 1
	}

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		limiter, ok := limiters[key]
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), burst)
			limiters[key] = limiter
		}
		return limiter
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(ownerHeader)
			if key == "" {
				key = c.RealIP()
			}

			if !limiterFor(key).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
