package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bizdev-events/backend/pkg/response"
)

// Limiter decides whether another request for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit allows limit requests per client IP per window. If the limiter fails the request is let through.
func RateLimit(l Limiter, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		ok, err := l.Allow(c.Request.Context(), c.ClientIP(), limit, window)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			response.TooManyRequests(c, "Demasiadas solicitudes, inténtalo de nuevo más tarde")
			c.Abort()
			return
		}
		c.Next()
	}
}
