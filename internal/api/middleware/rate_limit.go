package middleware

import (
	"fmt"
	"net/http"
	"time"

	"presence-service/internal/repository"

	"github.com/gin-gonic/gin"
)

type RateLimitMiddleware struct {
	presenceRepo repository.PresenceRepository
}

func NewRateLimitMiddleware(presenceRepo repository.PresenceRepository) *RateLimitMiddleware {
	return &RateLimitMiddleware{presenceRepo: presenceRepo}
}

// RateLimit bounds per-user request rates on the query endpoints.
func (rm *RateLimitMiddleware) RateLimit(requests int, window time.Duration) gin.HandlerFunc {
	return rm.limit(requests, window, func(c *gin.Context, userID string) string {
		return fmt.Sprintf("%s:%s", userID, c.Request.URL.Path)
	})
}

// WebSocketRateLimit bounds per-user connection churn on the push endpoint.
func (rm *RateLimitMiddleware) WebSocketRateLimit(requests int, window time.Duration) gin.HandlerFunc {
	return rm.limit(requests, window, func(_ *gin.Context, userID string) string {
		return "websocket:" + userID
	})
}

func (rm *RateLimitMiddleware) limit(requests int, window time.Duration, keyFor func(*gin.Context, string) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		key := keyFor(c, userID.(string))
		allowed, err := rm.presenceRepo.CheckRateLimit(c.Request.Context(), key, requests, window)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": fmt.Sprintf("Too many requests. Limit: %d per %v", requests, window),
			})
			return
		}

		c.Next()
	}
}
