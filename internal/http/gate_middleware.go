// Package http holds the gin middlewares that run the admission pipeline in
// front of every /v0 route.
package http

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/ratelimit"
	"github.com/router-for-me/chatgate/internal/reputation"
)

// Route classes used in rate limit client keys.
const (
	RouteClassGeneral = "general"
	RouteClassAdmin   = "admin"
)

// RateLimitMiddleware admits the request against limiter, keyed by client
// address and routeClass. Rejections answer 429 with Retry-After.
func RateLimitMiddleware(limiter *ratelimit.Limiter, routeClass string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		decision := limiter.Admit(c.Request.Context(), ratelimit.ClientKey(c.ClientIP(), routeClass))
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if decision.Allowed {
			c.Next()
			return
		}

		retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		api.AbortFail(c, http.StatusTooManyRequests, "too many requests", gin.H{
			"band":        limiter.Name(),
			"retry_after": retryAfter,
		})
	}
}

// BanGateMiddleware rejects requests from banned addresses with 403.
func BanGateMiddleware(gate *reputation.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if gate == nil {
			c.Next()
			return
		}

		status := gate.CheckBan(c.Request.Context(), c.ClientIP())
		if !status.Banned {
			c.Next()
			return
		}

		details := gin.H{"reason": status.Reason}
		if status.ExpiresAt != nil {
			details["expires_at"] = status.ExpiresAt
		}
		api.AbortFail(c, http.StatusForbidden, "ip banned", details)
	}
}
