package http

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/service"
	"golang.org/x/time/rate"
)

const (
	ctxGrant   = "sessionGrant"
	ctxAccount = "userAddress"
	ctxToken   = "accessToken"
)

// AuthMiddleware creates middleware that validates access tokens against the
// active session
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		grant, err := authService.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, core.ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			case errors.Is(err, core.ErrNoActiveSession):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session is no longer active"})
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		c.Set(ctxGrant, grant)
		c.Set(ctxAccount, grant.Account.Hex())
		c.Set(ctxToken, token)

		c.Next()
	}
}

// RateLimitMiddleware allows each client IP r requests per second with the
// given burst. A zero rate disables limiting.
func RateLimitMiddleware(r rate.Limit, burst int) gin.HandlerFunc {
	if r == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}

	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		l, ok := limiters[ip]
		if !ok {
			l = rate.NewLimiter(r, burst)
			limiters[ip] = l
		}
		mu.Unlock()

		if !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
