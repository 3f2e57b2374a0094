package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/KevinKickass/OpenLineSim/internal/types"
)

// LoggerMiddleware writes one structured line per request.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// CORSMiddleware lets browser dashboards on other origins talk to the API.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// commandLimiter hands out one token bucket per client IP. Buckets live in a
// TTL cache so idle clients fall out on their own.
type commandLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *gocache.Cache
}

func newCommandLimiter(rps float64, burst int) *commandLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		// Unlimited rather than rate.Limit(0), which would block everything.
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &commandLimiter{
		limit:   limit,
		burst:   burst,
		buckets: gocache.New(10*time.Minute, 10*time.Minute),
	}
}

func (cl *commandLimiter) limiterFor(clientIP string) *rate.Limiter {
	if cached, ok := cl.buckets.Get(clientIP); ok {
		return cached.(*rate.Limiter)
	}
	fresh := rate.NewLimiter(cl.limit, cl.burst)
	if err := cl.buckets.Add(clientIP, fresh, gocache.DefaultExpiration); err != nil {
		// Lost a create race, use the bucket that won.
		if cached, ok := cl.buckets.Get(clientIP); ok {
			return cached.(*rate.Limiter)
		}
	}
	return fresh
}

// RateLimitMiddleware rejects callers that exceed their command budget.
func RateLimitMiddleware(limiter *commandLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.limiterFor(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, types.NewErrorResponse(
				types.CodeRateLimited, "command rate limit exceeded", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
