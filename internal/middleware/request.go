package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"taskhub/internal/metrics"
	"taskhub/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestContext tags the request context logger with a request id, logs one
// access line per request and records request metrics.
func RequestContext(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		ctx := logger.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), elapsed.Seconds())
		logger.Info(ctx, "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", float64(elapsed.Microseconds())/1000,
			"client_ip", c.ClientIP(),
		)
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit allows rps requests per second per client IP with the given burst.
// rps <= 0 disables limiting.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	const idleAfter = 3 * time.Minute
	return func(c *gin.Context) {
		now := time.Now()
		ip := c.ClientIP()

		mu.Lock()
		v, ok := visitors[ip]
		if !ok {
			if len(visitors) >= 10000 {
				for k, old := range visitors {
					if now.Sub(old.lastSeen) > idleAfter {
						delete(visitors, k)
					}
				}
			}
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			visitors[ip] = v
		}
		v.lastSeen = now
		allow := v.limiter.AllowN(now, 1)
		mu.Unlock()

		if !allow {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
