package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taskhub/internal/cache"
)

// Health returns 200 if the process is alive. Used by load balancers.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Ping answers connectivity checks from clients.
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "timestamp": time.Now().UTC().Format(time.RFC3339Nano)})
}

// Probe reports whether the backing services are reachable.
type Probe struct {
	persistence Persistence
	cache       *cache.ListCache
}

func NewProbe(p Persistence, lc *cache.ListCache) *Probe {
	return &Probe{persistence: p, cache: lc}
}

// Ready returns 200 when the document store (and the cache, if configured) is
// reachable. Task requests are still served while it reports 503.
func (p *Probe) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if _, ok := p.persistence.Primary(ctx); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":      "degraded",
			"persistence": p.persistence.State().String(),
		})
		return
	}
	if p.cache != nil {
		if err := p.cache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "persistence": p.persistence.State().String()})
}
