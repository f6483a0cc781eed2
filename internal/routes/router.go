package routes

import (
	"github.com/gin-gonic/gin"

	"taskhub/internal/config"
	"taskhub/internal/controller"
	"taskhub/internal/metrics"
	"taskhub/internal/middleware"
)

// Deps are the handlers and settings the router mounts.
type Deps struct {
	Config  *config.Config
	Tasks   *controller.TaskHandler
	Probe   *controller.Probe
	Metrics *metrics.Metrics
}

func Router(d Deps) *gin.Engine {
	cfg := d.Config
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestContext(d.Metrics),
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	// Health for load balancers and K8s probes
	router.GET("/health", controller.Health)
	router.GET("/ready", d.Probe.Ready)
	router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	// Public: connectivity check
	router.GET("/api/ping", controller.Ping)

	// Owner-scoped task resources
	api := router.Group("")
	api.Use(ownerMiddleware(cfg))
	{
		for _, base := range cfg.TasksBasePaths {
			api.Any(base, d.Tasks.Dispatch)
			api.Any(base+"/:id", d.Tasks.Dispatch)
		}
		api.GET("/api/stats", d.Tasks.Stats)
	}

	return router
}

func ownerMiddleware(cfg *config.Config) gin.HandlerFunc {
	if cfg.AuthMode == config.AuthModeJWT {
		return middleware.AuthMiddleware(cfg.JWTSecret)
	}
	return middleware.FixedOwner(cfg.DefaultOwner)
}
