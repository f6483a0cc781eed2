package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"taskhub/internal/cache"
	"taskhub/internal/controller"
	"taskhub/internal/database"
	"taskhub/internal/metrics"
	"taskhub/internal/queue"
	"taskhub/internal/routes"
	"taskhub/internal/worker"
	"taskhub/pkg/logger"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(parent context.Context) error {
	cfg := mustConfig()
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// The first connection is attempted here so startup logs show the store
	// state; a failure only puts the API in degraded mode.
	opts := database.OptionsFromConfig(cfg)
	opts.AutoIndex = true
	gw := database.NewGateway(opts)
	gw.EnsureConnected(ctx)
	m.RegisterStoreState(func() float64 { return float64(gw.State()) })
	persistence := controller.NewGatewayPersistence(gw)

	var listCache *cache.ListCache
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL, cfg.RedisPoolSize)
		if err != nil {
			logger.Warn(ctx, "Redis unavailable; list caching disabled", "error", err)
		} else {
			defer client.Close()
			listCache = cache.New(client, cfg.CacheTTL)
			m.RegisterCacheStats(listCache.Stats)
		}
	}

	var events controller.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		queue.EnsureTopic(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, 3)
		pub := queue.NewPublisher(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		defer pub.Close()
		events = pub
		if listCache != nil {
			w := worker.New(worker.NewReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID), listCache)
			go w.Run(ctx)
		}
	}

	tasks := controller.NewTaskHandler(controller.Deps{
		Persistence:  persistence,
		Cache:        listCache,
		Events:       events,
		Metrics:      m,
		StoreTimeout: cfg.StoreTimeout,
	})

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: routes.Router(routes.Deps{
			Config:  cfg,
			Tasks:   tasks,
			Probe:   controller.NewProbe(persistence, listCache),
			Metrics: m,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP server listening", "port", cfg.HTTPPort, "base_paths", cfg.TasksBasePaths)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info(ctx, "Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "Server shutdown error", "error", err)
	}
	if err := gw.Close(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "Document store disconnect failed", "error", err)
	}
	logger.Info(shutdownCtx, "Server stopped")
	return nil
}
