package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"document-backend/internal/bootstrap"
	"document-backend/internal/services/health"
	"document-backend/internal/shared/config"
	"document-backend/internal/shared/metrics"
	"document-backend/internal/shared/server"
	"document-backend/internal/shared/server/middleware"
	"document-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.MustLoad()
	telemetry.Init("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleWorker)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	consumer, err := app.Consumer()
	if err != nil {
		log.Fatalf("worker consumer: %v", err)
	}
	app.Start(ctx)

	ops := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           newOpsRouter(app.Health),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ops server: %v", err)
		}
	}()

	if err := consumer.Run(ctx); err != nil {
		log.Printf("consumer: %v", err)
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight analyses", cfg.ShutdownTimeout.Std())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Printf("ops shutdown: %v", err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("app shutdown: %v", err)
	}
}

// newOpsRouter serves liveness and metrics for the worker process.
func newOpsRouter(healthSvc *health.Service) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.Recovery())
	r.GET("/health", server.HealthHandler(healthSvc))
	r.GET("/metrics", metrics.Handler())
	return r
}
