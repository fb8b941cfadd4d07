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

	"document-backend/internal/bootstrap"
	"document-backend/internal/shared/config"
	"document-backend/internal/shared/server"
	"document-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.MustLoad()
	telemetry.Init("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleAPI)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	app.Start(ctx)

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting API server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Printf("server error: %v", err)
		}
	}

	log.Printf("shutdown requested, waiting up to %s", cfg.ShutdownTimeout.Std())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("app shutdown: %v", err)
	}
}
