// Command docctl runs operator tasks against the document store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"document-backend/internal/bootstrap"
	"document-backend/internal/shared/config"
	"document-backend/internal/shared/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(loadApp).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadApp(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// keep command output readable; failures still reach stderr
	telemetry.Init("docctl", "warn")
	return bootstrap.Build(ctx, cfg, bootstrap.RoleCLI)
}
