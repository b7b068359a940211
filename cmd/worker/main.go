package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/wa-campaigns-backend/internal/app"
	"github.com/unclebandit/wa-campaigns-backend/internal/config"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
)

// errNeedsBroker is returned when the worker would consume a queue no other
// process can publish to.
var errNeedsBroker = errors.New("the standalone worker needs QUEUE_DRIVER=amqp")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel).With("process", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

// run consumes campaign run requests until ctx is done. A run interrupted by
// shutdown leaves its campaign in_progress and unacknowledged, so the broker
// hands it to the next worker.
func run(ctx context.Context, cfg *config.Config, appLogger logger.Logger) error {
	if cfg.QueueDriver != "amqp" {
		return errNeedsBroker
	}
	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Worker().Start(ctx); err != nil {
		return err
	}
	appLogger.Info("worker running, waiting for campaign runs")
	<-ctx.Done()
	appLogger.Info("worker stopping")
	return nil
}
