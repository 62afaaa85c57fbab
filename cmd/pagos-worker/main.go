package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"pagos/internal/cli"
	"pagos/internal/log"
	"pagos/internal/worker"
)

func main() {
	// Load .env file for local development
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(log.Default(log.ComponentWorker))
	logger := cli.SetupLogger(cfg).WithComponent(log.ComponentWorker)

	logger.Info("Starting pagos-worker", "backend", cfg.DataBackend)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize services", log.FieldError, err)
		os.Exit(1)
	}
	defer app.Close()

	processor := worker.NewProcessor(app.Invoicing, app.Calendar, worker.ProcessorConfig{
		StaleAfter:      cfg.StaleInvoiceAfter,
		StaleInterval:   cfg.StaleCheckInterval,
		RetryStale:      cfg.StaleAutoRetry,
		DigestInterval:  cfg.DigestInterval,
		OverdueLookback: cfg.OverdueLookback,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	// Invoice requests arrive over AMQP; without a broker only the periodic jobs run.
	if app.Broker != nil {
		handler := worker.NewInvoiceRequestHandler(app.Invoicing, logger)
		g.Go(func() error {
			err := app.Broker.ConsumeInvoiceRequests(gctx, handler.Handle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("Skipping invoice request consumption - no broker available")
	}

	g.Go(func() error {
		if err := processor.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return processor.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		app.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("pagos-worker stopped")
}
