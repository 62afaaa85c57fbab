package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pagos/internal/amqp"
	"pagos/internal/backend"
	"pagos/internal/cache"
	"pagos/internal/calendar"
	"pagos/internal/config"
	"pagos/internal/core"
	"pagos/internal/goals"
	"pagos/internal/invoicing"
	"pagos/internal/ledger"
	"pagos/internal/log"
)

// App holds the wired services shared by the CLI and the worker.
type App struct {
	Config *config.Config
	Logger *log.Logger
	Clock  core.Clock

	Store     backend.Store
	Ledger    *ledger.Service
	Goals     *goals.Tracker
	Invoicing *invoicing.Workflow
	Calendar  *calendar.Service

	// Broker is nil when no AMQP_URL is configured or the broker is unreachable.
	Broker *amqp.Client

	caches  *cache.Manager
	backend *backend.BackendResult
}

// AppOption customises NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	clock   core.Clock
	gateway invoicing.Gateway
	noAMQP  bool
}

// WithClock replaces the system clock.
func WithClock(clock core.Clock) AppOption {
	return func(o *appOptions) { o.clock = clock }
}

// WithGateway replaces the configured tax gateway.
func WithGateway(gw invoicing.Gateway) AppOption {
	return func(o *appOptions) { o.gateway = gw }
}

// WithoutBroker skips the AMQP connection even when one is configured.
func WithoutBroker() AppOption {
	return func(o *appOptions) { o.noAMQP = true }
}

// NewApp builds the store, the broker client and the domain services from cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger, opts ...AppOption) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = core.SystemClock{}
	}
	if logger == nil {
		logger = log.Default(log.ComponentApp)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Clock:   o.clock,
		Store:   res.Store,
		backend: res,
		caches:  cache.NewManager(logger),
	}

	if cfg.AMQPURL != "" && !o.noAMQP {
		client, err := amqp.NewClient(amqp.Config{
			URL:          cfg.AMQPURL,
			Exchange:     cfg.AMQPExchange,
			EventsQueue:  cfg.AMQPEventsQueue,
			InvoiceQueue: cfg.AMQPInvoiceQueue,
		}, logger)
		if err != nil {
			logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without messaging", log.FieldError, err)
		} else {
			app.Broker = client
			logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"events_queue", cfg.AMQPEventsQueue,
				"invoice_queue", cfg.AMQPInvoiceQueue)
		}
	}

	loc := cfg.Location()
	app.Calendar = calendar.NewService(res.Store, o.clock, loc, cfg.CalendarCacheSize, cfg.CalendarCacheTTL, logger)
	if snapshots := app.Calendar.Snapshots(); snapshots != nil {
		app.caches.Register(snapshots)
		app.caches.StartCleanup(cleanupInterval(cfg.CalendarCacheTTL))
	}

	publishers := ledger.Publishers{app.Calendar}
	if app.Broker != nil {
		publishers = append(publishers, app.Broker)
	}
	app.Ledger = ledger.NewService(res.Store, o.clock, ledger.Options{
		Location:        loc,
		SingleGraceDays: cfg.SingleGraceDays,
		DefaultCadence:  cfg.DefaultCadence,
		Publisher:       publishers,
		Logger:          logger,
	})
	app.Goals = goals.NewTracker(res.Store, res.Store, o.clock, loc, logger)

	gateway := o.gateway
	if gateway == nil {
		gateway = backend.NewGateway(cfg, logger)
	}
	app.Invoicing = invoicing.NewWorkflow(res.Store, res.Store, gateway, o.clock, cfg.InvoicingConfig(), logger)

	return app, nil
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return time.Minute
	}
	return max(ttl/2, time.Second)
}

// Today is the current date in the configured time zone.
func (a *App) Today() core.Date {
	return core.Today(a.Clock, a.Config.Location())
}

// Close releases the broker connection, the cache janitor and the store.
func (a *App) Close() error {
	var errs []error
	a.caches.Stop()
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}
	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
