package backend

import (
	"context"
	"fmt"

	"pagos/internal/config"
	"pagos/internal/invoicing"
	"pagos/internal/log"
	"pagos/internal/storage"
	"pagos/internal/storage/memory"
	"pagos/internal/taxgateway"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default(log.ComponentBackend)
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(ctx)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Store:   repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context) (*BackendResult, error) {
	f.logger.InfoContext(ctx, "Initialized memory backend")

	return &BackendResult{
		Store:   memory.New(),
		Cleanup: nil, // No cleanup needed for memory backend
	}, nil
}

// NewGateway returns the HTTP tax gateway client when a URL is configured
// and the in-process sandbox otherwise.
func NewGateway(appConfig *config.Config, logger *log.Logger) invoicing.Gateway {
	if logger == nil {
		logger = log.Default(log.ComponentBackend)
	}
	if appConfig.GatewayURL == "" {
		logger.Info("Using sandbox tax gateway")
		return taxgateway.NewSandbox("")
	}
	logger.Info("Using HTTP tax gateway", "url", appConfig.GatewayURL)
	return taxgateway.NewHTTPClient(appConfig.GatewayURL, appConfig.GatewayToken, appConfig.GatewayTimeout)
}
