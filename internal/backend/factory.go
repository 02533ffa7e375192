package backend

import (
	"context"
	"fmt"

	"comissao/internal/core"
	"comissao/internal/log"
	"comissao/internal/storage"
	"comissao/internal/store/memory"
	"comissao/internal/store/postgrest"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
	clock  core.Clock
}

// NewFactory creates a factory whose stores stamp records with clock.
func NewFactory(logger *log.Logger, clock core.Clock) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend), clock: clock}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case PostgRESTBackend:
		return f.createPostgRESTBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &BackendResult{Store: repo, Cleanup: repo.Close}, nil
}

func (f *DefaultFactory) createPostgRESTBackend(ctx context.Context, config Config) (*BackendResult, error) {
	client, err := postgrest.New(postgrest.Config{
		BaseURL: config.PostgRESTURL,
		APIKey:  config.PostgRESTAPIKey,
		Table:   config.PostgRESTTable,
		Timeout: config.PostgRESTTimeout,
	}, f.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgREST client: %w", err)
	}

	// unreachable data API is logged, not fatal: readiness reports it
	if err := client.Ping(ctx); err != nil {
		f.logger.WarnContext(ctx, "PostgREST not reachable at startup", log.FieldError, err)
	}

	f.logger.Info("Initialized PostgREST backend", "url", config.PostgRESTURL, "table", config.PostgRESTTable)
	return &BackendResult{Store: client}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	f.logger.Info("Initialized memory backend")
	return &BackendResult{Store: memory.New(f.clock)}, nil
}
