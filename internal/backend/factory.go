package backend

import (
	"context"
	"fmt"
	"log/slog"

	"moneybook/internal/log"
	"moneybook/internal/remote/memory"
	"moneybook/internal/remote/postgres"
	"moneybook/internal/remote/redis"
	"moneybook/internal/remote/sheets"
	"moneybook/internal/remote/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger.With(log.FieldComponent, log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		res *BackendResult
		err error
	)
	switch config.Type {
	case MemoryBackend:
		res, err = f.createMemoryBackend(config)
	case SQLiteBackend:
		res, err = f.createSQLiteBackend(config)
	case PostgresBackend:
		res, err = f.createPostgresBackend(ctx, config)
	case RedisBackend:
		res, err = f.createRedisBackend(ctx, config)
	case SheetsBackend:
		res, err = f.createSheetsBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		f.logger.ErrorContext(ctx, "Failed to initialize backend",
			log.FieldBackend, string(config.Type),
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
		return nil, err
	}
	return res, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	if config.MemoryFilePath == "" {
		f.logger.Info("Initialized memory backend", "persistent", false)
		return &BackendResult{Store: memory.New()}, nil
	}

	store, err := memory.NewFromFile(config.MemoryFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory backend: %w", err)
	}
	f.logger.Info("Initialized memory backend", "persistent", true, "path", config.MemoryFilePath)
	return &BackendResult{Store: store}, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	store, err := sqlite.New(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Store:   store,
		Cleanup: store.Close,
	}, nil
}

func (f *DefaultFactory) createPostgresBackend(ctx context.Context, config Config) (*BackendResult, error) {
	store, err := postgres.New(ctx, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
	}

	f.logger.Info("Initialized postgres backend")

	return &BackendResult{
		Store:   store,
		Cleanup: store.Close,
	}, nil
}

func (f *DefaultFactory) createRedisBackend(ctx context.Context, config Config) (*BackendResult, error) {
	store, err := redis.New(ctx, config.RedisURL, config.RedisPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis store: %w", err)
	}

	f.logger.Info("Initialized redis backend", "prefix", config.RedisPrefix)

	return &BackendResult{
		Store:   store,
		Cleanup: store.Close,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	cli, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
		TabPrefix:       config.GoogleTabPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend")

	return &BackendResult{
		Store:   cli,
		Cleanup: nil, // No cleanup needed for sheets backend
	}, nil
}
