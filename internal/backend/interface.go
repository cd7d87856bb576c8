package backend

import (
	"context"

	"moneybook/internal/remote"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the store instance and optional cleanup function
type BackendResult struct {
	Store   remote.Store
	Cleanup CleanupFunc
}

// Factory creates stores based on configuration
type Factory interface {
	// CreateBackend creates a store instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// Memory specific, empty keeps everything in process
	MemoryFilePath string

	// SQLite specific
	SQLiteDBPath string

	// Postgres specific
	DatabaseURL string

	// Redis specific
	RedisURL    string
	RedisPrefix string

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleTabPrefix          string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	RedisBackend    BackendType = "redis"
	SheetsBackend   BackendType = "sheets"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend, RedisBackend, SheetsBackend:
		return true
	default:
		return false
	}
}
