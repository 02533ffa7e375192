package backend

import (
	"context"
	"time"

	"comissao/internal/store"
)

// CleanupFunc releases the resources held by a backend.
type CleanupFunc func() error

// BackendResult is the store selected by configuration plus its cleanup.
type BackendResult struct {
	Store   store.Store
	Cleanup CleanupFunc
}

// Factory creates stores based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds what a factory needs to build one store.
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// PostgREST specific
	PostgRESTURL     string
	PostgRESTAPIKey  string
	PostgRESTTable   string
	PostgRESTTimeout time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend    BackendType = "memory"
	SQLiteBackend    BackendType = "sqlite"
	PostgRESTBackend BackendType = "postgrest"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgRESTBackend:
		return true
	default:
		return false
	}
}
