package backend

import (
	"context"
	"slices"

	"pagos/internal/goals"
	"pagos/internal/invoicing"
	"pagos/internal/ledger"
)

// Store is the union of every persistence boundary the services need.
// Both the memory and the sqlite backends implement it.
type Store interface {
	ledger.Store
	goals.Store
	goals.IncomeReader
	invoicing.Store
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the store and optional cleanup function
type BackendResult struct {
	Store   Store
	Cleanup CleanupFunc
}

// Close runs the cleanup function if there is one.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a store based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid reports whether bt is one of Types.
func (bt BackendType) IsValid() bool {
	return slices.Contains(Types(), bt)
}
