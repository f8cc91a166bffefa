// Package storage defines the persistence layer for market data: the row
// tables holding bars and ticks plus the per-key coverage envelopes derived
// from them. Backends (DuckDB, Postgres over a cloud proxy, in-memory) all
// implement the same merge/read/delete contract with transactional semantics
// so that the coverage metadata can never drift from the row data.
package storage

import (
	"context"
	"fmt"

	"github.com/St0rmMaster/binance-data-framework/internal/models"
)

// BarStorer handles OHLCV bar persistence.
type BarStorer interface {
	// Merge upserts bars keyed by (timestamp, symbol, timeframe). An incoming
	// bar silently replaces an existing row with the same key. After the
	// upsert the coverage record for the key is recomputed as min/max over
	// all persisted rows, inside the same transaction. An empty input is a
	// no-op success; only I/O-level failures produce an error.
	Merge(ctx context.Context, symbol, timeframe string, bars []models.Bar) error
}

// BarReader handles OHLCV bar retrieval.
type BarReader interface {
	// ReadRange returns bars with r.Start <= timestamp <= r.End, strictly
	// ascending by timestamp. An empty result is not an error.
	ReadRange(ctx context.Context, symbol, timeframe string, r models.Range) ([]models.Bar, error)

	// ReadCoverage returns the coverage envelope for a key, or (nil, nil)
	// when no rows exist for it.
	ReadCoverage(ctx context.Context, symbol, timeframe string) (*models.CoverageRecord, error)
}

// TickStorer handles bid/ask quote persistence. Ticks are keyed by
// (timestamp, symbol, source) and their coverage is tracked per symbol.
type TickStorer interface {
	MergeTicks(ctx context.Context, symbol, source string, ticks []models.Tick) error
}

// TickReader handles quote retrieval.
type TickReader interface {
	ReadTickRange(ctx context.Context, symbol string, r models.Range) ([]models.Tick, error)

	// ReadTickCoverage returns the per-symbol tick envelope, or (nil, nil)
	// when no ticks exist for the symbol.
	ReadTickCoverage(ctx context.Context, symbol string) (*models.CoverageRecord, error)
}

// Deleter removes rows and their coverage record atomically. Deleting a key
// that holds no data is a success, not an error.
type Deleter interface {
	Delete(ctx context.Context, symbol, timeframe string) error
	DeleteTicks(ctx context.Context, symbol string) error
}

// Manager handles backend lifecycle and operational concerns.
type Manager interface {
	// Initialize prepares the backend (tables, indexes). Idempotent.
	Initialize(ctx context.Context) error

	// Close releases connections; the store must not be used afterwards.
	Close() error

	// HealthCheck performs a lightweight connectivity probe.
	HealthCheck(ctx context.Context) error

	// StoredInfo enumerates every coverage record together with its row
	// count, for operator tooling.
	StoredInfo(ctx context.Context) ([]models.CoverageInfo, error)
}

// Store combines the full persistence contract implemented by every backend.
type Store interface {
	BarStorer
	BarReader
	TickStorer
	TickReader
	Deleter
	Manager
}

// StorageError represents an I/O-level failure of a storage operation.
// It is the only error kind storage methods return for hard failures;
// absence of data is reported through nil results, never through errors.
type StorageError struct {
	Operation string // the operation that failed (e.g. "merge", "query")
	Table     string // the table involved, if any
	Err       error  // the underlying cause
}

// Error implements the error interface with operation context.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError with the provided context.
func NewStorageError(operation, table string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Err: err}
}

// NewMergeError creates a StorageError for merge operations.
func NewMergeError(table string, err error) *StorageError {
	return &StorageError{Operation: "merge", Table: table, Err: err}
}

// NewQueryError creates a StorageError for read operations.
func NewQueryError(table string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Err: err}
}

// NewDeleteError creates a StorageError for delete operations.
func NewDeleteError(table string, err error) *StorageError {
	return &StorageError{Operation: "delete", Table: table, Err: err}
}
