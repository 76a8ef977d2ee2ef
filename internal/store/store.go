// Package store records request outcomes for history and operational
// visibility. Writes are best effort; callers never block a response on them.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/skinsight/skinsight/pkg/models"
)

// Store is the result recorder. The in-memory implementation backs tests and
// local runs; SQLite persists across restarts.
type Store interface {
	Record(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, id string) (*models.Record, error)
	Recent(ctx context.Context, filter ListFilter) ([]models.Record, error)
	Count(ctx context.Context) (int, error)

	// Purge deletes records created before the cutoff and returns how many
	// were removed.
	Purge(ctx context.Context, before time.Time) (int, error)

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// Supported drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverNone   = "none"
)

// Open creates the store named by driver. DriverNone returns a nil Store.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(0), nil
	case DriverSQLite:
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ── Filter helpers ──────────────────────────────────────────

// ListFilter provides common pagination/filter options.
type ListFilter struct {
	Limit  int
	Offset int
	Kind   models.RecordKind
}

// DefaultListLimit applies when a filter has no limit.
const DefaultListLimit = 50

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
