package storage

import (
	"context"
	"errors"
	"time"

	"coefbot/internal/supply"
)

var (
	// ErrStorage matches every failure of the underlying database.
	ErrStorage = errors.New("storage failure")
	// ErrDuplicate is returned when adding an item whose key is already tracked.
	ErrDuplicate = errors.New("already tracked")
	// ErrNotFound is returned when dropping an item that is not tracked.
	ErrNotFound = errors.New("not tracked")
)

// OpError wraps a database error with the failing operation.
// errors.Is(err, ErrStorage) holds for every OpError.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }

func (e *OpError) Is(target error) bool { return target == ErrStorage }

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "memory": private in-memory SQLite database (tests, one-shot CLI runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means 1s
}

// KV is a string-keyed store of JSON-encoded values.
type KV interface {
	Set(ctx context.Context, key string, value any) error
	// Get decodes the value into dst. found is false for absent keys;
	// absence is never reported as an error.
	Get(ctx context.Context, key string, dst any) (found bool, err error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Registry is a persistent set of tracked items of type T with natural key K.
type Registry[T any, K comparable] interface {
	All(ctx context.Context) ([]T, error)
	Add(ctx context.Context, item T) error
	Drop(ctx context.Context, key K) error
	Clear(ctx context.Context) error
	Has(ctx context.Context, key K) (bool, error)
}

type (
	WarehouseRegistry = Registry[supply.Warehouse, int64]
	BoxTypeRegistry   = Registry[string, string]
	DateRegistry      = Registry[time.Time, time.Time]
)

// DedupStore keeps notifier suppression windows across restarts.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Toggle flips key's membership and reports whether it is tracked afterwards.
// Races with another toggler resolve to the state the other one produced.
func Toggle[T any, K comparable](ctx context.Context, r Registry[T, K], key K, item T) (bool, error) {
	has, err := r.Has(ctx, key)
	if err != nil {
		return false, err
	}
	if has {
		if err := r.Drop(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			return true, err
		}
		return false, nil
	}
	err = r.Add(ctx, item)
	if errors.Is(err, ErrDuplicate) {
		// Only a concurrent add of the same key counts as tracked.
		return r.Has(ctx, key)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TrackingEvent is the payload of eventbus.TrackingChanged.
type TrackingEvent struct {
	Registry string `json:"registry"`
	Key      string `json:"key"`
	Tracked  bool   `json:"tracked"`
	By       string `json:"by,omitempty"`
}
