package store

import (
	"context"
	"errors"
	"time"

	"appcatalog/pkg/domain"
)

// ErrDuplicateID is returned by Create when the id is already taken.
var ErrDuplicateID = errors.New("app id already exists")

// DefaultTimeout bounds a single store call when none is configured.
const DefaultTimeout = 5 * time.Second

// Mutator derives the next state of a record from its current state. It must be pure.
type Mutator func(domain.App) domain.App

// Store defines persistence operations for catalog records.
//
// Update is an atomic read-modify-write: concurrent updates to the same id
// are linearizable, updates to different ids do not block each other.
type Store interface {
	List(ctx context.Context, filter domain.Filter) ([]domain.App, error)
	Get(ctx context.Context, id string) (domain.App, bool, error)
	Create(ctx context.Context, app domain.App) error
	Update(ctx context.Context, id string, mutate Mutator) (domain.App, bool, error)
	Close() error
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
