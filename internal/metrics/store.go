package metrics

import (
	"context"
	"errors"
	"time"

	"appcatalog/pkg/domain"
	"appcatalog/pkg/store"
)

type instrumentedStore struct {
	next    store.Store
	backend string
	m       *Metrics
}

// InstrumentStore wraps s so every call is counted and timed under backend.
func (m *Metrics) InstrumentStore(s store.Store, backend string) store.Store {
	return &instrumentedStore{next: s, backend: backend, m: m}
}

func (s *instrumentedStore) List(ctx context.Context, filter domain.Filter) (apps []domain.App, err error) {
	defer func(start time.Time) { s.m.observeStore(s.backend, "list", start, err) }(time.Now())
	return s.next.List(ctx, filter)
}

func (s *instrumentedStore) Get(ctx context.Context, id string) (app domain.App, ok bool, err error) {
	defer func(start time.Time) { s.m.observeStore(s.backend, "get", start, err) }(time.Now())
	return s.next.Get(ctx, id)
}

func (s *instrumentedStore) Create(ctx context.Context, app domain.App) (err error) {
	defer func(start time.Time) {
		// A duplicate id is a caller error, not a backend failure.
		if errors.Is(err, store.ErrDuplicateID) {
			s.m.observeStore(s.backend, "create", start, nil)
			return
		}
		s.m.observeStore(s.backend, "create", start, err)
	}(time.Now())
	return s.next.Create(ctx, app)
}

func (s *instrumentedStore) Update(ctx context.Context, id string, mutate store.Mutator) (app domain.App, ok bool, err error) {
	defer func(start time.Time) { s.m.observeStore(s.backend, "update", start, err) }(time.Now())
	return s.next.Update(ctx, id, mutate)
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
