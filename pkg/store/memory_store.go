package store

import (
	"context"
	"sync"

	"appcatalog/pkg/domain"
)

// MemoryStore keeps the catalog in-process. It is owned by whoever constructs
// it; nothing is shared between instances.
type MemoryStore struct {
	mu   sync.RWMutex
	apps map[string]domain.App
	keys *KeyedMutex
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps: make(map[string]domain.App),
		keys: NewKeyedMutex(),
	}
}

// List returns a filtered, sorted snapshot.
func (m *MemoryStore) List(ctx context.Context, filter domain.Filter) ([]domain.App, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	res := make([]domain.App, 0, len(m.apps))
	for _, app := range m.apps {
		res = append(res, app.Clone())
	}
	m.mu.RUnlock()
	return Apply(res, filter), nil
}

// Get retrieves an app by ID.
func (m *MemoryStore) Get(ctx context.Context, id string) (domain.App, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.App{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[id]
	if !ok {
		return domain.App{}, false, nil
	}
	return app.Clone(), true, nil
}

// Create inserts app unless the id is taken.
func (m *MemoryStore) Create(ctx context.Context, app domain.App) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.apps[app.ID]; exists {
		return ErrDuplicateID
	}
	m.apps[app.ID] = domain.Normalize(app.Clone())
	return nil
}

// Update applies mutate under the per-id lock.
func (m *MemoryStore) Update(ctx context.Context, id string, mutate Mutator) (domain.App, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.App{}, false, err
	}
	unlock := m.keys.Lock(id)
	defer unlock()

	m.mu.RLock()
	cur, ok := m.apps[id]
	m.mu.RUnlock()
	if !ok {
		return domain.App{}, false, nil
	}
	next := domain.Normalize(mutate(cur.Clone()))
	next.ID = id

	m.mu.Lock()
	m.apps[id] = next.Clone()
	m.mu.Unlock()
	return next, true, nil
}

func (m *MemoryStore) Close() error { return nil }
