package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"appcatalog/pkg/domain"
	"appcatalog/pkg/storage"
	"golang.org/x/sync/errgroup"
)

const (
	documentPrefix      = "apps/"
	documentSuffix      = ".json"
	documentContentType = "application/json"
	listConcurrency     = 8
)

// DocumentStore keeps one JSON object per app in a bucket that has no
// transactions. Create and Update are serialized per id with an in-process
// KeyedMutex, so the bucket must be written by this process only; running
// several replicas against the same bucket can lose updates.
type DocumentStore struct {
	bucket  storage.Bucket
	keys    *KeyedMutex
	timeout time.Duration
}

// NewDocumentStore wraps a bucket.
func NewDocumentStore(bucket storage.Bucket, timeout time.Duration) *DocumentStore {
	return &DocumentStore{bucket: bucket, keys: NewKeyedMutex(), timeout: timeout}
}

func documentKey(id string) string {
	return documentPrefix + id + documentSuffix
}

// List fetches all documents with bounded concurrency and filters in process.
func (s *DocumentStore) List(ctx context.Context, filter domain.Filter) ([]domain.App, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	keys, err := s.bucket.List(ctx, documentPrefix)
	if err != nil {
		return nil, err
	}
	apps := make([]domain.App, len(keys))
	present := make([]bool, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, key := range keys {
		if !strings.HasSuffix(key, documentSuffix) {
			continue
		}
		g.Go(func() error {
			raw, ok, err := s.bucket.Get(gctx, key)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			app, err := decodeApp(raw)
			if err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			apps[i], present[i] = app, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res := make([]domain.App, 0, len(apps))
	for i, app := range apps {
		if present[i] {
			res = append(res, app)
		}
	}
	return Apply(res, filter), nil
}

// Get reads one document.
func (s *DocumentStore) Get(ctx context.Context, id string) (domain.App, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.get(ctx, id)
}

func (s *DocumentStore) get(ctx context.Context, id string) (domain.App, bool, error) {
	raw, ok, err := s.bucket.Get(ctx, documentKey(id))
	if err != nil || !ok {
		return domain.App{}, false, err
	}
	app, err := decodeApp(raw)
	if err != nil {
		return domain.App{}, false, err
	}
	return app, true, nil
}

// Create checks and writes under the id lock.
func (s *DocumentStore) Create(ctx context.Context, app domain.App) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	unlock := s.keys.Lock(app.ID)
	defer unlock()

	if _, exists, err := s.get(ctx, app.ID); err != nil {
		return err
	} else if exists {
		return ErrDuplicateID
	}
	return s.put(ctx, domain.Normalize(app))
}

// Update reads, mutates and writes under the id lock.
func (s *DocumentStore) Update(ctx context.Context, id string, mutate Mutator) (domain.App, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	unlock := s.keys.Lock(id)
	defer unlock()

	cur, ok, err := s.get(ctx, id)
	if err != nil || !ok {
		return domain.App{}, false, err
	}
	next := domain.Normalize(mutate(cur))
	next.ID = id
	if err := s.put(ctx, next); err != nil {
		return domain.App{}, false, err
	}
	return next, true, nil
}

func (s *DocumentStore) put(ctx context.Context, app domain.App) error {
	data, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("encode app: %w", err)
	}
	return s.bucket.Put(ctx, documentKey(app.ID), data, documentContentType)
}

func (s *DocumentStore) Close() error { return nil }
