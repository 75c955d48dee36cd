package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"appcatalog/pkg/domain"
	"github.com/redis/go-redis/v9"
)

// createScript inserts a document only when its key is free, and indexes it.
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SADD", KEYS[2], ARGV[2])
return 1
`)

// RedisStore keeps one JSON document per app. Updates use WATCH/MULTI/EXEC
// and retry on conflict until the call deadline.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

type RedisStoreConfig struct {
	Addr     string
	Password string
	Prefix   string
	Timeout  time.Duration
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
	}), cfg.Prefix, cfg.Timeout), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, timeout time.Duration) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "appcatalog"
	}
	return &RedisStore{client: client, prefix: prefix, timeout: timeout}
}

func (s *RedisStore) appKey(id string) string {
	return fmt.Sprintf("%s:app:%s", s.prefix, id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":apps"
}

// List loads every indexed document and filters in process.
func (s *RedisStore) List(ctx context.Context, filter domain.Filter) ([]domain.App, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.App{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.appKey(id))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	apps := make([]domain.App, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		app, err := decodeApp([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		apps = append(apps, app)
	}
	return Apply(apps, filter), nil
}

// Get resolves one document.
func (s *RedisStore) Get(ctx context.Context, id string) (domain.App, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.appKey(id)).Bytes()
	if err == redis.Nil {
		return domain.App{}, false, nil
	}
	if err != nil {
		return domain.App{}, false, err
	}
	app, err := decodeApp(raw)
	if err != nil {
		return domain.App{}, false, err
	}
	return app, true, nil
}

// Create writes the document atomically if the id is unused.
func (s *RedisStore) Create(ctx context.Context, app domain.App) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(domain.Normalize(app))
	if err != nil {
		return fmt.Errorf("encode app: %w", err)
	}
	created, err := createScript.Run(ctx, s.client, []string{s.appKey(app.ID), s.indexKey()}, string(data), app.ID).Int64()
	if err != nil {
		return err
	}
	if created == 0 {
		return ErrDuplicateID
	}
	return nil
}

// Update is an optimistic transaction on the document key.
func (s *RedisStore) Update(ctx context.Context, id string, mutate Mutator) (domain.App, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	key := s.appKey(id)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := waitRetry(ctx, attempt); err != nil {
				return domain.App{}, false, err
			}
		} else if err := ctx.Err(); err != nil {
			return domain.App{}, false, err
		}

		var (
			next  domain.App
			found bool
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			cur, err := decodeApp(raw)
			if err != nil {
				return err
			}
			next = domain.Normalize(mutate(cur))
			next.ID = id
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode app: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			if err != nil {
				return err
			}
			found = true
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return domain.App{}, false, err
		}
		return next, found, nil
	}
}

const (
	retryBaseDelay = 2 * time.Millisecond
	retryMaxDelay  = 50 * time.Millisecond
)

// retryDelay grows linearly with attempt up to retryMaxDelay, with full jitter.
func retryDelay(attempt int) time.Duration {
	ceiling := time.Duration(attempt) * retryBaseDelay
	if ceiling > retryMaxDelay {
		ceiling = retryMaxDelay
	}
	return time.Duration(rand.Int64N(int64(ceiling))) + time.Millisecond
}

// waitRetry sleeps before the next WATCH attempt or returns early on ctx.
func waitRetry(ctx context.Context, attempt int) error {
	timer := time.NewTimer(retryDelay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeApp(raw []byte) (domain.App, error) {
	var app domain.App
	if err := json.Unmarshal(raw, &app); err != nil {
		return domain.App{}, err
	}
	return domain.Normalize(app), nil
}
