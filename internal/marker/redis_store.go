package marker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/poacher-dev/poacher/internal/console"
)

// RedisStore keeps the marker as a JSON value under a single key, so
// several hosts can share discovery progress.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore initializes a Redis-backed Store.
func NewRedisStore(addr, key string) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), key)
}

// NewRedisStoreWithClient builds a store around an existing client (tests).
func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) String() string {
	return "redis:" + s.key
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Load reads the marker from Redis.
func (s *RedisStore) Load(ctx context.Context) (Record, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNoMarker
		}
		return Record{}, err
	}
	return decodeRecord([]byte(val))
}

// Save writes the marker to Redis without expiry.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, payload, 0).Err()
}

// Mirror loads from Primary and saves to both stores. A failing Secondary
// is logged and otherwise ignored; the primary is the source of truth.
type Mirror struct {
	Primary   Store
	Secondary Store
	Log       *console.Logger
}

func (m *Mirror) String() string {
	return fmt.Sprintf("%s (mirrored to %s)", describe(m.Primary), describe(m.Secondary))
}

// Load reads the primary store.
func (m *Mirror) Load(ctx context.Context) (Record, error) {
	return m.Primary.Load(ctx)
}

// Save writes the primary store, then the secondary.
func (m *Mirror) Save(ctx context.Context, rec Record) error {
	if err := m.Primary.Save(ctx, rec); err != nil {
		return err
	}
	if err := m.Secondary.Save(ctx, rec); err != nil && m.Log != nil {
		m.Log.Warn("Failed to mirror marker to %s: %v", describe(m.Secondary), err)
	}
	return nil
}
