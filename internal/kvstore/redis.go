package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/2beens/fitsense/internal/telemetry/tracing"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultRedisKeyPrefix = "fitsense"

// RedisStore namespaces every key with a prefix and keeps the live keys in a
// redis set, so listing never needs KEYS or SCAN.
type RedisStore struct {
	rdb        *redis.Client
	keyPrefix  string
	keysSetKey string
}

// NewRedisStore does not take ownership of the client, Close leaves it open.
func NewRedisStore(rdb *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{
		rdb:        rdb,
		keyPrefix:  keyPrefix + "||",
		keysSetKey: keyPrefix + "-keys",
	}
}

func (s *RedisStore) storageKey(key string) string {
	return s.keyPrefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (_ Item, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "kvstore.redis.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key))

	value, err := s.rdb.Get(ctx, s.storageKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Item{}, fmt.Errorf("get [%s]: %w", key, ErrNotFound)
		}
		return Item{}, fmt.Errorf("get [%s]: %w", key, err)
	}

	return Item{Key: key, Value: value}, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) (_ Item, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "kvstore.redis.set")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key), attribute.Int("value.size", len(value)))

	if err := s.rdb.Set(ctx, s.storageKey(key), value, 0).Err(); err != nil {
		return Item{}, fmt.Errorf("set [%s]: %w", key, err)
	}

	// add key to the index set
	if err := s.rdb.SAdd(ctx, s.keysSetKey, key).Err(); err != nil {
		return Item{}, fmt.Errorf("index key [%s]: %w", key, err)
	}

	return Item{Key: key, Value: value}, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (_ Deleted, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "kvstore.redis.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key))

	if err := s.rdb.Del(ctx, s.storageKey(key)).Err(); err != nil {
		return Deleted{}, fmt.Errorf("delete [%s]: %w", key, err)
	}

	// remove key from the index set
	if err := s.rdb.SRem(ctx, s.keysSetKey, key).Err(); err != nil {
		return Deleted{}, fmt.Errorf("unindex key [%s]: %w", key, err)
	}

	return Deleted{Key: key, Deleted: true}, nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) (_ []string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "kvstore.redis.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("prefix", prefix))

	keys, err := s.rdb.SMembers(ctx, s.keysSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	return filterAndSort(keys, prefix), nil
}

func (s *RedisStore) Close() error {
	return nil
}
