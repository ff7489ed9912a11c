package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the seen-set in a Redis set.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore wraps an existing client. An empty key uses DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Load implements Store. A missing key is an empty set.
func (r *RedisStore) Load(ctx context.Context) (Set, error) {
	if r == nil || r.client == nil {
		return nil, loadErr(errNotInitialized)
	}
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, loadErr(fmt.Errorf("redis smembers %s: %w", r.key, err))
	}
	return NewSet(members...), nil
}

// Save implements Store. DEL and SADD run in one MULTI/EXEC block so readers
// never see a half-written set.
func (r *RedisStore) Save(ctx context.Context, s Set) error {
	if r == nil || r.client == nil {
		return saveErr(errNotInitialized)
	}
	sorted := s.Sorted()
	members := make([]interface{}, len(sorted))
	for i, m := range sorted {
		members[i] = m
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(members) > 0 {
			pipe.SAdd(ctx, r.key, members...)
		}
		return nil
	})
	if err != nil {
		return saveErr(fmt.Errorf("redis save %s: %w", r.key, err))
	}
	return nil
}

func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
