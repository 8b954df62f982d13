package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const expiryKeyPrefix = "stockdesk:expiry:"

type RedisExpiryStore struct {
	client *redis.Client
}

func NewRedisExpiryStore(addr string, password string, db int) *RedisExpiryStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisExpiryStore{client: client}
}

func (s *RedisExpiryStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisExpiryStore) Close() error {
	return s.client.Close()
}

func (s *RedisExpiryStore) Get(ctx context.Context, sku string) (*time.Time, bool, error) {
	val, err := s.client.Get(ctx, expiryKeyPrefix+sku).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	expiry, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, false, err
	}
	return &expiry, true, nil
}

func (s *RedisExpiryStore) Set(ctx context.Context, sku string, expiry time.Time) error {
	return s.client.Set(ctx, expiryKeyPrefix+sku, expiry.UTC().Format(time.RFC3339), 0).Err()
}

func (s *RedisExpiryStore) Delete(ctx context.Context, sku string) error {
	return s.client.Del(ctx, expiryKeyPrefix+sku).Err()
}
