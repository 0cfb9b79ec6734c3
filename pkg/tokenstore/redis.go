package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventclub/pkg/apiclient"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	URL      string
	Password string
	Prefix   string
	TTL      time.Duration
}

// RedisStore shares one token across gateway replicas.
type RedisStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

var _ apiclient.TokenStore = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisStore(rdb, cfg.Prefix, cfg.TTL), nil
}

func newRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, key: tokenKey(prefix), ttl: ttl}
}

func tokenKey(prefix string) string {
	if prefix == "" {
		return apiclient.TokenKey
	}
	return prefix + ":" + apiclient.TokenKey
}

func (s *RedisStore) Load(ctx context.Context) (string, error) {
	val, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get failed: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Save(ctx context.Context, token string) error {
	if err := s.rdb.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
