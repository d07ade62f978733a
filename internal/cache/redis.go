package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings redis.
func NewRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// New returns a redis-backed cache when addr is set, otherwise an in-memory one.
// The returned close func releases the backend.
func New(ctx context.Context, opts RedisOptions, memMaxEntries int) (Cache, func() error, error) {
	if opts.Addr == "" {
		return NewMemoryCache(memMaxEntries), func() error { return nil }, nil
	}
	client, err := NewRedis(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return NewRedisCache(client), client.Close, nil
}
