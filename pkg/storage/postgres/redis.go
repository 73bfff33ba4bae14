package postgres

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis holds sessions and rate limit windows. Its timeouts are kept short
// because every request touches the session store.
const (
	redisDialTimeout = 5 * time.Second
	redisIOTimeout   = 3 * time.Second
	redisPoolTimeout = 4 * time.Second
)

// RedisConfig holds Redis connection configuration. Non-zero fields
// override what the URL specifies.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// NewRedisClient connects to Redis and pings it once
func NewRedisClient(ctx context.Context, config RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.Password = cmp.Or(config.Password, opts.Password)
	opts.DB = cmp.Or(config.DB, opts.DB)
	opts.MaxRetries = cmp.Or(config.MaxRetries, opts.MaxRetries)
	opts.PoolSize = cmp.Or(config.PoolSize, opts.PoolSize)
	opts.DialTimeout = redisDialTimeout
	opts.ReadTimeout = redisIOTimeout
	opts.WriteTimeout = redisIOTimeout
	opts.PoolTimeout = redisPoolTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
