package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/quotecache/pkg/config"
)

// RedisClient is the key-value store backing the in-memory cache and the
// per-asset blob stores. Namespaces map to Redis hashes; the three
// top-level datasets additionally use one plain string key.
type RedisClient struct {
	client *redis.Client
	logger *logrus.Entry
	cfg    *config.RedisConfig
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		logger: logger.WithField("component", "redis"),
		cfg:    cfg,
	}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Health checks Redis health
func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// GetStr reads a string field from a namespace hash.
func (rc *RedisClient) GetStr(ctx context.Context, ns, key string) (string, bool, error) {
	val, err := rc.client.HGet(ctx, ns, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s/%s: %w", ns, key, err)
	}
	return val, true, nil
}

// GetBin reads a binary field from a namespace hash.
func (rc *RedisClient) GetBin(ctx context.Context, ns, key string) ([]byte, bool, error) {
	val, err := rc.client.HGet(ctx, ns, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", ns, key, err)
	}
	return val, true, nil
}

// SetStr writes a string field into a namespace hash. Full overwrite.
func (rc *RedisClient) SetStr(ctx context.Context, ns, key, val string) error {
	if err := rc.client.HSet(ctx, ns, key, val).Err(); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", ns, key, err)
	}
	return nil
}

// SetBin writes a binary field into a namespace hash. Full overwrite.
func (rc *RedisClient) SetBin(ctx context.Context, ns, key string, val []byte) error {
	if err := rc.client.HSet(ctx, ns, key, val).Err(); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", ns, key, err)
	}
	return nil
}

// GetPlain reads a top-level string key.
func (rc *RedisClient) GetPlain(ctx context.Context, key string) (string, bool, error) {
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, true, nil
}

// SetPlain writes a top-level string key.
func (rc *RedisClient) SetPlain(ctx context.Context, key, val string) error {
	if err := rc.client.Set(ctx, key, val, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
