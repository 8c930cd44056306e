package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/registry"
)

// RedisKVStore implements the core.KVStore interface using Redis.
// Several devices can share one queue namespace through it.
type RedisKVStore struct {
	client *redis.Client
	logger *zap.SugaredLogger
	closed bool
}

// RedisOptions holds the connection settings for NewRedisKVStore.
type RedisOptions struct {
	Endpoints    []string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisKVStore creates a new Redis KV store and verifies the connection.
func NewRedisKVStore(opts RedisOptions, logger *zap.SugaredLogger) (*RedisKVStore, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	// Single-node only; the first endpoint is used.
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Endpoints[0],
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	pingTimeout := opts.DialTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("connected to redis", "addr", opts.Endpoints[0], "db", opts.DB)
	return &RedisKVStore{client: client, logger: logger}, nil
}

// Get retrieves a value by key from the store.
func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed {
		return nil, ErrStoreClosed
	}

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	if err != nil {
		r.logger.Errorw("get failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	r.logger.Debugw("get", "key", key, "bytes", len(val))
	return val, nil
}

// Set stores a key-value pair with an optional TTL.
func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.closed {
		return ErrStoreClosed
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Errorw("set failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	r.logger.Debugw("set", "key", key, "bytes", len(value), "ttl", ttl)
	return nil
}

// Delete removes a key from the store.
func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	if r.closed {
		return ErrStoreClosed
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (r *RedisKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if r.closed {
		return false, ErrStoreClosed
	}

	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return count > 0, nil
}

// BatchSet stores multiple key-value pairs in one MULTI/EXEC transaction.
func (r *RedisKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if r.closed {
		return ErrStoreClosed
	}

	pipe := r.client.TxPipeline()
	for key, value := range items {
		pipe.Set(ctx, key, value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to batch set keys: %w", err)
	}
	return nil
}

// Close closes the connection to the KV store.
func (r *RedisKVStore) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// RedisKVStoreFactory implements the KVStoreFactory interface for Redis.
type RedisKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *RedisKVStoreFactory) Type() string {
	return "redis"
}

// Validate validates the Redis-specific configuration.
func (f *RedisKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "redis" {
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	}
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if config.DB < 0 || config.DB > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", config.DB)
	}
	if config.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", config.PoolSize)
	}
	if config.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", config.MinIdleConns)
	}
	if config.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", config.DialTimeout)
	}
	return nil
}

// Create creates a new Redis KV store instance based on the provided configuration.
func (f *RedisKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	redisStore, err := NewRedisKVStore(RedisOptions{
		Endpoints:    config.Endpoints,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}, config.logger().Named("kvstore.redis"))
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return redisStore, nil
}

// RedisConfigValidator implements the ConfigValidator interface for Redis.
type RedisConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *RedisConfigValidator) Type() string {
	return "redis"
}

// Validate validates the Redis-specific configuration in the internal config.
func (v *RedisConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	kvConfig := config.KVStore
	if kvConfig.Type != "redis" {
		return fmt.Errorf("invalid type for Redis validator: %s", kvConfig.Type)
	}

	redisConfig := kvConfig.RedisConfig
	if len(redisConfig.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if redisConfig.DB < 0 || redisConfig.DB > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", redisConfig.DB)
	}
	if redisConfig.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", redisConfig.PoolSize)
	}
	if redisConfig.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", redisConfig.MinIdleConns)
	}

	return validateTimeouts(kvConfig)
}

// init auto-registers the Redis factory and validator on package initialization.
func init() {
	RegisterFactory(&RedisKVStoreFactory{})
	registry.RegisterValidator(&RedisConfigValidator{})
}
