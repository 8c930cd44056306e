package kvstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/registry"
)

// KVStoreFactory is the Strategy interface for creating KV store implementations.
// Each backend (SQLite, Redis, DynamoDB, etc.) implements this interface to provide
// its own factory method.
type KVStoreFactory interface {
	// Create creates a new KV store instance based on the provided configuration.
	Create(config KVStoreConfig) (core.KVStore, error)

	// Type returns the type identifier for this factory (e.g., "redis", "dynamodb").
	Type() string

	// Validate validates the configuration specific to this KV store type.
	Validate(config KVStoreConfig) error
}

// KVStoreConfig represents the configuration needed to create a KV store.
type KVStoreConfig struct {
	Type         string
	Endpoints    []string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DynamoDB-specific fields
	Region          string
	TableName       string
	Endpoint        string // Optional, for LocalStack
	AccessKeyID     string // Optional, can use IAM role instead
	SecretAccessKey string // Optional, can use IAM role instead

	// SQLite-specific fields
	Path string

	Logger *zap.SugaredLogger
}

// ConfigFromInternal converts the loaded configuration into a KVStoreConfig.
func ConfigFromInternal(cfg registry.InternalKVStoreConfig, logger *zap.SugaredLogger) KVStoreConfig {
	return KVStoreConfig{
		Type:            cfg.Type,
		Endpoints:       cfg.RedisConfig.Endpoints,
		Password:        cfg.RedisConfig.Password,
		DB:              cfg.RedisConfig.DB,
		MaxRetries:      cfg.MaxRetries,
		PoolSize:        cfg.RedisConfig.PoolSize,
		MinIdleConns:    cfg.RedisConfig.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		Region:          cfg.DynamoDBConfig.Region,
		TableName:       cfg.DynamoDBConfig.TableName,
		Endpoint:        cfg.DynamoDBConfig.Endpoint,
		AccessKeyID:     cfg.DynamoDBConfig.AccessKeyID,
		SecretAccessKey: cfg.DynamoDBConfig.SecretAccessKey,
		Path:            cfg.SQLiteConfig.Path,
		Logger:          logger,
	}
}

func (c KVStoreConfig) logger() *zap.SugaredLogger {
	if c.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return c.Logger
}

var (
	// factoryRegistry stores all registered KV store factories.
	factoryRegistry = make(map[string]KVStoreFactory)

	// registryMutex protects the registries from concurrent access.
	registryMutex sync.RWMutex
)

// RegisterFactory registers a KV store factory.
// This is called automatically by each implementation's init() function.
func RegisterFactory(factory KVStoreFactory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}

	factoryRegistry[factory.Type()] = factory
}

// Create creates a KV store instance using the factory registered for config.Type.
func Create(config KVStoreConfig) (core.KVStore, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s", config.Type)
	}

	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}

	return factory.Create(config)
}

// GetRegisteredTypes returns the sorted list of registered KV store types.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered checks if a KV store type is registered.
func IsTypeRegistered(storeType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[storeType]
	return exists
}

// validateTimeouts checks the timeouts shared by every network-backed store.
func validateTimeouts(kvConfig registry.InternalKVStoreConfig) error {
	if kvConfig.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", kvConfig.DialTimeout)
	}
	if kvConfig.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %v", kvConfig.ReadTimeout)
	}
	if kvConfig.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %v", kvConfig.WriteTimeout)
	}
	if kvConfig.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got: %d", kvConfig.MaxRetries)
	}
	return nil
}
