package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigValidator is the Strategy interface for validating configuration.
// Each store backend (sqlite, redis, dynamodb, ...) provides its own validator
// for the backend-specific part of the configuration.
type ConfigValidator interface {
	// Validate validates the internal configuration for this KV store type.
	// It should validate only the KVStore-specific configuration.
	Validate(config *InternalConfig) error

	// Type returns the type identifier for this validator (e.g., "redis", "dynamodb").
	Type() string
}

var (
	// validatorRegistry stores all registered config validators.
	validatorRegistry = make(map[string]ConfigValidator)

	// validatorRegistryMutex protects the validator registry from concurrent access.
	validatorRegistryMutex sync.RWMutex
)

// ValidationStrategyRegistry provides methods to register and retrieve config validators.
type ValidationStrategyRegistry struct{}

// Register registers a config validator.
// Panics if validator is nil, type is empty, or type is already registered.
func (r *ValidationStrategyRegistry) Register(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}

	validatorRegistry[validator.Type()] = validator
}

// Get retrieves a validator by type.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// RegisterValidator registers a validator in the default registry.
// This is the preferred way to register validators from init() functions.
func RegisterValidator(validator ConfigValidator) {
	defaultValidationRegistry.Register(validator)
}

// GetValidator retrieves a validator by type from the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

var defaultValidationRegistry = &ValidationStrategyRegistry{}

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "INVENTORY_SYNC_"

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *InternalConfig
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultInternalConfig(),
	}
}

// DefaultInternalConfig returns a configuration with sensible defaults.
func DefaultInternalConfig() *InternalConfig {
	return &InternalConfig{
		KVStore: InternalKVStoreConfig{
			Type:      "sqlite",
			Namespace: "inventory-sync",
			RedisConfig: InternalRedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 2,
			},
			SQLiteConfig: InternalSQLiteConfig{
				Path: "inventory-sync.db",
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Remote: InternalRemoteConfig{
			BaseURL: "https://inventory.zohoapis.com/api/v1",
			Timeout: 15 * time.Second,
		},
		Auth: InternalAuthConfig{
			RefreshAhead: 5 * time.Minute,
		},
		Network: InternalNetworkConfig{
			ProbeInterval: 10 * time.Second,
			ProbeTimeout:  3 * time.Second,
			StartOnline:   true,
		},
		Sync: InternalSyncConfig{
			DrainRate:         5,
			MaxAttempts:       5,
			BackoffInitial:    2 * time.Second,
			BackoffMax:        5 * time.Minute,
			BackoffMultiplier: 2,
			RetryInterval:     15 * time.Second,
			HistoryLimit:      1000,
			KeepSynced:        100,
		},
		Events: InternalEventsConfig{
			Type:       "none",
			BufferSize: 1000,
			KafkaConfig: InternalKafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "inventory-sync-transitions",
				BatchSize:       100,
				BatchTimeout:    10 * time.Millisecond,
				WriteTimeout:    10 * time.Second,
				RequiredAcks:    -1,      // All replicas
				MaxMessageBytes: 1000000, // 1MB
			},
		},
		Telemetry: InternalTelemetryConfig{
			Environment: "development",
		},
		Logging: InternalLoggingConfig{
			Level: "info",
		},
		Server: InternalServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Proxy: InternalProxyConfig{
			InventoryBaseURL: "https://inventory.zohoapis.com/api/v1",
			AccountsTokenURL: "https://accounts.zoho.com/oauth/v2/token",
			PrincipalHeader:  "X-Client-Principal",
			UpstreamTimeout:  30 * time.Second,
			History: InternalDatabaseConfig{
				Host:              "localhost",
				Port:              3306,
				Table:             "user_history",
				MaxOpenConns:      10,
				MaxIdleConns:      2,
				ConnMaxLifetime:   5 * time.Minute,
				ConnMaxIdleTime:   10 * time.Minute,
				ConnectionTimeout: 10 * time.Second,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
// The file format is determined by the file extension (.yaml, .yml, or .json).
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data on top of the defaults.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = config
	return nil
}

// LoadFromJSON loads configuration from JSON data on top of the defaults.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = config
	return nil
}

// LoadFromEnv overlays environment variables on the current configuration.
// Environment variables follow the pattern: INVENTORY_SYNC_<SECTION>_<KEY>
// Examples:
//   - INVENTORY_SYNC_KVSTORE_TYPE=redis
//   - INVENTORY_SYNC_KVSTORE_ENDPOINTS=localhost:6379,localhost:6380
//   - INVENTORY_SYNC_REMOTE_ORGANIZATION_ID=60012345
//   - INVENTORY_SYNC_SYNC_MAX_ATTEMPTS=5
func (cm *ConfigManager) LoadFromEnv() error {
	copied := *cm.config
	config := &copied

	setString := func(key string, dst *string) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			var n int
			if _, err := fmt.Sscanf(val, "%d", &n); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			var f float64
			if _, err := fmt.Sscanf(val, "%f", &f); err == nil {
				*dst = f
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				*dst = d
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			*dst = val == "true" || val == "1"
		}
	}

	// KV store
	setString("KVSTORE_TYPE", &config.KVStore.Type)
	setString("KVSTORE_NAMESPACE", &config.KVStore.Namespace)
	if val := os.Getenv(EnvPrefix + "KVSTORE_ENDPOINTS"); val != "" {
		config.KVStore.RedisConfig.Endpoints = strings.Split(val, ",")
	}
	setString("KVSTORE_PASSWORD", &config.KVStore.RedisConfig.Password)
	setInt("KVSTORE_DB", &config.KVStore.RedisConfig.DB)
	setInt("KVSTORE_POOL_SIZE", &config.KVStore.RedisConfig.PoolSize)
	setString("KVSTORE_SQLITE_PATH", &config.KVStore.SQLiteConfig.Path)
	setString("KVSTORE_DYNAMODB_REGION", &config.KVStore.DynamoDBConfig.Region)
	setString("KVSTORE_DYNAMODB_TABLE", &config.KVStore.DynamoDBConfig.TableName)
	setString("KVSTORE_DYNAMODB_ENDPOINT", &config.KVStore.DynamoDBConfig.Endpoint)

	// Remote API and credentials
	setString("REMOTE_BASE_URL", &config.Remote.BaseURL)
	setString("REMOTE_ORGANIZATION_ID", &config.Remote.OrganizationID)
	setDuration("REMOTE_TIMEOUT", &config.Remote.Timeout)
	setString("AUTH_ACCESS_TOKEN", &config.Auth.AccessToken)
	setString("AUTH_REFRESH_TOKEN", &config.Auth.RefreshToken)
	setString("AUTH_TOKEN_URL", &config.Auth.TokenURL)
	setString("AUTH_CLIENT_ID", &config.Auth.ClientID)
	setString("AUTH_CLIENT_SECRET", &config.Auth.ClientSecret)

	// Network
	setString("NETWORK_PROBE_URL", &config.Network.ProbeURL)
	setDuration("NETWORK_PROBE_INTERVAL", &config.Network.ProbeInterval)

	// Sync engine
	setFloat("SYNC_DRAIN_RATE", &config.Sync.DrainRate)
	setInt("SYNC_MAX_ATTEMPTS", &config.Sync.MaxAttempts)
	setDuration("SYNC_BACKOFF_INITIAL", &config.Sync.BackoffInitial)
	setDuration("SYNC_BACKOFF_MAX", &config.Sync.BackoffMax)
	setDuration("SYNC_RETRY_INTERVAL", &config.Sync.RetryInterval)
	setInt("SYNC_HISTORY_LIMIT", &config.Sync.HistoryLimit)

	// Events, telemetry, logging, servers
	setString("EVENTS_TYPE", &config.Events.Type)
	if val := os.Getenv(EnvPrefix + "EVENTS_KAFKA_BROKERS"); val != "" {
		config.Events.KafkaConfig.Brokers = strings.Split(val, ",")
	}
	setString("EVENTS_KAFKA_TOPIC", &config.Events.KafkaConfig.Topic)
	setString("TELEMETRY_SENTRY_DSN", &config.Telemetry.SentryDSN)
	setString("TELEMETRY_ENVIRONMENT", &config.Telemetry.Environment)
	setString("LOGGING_LEVEL", &config.Logging.Level)
	setBool("LOGGING_DEVELOPMENT", &config.Logging.Development)
	setString("SERVER_LISTEN_ADDR", &config.Server.ListenAddr)
	setString("PROXY_INVENTORY_BASE_URL", &config.Proxy.InventoryBaseURL)
	setString("PROXY_CLIENT_ID", &config.Proxy.ClientID)
	setString("PROXY_CLIENT_SECRET", &config.Proxy.ClientSecret)
	setBool("PROXY_HISTORY_ENABLED", &config.Proxy.History.Enabled)
	setString("PROXY_HISTORY_HOST", &config.Proxy.History.Host)
	setInt("PROXY_HISTORY_PORT", &config.Proxy.History.Port)
	setString("PROXY_HISTORY_DATABASE", &config.Proxy.History.Database)
	setString("PROXY_HISTORY_USERNAME", &config.Proxy.History.Username)
	setString("PROXY_HISTORY_PASSWORD", &config.Proxy.History.Password)

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = config
	return nil
}

// GetConfig returns the current internal configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	return cm.config
}

// validateConfig validates the configuration and returns an error if invalid.
// KV store validation is delegated to the validator registered for the store type.
func (cm *ConfigManager) validateConfig(config *InternalConfig) error {
	if config.KVStore.Type == "" {
		return fmt.Errorf("kvstore.type is required")
	}

	validator, exists := GetValidator(config.KVStore.Type)
	if !exists {
		return fmt.Errorf("unsupported KV store type: %s", config.KVStore.Type)
	}
	if err := validator.Validate(config); err != nil {
		return fmt.Errorf("kvstore validation failed: %w", err)
	}

	if config.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if config.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be greater than 0")
	}

	if config.Sync.DrainRate < 0 {
		return fmt.Errorf("sync.drain_rate must not be negative")
	}
	if config.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be greater than 0")
	}
	if config.Sync.BackoffInitial <= 0 || config.Sync.BackoffMax < config.Sync.BackoffInitial {
		return fmt.Errorf("sync.backoff_initial must be > 0 and <= sync.backoff_max")
	}
	if config.Sync.BackoffMultiplier < 1 {
		return fmt.Errorf("sync.backoff_multiplier must be >= 1")
	}
	if config.Sync.HistoryLimit < 0 || config.Sync.KeepSynced < 0 {
		return fmt.Errorf("sync.history_limit and sync.keep_synced must be non-negative")
	}

	switch config.Events.Type {
	case "", "none", "memory":
	case "kafka":
		if len(config.Events.KafkaConfig.Brokers) == 0 {
			return fmt.Errorf("events.kafka_config.brokers is required when events.type is 'kafka'")
		}
		if config.Events.KafkaConfig.Topic == "" {
			return fmt.Errorf("events.kafka_config.topic is required when events.type is 'kafka'")
		}
	default:
		return fmt.Errorf("events.type must be 'none', 'memory', or 'kafka'")
	}

	if config.Proxy.History.Enabled {
		db := config.Proxy.History
		if db.Host == "" || db.Database == "" || db.Username == "" {
			return fmt.Errorf("proxy.history requires host, database and username when enabled")
		}
		if db.Port <= 0 || db.Port > 65535 {
			return fmt.Errorf("proxy.history.port must be between 1 and 65535")
		}
		if db.MaxOpenConns <= 0 {
			return fmt.Errorf("proxy.history.max_open_conns must be greater than 0")
		}
	}

	return nil
}
