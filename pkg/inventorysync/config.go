package inventorysync

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/inventory-sync/internal/registry"
)

// Config represents the root configuration of an inventory sync client.
type Config struct {
	// KVStore selects where the pending queue and history are persisted.
	KVStore KVStoreConfig `yaml:"kvstore" json:"kvstore"`

	// Remote describes the inventory API and the organization to adjust.
	Remote RemoteConfig `yaml:"remote" json:"remote"`

	// Auth seeds the credential provider.
	Auth AuthConfig `yaml:"auth" json:"auth"`

	// Network configures connectivity detection.
	Network NetworkConfig `yaml:"network" json:"network"`

	// Sync contains sync engine and retry configuration.
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// Events selects where status transitions are published.
	Events EventsConfig `yaml:"events" json:"events"`

	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// KVStoreConfig contains configuration for the durable queue store.
type KVStoreConfig struct {
	// Type is one of "sqlite" (default), "memory", "redis" or "dynamodb".
	Type string `yaml:"type" json:"type"`

	// Namespace prefixes the queue and history keys.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	RedisConfig    RedisConfig    `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	DynamoDBConfig DynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`
	SQLiteConfig   SQLiteConfig   `yaml:"sqlite_config,omitempty" json:"sqlite_config,omitempty"`

	MaxRetries   int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout  time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// RedisConfig contains Redis connection settings. Only the first endpoint is used.
type RedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db" json:"db"`
	PoolSize     int      `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int      `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DynamoDBConfig contains DynamoDB settings. Endpoint is set for LocalStack.
type DynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// SQLiteConfig contains the path of the on-device database file.
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// RemoteConfig describes the remote inventory API.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	OrganizationID string        `yaml:"organization_id" json:"organization_id"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
}

// AuthConfig seeds the credential provider. With a refresh token and token
// URL the access token is refreshed ahead of expiry.
type AuthConfig struct {
	AccessToken  string        `yaml:"access_token,omitempty" json:"access_token,omitempty"`
	RefreshToken string        `yaml:"refresh_token,omitempty" json:"refresh_token,omitempty"`
	ExpiresAt    time.Time     `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
	TokenURL     string        `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	ClientID     string        `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string        `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	RefreshAhead time.Duration `yaml:"refresh_ahead" json:"refresh_ahead"`
}

// NetworkConfig configures connectivity detection. Without a ProbeURL the
// status only changes through the manual override.
type NetworkConfig struct {
	ProbeURL      string        `yaml:"probe_url,omitempty" json:"probe_url,omitempty"`
	ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	StartOnline   bool          `yaml:"start_online" json:"start_online"`
}

// SyncConfig contains sync engine configuration.
type SyncConfig struct {
	// DrainRate is the maximum number of remote submissions per second.
	DrainRate float64 `yaml:"drain_rate" json:"drain_rate"`

	// MaxAttempts before an operation failing with a server error becomes permanent.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	BackoffInitial    time.Duration `yaml:"backoff_initial" json:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max" json:"backoff_max"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`

	// RetryInterval is how often the background drainer attempts due operations.
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`

	HistoryLimit int `yaml:"history_limit" json:"history_limit"`
	KeepSynced   int `yaml:"keep_synced" json:"keep_synced"`
}

// EventsConfig selects the transition event publisher: "none", "memory" or "kafka".
type EventsConfig struct {
	Type        string      `yaml:"type" json:"type"`
	BufferSize  int         `yaml:"buffer_size" json:"buffer_size"`
	KafkaConfig KafkaConfig `yaml:"kafka_config" json:"kafka_config"`
}

// KafkaConfig contains configuration for the Kafka publisher.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers" json:"brokers"`
	Topic           string        `yaml:"topic" json:"topic"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	RequiredAcks    int           `yaml:"required_acks" json:"required_acks"`
	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes"`
}

type TelemetryConfig struct {
	SentryDSN   string `yaml:"sentry_dsn,omitempty" json:"sentry_dsn,omitempty"`
	Environment string `yaml:"environment" json:"environment"`
	Release     string `yaml:"release,omitempty" json:"release,omitempty"`
}

type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// ServerConfig configures the agent's HTTP surface.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" json:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults: a SQLite
// queue store, no event publishing and 5 submissions per second.
func DefaultConfig() *Config {
	config, err := fromInternal(registry.DefaultInternalConfig())
	if err != nil {
		panic(fmt.Sprintf("default configuration does not round-trip: %v", err))
	}
	return config
}

// LoadConfig reads a YAML or JSON file on top of the defaults and then
// applies INVENTORY_SYNC_* environment variables. An empty path loads
// defaults and the environment only.
func LoadConfig(path string) (*Config, error) {
	configMgr := registry.NewConfigManager()
	if path != "" {
		if err := configMgr.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := configMgr.LoadFromEnv(); err != nil {
		return nil, err
	}
	return fromInternal(configMgr.GetConfig())
}

// GetYAML renders the configuration for the internal config manager.
func (c *Config) GetYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func fromInternal(internal *registry.InternalConfig) (*Config, error) {
	data, err := yaml.Marshal(internal)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, nil
}
