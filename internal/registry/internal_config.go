package registry

import (
	"time"
)

// InternalConfig represents the internal configuration structure.
// This is a copy of the public Config type to avoid import cycles.
type InternalConfig struct {
	KVStore   InternalKVStoreConfig   `yaml:"kvstore" json:"kvstore"`
	Remote    InternalRemoteConfig    `yaml:"remote" json:"remote"`
	Auth      InternalAuthConfig      `yaml:"auth" json:"auth"`
	Network   InternalNetworkConfig   `yaml:"network" json:"network"`
	Sync      InternalSyncConfig      `yaml:"sync" json:"sync"`
	Events    InternalEventsConfig    `yaml:"events" json:"events"`
	Telemetry InternalTelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Logging   InternalLoggingConfig   `yaml:"logging" json:"logging"`
	Server    InternalServerConfig    `yaml:"server" json:"server"`
	Proxy     InternalProxyConfig     `yaml:"proxy" json:"proxy"`
}

// InternalKVStoreConfig contains configuration for the durable queue store.
// Supports multiple backends (memory, SQLite, Redis, DynamoDB) through a plugin-based architecture.
type InternalKVStoreConfig struct {
	Type           string                 `yaml:"type" json:"type"`
	Namespace      string                 `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	RedisConfig    InternalRedisConfig    `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	DynamoDBConfig InternalDynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`
	SQLiteConfig   InternalSQLiteConfig   `yaml:"sqlite_config,omitempty" json:"sqlite_config,omitempty"`
	MaxRetries     int                    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout    time.Duration          `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout    time.Duration          `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout   time.Duration          `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// InternalRedisConfig contains Redis-specific configuration.
type InternalRedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db" json:"db"`
	PoolSize     int      `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int      `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// InternalSQLiteConfig contains SQLite-specific configuration.
type InternalSQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// InternalRemoteConfig describes the remote inventory API.
type InternalRemoteConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	OrganizationID string        `yaml:"organization_id" json:"organization_id"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
}

// InternalAuthConfig configures the credential provider.
type InternalAuthConfig struct {
	AccessToken  string        `yaml:"access_token,omitempty" json:"access_token,omitempty"`
	RefreshToken string        `yaml:"refresh_token,omitempty" json:"refresh_token,omitempty"`
	ExpiresAt    time.Time     `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
	TokenURL     string        `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	ClientID     string        `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string        `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	RefreshAhead time.Duration `yaml:"refresh_ahead" json:"refresh_ahead"`
}

// InternalNetworkConfig configures connectivity detection.
type InternalNetworkConfig struct {
	ProbeURL      string        `yaml:"probe_url,omitempty" json:"probe_url,omitempty"`
	ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	// StartOnline is the status assumed before the first probe completes.
	StartOnline bool `yaml:"start_online" json:"start_online"`
}

// InternalSyncConfig contains sync engine configuration.
type InternalSyncConfig struct {
	DrainRate         float64       `yaml:"drain_rate" json:"drain_rate"` // Remote calls per second while draining
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial" json:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max" json:"backoff_max"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	RetryInterval     time.Duration `yaml:"retry_interval" json:"retry_interval"`
	HistoryLimit      int           `yaml:"history_limit" json:"history_limit"`
	KeepSynced        int           `yaml:"keep_synced" json:"keep_synced"`
}

// InternalEventsConfig selects where transition events are published.
type InternalEventsConfig struct {
	Type        string              `yaml:"type" json:"type"`
	BufferSize  int                 `yaml:"buffer_size" json:"buffer_size"`
	KafkaConfig InternalKafkaConfig `yaml:"kafka_config" json:"kafka_config"`
}

// InternalKafkaConfig contains Kafka-specific configuration.
type InternalKafkaConfig struct {
	Brokers         []string      `yaml:"brokers" json:"brokers"`
	Topic           string        `yaml:"topic" json:"topic"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	RequiredAcks    int           `yaml:"required_acks" json:"required_acks"`
	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes"`
}

// InternalTelemetryConfig configures error reporting.
type InternalTelemetryConfig struct {
	SentryDSN   string `yaml:"sentry_dsn,omitempty" json:"sentry_dsn,omitempty"`
	Environment string `yaml:"environment" json:"environment"`
	Release     string `yaml:"release,omitempty" json:"release,omitempty"`
}

// InternalLoggingConfig configures the zap logger.
type InternalLoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// InternalServerConfig configures the local HTTP surface.
type InternalServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" json:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// InternalProxyConfig configures the backend proxy/auth server.
type InternalProxyConfig struct {
	InventoryBaseURL string                 `yaml:"inventory_base_url" json:"inventory_base_url"`
	AccountsTokenURL string                 `yaml:"accounts_token_url" json:"accounts_token_url"`
	ClientID         string                 `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret     string                 `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	PrincipalHeader  string                 `yaml:"principal_header" json:"principal_header"`
	UpstreamTimeout  time.Duration          `yaml:"upstream_timeout" json:"upstream_timeout"`
	History          InternalDatabaseConfig `yaml:"history" json:"history"`
}

// InternalDatabaseConfig contains configuration for the server-side history database.
type InternalDatabaseConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	Host              string        `yaml:"host" json:"host"`
	Port              int           `yaml:"port" json:"port"`
	Database          string        `yaml:"database" json:"database"`
	Username          string        `yaml:"username" json:"username"`
	Password          string        `yaml:"password,omitempty" json:"password,omitempty"`
	Table             string        `yaml:"table" json:"table"`
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}
