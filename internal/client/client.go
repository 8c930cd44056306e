package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/internal/auth"
	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/events"
	"github.com/rzpsarthak13/inventory-sync/internal/intake"
	"github.com/rzpsarthak13/inventory-sync/internal/inventoryapi"
	"github.com/rzpsarthak13/inventory-sync/internal/kvstore"
	"github.com/rzpsarthak13/inventory-sync/internal/network"
	"github.com/rzpsarthak13/inventory-sync/internal/queue"
	"github.com/rzpsarthak13/inventory-sync/internal/registry"
	"github.com/rzpsarthak13/inventory-sync/internal/syncengine"
	"github.com/rzpsarthak13/inventory-sync/internal/telemetry"
)

// ErrClosed is returned by every method once Close has been called.
var ErrClosed = errors.New("client is closed")

// ConfigProvider is an interface to provide configuration as YAML without importing the public package.
type ConfigProvider interface {
	GetYAML() ([]byte, error)
}

// Dependencies overrides collaborators normally built from configuration.
type Dependencies struct {
	// HTTPClient is used for the remote API, token endpoint and prober.
	HTTPClient *http.Client
	// KVStore replaces the store selected by kvstore.type.
	KVStore core.KVStore
	// Publisher replaces the publisher selected by events.type.
	Publisher events.Publisher
	Logger    *zap.SugaredLogger
}

// ClientImpl wires the queue store, network monitor, credentials, remote
// client and sync engine of one organization together.
type ClientImpl struct {
	mu        sync.RWMutex
	configMgr *registry.ConfigManager
	lifecycle *registry.LifecycleManager
	logger    *zap.SugaredLogger

	store       *queue.Store
	monitor     *network.Monitor
	prober      *network.Prober
	credentials core.CredentialProvider
	api         *inventoryapi.Client
	engine      *syncengine.Engine
	intake      *intake.Service
	publisher   events.Publisher
	reporter    telemetry.Reporter
	registry    *prometheus.Registry

	started bool
	closed  bool
}

// NewClientImpl creates the client from YAML configuration and restores the
// persisted queue and history.
func NewClientImpl(ctx context.Context, configProvider ConfigProvider, deps Dependencies) (*ClientImpl, error) {
	if configProvider == nil {
		return nil, fmt.Errorf("config provider cannot be nil")
	}

	configMgr := registry.NewConfigManager()
	yamlData, err := configProvider.GetYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to get config YAML: %w", err)
	}
	if err := configMgr.LoadFromYAML(yamlData); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	c := &ClientImpl{
		configMgr: configMgr,
		lifecycle: registry.NewLifecycleManager(),
		logger:    logger,
		registry:  prometheus.NewRegistry(),
	}
	if err := c.initialize(deps); err != nil {
		c.release()
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}
	if err := c.engine.Load(ctx); err != nil {
		c.release()
		return nil, fmt.Errorf("failed to restore queue: %w", err)
	}
	return c, nil
}

func (c *ClientImpl) initialize(deps Dependencies) error {
	config := c.configMgr.GetConfig()
	if config.Remote.OrganizationID == "" {
		return fmt.Errorf("remote.organization_id is required")
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	reporter, err := telemetry.NewReporter(telemetry.SentryConfig{
		DSN:         config.Telemetry.SentryDSN,
		Environment: config.Telemetry.Environment,
		Release:     config.Telemetry.Release,
	}, c.logger.Named("telemetry"))
	if err != nil {
		return fmt.Errorf("failed to create reporter: %w", err)
	}
	c.reporter = reporter
	metrics := telemetry.NewMetrics(c.registry)

	kvStore := deps.KVStore
	if kvStore == nil {
		kvStore, err = kvstore.Create(kvstore.ConfigFromInternal(config.KVStore, c.logger))
		if err != nil {
			return fmt.Errorf("failed to create KV store: %w", err)
		}
	}
	c.store = queue.NewStore(kvStore, config.KVStore.Namespace, config.Remote.OrganizationID)

	c.publisher = deps.Publisher
	if c.publisher == nil {
		c.publisher, err = events.New(config.Events)
		if err != nil {
			return fmt.Errorf("failed to create publisher: %w", err)
		}
	}

	c.monitor = network.NewMonitor(config.Network.StartOnline, c.logger.Named("network"))
	if config.Network.ProbeURL != "" {
		c.prober = network.NewProber(c.monitor, httpClient, network.ProberConfig{
			URL:      config.Network.ProbeURL,
			Interval: config.Network.ProbeInterval,
			Timeout:  config.Network.ProbeTimeout,
		}, c.logger.Named("prober"))
		c.lifecycle.RegisterHook(&registry.LifecycleHookFunc{
			Name:        "prober",
			OnStartFunc: c.prober.Start,
			OnStopFunc:  func(context.Context) error { return c.prober.Stop() },
		})
	}

	c.credentials = c.buildCredentials(config.Auth, httpClient)

	c.api, err = inventoryapi.NewClient(inventoryapi.Config{
		BaseURL:        config.Remote.BaseURL,
		OrganizationID: config.Remote.OrganizationID,
		Timeout:        config.Remote.Timeout,
	}, httpClient, c.credentials, c.reporter, c.logger.Named("inventoryapi"))
	if err != nil {
		return fmt.Errorf("failed to create inventory client: %w", err)
	}

	engineConfig := syncengine.DefaultConfig()
	engineConfig.DrainRate = config.Sync.DrainRate
	engineConfig.MaxAttempts = config.Sync.MaxAttempts
	engineConfig.Backoff = syncengine.BackoffConfig{
		Initial:    config.Sync.BackoffInitial,
		Max:        config.Sync.BackoffMax,
		Multiplier: config.Sync.BackoffMultiplier,
	}
	engineConfig.HistoryLimit = config.Sync.HistoryLimit
	engineConfig.KeepSynced = config.Sync.KeepSynced

	c.engine = syncengine.New(c.store, c.api, c.monitor, engineConfig, syncengine.Options{
		Credentials: c.credentials,
		Publisher:   c.publisher,
		Reporter:    c.reporter,
		Metrics:     metrics,
		Logger:      c.logger.Named("engine"),
	})
	c.lifecycle.RegisterHook(&registry.LifecycleHookFunc{
		Name: "engine",
		OnStartFunc: func(context.Context) error {
			c.engine.Start()
			return nil
		},
		OnStopFunc: func(context.Context) error {
			c.engine.Stop()
			return nil
		},
	})

	c.intake = intake.NewService(c.api, c.engine, c.logger.Named("intake"))
	return nil
}

// buildCredentials returns a refreshing provider when a refresh token and
// token endpoint are configured, otherwise a static one.
func (c *ClientImpl) buildCredentials(config registry.InternalAuthConfig, httpClient *http.Client) core.CredentialProvider {
	if config.RefreshToken == "" || config.TokenURL == "" {
		return auth.NewStaticProvider(config.AccessToken)
	}

	tokenClient := auth.NewTokenClient(httpClient, config.TokenURL, config.ClientID, config.ClientSecret)
	provider := auth.NewRefreshingProvider(tokenClient, auth.RefreshingConfig{
		AccessToken:  config.AccessToken,
		RefreshToken: config.RefreshToken,
		ExpiresAt:    config.ExpiresAt,
		RefreshAhead: config.RefreshAhead,
	}, c.logger.Named("auth"))
	c.lifecycle.RegisterHook(&registry.LifecycleHookFunc{
		Name:        "credentials",
		OnStartFunc: provider.Start,
		OnStopFunc:  func(context.Context) error { return provider.Stop() },
	})
	return provider
}

// Config returns the loaded configuration.
func (c *ClientImpl) Config() *registry.InternalConfig {
	return c.configMgr.GetConfig()
}

// Registry returns the Prometheus registry holding the client's metrics.
func (c *ClientImpl) Registry() *prometheus.Registry {
	return c.registry
}

// Start runs background work: credential refresh, probing and the engine's
// reconnect and token-refresh subscriptions.
func (c *ClientImpl) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	if err := c.lifecycle.ExecuteStartHooks(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop stops background work started by Start.
func (c *ClientImpl) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	return c.lifecycle.ExecuteStopHooks(ctx)
}

func (c *ClientImpl) check() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Submit validates an intake request and queues the resulting operation.
func (c *ClientImpl) Submit(ctx context.Context, req intake.Request) (*core.Operation, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.intake.Submit(ctx, req)
}

// LookupItem resolves a scanned SKU.
func (c *ClientImpl) LookupItem(ctx context.Context, sku string) (*core.ItemInfo, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.intake.LookupItem(ctx, sku)
}

// Locations lists the organization's locations.
func (c *ClientImpl) Locations(ctx context.Context) ([]core.LocationInfo, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.api.FetchLocations(ctx)
}

// Reasons lists the configured adjustment reasons.
func (c *ClientImpl) Reasons(ctx context.Context) ([]core.AdjustmentReason, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.api.FetchAdjustmentReasons(ctx)
}

// Engine exposes the sync engine.
func (c *ClientImpl) Engine() *syncengine.Engine {
	return c.engine
}

// Monitor exposes the network monitor.
func (c *ClientImpl) Monitor() *network.Monitor {
	return c.monitor
}

// Close stops background work and releases every resource.
func (c *ClientImpl) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := c.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop: %w", err))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.Join(errs...)
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *ClientImpl) release() error {
	var errs []error
	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close engine: %w", err))
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close publisher: %w", err))
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close KV store: %w", err))
		}
	}
	if c.reporter != nil {
		c.reporter.Flush(2 * time.Second)
	}
	return errors.Join(errs...)
}
