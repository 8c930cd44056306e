package inventorysync

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/internal/client"
	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/events"
	"github.com/rzpsarthak13/inventory-sync/internal/intake"
	"github.com/rzpsarthak13/inventory-sync/internal/logging"
	"github.com/rzpsarthak13/inventory-sync/internal/syncengine"
)

type (
	// Operation is one recorded stock adjustment and its sync state.
	Operation = core.Operation
	// Status is the sync status of an Operation.
	Status = core.Status
	// Action is ADD or REDUCE.
	Action = core.Action
	// Request is an adjustment as entered by the operator.
	Request = intake.Request
	// ValidationError lists the problems of a rejected Request.
	ValidationError = intake.ValidationError
	// RemoteError is a classified failure of the inventory API.
	RemoteError = core.RemoteError
	ItemInfo         = core.ItemInfo
	LocationInfo     = core.LocationInfo
	AdjustmentReason = core.AdjustmentReason
	// DrainResult summarizes one pass over the pending queue.
	DrainResult = syncengine.DrainResult
	// TransitionEvent is published on every status change.
	TransitionEvent = events.TransitionEvent
)

var (
	// ErrNotFound is returned for an unknown operation id.
	ErrNotFound = syncengine.ErrNotFound
	// ErrNotRetryable is returned when retrying an operation that has not failed.
	ErrNotRetryable = syncengine.ErrNotRetryable
	// ErrInFlight is returned when retrying an operation that is being submitted.
	ErrInFlight = syncengine.ErrInFlight
	// ErrClosed is returned after Close.
	ErrClosed = client.ErrClosed
)

// Client records stock adjustments and keeps them flowing to the inventory
// system, queueing them while offline.
//
// Typical usage:
//
//	c, _ := inventorysync.NewClient(ctx, config)
//	defer c.Close()
//
//	c.Start(ctx) // connectivity, credentials and background retries
//	op, err := c.Submit(ctx, inventorysync.Request{SKU: "SKU-1", Action: "ADD", ...})
type Client interface {
	// Submit validates req and records the operation. It is attempted right
	// away when online and queued otherwise.
	Submit(ctx context.Context, req Request) (*Operation, error)

	// LookupItem resolves a scanned SKU. Items seen before are served from
	// a cache while the remote system is unreachable.
	LookupItem(ctx context.Context, sku string) (*ItemInfo, error)

	Locations(ctx context.Context) ([]LocationInfo, error)
	Reasons(ctx context.Context) ([]AdjustmentReason, error)

	// History returns every recorded operation, newest first.
	History() []*Operation

	// PendingQueue returns operations waiting for sync, oldest first.
	PendingQueue() []*Operation

	// Operation returns one operation by id.
	Operation(id string) (*Operation, error)

	// Retry moves a failed operation back to the end of the pending queue.
	Retry(ctx context.Context, id string) (*Operation, error)

	// Drain attempts every queued operation now.
	Drain(ctx context.Context) DrainResult

	// ClearHistory removes every operation that is no longer queued.
	ClearHistory(ctx context.Context) error

	// Online reports the effective connectivity status.
	Online() bool

	// SetNetworkOverride forces the connectivity status until cleared.
	SetNetworkOverride(online bool)
	ClearNetworkOverride()

	// Gatherer exposes the client's Prometheus metrics.
	Gatherer() prometheus.Gatherer

	// Start begins background work: probing, token refresh and retries of
	// due operations. It is non-blocking.
	Start(ctx context.Context) error

	// Stop stops the background work started by Start.
	Stop() error

	IsRunning() bool

	// Close stops background work, waits for in-flight submissions and
	// releases the queue store.
	Close() error
}

// Option customizes NewClient.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *zap.SugaredLogger
	publisher  events.Publisher
}

// WithHTTPClient sets the HTTP client used for every outbound call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger replaces the logger built from Config.Logging.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMemoryEvents publishes transition events to p instead of the
// publisher selected by Config.Events.
func WithMemoryEvents(p *events.MemoryPublisher) Option {
	return func(o *options) { o.publisher = p }
}

// NewMemoryEvents creates an in-memory event buffer for WithMemoryEvents.
func NewMemoryEvents(size int) *events.MemoryPublisher {
	return events.NewMemoryPublisher(size)
}

// configProvider implements client.ConfigProvider to provide config as YAML without import cycles.
type configProvider struct {
	config *Config
}

func (cp *configProvider) GetYAML() ([]byte, error) {
	return cp.config.GetYAML()
}

// clientWrapper wraps the internal client implementation to provide the public Client interface.
type clientWrapper struct {
	mu      sync.RWMutex
	impl    *client.ClientImpl
	drainer *Drainer
	logger  *zap.SugaredLogger
	running bool
}

// NewClient creates a client and restores its persisted queue and history.
func NewClient(ctx context.Context, config *Config, opts ...Option) (Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		logger, err := logging.New(config.Logging.Level, config.Logging.Development)
		if err != nil {
			return nil, err
		}
		o.logger = logger
	}

	impl, err := client.NewClientImpl(ctx, &configProvider{config: config}, client.Dependencies{
		HTTPClient: o.httpClient,
		Publisher:  o.publisher,
		Logger:     o.logger,
	})
	if err != nil {
		return nil, err
	}

	engine := impl.Engine()
	return &clientWrapper{
		impl:    impl,
		drainer: NewDrainer(engine, impl.Monitor().Online, impl.Config().Sync.RetryInterval, o.logger.Named("drainer")),
		logger:  o.logger,
	}, nil
}

func (w *clientWrapper) Submit(ctx context.Context, req Request) (*Operation, error) {
	return w.impl.Submit(ctx, req)
}

func (w *clientWrapper) LookupItem(ctx context.Context, sku string) (*ItemInfo, error) {
	return w.impl.LookupItem(ctx, sku)
}

func (w *clientWrapper) Locations(ctx context.Context) ([]LocationInfo, error) {
	return w.impl.Locations(ctx)
}

func (w *clientWrapper) Reasons(ctx context.Context) ([]AdjustmentReason, error) {
	return w.impl.Reasons(ctx)
}

func (w *clientWrapper) History() []*Operation {
	return w.impl.Engine().History()
}

func (w *clientWrapper) PendingQueue() []*Operation {
	return w.impl.Engine().PendingQueue()
}

func (w *clientWrapper) Operation(id string) (*Operation, error) {
	return w.impl.Engine().Operation(id)
}

func (w *clientWrapper) Retry(ctx context.Context, id string) (*Operation, error) {
	return w.impl.Engine().Retry(ctx, id)
}

func (w *clientWrapper) Drain(ctx context.Context) DrainResult {
	return w.impl.Engine().Drain(ctx)
}

func (w *clientWrapper) ClearHistory(ctx context.Context) error {
	return w.impl.Engine().ClearHistory(ctx)
}

func (w *clientWrapper) Online() bool {
	return w.impl.Monitor().Online()
}

func (w *clientWrapper) SetNetworkOverride(online bool) {
	w.impl.Monitor().SetOverride(online)
}

func (w *clientWrapper) ClearNetworkOverride() {
	w.impl.Monitor().ClearOverride()
}

func (w *clientWrapper) Gatherer() prometheus.Gatherer {
	return w.impl.Registry()
}

func (w *clientWrapper) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.impl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}
	if err := w.drainer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start drainer: %w", err)
	}
	w.running = true
	return nil
}

func (w *clientWrapper) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	if err := w.drainer.Stop(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.impl.Stop(ctx)
}

func (w *clientWrapper) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *clientWrapper) Close() error {
	if err := w.Stop(); err != nil {
		w.logger.Warnw("failed to stop cleanly", "error", err)
	}
	return w.impl.Close()
}
