package network

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProberConfig contains configuration for the reachability prober.
type ProberConfig struct {
	// URL is requested with HEAD on every probe. Any HTTP response, whatever
	// its status, counts as reachable.
	URL string

	// Interval between probes.
	Interval time.Duration

	// Timeout for a single probe.
	Timeout time.Duration
}

// DefaultProberConfig returns sensible defaults for the prober.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval: 10 * time.Second,
		Timeout:  3 * time.Second,
	}
}

// Prober feeds a Monitor with automatic detection results by probing a URL.
type Prober struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	monitor *Monitor
	client  *http.Client
	config  ProberConfig
	logger  *zap.SugaredLogger
}

// NewProber creates a prober. A nil client uses a client with config.Timeout.
func NewProber(monitor *Monitor, client *http.Client, config ProberConfig, logger *zap.SugaredLogger) *Prober {
	defaults := DefaultProberConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Prober{
		monitor: monitor,
		client:  client,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Probe performs one reachability check and records the result in the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx) == nil
	p.monitor.SetDetected(online)
	return online
}

func (p *Prober) check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debugw("probe failed", "url", p.config.URL, "error", err)
		return err
	}
	resp.Body.Close()
	return nil
}

// Start begins probing in a separate goroutine. The first probe runs immediately.
func (p *Prober) Start(ctx context.Context) error {
	if p.config.URL == "" {
		return fmt.Errorf("probe url is required")
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx)
	p.logger.Infow("prober started", "url", p.config.URL, "interval", p.config.Interval)
	return nil
}

// Stop stops probing and waits for the goroutine to exit.
func (p *Prober) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
	p.logger.Infow("prober stopped")
	return nil
}

// IsRunning returns whether the prober is currently running.
func (p *Prober) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
