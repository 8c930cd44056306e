package inventorysync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DueDrainer attempts queued operations whose retry time has passed.
type DueDrainer interface {
	DrainDue(ctx context.Context) DrainResult
}

// Drainer retries due operations in the background. Submissions are rate
// limited by the engine; the drainer only decides when to try again.
type Drainer struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	target   DueDrainer
	online   func() bool
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewDrainer creates a drainer calling target every interval while online
// reports true. A nil online is treated as always online.
func NewDrainer(target DueDrainer, online func() bool, interval time.Duration, logger *zap.SugaredLogger) *Drainer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if online == nil {
		online = func() bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Drainer{
		target:   target,
		online:   online,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the drainer goroutine. It is non-blocking; call Stop to shut it down.
func (d *Drainer) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	// Reset channels for restart capability
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	d.logger.Infow("drainer started", "interval", d.interval)
	return nil
}

// Stop waits for the current pass to finish.
func (d *Drainer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh
	d.logger.Infow("drainer stopped")
	return nil
}

// IsRunning returns whether the drainer is currently running.
func (d *Drainer) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

func (d *Drainer) run(ctx context.Context) {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	passes := 0
	for {
		select {
		case <-d.stopCh:
			d.logger.Debugw("drainer received stop signal", "passes", passes)
			return
		case <-ctx.Done():
			d.logger.Debugw("drainer context cancelled", "passes", passes)
			return
		case <-ticker.C:
			if !d.online() {
				continue
			}
			passes++
			result := d.target.DrainDue(ctx)
			if result.Attempted > 0 {
				d.logger.Infow("retried due operations",
					"attempted", result.Attempted,
					"synced", result.Synced,
					"failed", result.Failed,
					"requeued", result.Requeued,
					"stopped", result.Stopped)
			}
		}
	}
}
