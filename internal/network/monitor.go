package network

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Listener is called with the new effective status after every transition.
type Listener func(online bool)

// Monitor is the single source of truth for connectivity. Status comes from
// automatic detection (SetDetected) unless a manual override is set, in which
// case the override wins until ClearOverride is called. Listeners are only
// notified when the effective status changes; flapping is reported as observed.
type Monitor struct {
	mu        sync.Mutex
	detected  bool
	override  *bool
	listeners map[int]Listener
	nextID    int
	logger    *zap.SugaredLogger
}

// NewMonitor creates a monitor whose detected status starts at initial.
func NewMonitor(initial bool, logger *zap.SugaredLogger) *Monitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Monitor{
		detected:  initial,
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Online returns the effective connectivity status.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveLocked()
}

// Overridden reports whether a manual override is active.
func (m *Monitor) Overridden() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.override != nil
}

// Subscribe registers fn for status transitions. The returned function removes it.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// SetDetected records the automatically detected status.
func (m *Monitor) SetDetected(online bool) {
	m.update(func() { m.detected = online })
}

// SetOverride forces the effective status until ClearOverride is called.
func (m *Monitor) SetOverride(online bool) {
	m.update(func() { m.override = &online })
}

// ClearOverride returns control to automatic detection.
func (m *Monitor) ClearOverride() {
	m.update(func() { m.override = nil })
}

func (m *Monitor) update(mutate func()) {
	m.mu.Lock()
	before := m.effectiveLocked()
	mutate()
	after := m.effectiveLocked()
	if before == after {
		m.mu.Unlock()
		return
	}
	listeners := m.snapshotLocked()
	overridden := m.override != nil
	m.mu.Unlock()

	m.logger.Infow("connectivity changed", "online", after, "override", overridden)
	for _, fn := range listeners {
		fn(after)
	}
}

func (m *Monitor) effectiveLocked() bool {
	if m.override != nil {
		return *m.override
	}
	return m.detected
}

// snapshotLocked returns listeners in subscription order.
func (m *Monitor) snapshotLocked() []Listener {
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.listeners[id])
	}
	return out
}
