package registry

import (
	"context"
	"errors"
	"sync"
)

// LifecycleHook defines a hook executed when the client session starts or stops.
// Components with background work (probers, retry loops, publishers) register
// one so the composition root owns their lifetime.
type LifecycleHook interface {
	// OnStart is called when the client starts. If it returns an error, start fails.
	OnStart(ctx context.Context) error

	// OnStop is called when the client stops.
	OnStop(ctx context.Context) error
}

// LifecycleHookFunc adapts plain functions to LifecycleHook.
type LifecycleHookFunc struct {
	Name        string
	OnStartFunc func(ctx context.Context) error
	OnStopFunc  func(ctx context.Context) error
}

// OnStart calls the OnStartFunc if it's not nil.
func (f *LifecycleHookFunc) OnStart(ctx context.Context) error {
	if f.OnStartFunc != nil {
		return f.OnStartFunc(ctx)
	}
	return nil
}

// OnStop calls the OnStopFunc if it's not nil.
func (f *LifecycleHookFunc) OnStop(ctx context.Context) error {
	if f.OnStopFunc != nil {
		return f.OnStopFunc(ctx)
	}
	return nil
}

// LifecycleManager runs registered hooks in order on start and in reverse order on stop.
type LifecycleManager struct {
	mu      sync.RWMutex
	hooks   []LifecycleHook
	started int
}

// NewLifecycleManager creates a new lifecycle manager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		hooks: make([]LifecycleHook, 0),
	}
}

// RegisterHook registers a lifecycle hook.
// Hooks are started in the order they were registered.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

// ExecuteStartHooks starts all hooks in order. If a hook fails, the hooks that
// already started are stopped again and the error is returned.
func (lm *LifecycleManager) ExecuteStartHooks(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for i, hook := range lm.hooks[lm.started:] {
		if err := hook.OnStart(ctx); err != nil {
			lm.started += i
			stopErr := lm.stopLocked(ctx)
			return errors.Join(err, stopErr)
		}
	}
	lm.started = len(lm.hooks)
	return nil
}

// ExecuteStopHooks stops all started hooks in reverse order.
// Every hook is stopped even if an earlier one fails; errors are joined.
func (lm *LifecycleManager) ExecuteStopHooks(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.stopLocked(ctx)
}

func (lm *LifecycleManager) stopLocked(ctx context.Context) error {
	var errs []error
	for i := lm.started - 1; i >= 0; i-- {
		if err := lm.hooks[i].OnStop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	lm.started = 0
	return errors.Join(errs...)
}

// HookCount returns the number of registered hooks.
func (lm *LifecycleManager) HookCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.hooks)
}
