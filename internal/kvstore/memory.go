package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/registry"
)

// ErrStoreClosed is returned when an operation is attempted on a closed store.
var ErrStoreClosed = errors.New("KV store is closed")

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryKVStore implements core.KVStore in process memory.
// Nothing survives a restart; it is meant for tests and demos.
type MemoryKVStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool
	now     func() time.Time
}

// NewMemoryKVStore creates an empty in-memory store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get retrieves a value by key from the store.
func (m *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	entry, ok := m.entries[key]
	if !ok || m.expired(entry) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a key-value pair with an optional TTL.
func (m *MemoryKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.setLocked(key, value, ttl)
	return nil
}

func (m *MemoryKVStore) setLocked(key string, value []byte, ttl time.Duration) {
	stored := make([]byte, len(value))
	copy(stored, value)
	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
}

// Delete removes a key from the store.
func (m *MemoryKVStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.entries, key)
	return nil
}

// Exists checks if a key exists in the store.
func (m *MemoryKVStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrStoreClosed
	}
	entry, ok := m.entries[key]
	return ok && !m.expired(entry), nil
}

// BatchSet stores all items under a single lock.
func (m *MemoryKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	for key, value := range items {
		m.setLocked(key, value, ttl)
	}
	return nil
}

// Close marks the store closed.
func (m *MemoryKVStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryKVStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt)
}

// MemoryKVStoreFactory creates in-memory stores.
type MemoryKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *MemoryKVStoreFactory) Type() string {
	return "memory"
}

// Validate accepts any configuration of type memory.
func (f *MemoryKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "memory" {
		return fmt.Errorf("invalid type for memory factory: %s", config.Type)
	}
	return nil
}

// Create creates a new in-memory store.
func (f *MemoryKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	return NewMemoryKVStore(), nil
}

// MemoryConfigValidator validates the memory store configuration.
type MemoryConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *MemoryConfigValidator) Type() string {
	return "memory"
}

// Validate has nothing backend-specific to check.
func (v *MemoryConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	return nil
}

func init() {
	RegisterFactory(&MemoryKVStoreFactory{})
	registry.RegisterValidator(&MemoryConfigValidator{})
}
