package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
)

var (
	// ErrStoreClosed is returned when the store is used after Close.
	ErrStoreClosed = errors.New("queue store is closed")

	// ErrCorruptState is returned when a persisted collection cannot be decoded.
	ErrCorruptState = errors.New("persisted queue state is corrupt")
)

// Store persists the pending queue and the history log as two independent
// JSON arrays in a core.KVStore. Keys are namespaced per organization so one
// backing store can hold several organizations.
type Store struct {
	kvStore core.KVStore
	prefix  string
	closed  bool
}

// NewStore creates a store over kvStore. namespace defaults to "inventory-sync".
func NewStore(kvStore core.KVStore, namespace, organizationID string) *Store {
	if namespace == "" {
		namespace = "inventory-sync"
	}
	prefix := namespace
	if organizationID != "" {
		prefix = fmt.Sprintf("%s:%s", namespace, organizationID)
	}
	return &Store{kvStore: kvStore, prefix: prefix}
}

// QueueKey returns the key holding the pending queue.
func (s *Store) QueueKey() string {
	return s.prefix + ":pending_operations"
}

// HistoryKey returns the key holding the history log.
func (s *Store) HistoryKey() string {
	return s.prefix + ":sync_history_log"
}

// LoadQueue returns the pending queue in retry order. A missing key is an empty queue.
func (s *Store) LoadQueue(ctx context.Context) ([]*core.Operation, error) {
	return s.load(ctx, s.QueueKey())
}

// LoadHistory returns the history log, newest first. A missing key is an empty log.
func (s *Store) LoadHistory(ctx context.Context) ([]*core.Operation, error) {
	return s.load(ctx, s.HistoryKey())
}

// SaveQueue replaces the persisted pending queue.
func (s *Store) SaveQueue(ctx context.Context, ops []*core.Operation) error {
	return s.save(ctx, s.QueueKey(), ops)
}

// SaveHistory replaces the persisted history log.
func (s *Store) SaveHistory(ctx context.Context, ops []*core.Operation) error {
	return s.save(ctx, s.HistoryKey(), ops)
}

// Save writes both collections in one BatchSet call.
func (s *Store) Save(ctx context.Context, pending, history []*core.Operation) error {
	if s.closed {
		return ErrStoreClosed
	}

	queueData, err := encode(pending)
	if err != nil {
		return err
	}
	historyData, err := encode(history)
	if err != nil {
		return err
	}

	items := map[string][]byte{
		s.QueueKey():   queueData,
		s.HistoryKey(): historyData,
	}
	if err := s.kvStore.BatchSet(ctx, items, 0); err != nil {
		return fmt.Errorf("failed to save queue state: %w", err)
	}
	return nil
}

// Close closes the underlying KV store.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.kvStore.Close()
}

func (s *Store) load(ctx context.Context, key string) ([]*core.Operation, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := s.kvStore.Get(ctx, key)
	if errors.Is(err, core.ErrKeyNotFound) {
		return []*core.Operation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}

	var ops []*core.Operation
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ops); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, key, err)
		}
	}
	if ops == nil {
		ops = []*core.Operation{}
	}
	return ops, nil
}

func (s *Store) save(ctx context.Context, key string, ops []*core.Operation) error {
	if s.closed {
		return ErrStoreClosed
	}
	data, err := encode(ops)
	if err != nil {
		return err
	}
	if err := s.kvStore.Set(ctx, key, data, 0); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func encode(ops []*core.Operation) ([]byte, error) {
	if ops == nil {
		ops = []*core.Operation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize operations: %w", err)
	}
	return data, nil
}
