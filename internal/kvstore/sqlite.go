package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/registry"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER,
	updated_at INTEGER NOT NULL
)`

// SQLiteKVStore implements core.KVStore on a local SQLite file.
// It is the default durable store for a device running the agent.
type SQLiteKVStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	closed bool
}

// NewSQLiteKVStore opens (or creates) the database file at path.
func NewSQLiteKVStore(path string, logger *zap.SugaredLogger) (*SQLiteKVStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv_entries table: %w", err)
	}

	logger.Infow("opened sqlite store", "path", path)
	return &SQLiteKVStore{db: db, logger: logger}, nil
}

// Get retrieves a value by key from the store.
func (s *SQLiteKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	var value []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM kv_entries WHERE key = ?", key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if expiresAt.Valid && time.Now().Unix() > expiresAt.Int64 {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}

	s.logger.Debugw("get", "key", key, "bytes", len(value))
	return value, nil
}

// Set stores a key-value pair with an optional TTL.
func (s *SQLiteKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed {
		return ErrStoreClosed
	}
	if err := upsertSQLite(ctx, s.db, key, value, ttl); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	s.logger.Debugw("set", "key", key, "bytes", len(value), "ttl", ttl)
	return nil
}

// Delete removes a key from the store.
func (s *SQLiteKVStore) Delete(ctx context.Context, key string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (s *SQLiteKVStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, core.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BatchSet stores all items in one transaction.
func (s *SQLiteKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for key, value := range items {
		if err := upsertSQLite(ctx, tx, key, value, ttl); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to batch set key %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteKVStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSQLite(ctx context.Context, db sqlExecer, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		key, value, expiresAt, time.Now().Unix())
	return err
}

// SQLiteKVStoreFactory creates SQLite-backed stores.
type SQLiteKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *SQLiteKVStoreFactory) Type() string {
	return "sqlite"
}

// Validate validates the SQLite-specific configuration.
func (f *SQLiteKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "sqlite" {
		return fmt.Errorf("invalid type for SQLite factory: %s", config.Type)
	}
	if config.Path == "" {
		return fmt.Errorf("path is required for SQLite")
	}
	return nil
}

// Create creates a new SQLite store.
func (f *SQLiteKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	store, err := NewSQLiteKVStore(config.Path, config.logger().Named("kvstore.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite KV store: %w", err)
	}
	return store, nil
}

// SQLiteConfigValidator validates the SQLite section of the internal config.
type SQLiteConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *SQLiteConfigValidator) Type() string {
	return "sqlite"
}

// Validate validates the SQLite-specific configuration in the internal config.
func (v *SQLiteConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.KVStore.SQLiteConfig.Path == "" {
		return fmt.Errorf("sqlite_config.path is required for SQLite")
	}
	return nil
}

func init() {
	RegisterFactory(&SQLiteKVStoreFactory{})
	registry.RegisterValidator(&SQLiteConfigValidator{})
}
