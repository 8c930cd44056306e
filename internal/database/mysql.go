package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned when the recorder is used after Close.
var ErrClosed = errors.New("history database is closed")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// HistoryEntry is one proxied inventory call attributed to a user.
type HistoryEntry struct {
	UserID         string    `json:"user_id"`
	RowKey         string    `json:"row_key"`
	Timestamp      time.Time `json:"timestamp"`
	ActionType     string    `json:"action_type"`
	Operation      string    `json:"operation,omitempty"`
	RequestMethod  string    `json:"request_method,omitempty"`
	Success        bool      `json:"success"`
	Details        string    `json:"details,omitempty"`
	ResponseStatus int       `json:"response_status,omitempty"`
}

// MySQLConfig holds the connection settings of the history database.
type MySQLConfig struct {
	Host              string
	Port              int
	Database          string
	Username          string
	Password          string
	Table             string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	ConnectionTimeout time.Duration
}

// HistoryRecorder stores per-user history rows in MySQL.
type HistoryRecorder struct {
	db     *sql.DB
	table  string
	logger *zap.SugaredLogger
	closed bool
}

// NewMySQLHistoryRecorder connects to MySQL and creates the history table if needed.
func NewMySQLHistoryRecorder(config MySQLConfig, logger *zap.SugaredLogger) (*HistoryRecorder, error) {
	dsn := mysql.NewConfig()
	dsn.User = config.Username
	dsn.Passwd = config.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	dsn.DBName = config.Database
	dsn.ParseTime = true
	dsn.Timeout = config.ConnectionTimeout

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	recorder, err := NewHistoryRecorder(db, config.Table, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := recorder.EnsureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return recorder, nil
}

// NewHistoryRecorder wraps an open database.
func NewHistoryRecorder(db *sql.DB, table string, logger *zap.SugaredLogger) (*HistoryRecorder, error) {
	if table == "" {
		table = "user_history"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid history table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HistoryRecorder{db: db, table: table, logger: logger}, nil
}

// EnsureTable creates the history table when it does not exist.
func (r *HistoryRecorder) EnsureTable(ctx context.Context) error {
	if r.closed {
		return ErrClosed
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		user_id VARCHAR(128) NOT NULL,
		row_key VARCHAR(64) NOT NULL,
		ts DATETIME(3) NOT NULL,
		action_type VARCHAR(64) NOT NULL,
		operation VARCHAR(255) NULL,
		request_method VARCHAR(16) NULL,
		success BOOLEAN NOT NULL,
		details TEXT NULL,
		response_status INT NULL,
		PRIMARY KEY (user_id, row_key)
	)`, r.table)
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", r.table, err)
	}
	return nil
}

// Record inserts entry. A missing row key or timestamp is filled in.
func (r *HistoryRecorder) Record(ctx context.Context, entry HistoryEntry) error {
	if r.closed {
		return ErrClosed
	}
	if entry.UserID == "" {
		return fmt.Errorf("history entry requires a user id")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.RowKey == "" {
		entry.RowKey = RowKey(entry.Timestamp)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(user_id, row_key, ts, action_type, operation, request_method, success, details, response_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		entry.UserID, entry.RowKey, entry.Timestamp, entry.ActionType,
		nullString(entry.Operation), nullString(entry.RequestMethod), entry.Success,
		nullString(entry.Details), nullInt(entry.ResponseStatus))
	if err != nil {
		r.logger.Errorw("failed to record history", "user_id", entry.UserID, "action", entry.ActionType, "error", err)
		return fmt.Errorf("failed to insert history entry: %w", err)
	}

	r.logger.Debugw("history recorded", "user_id", entry.UserID, "action", entry.ActionType, "row_key", entry.RowKey)
	return nil
}

// List returns up to limit entries of a user, newest first.
func (r *HistoryRecorder) List(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT user_id, row_key, ts, action_type, operation, request_method, success, details, response_status
		FROM %s WHERE user_id = ? ORDER BY row_key ASC LIMIT ?`, r.table)
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var operation, method, details sql.NullString
		var status sql.NullInt64
		if err := rows.Scan(&e.UserID, &e.RowKey, &e.Timestamp, &e.ActionType,
			&operation, &method, &e.Success, &details, &status); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Operation = operation.String
		e.RequestMethod = method.String
		e.Details = details.String
		e.ResponseStatus = int(status.Int64)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database connection.
func (r *HistoryRecorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}

// RowKey builds a key that sorts newest first: the millisecond timestamp
// subtracted from 2^53-1, zero padded to 16 digits, plus a random suffix.
func RowKey(t time.Time) string {
	const maxSafeInteger = int64(1)<<53 - 1
	inverted := maxSafeInteger - t.UnixMilli()
	if inverted < 0 {
		inverted = 0
	}
	return fmt.Sprintf("%016d_%s", inverted, uuid.NewString()[:8])
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
