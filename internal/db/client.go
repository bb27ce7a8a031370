// Package db persists completed turns to Postgres for analytics and
// audit. Persistence is best effort: a database outage never blocks or
// fails a turn.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Client wraps the Postgres connection pool.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// TurnRecord is one completed turn as stored.
type TurnRecord struct {
	TurnID      string                 `db:"turn_id"`
	SessionID   string                 `db:"session_id"`
	Input       string                 `db:"input"`
	Response    string                 `db:"response"`
	Mode        string                 `db:"mode"`
	Intent      string                 `db:"intent"`
	Workers     []string               `db:"-"`
	Strategy    string                 `db:"strategy"`
	Success     bool                   `db:"success"`
	SafetyPath  string                 `db:"safety_path"`
	Metadata    map[string]interface{} `db:"-"`
	DurationMS  int64                  `db:"duration_ms"`
	CompletedAt time.Time              `db:"completed_at"`
}

// NewClient opens a connection pool against the given DSN.
func NewClient(dsn string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Client{db: db, logger: logger}, nil
}

// NewClientFromDB wraps an existing connection, used by tests.
func NewClientFromDB(db *sqlx.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{db: db, logger: logger}
}

const insertTurn = `
	INSERT INTO turns (
		turn_id, session_id, input, response, mode, intent,
		workers, strategy, success, safety_path, metadata,
		duration_ms, completed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// RecordTurn inserts one completed turn.
func (c *Client) RecordTurn(ctx context.Context, rec TurnRecord) error {
	workersJSON, err := json.Marshal(rec.Workers)
	if err != nil {
		return fmt.Errorf("encode workers: %w", err)
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = c.db.ExecContext(ctx, insertTurn,
		rec.TurnID, rec.SessionID, rec.Input, rec.Response, rec.Mode, rec.Intent,
		workersJSON, rec.Strategy, rec.Success, rec.SafetyPath, metaJSON,
		rec.DurationMS, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.db.Close()
}
