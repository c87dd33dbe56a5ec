package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store interface for PostgreSQL
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// SetPoolLimits configures the connection pool
func (s *PostgresStore) SetPoolLimits(maxOpen, maxIdle int, lifetime time.Duration) {
	s.db.SetMaxOpenConns(maxOpen)
	s.db.SetMaxIdleConns(maxIdle)
	s.db.SetConnMaxLifetime(lifetime)
}

// NewPostgresStoreFromDB wraps an already opened database handle
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS device_lifecycles (
    network     TEXT NOT NULL,
    device_name TEXT NOT NULL,
    state       TEXT NOT NULL,
    site_id     TEXT NOT NULL DEFAULT '',
    site_name   TEXT NOT NULL DEFAULT '',
    deployed_at TIMESTAMPTZ,
    recalled_at TIMESTAMPTZ,
    updated_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (network, device_name)
);

CREATE TABLE IF NOT EXISTS activity_logs (
    id          UUID PRIMARY KEY,
    created_at  TIMESTAMPTZ NOT NULL,
    network     TEXT NOT NULL,
    device_name TEXT NOT NULL,
    operator    TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL,
    level       TEXT NOT NULL,
    description TEXT NOT NULL,
    details     JSONB
);

CREATE INDEX IF NOT EXISTS activity_logs_device_idx ON activity_logs (network, device_name, created_at DESC);
`

// Migrate creates the tables used by the store
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *PostgresStore) BeginTx(ctx context.Context) (Store, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: s.db, tx: tx}, nil
}

// Commit commits the transaction
func (s *PostgresStore) Commit() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Commit()
}

// Rollback rolls back the transaction
func (s *PostgresStore) Rollback() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Rollback()
}

// getDB returns tx if in transaction, otherwise db
func (s *PostgresStore) getDB() interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}
