// Package postgres implements the audit ledger store on PostgreSQL. Records
// live in an append-only table keyed by the ledger index; nothing here ever
// updates or deletes a committed row.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arbiterhq/arbiter/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{DB: db, logger: logger}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}
	return nil
}

// Migrate creates the ledger tables when they do not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range []string{schemaAuditRecords, schemaCheckpoints} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	db.logger.Info("ledger schema ready")
	return nil
}

const schemaAuditRecords = `
CREATE TABLE IF NOT EXISTS audit_records (
	idx            BIGINT PRIMARY KEY,
	id             UUID NOT NULL UNIQUE,
	kind           TEXT NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	org_id         TEXT NOT NULL,
	actor_id       TEXT NOT NULL,
	policy_id      TEXT NOT NULL,
	policy_version INTEGER NOT NULL,
	matched_rule   TEXT NOT NULL DEFAULT '',
	decision       TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	obligations    JSONB,
	trace          JSONB,
	route_decision JSONB,
	prev_hash      TEXT NOT NULL,
	record_hash    TEXT NOT NULL
)`

const schemaCheckpoints = `
CREATE TABLE IF NOT EXISTS merkle_checkpoints (
	first_index BIGINT NOT NULL,
	last_index  BIGINT NOT NULL,
	merkle_root TEXT NOT NULL,
	height      INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (first_index, last_index)
)`
