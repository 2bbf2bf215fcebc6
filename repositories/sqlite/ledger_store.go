// Package sqlite implements the audit ledger store on a local SQLite file,
// for single-instance deployments that need durability without a database
// server. SQLite has a single writer, which matches the ledger's serialized
// append path exactly.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

const recordColumns = `idx, id, kind, timestamp, org_id, actor_id, policy_id, policy_version,
	       matched_rule, decision, reason, obligations, trace, route_decision, prev_hash, record_hash`

// LedgerStore implements the repositories.LedgerStore interface
type LedgerStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLedgerStore opens (and if needed creates) the ledger database at path.
func NewLedgerStore(path string, logger *zap.Logger) (repositories.LedgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &LedgerStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	logger.Info("sqlite ledger opened", zap.String("path", path))
	return s, nil
}

func (s *LedgerStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		idx            INTEGER PRIMARY KEY,
		id             TEXT NOT NULL UNIQUE,
		kind           TEXT NOT NULL,
		timestamp      TEXT NOT NULL,
		org_id         TEXT NOT NULL,
		actor_id       TEXT NOT NULL,
		policy_id      TEXT NOT NULL,
		policy_version INTEGER NOT NULL,
		matched_rule   TEXT NOT NULL DEFAULT '',
		decision       TEXT NOT NULL,
		reason         TEXT NOT NULL DEFAULT '',
		obligations    TEXT,
		trace          TEXT,
		route_decision TEXT,
		prev_hash      TEXT NOT NULL,
		record_hash    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS merkle_checkpoints (
		first_index INTEGER NOT NULL,
		last_index  INTEGER NOT NULL,
		merkle_root TEXT NOT NULL,
		height      INTEGER NOT NULL,
		created_at  TEXT NOT NULL,
		PRIMARY KEY (first_index, last_index)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_org ON audit_records(org_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *LedgerStore) AppendRecord(ctx context.Context, rec *models.AuditRecord) error {
	obligations, trace, route, err := marshalPayload(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.Index,
		rec.ID.String(),
		rec.Kind,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.OrgID,
		rec.ActorID,
		rec.PolicyID,
		rec.PolicyVersion,
		rec.MatchedRule,
		rec.Effect,
		rec.Reason,
		obligations,
		trace,
		route,
		rec.PrevHash,
		rec.RecordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (s *LedgerStore) RecordByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records WHERE id = ?`
	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *LedgerStore) RecordsInRange(ctx context.Context, from, to int64) ([]*models.AuditRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records WHERE idx >= ? AND idx <= ? ORDER BY idx`
	return s.queryRecords(ctx, query, from, to)
}

func (s *LedgerStore) ListRecords(ctx context.Context, filter models.AuditFilter) ([]*models.AuditRecord, error) {
	var conditions []string
	var args []interface{}

	if filter.From != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if filter.To != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}
	if filter.OrgID != "" {
		conditions = append(conditions, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.RuleID != "" {
		conditions = append(conditions, "matched_rule = ?")
		args = append(args, filter.RuleID)
	}
	if filter.Effect != "" {
		conditions = append(conditions, "decision = ?")
		args = append(args, filter.Effect)
	}

	query := `SELECT ` + recordColumns + ` FROM audit_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY idx"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	return s.queryRecords(ctx, query, args...)
}

func (s *LedgerStore) LastRecord(ctx context.Context) (*models.AuditRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records ORDER BY idx DESC LIMIT 1`
	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *LedgerStore) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

func (s *LedgerStore) SaveCheckpoint(ctx context.Context, cp *models.MerkleCheckpoint) error {
	query := `
		INSERT INTO merkle_checkpoints (first_index, last_index, merkle_root, height, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		cp.FirstIndex, cp.LastIndex, cp.Root, cp.Height, cp.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *LedgerStore) LatestCheckpoint(ctx context.Context) (*models.MerkleCheckpoint, error) {
	query := `
		SELECT first_index, last_index, merkle_root, height, created_at
		FROM merkle_checkpoints ORDER BY last_index DESC LIMIT 1
	`
	cp, err := s.scanCheckpoint(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

func (s *LedgerStore) ListCheckpoints(ctx context.Context) ([]*models.MerkleCheckpoint, error) {
	query := `
		SELECT first_index, last_index, merkle_root, height, created_at
		FROM merkle_checkpoints ORDER BY last_index
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*models.MerkleCheckpoint
	for rows.Next() {
		cp, err := s.scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *LedgerStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *LedgerStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	out := make([]*models.AuditRecord, 0)
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *LedgerStore) scanRecord(row rowScanner) (*models.AuditRecord, error) {
	rec := &models.AuditRecord{}
	var id, timestamp string
	var obligations, trace, route sql.NullString

	err := row.Scan(
		&rec.Index,
		&id,
		&rec.Kind,
		&timestamp,
		&rec.OrgID,
		&rec.ActorID,
		&rec.PolicyID,
		&rec.PolicyVersion,
		&rec.MatchedRule,
		&rec.Effect,
		&rec.Reason,
		&obligations,
		&trace,
		&route,
		&rec.PrevHash,
		&rec.RecordHash,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	if rec.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("failed to parse record id: %w", err)
	}
	if rec.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
		return nil, fmt.Errorf("failed to parse record timestamp: %w", err)
	}

	if obligations.Valid && obligations.String != "" {
		if err := json.Unmarshal([]byte(obligations.String), &rec.Obligations); err != nil {
			return nil, fmt.Errorf("failed to decode obligations: %w", err)
		}
	}
	if trace.Valid && trace.String != "" {
		if err := json.Unmarshal([]byte(trace.String), &rec.Trace); err != nil {
			return nil, fmt.Errorf("failed to decode trace: %w", err)
		}
	}
	if route.Valid && route.String != "" {
		if err := json.Unmarshal([]byte(route.String), &rec.RouteDecision); err != nil {
			return nil, fmt.Errorf("failed to decode route decision: %w", err)
		}
	}
	return rec, nil
}

func (s *LedgerStore) scanCheckpoint(row rowScanner) (*models.MerkleCheckpoint, error) {
	cp := &models.MerkleCheckpoint{}
	var createdAt string

	err := row.Scan(&cp.FirstIndex, &cp.LastIndex, &cp.Root, &cp.Height, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	if cp.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint timestamp: %w", err)
	}
	return cp, nil
}

func marshalPayload(rec *models.AuditRecord) (obligations, trace, route interface{}, err error) {
	var o, t, r []byte
	if rec.Obligations != nil {
		if o, err = json.Marshal(rec.Obligations); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode obligations: %w", err)
		}
	}
	if rec.Trace != nil {
		if t, err = json.Marshal(rec.Trace); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode trace: %w", err)
		}
	}
	if rec.RouteDecision != nil {
		if r, err = json.Marshal(rec.RouteDecision); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode route decision: %w", err)
		}
	}
	return nullable(o), nullable(t), nullable(r), nil
}

func nullable(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
