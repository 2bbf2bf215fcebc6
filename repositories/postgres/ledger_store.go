package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const recordColumns = `idx, id, kind, timestamp, org_id, actor_id, policy_id, policy_version,
	       matched_rule, decision, reason, obligations, trace, route_decision, prev_hash, record_hash`

// LedgerStore implements the repositories.LedgerStore interface
type LedgerStore struct {
	db     *DB
	logger *zap.Logger
}

// NewLedgerStore creates a new postgres-backed ledger store
func NewLedgerStore(db *DB, logger *zap.Logger) repositories.LedgerStore {
	return &LedgerStore{db: db, logger: logger}
}

// AppendRecord inserts a committed audit record. The primary key on idx
// rejects any attempt to rewrite history.
func (s *LedgerStore) AppendRecord(ctx context.Context, rec *models.AuditRecord) error {
	obligations, trace, route, err := marshalPayload(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.Index,
		rec.ID,
		rec.Kind,
		rec.Timestamp,
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

	s.logger.Debug("audit record appended",
		zap.Int64("index", rec.Index),
		zap.String("id", rec.ID.String()))
	return nil
}

// RecordByID retrieves a record by its UUID
func (s *LedgerStore) RecordByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records WHERE id = $1`
	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// RecordsInRange retrieves records with from <= idx <= to, ordered by idx
func (s *LedgerStore) RecordsInRange(ctx context.Context, from, to int64) ([]*models.AuditRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records WHERE idx >= $1 AND idx <= $2 ORDER BY idx`
	return s.queryRecords(ctx, query, from, to)
}

// ListRecords retrieves records matching the filter, ordered by idx
func (s *LedgerStore) ListRecords(ctx context.Context, filter models.AuditFilter) ([]*models.AuditRecord, error) {
	var conditions []string
	var args []interface{}

	add := func(cond string, v interface{}) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.From != nil {
		add("timestamp >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("timestamp <= $%d", *filter.To)
	}
	if filter.OrgID != "" {
		add("org_id = $%d", filter.OrgID)
	}
	if filter.RuleID != "" {
		add("matched_rule = $%d", filter.RuleID)
	}
	if filter.Effect != "" {
		add("decision = $%d", filter.Effect)
	}

	query := `SELECT ` + recordColumns + ` FROM audit_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY idx"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.queryRecords(ctx, query, args...)
}

// LastRecord retrieves the record with the highest index
func (s *LedgerStore) LastRecord(ctx context.Context) (*models.AuditRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records ORDER BY idx DESC LIMIT 1`
	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// CountRecords returns the total number of records
func (s *LedgerStore) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

// SaveCheckpoint persists a Merkle checkpoint
func (s *LedgerStore) SaveCheckpoint(ctx context.Context, cp *models.MerkleCheckpoint) error {
	query := `
		INSERT INTO merkle_checkpoints (first_index, last_index, merkle_root, height, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, cp.FirstIndex, cp.LastIndex, cp.Root, cp.Height, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint retrieves the most recent checkpoint
func (s *LedgerStore) LatestCheckpoint(ctx context.Context) (*models.MerkleCheckpoint, error) {
	query := `
		SELECT first_index, last_index, merkle_root, height, created_at
		FROM merkle_checkpoints ORDER BY last_index DESC LIMIT 1
	`
	cp := &models.MerkleCheckpoint{}
	err := s.db.QueryRowContext(ctx, query).Scan(&cp.FirstIndex, &cp.LastIndex, &cp.Root, &cp.Height, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints retrieves all checkpoints ordered by last_index
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
		cp := &models.MerkleCheckpoint{}
		if err := rows.Scan(&cp.FirstIndex, &cp.LastIndex, &cp.Root, &cp.Height, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool
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
	var obligations, trace, route []byte

	err := row.Scan(
		&rec.Index,
		&rec.ID,
		&rec.Kind,
		&rec.Timestamp,
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

	if len(obligations) > 0 {
		if err := json.Unmarshal(obligations, &rec.Obligations); err != nil {
			return nil, fmt.Errorf("failed to decode obligations: %w", err)
		}
	}
	if len(trace) > 0 {
		if err := json.Unmarshal(trace, &rec.Trace); err != nil {
			return nil, fmt.Errorf("failed to decode trace: %w", err)
		}
	}
	if len(route) > 0 {
		if err := json.Unmarshal(route, &rec.RouteDecision); err != nil {
			return nil, fmt.Errorf("failed to decode route decision: %w", err)
		}
	}
	return rec, nil
}

func marshalPayload(rec *models.AuditRecord) (obligations, trace, route []byte, err error) {
	if rec.Obligations != nil {
		if obligations, err = json.Marshal(rec.Obligations); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode obligations: %w", err)
		}
	}
	if rec.Trace != nil {
		if trace, err = json.Marshal(rec.Trace); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode trace: %w", err)
		}
	}
	if rec.RouteDecision != nil {
		if route, err = json.Marshal(rec.RouteDecision); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode route decision: %w", err)
		}
	}
	return obligations, trace, route, nil
}
