package repositories

import (
	"context"

	"github.com/arbiterhq/arbiter/models"
	"github.com/google/uuid"
)

// PolicyRepository supplies read-only policy snapshots to the evaluator.
// Policies are authored by administrative collaborators; the core never
// writes them.
type PolicyRepository interface {
	// GetByID retrieves the current version of a policy
	GetByID(ctx context.Context, id string) (*models.Policy, error)

	// List retrieves all published policies
	List(ctx context.Context) ([]*models.Policy, error)
}

// PoolRepository supplies read-only model pool snapshots to the routing
// selector.
type PoolRepository interface {
	// GetByID retrieves a model pool by ID
	GetByID(ctx context.Context, id string) (*models.ModelPool, error)

	// List retrieves all pools
	List(ctx context.Context) ([]*models.ModelPool, error)
}

// LedgerStore is the durable backend of the audit ledger. Implementations
// must persist records in strictly increasing index order and must never
// update or delete a committed record. The ledger service serializes calls
// to AppendRecord; stores do not need their own write lock.
type LedgerStore interface {
	// AppendRecord persists a fully-hashed audit record
	AppendRecord(ctx context.Context, rec *models.AuditRecord) error

	// RecordByID retrieves a record by its UUID
	RecordByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error)

	// RecordsInRange retrieves records with from <= index <= to, ordered by index
	RecordsInRange(ctx context.Context, from, to int64) ([]*models.AuditRecord, error)

	// ListRecords retrieves records matching the filter, ordered by index
	ListRecords(ctx context.Context, filter models.AuditFilter) ([]*models.AuditRecord, error)

	// LastRecord retrieves the record with the highest index, or nil when empty
	LastRecord(ctx context.Context) (*models.AuditRecord, error)

	// CountRecords returns the total number of records
	CountRecords(ctx context.Context) (int64, error)

	// SaveCheckpoint persists a Merkle checkpoint
	SaveCheckpoint(ctx context.Context, cp *models.MerkleCheckpoint) error

	// LatestCheckpoint retrieves the most recent checkpoint, or nil when none exists
	LatestCheckpoint(ctx context.Context) (*models.MerkleCheckpoint, error)

	// ListCheckpoints retrieves all checkpoints ordered by last_index
	ListCheckpoints(ctx context.Context) ([]*models.MerkleCheckpoint, error)

	// Close releases resources held by the store
	Close() error
}
