// Package ledger implements the tamper-evident audit ledger: a hash-chained
// append-only record log with periodic Merkle checkpoints and full integrity
// verification.
package ledger

import (
	"context"
	"time"

	"github.com/arbiterhq/arbiter/internal/observability"
	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/repositories"
	"github.com/arbiterhq/arbiter/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// appendRetries bounds how often a failed store append is retried before the
// decision is surfaced as uncommitted.
const appendRetries = 3

// VerifyResult is the outcome of a full integrity verification.
type VerifyResult struct {
	Valid  bool             `json:"valid"`
	Errors []IntegrityError `json:"errors"`
}

// IntegrityError reports a broken range of the ledger. A chain break at one
// index invalidates everything after it, so LastIndex extends to the tail.
type IntegrityError struct {
	FirstIndex int64  `json:"first_index"`
	LastIndex  int64  `json:"last_index"`
	Message    string `json:"message"`
}

// Service is the single writer of the audit ledger. Appends are serialized
// through its mutex; the backing store never needs its own write lock.
type Service struct {
	store   repositories.LedgerStore
	metrics *observability.Metrics
	logger  *zap.Logger

	mu              chan struct{} // buffered-1 channel used as a ctx-aware mutex
	lastIndex       int64         // -1 when the ledger is empty
	lastHash        string
	sinceCheckpoint int64
	checkpointEvery int64
	closed          bool
}

// NewService opens a ledger over the given store, seeding the chain tail and
// checkpoint counter from what is already persisted. checkpointEvery is the
// count trigger for automatic Merkle checkpoints; zero disables it (the cron
// schedule can still trigger them).
func NewService(ctx context.Context, store repositories.LedgerStore, checkpointEvery int64, metrics *observability.Metrics, logger *zap.Logger) (*Service, error) {
	s := &Service{
		store:           store,
		metrics:         metrics,
		logger:          logger,
		mu:              make(chan struct{}, 1),
		lastIndex:       -1,
		lastHash:        GenesisHash,
		checkpointEvery: checkpointEvery,
	}

	last, err := store.LastRecord(ctx)
	if err != nil {
		return nil, err
	}
	if last != nil {
		s.lastIndex = last.Index
		s.lastHash = last.RecordHash
	}

	cp, err := store.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case cp != nil:
		s.sinceCheckpoint = s.lastIndex - cp.LastIndex
	default:
		s.sinceCheckpoint = s.lastIndex + 1
	}

	logger.Info("audit ledger opened",
		zap.Int64("last_index", s.lastIndex),
		zap.Int64("since_checkpoint", s.sinceCheckpoint),
	)
	return s, nil
}

func (s *Service) lock(ctx context.Context) error {
	select {
	case s.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) unlock() { <-s.mu }

// Append assigns the next index, links the record into the hash chain and
// persists it. The record is not committed, and must not be reported to the
// caller as final, unless Append returns nil.
func (s *Service) Append(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error) {
	if rec == nil {
		return nil, services.ErrInvalidInput
	}
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	if s.closed {
		return nil, services.ErrLedgerClosed
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	// TIMESTAMPTZ keeps microseconds, so hashing anything finer would make
	// verification fail after a round trip through the postgres backend.
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Microsecond)
	rec.Index = s.lastIndex + 1
	rec.PrevHash = s.lastHash

	hash, err := RecordHash(rec, rec.PrevHash)
	if err != nil {
		return nil, err
	}
	rec.RecordHash = hash

	var appendErr error
	for attempt := 1; attempt <= appendRetries; attempt++ {
		appendErr = s.store.AppendRecord(ctx, rec)
		if appendErr == nil {
			break
		}
		s.logger.Warn("ledger append failed",
			zap.Int64("index", rec.Index),
			zap.Int("attempt", attempt),
			zap.Error(appendErr),
		)
	}
	if appendErr != nil {
		s.metrics.RecordLedgerAppend("error")
		return nil, services.ErrLedgerAppend
	}

	s.lastIndex = rec.Index
	s.lastHash = rec.RecordHash
	s.sinceCheckpoint++
	s.metrics.RecordLedgerAppend("ok")

	if s.checkpointEvery > 0 && s.sinceCheckpoint >= s.checkpointEvery {
		if _, err := s.checkpointLocked(ctx); err != nil {
			// The record is committed; a failed checkpoint only delays the
			// next proof.
			s.logger.Error("checkpoint build failed", zap.Error(err))
		}
	}
	return rec, nil
}

// Record retrieves a single audit record by id.
func (s *Service) Record(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	rec, err := s.store.RecordByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, services.ErrAuditRecordNotFound
	}
	return rec, nil
}

// List retrieves records matching the filter, ordered by index.
func (s *Service) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditRecord, error) {
	return s.store.ListRecords(ctx, filter)
}

// LatestProof returns the most recent Merkle checkpoint.
func (s *Service) LatestProof(ctx context.Context) (*models.MerkleCheckpoint, error) {
	cp, err := s.store.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, services.ErrNoCheckpoint
	}
	return cp, nil
}

// Checkpoint builds and persists a Merkle checkpoint over the records
// appended since the previous checkpoint. It returns (nil, nil) when there
// is nothing new to commit to.
func (s *Service) Checkpoint(ctx context.Context) (*models.MerkleCheckpoint, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	if s.closed {
		return nil, services.ErrLedgerClosed
	}
	return s.checkpointLocked(ctx)
}

func (s *Service) checkpointLocked(ctx context.Context) (*models.MerkleCheckpoint, error) {
	if s.sinceCheckpoint == 0 || s.lastIndex < 0 {
		return nil, nil
	}
	first := s.lastIndex - s.sinceCheckpoint + 1

	records, err := s.store.RecordsInRange(ctx, first, s.lastIndex)
	if err != nil {
		return nil, err
	}
	leaves := make([]string, len(records))
	for i, rec := range records {
		leaves[i] = rec.RecordHash
	}

	root, height := MerkleRoot(leaves)
	cp := &models.MerkleCheckpoint{
		Root:       root,
		Height:     height,
		FirstIndex: first,
		LastIndex:  s.lastIndex,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}

	s.sinceCheckpoint = 0
	s.metrics.RecordCheckpoint()
	s.logger.Info("merkle checkpoint published",
		zap.Int64("first_index", cp.FirstIndex),
		zap.Int64("last_index", cp.LastIndex),
		zap.Int("height", cp.Height),
	)
	return cp, nil
}

// Verify recomputes hash chain continuity over the full ledger and the
// Merkle root of every stored checkpoint. Mismatches are reported with the
// offending index range and are never repaired.
func (s *Service) Verify(ctx context.Context) (*VerifyResult, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	lastIndex := s.lastIndex
	s.unlock()

	result := &VerifyResult{Valid: true, Errors: []IntegrityError{}}
	if lastIndex < 0 {
		return result, nil
	}

	records, err := s.store.RecordsInRange(ctx, 0, lastIndex)
	if err != nil {
		return nil, err
	}

	prevHash := GenesisHash
	expectIndex := int64(0)
	for _, rec := range records {
		if rec.Index != expectIndex {
			result.addError(expectIndex, lastIndex, "record index gap")
			break
		}
		if rec.PrevHash != prevHash {
			result.addError(rec.Index, lastIndex, "hash chain link broken")
			break
		}
		hash, err := RecordHash(rec, rec.PrevHash)
		if err != nil {
			return nil, err
		}
		if hash != rec.RecordHash {
			result.addError(rec.Index, lastIndex, "record hash mismatch")
			break
		}
		prevHash = rec.RecordHash
		expectIndex++
	}
	if len(result.Errors) == 0 && expectIndex != lastIndex+1 {
		result.addError(expectIndex, lastIndex, "ledger truncated")
	}

	checkpoints, err := s.store.ListCheckpoints(ctx)
	if err != nil {
		return nil, err
	}
	for _, cp := range checkpoints {
		rangeRecords, err := s.store.RecordsInRange(ctx, cp.FirstIndex, cp.LastIndex)
		if err != nil {
			return nil, err
		}
		// Leaves are recomputed from record content so a mutated record
		// breaks the checkpoint even if its stored hash was rewritten.
		leaves := make([]string, len(rangeRecords))
		for i, rec := range rangeRecords {
			leaf, err := RecordHash(rec, rec.PrevHash)
			if err != nil {
				return nil, err
			}
			leaves[i] = leaf
		}
		root, height := MerkleRoot(leaves)
		if root != cp.Root || height != cp.Height {
			result.addError(cp.FirstIndex, cp.LastIndex, "merkle root mismatch")
		}
	}

	if !result.Valid {
		s.metrics.RecordVerifyFailure()
		s.logger.Error("ledger integrity verification failed",
			zap.Int("error_count", len(result.Errors)),
		)
	}
	return result, nil
}

func (r *VerifyResult) addError(first, last int64, msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, IntegrityError{FirstIndex: first, LastIndex: last, Message: msg})
}

// Close flushes a final checkpoint and releases the store. Further appends
// fail with a closed-ledger error.
func (s *Service) Close(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	if s.closed {
		return nil
	}
	if _, err := s.checkpointLocked(ctx); err != nil {
		s.logger.Warn("final checkpoint failed", zap.Error(err))
	}
	s.closed = true
	return s.store.Close()
}
