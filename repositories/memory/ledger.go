// Package memory provides in-memory repository implementations used by
// tests and single-process deployments without durable storage.
package memory

import (
	"context"
	"sync"

	"github.com/arbiterhq/arbiter/models"
	"github.com/google/uuid"
)

// LedgerStore keeps audit records and checkpoints in process memory.
// Records are copied on the way in and out, so callers can never mutate a
// committed entry through a retained pointer.
type LedgerStore struct {
	mu          sync.RWMutex
	records     []models.AuditRecord
	byID        map[uuid.UUID]int
	checkpoints []models.MerkleCheckpoint
}

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{byID: make(map[uuid.UUID]int)}
}

func (s *LedgerStore) AppendRecord(ctx context.Context, rec *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, *rec)
	return nil
}

func (s *LedgerStore) RecordByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	rec := s.records[i]
	return &rec, nil
}

func (s *LedgerStore) RecordsInRange(ctx context.Context, from, to int64) ([]*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AuditRecord, 0)
	for i := range s.records {
		if s.records[i].Index < from || s.records[i].Index > to {
			continue
		}
		rec := s.records[i]
		out = append(out, &rec)
	}
	return out, nil
}

func (s *LedgerStore) ListRecords(ctx context.Context, filter models.AuditFilter) ([]*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.AuditRecord, 0)
	for i := range s.records {
		rec := s.records[i]
		if filter.From != nil && rec.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && rec.Timestamp.After(*filter.To) {
			continue
		}
		if filter.OrgID != "" && rec.OrgID != filter.OrgID {
			continue
		}
		if filter.RuleID != "" && rec.MatchedRule != filter.RuleID {
			continue
		}
		if filter.Effect != "" && rec.Effect != filter.Effect {
			continue
		}
		matched = append(matched, &rec)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.AuditRecord{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *LedgerStore) LastRecord(ctx context.Context) (*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, nil
	}
	rec := s.records[len(s.records)-1]
	return &rec, nil
}

func (s *LedgerStore) CountRecords(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *LedgerStore) SaveCheckpoint(ctx context.Context, cp *models.MerkleCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, *cp)
	return nil
}

func (s *LedgerStore) LatestCheckpoint(ctx context.Context) (*models.MerkleCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.checkpoints) == 0 {
		return nil, nil
	}
	cp := s.checkpoints[len(s.checkpoints)-1]
	return &cp, nil
}

func (s *LedgerStore) ListCheckpoints(ctx context.Context) ([]*models.MerkleCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.MerkleCheckpoint, len(s.checkpoints))
	for i := range s.checkpoints {
		cp := s.checkpoints[i]
		out[i] = &cp
	}
	return out, nil
}

func (s *LedgerStore) Close() error { return nil }
