package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/repositories"
	"github.com/arbiterhq/arbiter/repositories/memory"
	"github.com/arbiterhq/arbiter/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decisionRecord(org string, effect models.Effect) *models.AuditRecord {
	return &models.AuditRecord{
		Kind:          models.AuditEventDecision,
		OrgID:         org,
		ActorID:       "actor-1",
		PolicyID:      "pol-1",
		PolicyVersion: 1,
		MatchedRule:   "rule-1",
		Effect:        effect,
		Reason:        "matched rule-1",
	}
}

func newTestLedger(t *testing.T, store repositories.LedgerStore, every int64) *Service {
	t.Helper()
	s, err := NewService(context.Background(), store, every, nil, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestAppend_BuildsHashChain(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, memory.NewLedgerStore(), 0)

	prev := GenesisHash
	for i := 0; i < 4; i++ {
		rec, err := svc.Append(ctx, decisionRecord("org-1", models.EffectAllow))
		require.NoError(t, err)
		assert.Equal(t, int64(i), rec.Index)
		assert.Equal(t, prev, rec.PrevHash)
		assert.Len(t, rec.RecordHash, 64)

		want, err := RecordHash(rec, rec.PrevHash)
		require.NoError(t, err)
		assert.Equal(t, want, rec.RecordHash)
		prev = rec.RecordHash
	}
}

func TestAppend_ResumesChainAcrossReopen(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLedgerStore()

	svc := newTestLedger(t, store, 0)
	first, err := svc.Append(ctx, decisionRecord("org-1", models.EffectAllow))
	require.NoError(t, err)

	reopened := newTestLedger(t, store, 0)
	second, err := reopened.Append(ctx, decisionRecord("org-1", models.EffectBlock))
	require.NoError(t, err)

	assert.Equal(t, int64(1), second.Index)
	assert.Equal(t, first.RecordHash, second.PrevHash)
}

func TestVerify_UntamperedLedgerIsValid(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, memory.NewLedgerStore(), 3)

	for i := 0; i < 10; i++ {
		_, err := svc.Append(ctx, decisionRecord("org-1", models.EffectAllow))
		require.NoError(t, err)
	}

	result, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

// tamperStore simulates an attacker mutating a committed record in the
// underlying storage: reads of the tampered index return altered content.
type tamperStore struct {
	repositories.LedgerStore
	index int64
}

func (s *tamperStore) RecordsInRange(ctx context.Context, from, to int64) ([]*models.AuditRecord, error) {
	records, err := s.LedgerStore.RecordsInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Index == s.index {
			rec.Reason = "rewritten by attacker"
		}
	}
	return records, nil
}

func TestVerify_TamperedRecordInvalidatesDownstream(t *testing.T) {
	ctx := context.Background()
	store := &tamperStore{LedgerStore: memory.NewLedgerStore(), index: 3}
	svc := newTestLedger(t, store, 5)

	// 5 records trigger a checkpoint, then 5 more on top.
	for i := 0; i < 10; i++ {
		_, err := svc.Append(ctx, decisionRecord("org-1", models.EffectAllow))
		require.NoError(t, err)
	}

	result, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)

	chainErr := result.Errors[0]
	assert.Equal(t, int64(3), chainErr.FirstIndex)
	assert.Equal(t, int64(9), chainErr.LastIndex)

	// The checkpoint covering the tampered record no longer matches either.
	foundMerkle := false
	for _, e := range result.Errors {
		if e.Message == "merkle root mismatch" {
			foundMerkle = true
			assert.Equal(t, int64(0), e.FirstIndex)
			assert.Equal(t, int64(4), e.LastIndex)
		}
	}
	assert.True(t, foundMerkle)
}

// microsecondStore rounds timestamps on read the way a TIMESTAMPTZ column
// does: postgres keeps microseconds, dropping any finer precision.
type microsecondStore struct {
	repositories.LedgerStore
}

func (s *microsecondStore) RecordsInRange(ctx context.Context, from, to int64) ([]*models.AuditRecord, error) {
	records, err := s.LedgerStore.RecordsInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		rec.Timestamp = rec.Timestamp.Truncate(time.Microsecond)
	}
	return records, nil
}

func TestVerify_SurvivesMicrosecondTimestampRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, &microsecondStore{LedgerStore: memory.NewLedgerStore()}, 2)

	for i := 0; i < 3; i++ {
		rec, err := svc.Append(ctx, decisionRecord("org-1", models.EffectAllow))
		require.NoError(t, err)
		assert.Equal(t, rec.Timestamp, rec.Timestamp.Truncate(time.Microsecond))
	}

	result, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestCheckpoint_CountTriggerAndLatestProof(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, memory.NewLedgerStore(), 4)

	_, err := svc.LatestProof(ctx)
	assert.ErrorIs(t, err, services.ErrNoCheckpoint)

	for i := 0; i < 4; i++ {
		_, err := svc.Append(ctx, decisionRecord("org-1", models.EffectAllow))
		require.NoError(t, err)
	}

	cp, err := svc.LatestProof(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cp.FirstIndex)
	assert.Equal(t, int64(3), cp.LastIndex)
	assert.Equal(t, 2, cp.Height)
	assert.Len(t, cp.Root, 64)
}

func TestCheckpoint_NothingNewIsNoOp(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, memory.NewLedgerStore(), 0)

	cp, err := svc.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	_, err = svc.Append(ctx, decisionRecord("org-1", models.EffectAllow))
	require.NoError(t, err)

	cp, err = svc.Checkpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)

	again, err := svc.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

// flakyStore fails the first n append attempts.
type flakyStore struct {
	repositories.LedgerStore
	failures int
}

func (s *flakyStore) AppendRecord(ctx context.Context, rec *models.AuditRecord) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk unavailable")
	}
	return s.LedgerStore.AppendRecord(ctx, rec)
}

func TestAppend_RetriesBoundedTimes(t *testing.T) {
	ctx := context.Background()

	recoverable := &flakyStore{LedgerStore: memory.NewLedgerStore(), failures: 2}
	svc := newTestLedger(t, recoverable, 0)
	_, err := svc.Append(ctx, decisionRecord("org-1", models.EffectAllow))
	assert.NoError(t, err)

	broken := &flakyStore{LedgerStore: memory.NewLedgerStore(), failures: 10}
	svc = newTestLedger(t, broken, 0)
	_, err = svc.Append(ctx, decisionRecord("org-1", models.EffectAllow))
	assert.ErrorIs(t, err, services.ErrLedgerAppend)
	assert.Equal(t, 10-appendRetries, broken.failures)
}

func TestAppend_AfterCloseFails(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, memory.NewLedgerStore(), 0)
	require.NoError(t, svc.Close(ctx))

	_, err := svc.Append(ctx, decisionRecord("org-1", models.EffectAllow))
	assert.ErrorIs(t, err, services.ErrLedgerClosed)
}

func TestScheduler_StopReturnsAfterStart(t *testing.T) {
	svc := newTestLedger(t, memory.NewLedgerStore(), 0)
	sched := NewScheduler(svc, zap.NewNop())

	require.Error(t, sched.Start("not a cron spec"))
	require.NoError(t, sched.Start("*/5 * * * *"))

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestList_Filters(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, memory.NewLedgerStore(), 0)

	_, err := svc.Append(ctx, decisionRecord("org-a", models.EffectAllow))
	require.NoError(t, err)
	_, err = svc.Append(ctx, decisionRecord("org-b", models.EffectBlock))
	require.NoError(t, err)
	_, err = svc.Append(ctx, decisionRecord("org-a", models.EffectBlock))
	require.NoError(t, err)

	byOrg, err := svc.List(ctx, models.AuditFilter{OrgID: "org-a"})
	require.NoError(t, err)
	assert.Len(t, byOrg, 2)

	byEffect, err := svc.List(ctx, models.AuditFilter{Effect: models.EffectBlock})
	require.NoError(t, err)
	assert.Len(t, byEffect, 2)

	paged, err := svc.List(ctx, models.AuditFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, int64(1), paged[0].Index)
}
