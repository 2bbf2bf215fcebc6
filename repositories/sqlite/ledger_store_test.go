package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) repositories.LedgerStore {
	t.Helper()
	store, err := NewLedgerStore(filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func record(idx int64, org string) *models.AuditRecord {
	return &models.AuditRecord{
		Index:         idx,
		ID:            uuid.New(),
		Kind:          models.AuditEventDecision,
		Timestamp:     time.Now().UTC().Truncate(time.Microsecond),
		OrgID:         org,
		ActorID:       "actor-1",
		PolicyID:      "pol-1",
		PolicyVersion: 1,
		MatchedRule:   "rule-1",
		Effect:        models.EffectAllow,
		Reason:        "matched rule rule-1",
		Obligations:   []string{"log_access"},
		Trace:         []models.TraceEntry{{RuleID: "rule-1", Matched: true}},
		RouteDecision: &models.RoutingDecision{
			PoolID: "pool-au",
			Candidates: []models.Candidate{
				{TargetID: "t-1", PoolID: "pool-au", Score: 65, Selected: true},
			},
		},
		PrevHash:   "aa",
		RecordHash: "bb",
	}
}

func TestAppendAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rec := record(0, "org-1")

	require.NoError(t, store.AppendRecord(ctx, rec))

	got, err := store.RecordByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Index, got.Index)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, rec.Obligations, got.Obligations)
	assert.Equal(t, rec.Trace, got.Trace)
	require.NotNil(t, got.RouteDecision)
	assert.Equal(t, "t-1", got.RouteDecision.Candidates[0].TargetID)
	assert.Equal(t, rec.RecordHash, got.RecordHash)
}

func TestDuplicateIndexRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.AppendRecord(ctx, record(0, "org-1")))
	assert.Error(t, store.AppendRecord(ctx, record(0, "org-1")))
}

func TestRecordsInRangeAndLast(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, store.AppendRecord(ctx, record(i, "org-1")))
	}

	ranged, err := store.RecordsInRange(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, ranged, 3)
	assert.Equal(t, int64(1), ranged[0].Index)
	assert.Equal(t, int64(3), ranged[2].Index)

	last, err := store.LastRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, int64(4), last.Index)

	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestListRecordsFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := record(0, "org-a")
	b := record(1, "org-b")
	b.Effect = models.EffectBlock
	require.NoError(t, store.AppendRecord(ctx, a))
	require.NoError(t, store.AppendRecord(ctx, b))

	byOrg, err := store.ListRecords(ctx, models.AuditFilter{OrgID: "org-a"})
	require.NoError(t, err)
	require.Len(t, byOrg, 1)
	assert.Equal(t, "org-a", byOrg[0].OrgID)

	byEffect, err := store.ListRecords(ctx, models.AuditFilter{Effect: models.EffectBlock})
	require.NoError(t, err)
	require.Len(t, byEffect, 1)
	assert.Equal(t, int64(1), byEffect[0].Index)

	paged, err := store.ListRecords(ctx, models.AuditFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, int64(1), paged[0].Index)
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	latest, err := store.LatestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := &models.MerkleCheckpoint{Root: "r1", Height: 2, FirstIndex: 0, LastIndex: 3, CreatedAt: time.Now().UTC()}
	second := &models.MerkleCheckpoint{Root: "r2", Height: 1, FirstIndex: 4, LastIndex: 5, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveCheckpoint(ctx, first))
	require.NoError(t, store.SaveCheckpoint(ctx, second))

	latest, err = store.LatestCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "r2", latest.Root)

	all, err := store.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[0].Root)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := NewLedgerStore(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.AppendRecord(ctx, record(0, "org-1")))
	require.NoError(t, store.Close())

	reopened, err := NewLedgerStore(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	last, err := reopened.LastRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, int64(0), last.Index)
}
