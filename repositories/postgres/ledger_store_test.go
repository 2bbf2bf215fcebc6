package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/arbiterhq/arbiter/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*LedgerStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	wrapped := &DB{DB: db, logger: zap.NewNop()}
	return NewLedgerStore(wrapped, zap.NewNop()).(*LedgerStore), mock
}

func sampleRecord() *models.AuditRecord {
	return &models.AuditRecord{
		Index:         7,
		ID:            uuid.New(),
		Kind:          models.AuditEventDecision,
		Timestamp:     time.Now().UTC(),
		OrgID:         "org-1",
		ActorID:       "actor-1",
		PolicyID:      "pol-1",
		PolicyVersion: 2,
		MatchedRule:   "rule-1",
		Effect:        models.EffectBlock,
		Reason:        "matched rule rule-1",
		Obligations:   []string{"log_access"},
		Trace:         []models.TraceEntry{{RuleID: "rule-1", Matched: true}},
		PrevHash:      "aa",
		RecordHash:    "bb",
	}
}

func recordRows(rec *models.AuditRecord) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"idx", "id", "kind", "timestamp", "org_id", "actor_id", "policy_id", "policy_version",
		"matched_rule", "decision", "reason", "obligations", "trace", "route_decision",
		"prev_hash", "record_hash",
	}).AddRow(
		rec.Index, rec.ID, rec.Kind, rec.Timestamp, rec.OrgID, rec.ActorID, rec.PolicyID,
		rec.PolicyVersion, rec.MatchedRule, rec.Effect, rec.Reason,
		[]byte(`["log_access"]`), []byte(`[{"rule_id":"rule-1","matched":true}]`), nil,
		rec.PrevHash, rec.RecordHash,
	)
}

func TestAppendRecord(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectExec("INSERT INTO audit_records").
		WithArgs(
			rec.Index, rec.ID, rec.Kind, rec.Timestamp, rec.OrgID, rec.ActorID,
			rec.PolicyID, rec.PolicyVersion, rec.MatchedRule, rec.Effect, rec.Reason,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			rec.PrevHash, rec.RecordHash,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.AppendRecord(context.Background(), rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordByID(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectQuery("SELECT (.+) FROM audit_records WHERE id =").
		WithArgs(rec.ID).
		WillReturnRows(recordRows(rec))

	got, err := store.RecordByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Index, got.Index)
	assert.Equal(t, rec.Effect, got.Effect)
	assert.Equal(t, []string{"log_access"}, got.Obligations)
	require.Len(t, got.Trace, 1)
	assert.True(t, got.Trace[0].Matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordByID_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM audit_records WHERE id =").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"idx"}))

	got, err := store.RecordByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastRecord_Empty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM audit_records ORDER BY idx DESC LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"idx"}))

	rec, err := store.LastRecord(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecords_FilterBuildsConditions(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectQuery(`SELECT (.+) FROM audit_records WHERE org_id = \$1 AND decision = \$2 ORDER BY idx LIMIT \$3`).
		WithArgs("org-1", models.EffectBlock, 10).
		WillReturnRows(recordRows(rec))

	got, err := store.ListRecords(context.Background(), models.AuditFilter{
		OrgID:  "org-1",
		Effect: models.EffectBlock,
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "org-1", got[0].OrgID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordsInRange(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectQuery(`SELECT (.+) FROM audit_records WHERE idx >= \$1 AND idx <= \$2 ORDER BY idx`).
		WithArgs(int64(0), int64(10)).
		WillReturnRows(recordRows(rec))

	got, err := store.RecordsInRange(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndLatestCheckpoint(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	cp := &models.MerkleCheckpoint{Root: "root", Height: 3, FirstIndex: 0, LastIndex: 7, CreatedAt: now}

	mock.ExpectExec("INSERT INTO merkle_checkpoints").
		WithArgs(cp.FirstIndex, cp.LastIndex, cp.Root, cp.Height, cp.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.SaveCheckpoint(context.Background(), cp))

	mock.ExpectQuery("SELECT (.+) FROM merkle_checkpoints ORDER BY last_index DESC LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"first_index", "last_index", "merkle_root", "height", "created_at"}).
			AddRow(cp.FirstIndex, cp.LastIndex, cp.Root, cp.Height, cp.CreatedAt))

	got, err := store.LatestCheckpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cp.Root, got.Root)
	assert.Equal(t, cp.LastIndex, got.LastIndex)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRecords(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_records`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
