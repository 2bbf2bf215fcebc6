package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/arbiterhq/arbiter/models"
	"github.com/google/uuid"
)

// GenesisHash is the prev_hash of the first record in a ledger.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// canonicalRecord is the hash payload of an audit record: every field except
// the hashes themselves, in a fixed order. Changing this layout invalidates
// every existing ledger, so fields are only ever appended.
type canonicalRecord struct {
	Index         int64                   `json:"index"`
	ID            uuid.UUID               `json:"id"`
	Kind          models.AuditEventKind   `json:"kind"`
	Timestamp     time.Time               `json:"timestamp"`
	OrgID         string                  `json:"org_id"`
	ActorID       string                  `json:"actor_id"`
	PolicyID      string                  `json:"policy_id"`
	PolicyVersion int                     `json:"policy_version"`
	MatchedRule   string                  `json:"matched_rule"`
	Effect        models.Effect           `json:"decision"`
	Reason        string                  `json:"reason"`
	Obligations   []string                `json:"obligations"`
	Trace         []models.TraceEntry     `json:"trace"`
	RouteDecision *models.RoutingDecision `json:"route_decision"`
}

// RecordHash computes hex(SHA-256(prev_hash ‖ canonical(record))). The
// record's own PrevHash and RecordHash fields are not part of the payload;
// the chain link comes from the prevHash argument alone.
func RecordHash(rec *models.AuditRecord, prevHash string) (string, error) {
	payload, err := json.Marshal(canonicalRecord{
		Index:         rec.Index,
		ID:            rec.ID,
		Kind:          rec.Kind,
		Timestamp:     rec.Timestamp.UTC(),
		OrgID:         rec.OrgID,
		ActorID:       rec.ActorID,
		PolicyID:      rec.PolicyID,
		PolicyVersion: rec.PolicyVersion,
		MatchedRule:   rec.MatchedRule,
		Effect:        rec.Effect,
		Reason:        rec.Reason,
		Obligations:   rec.Obligations,
		Trace:         rec.Trace,
		RouteDecision: rec.RouteDecision,
	})
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
