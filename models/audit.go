package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventKind distinguishes the events the ledger records.
type AuditEventKind string

const (
	AuditEventDecision         AuditEventKind = "decision"
	AuditEventOverrideApproved AuditEventKind = "override_approved"
	AuditEventOverrideRejected AuditEventKind = "override_rejected"
	AuditEventOverrideExpired  AuditEventKind = "override_expired"
)

// AuditRecord is one immutable entry of the decision ledger. Index is
// assigned by the ledger on append and increases by one per record;
// RecordHash chains to the previous record's hash so any historic mutation
// invalidates every later record.
type AuditRecord struct {
	Index         int64            `json:"index" db:"idx"`
	ID            uuid.UUID        `json:"id" db:"id"`
	Kind          AuditEventKind   `json:"kind" db:"kind"`
	Timestamp     time.Time        `json:"timestamp" db:"timestamp"`
	OrgID         string           `json:"org_id" db:"org_id"`
	ActorID       string           `json:"actor_id" db:"actor_id"`
	PolicyID      string           `json:"policy_id" db:"policy_id"`
	PolicyVersion int              `json:"policy_version" db:"policy_version"`
	MatchedRule   string           `json:"matched_rule,omitempty" db:"matched_rule"`
	Effect        Effect           `json:"decision" db:"decision"`
	Reason        string           `json:"reason,omitempty" db:"reason"`
	Obligations   []string         `json:"obligations,omitempty" db:"obligations"`
	Trace         []TraceEntry     `json:"trace,omitempty" db:"trace"`
	RouteDecision *RoutingDecision `json:"route_decision,omitempty" db:"route_decision"`
	PrevHash      string           `json:"prev_hash" db:"prev_hash"`
	RecordHash    string           `json:"record_hash" db:"record_hash"`
}

// MerkleCheckpoint commits to a contiguous range of audit records. Root is
// the Merkle root over the record hashes in [FirstIndex, LastIndex]; Height
// is the depth of the tree that produced it.
type MerkleCheckpoint struct {
	Root       string    `json:"merkle_root" db:"merkle_root"`
	Height     int       `json:"height" db:"height"`
	FirstIndex int64     `json:"first_index" db:"first_index"`
	LastIndex  int64     `json:"last_index" db:"last_index"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AuditFilter narrows ledger list queries.
type AuditFilter struct {
	From   *time.Time
	To     *time.Time
	OrgID  string
	RuleID string
	Effect Effect
	Limit  int
	Offset int
}
