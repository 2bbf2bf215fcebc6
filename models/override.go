package models

import (
	"time"

	"github.com/google/uuid"
)

// OverrideState is the lifecycle state of a pending override.
type OverrideState string

const (
	OverrideNone     OverrideState = "NONE"
	OverridePending  OverrideState = "PENDING"
	OverrideApproved OverrideState = "APPROVED"
	OverrideRejected OverrideState = "REJECTED"
	OverrideExpired  OverrideState = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s OverrideState) Terminal() bool {
	return s == OverrideApproved || s == OverrideRejected || s == OverrideExpired
}

// Override tracks the approval state of a decision that matched a
// REQUIRE_OVERRIDE rule.
type Override struct {
	DecisionID           uuid.UUID     `json:"decision_id"`
	OrgID                string        `json:"org_id"`
	RuleID               string        `json:"rule_id"`
	Roles                []string      `json:"roles"`
	RequireJustification bool          `json:"require_justification"`
	State                OverrideState `json:"state"`
	CreatedAt            time.Time     `json:"created_at"`
	ExpiresAt            time.Time     `json:"expires_at"`
	ResolvedBy           string        `json:"resolved_by,omitempty"`
	ResolvedRole         string        `json:"resolved_role,omitempty"`
	Justification        string        `json:"justification,omitempty"`
	ResolvedAt           *time.Time    `json:"resolved_at,omitempty"`
}
