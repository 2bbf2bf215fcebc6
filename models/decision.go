package models

import (
	"github.com/google/uuid"
)

// TraceEntry records how one rule fared during ladder evaluation.
type TraceEntry struct {
	RuleID  string `json:"rule_id"`
	Matched bool   `json:"matched"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Request is the inbound AI-model request as seen by the evaluator. Fields
// holds the request attributes rule conditions refer to (data_class,
// destination_region, and so on); the evaluator treats them as opaque values.
type Request struct {
	OrgID   string                 `json:"org_id"`
	ActorID string                 `json:"actor_id"`
	Model   string                 `json:"model"`
	Fields  map[string]interface{} `json:"fields"`
}

// Field returns the named request attribute, with Model and OrgID exposed
// under their well-known names alongside the free-form fields.
func (r *Request) Field(name string) (interface{}, bool) {
	switch name {
	case "model":
		if r.Model != "" {
			return r.Model, true
		}
	case "org_id":
		if r.OrgID != "" {
			return r.OrgID, true
		}
	case "actor_id":
		if r.ActorID != "" {
			return r.ActorID, true
		}
	}
	v, ok := r.Fields[name]
	return v, ok
}

// DataClass returns the request's data_class field when present.
func (r *Request) DataClass() string {
	if v, ok := r.Fields["data_class"].(string); ok {
		return v
	}
	return ""
}

// Outcome is the combined result of evaluating a request against a policy:
// the governance verdict, the matched rule (if any), the full evaluation
// trace, and — for routed decisions — the routing candidates.
type Outcome struct {
	DecisionID      uuid.UUID        `json:"decision_id"`
	PolicyID        string           `json:"policy_id"`
	PolicyVersion   int              `json:"policy_version"`
	Effect          Effect           `json:"effect"`
	MatchedRuleID   string           `json:"matched_rule_id,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	Obligations     []string         `json:"obligations_applied,omitempty"`
	Trace           []TraceEntry     `json:"trace"`
	Route           *RoutingDecision `json:"route_decision,omitempty"`
	PendingOverride bool             `json:"pending_override,omitempty"`

	// Audit reference, set only for live (routed) decisions once the
	// record is durably appended.
	AuditIndex int64  `json:"audit_index,omitempty"`
	AuditHash  string `json:"audit_hash,omitempty"`
}
