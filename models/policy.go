package models

import "time"

// Effect represents the governance verdict a rule produces when it matches.
type Effect string

const (
	EffectAllow           Effect = "ALLOW"
	EffectBlock           Effect = "BLOCK"
	EffectRoute           Effect = "ROUTE"
	EffectWarnRoute       Effect = "WARN_ROUTE"
	EffectRequireOverride Effect = "REQUIRE_OVERRIDE"
)

// RequiresRouting reports whether this effect needs a routing decision.
func (e Effect) RequiresRouting() bool {
	return e == EffectRoute || e == EffectWarnRoute
}

// Valid reports whether the effect is one of the known verdicts.
func (e Effect) Valid() bool {
	switch e {
	case EffectAllow, EffectBlock, EffectRoute, EffectWarnRoute, EffectRequireOverride:
		return true
	}
	return false
}

// RuleOrder controls how a policy's rules are sorted before evaluation.
type RuleOrder string

const (
	OrderAscPriority  RuleOrder = "ASC_PRIORITY"  // lowest priority number first
	OrderDescPriority RuleOrder = "DESC_PRIORITY" // highest priority number first
	OrderDeclared     RuleOrder = "DECLARED_ORDER"
)

// ConflictResolution controls which rule wins when several match.
type ConflictResolution string

const (
	ConflictFirstMatch   ConflictResolution = "FIRST_MATCH"
	ConflictCollectAll   ConflictResolution = "COLLECT_ALL"
	ConflictMostSpecific ConflictResolution = "MOST_SPECIFIC"
)

// EvaluationStrategy configures how the rule ladder is walked.
type EvaluationStrategy struct {
	Order              RuleOrder          `json:"order" yaml:"order" validate:"required,oneof=ASC_PRIORITY DESC_PRIORITY DECLARED_ORDER"`
	ConflictResolution ConflictResolution `json:"conflict_resolution" yaml:"conflict_resolution" validate:"required,oneof=FIRST_MATCH COLLECT_ALL MOST_SPECIFIC"`
	DefaultEffect      Effect             `json:"default_effect" yaml:"default_effect" validate:"required,oneof=ALLOW BLOCK"`
}

// AppliesTo narrows a rule to a subset of traffic. Empty fields match
// everything; a populated field must match the request for the rule to apply.
// The number of populated fields is the rule's specificity under
// MOST_SPECIFIC conflict resolution.
type AppliesTo struct {
	OrgID       string   `json:"org_id,omitempty" yaml:"org_id,omitempty"`
	Actors      []string `json:"actors,omitempty" yaml:"actors,omitempty"`
	Models      []string `json:"models,omitempty" yaml:"models,omitempty"`
	DataClasses []string `json:"data_classes,omitempty" yaml:"data_classes,omitempty"`
}

// Specificity counts the populated scope fields.
func (a AppliesTo) Specificity() int {
	n := 0
	if a.OrgID != "" {
		n++
	}
	if len(a.Actors) > 0 {
		n++
	}
	if len(a.Models) > 0 {
		n++
	}
	if len(a.DataClasses) > 0 {
		n++
	}
	return n
}

// OverridePolicy configures whether and by whom a REQUIRE_OVERRIDE verdict
// can be approved.
type OverridePolicy struct {
	Allowed              bool     `json:"allowed" yaml:"allowed"`
	Roles                []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	RequireJustification bool     `json:"require_justification" yaml:"require_justification"`
}

// Rule is a single step of the compliance ladder.
type Rule struct {
	ID          string         `json:"rule_id" yaml:"rule_id" validate:"required"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    int            `json:"priority" yaml:"priority"`
	Condition   string         `json:"condition" yaml:"condition" validate:"required"`
	Effect      Effect         `json:"effect" yaml:"effect" validate:"required,oneof=ALLOW BLOCK ROUTE WARN_ROUTE REQUIRE_OVERRIDE"`
	AppliesTo   AppliesTo      `json:"applies_to" yaml:"applies_to"`
	RouteTo     string         `json:"route_to,omitempty" yaml:"route_to,omitempty"`
	Obligations []string       `json:"obligations,omitempty" yaml:"obligations,omitempty"`
	Overrides   OverridePolicy `json:"overrides" yaml:"overrides"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
}

// Policy is an ordered set of rules plus the strategy for walking them.
// Policies are immutable once published; updates create a new version.
type Policy struct {
	ID        string             `json:"policy_id" yaml:"policy_id" validate:"required"`
	Version   int                `json:"version" yaml:"version" validate:"gte=1"`
	Name      string             `json:"name,omitempty" yaml:"name,omitempty"`
	Strategy  EvaluationStrategy `json:"evaluation_strategy" yaml:"evaluation_strategy"`
	Rules     []Rule             `json:"rules" yaml:"rules" validate:"required,min=1,dive"`
	CreatedAt time.Time          `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// EnabledRules returns the subset of rules with the enabled flag set,
// preserving declared order.
func (p *Policy) EnabledRules() []Rule {
	out := make([]Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
