// Package evaluator walks a policy's rule ladder against a request and
// produces a governance decision with a step-by-step trace.
package evaluator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arbiterhq/arbiter/internal/condition"
	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/services"
	"go.uber.org/zap"
)

// Result is the outcome of one ladder walk. Effect is either a matching
// rule's effect or the policy's default effect; Trace holds one entry per
// enabled-or-skipped rule in evaluation order.
type Result struct {
	Effect        models.Effect
	MatchedRule   *models.Rule
	Obligations   []string
	Trace         []models.TraceEntry
	UsedDefault   bool
	PendingReason string
}

// compiledRule pairs a rule with its compiled condition program.
type compiledRule struct {
	rule models.Rule
	prog *condition.Program
}

// compiledPolicy is an immutable, evaluation-ready view of a policy: rules
// validated, conditions compiled, ladder pre-sorted per the strategy.
type compiledPolicy struct {
	policy *models.Policy
	ladder []compiledRule
}

// Evaluator validates, compiles and evaluates policies. Compiled policies
// are cached per (policy_id, version) so conditions compile once and are
// reused across requests.
type Evaluator struct {
	mu     sync.RWMutex
	cache  map[string]*compiledPolicy
	logger *zap.Logger
}

// New creates an Evaluator.
func New(logger *zap.Logger) *Evaluator {
	return &Evaluator{
		cache:  make(map[string]*compiledPolicy),
		logger: logger,
	}
}

func cacheKey(p *models.Policy) string {
	return fmt.Sprintf("%s@%d", p.ID, p.Version)
}

// ValidatePolicy checks a policy for structural problems that must never
// reach the evaluator: unknown strategy modes, uncompilable conditions, and
// routing effects without a target pool. Pools is the set of known pool IDs;
// pass nil to skip the referential check.
func ValidatePolicy(p *models.Policy, pools map[string]bool) error {
	switch p.Strategy.Order {
	case models.OrderAscPriority, models.OrderDescPriority, models.OrderDeclared:
	default:
		return services.ErrInvalidPolicy.WithDetail("order", string(p.Strategy.Order))
	}
	switch p.Strategy.ConflictResolution {
	case models.ConflictFirstMatch, models.ConflictCollectAll, models.ConflictMostSpecific:
	default:
		return services.ErrInvalidPolicy.WithDetail("conflict_resolution", string(p.Strategy.ConflictResolution))
	}
	// The default effect applies when no rule matched, so effects that need a
	// matched rule's route_to or override settings are not allowed here.
	switch p.Strategy.DefaultEffect {
	case models.EffectAllow, models.EffectBlock:
	default:
		return services.ErrInvalidPolicy.WithDetail("default_effect", string(p.Strategy.DefaultEffect)).
			WithDetail("reason", "default effect must be ALLOW or BLOCK")
	}
	if len(p.Rules) == 0 {
		return services.ErrInvalidPolicy.WithDetail("reason", "policy has no rules")
	}

	seen := make(map[string]bool, len(p.Rules))
	for _, r := range p.Rules {
		if r.ID == "" {
			return services.ErrInvalidPolicy.WithDetail("reason", "rule missing rule_id")
		}
		if seen[r.ID] {
			return services.ErrInvalidPolicy.WithDetail("rule_id", r.ID).WithDetail("reason", "duplicate rule_id")
		}
		seen[r.ID] = true

		if !r.Effect.Valid() {
			return services.ErrInvalidPolicy.WithDetail("rule_id", r.ID).WithDetail("effect", string(r.Effect))
		}
		if r.Effect.RequiresRouting() {
			if r.RouteTo == "" {
				return services.ErrInvalidPolicy.WithDetail("rule_id", r.ID).
					WithDetail("reason", "routing effect requires route_to")
			}
			if pools != nil && !pools[r.RouteTo] {
				return services.ErrInvalidPolicy.WithDetail("rule_id", r.ID).
					WithDetail("route_to", r.RouteTo).
					WithDetail("reason", "route_to references unknown pool")
			}
		}
		if _, err := condition.Compile(r.Condition); err != nil {
			return services.ErrInvalidCondition.WithDetail("rule_id", r.ID).WithDetail("compile_error", err.Error())
		}
	}
	return nil
}

// compile validates the policy and builds its sorted, compiled ladder.
func (e *Evaluator) compile(p *models.Policy) (*compiledPolicy, error) {
	key := cacheKey(p)

	e.mu.RLock()
	cp, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return cp, nil
	}

	if err := ValidatePolicy(p, nil); err != nil {
		return nil, err
	}

	ladder := make([]compiledRule, 0, len(p.Rules))
	for _, r := range p.Rules {
		prog, err := condition.Compile(r.Condition)
		if err != nil {
			// Unreachable after ValidatePolicy, kept for safety.
			return nil, services.ErrInvalidCondition.WithDetail("rule_id", r.ID)
		}
		ladder = append(ladder, compiledRule{rule: r, prog: prog})
	}
	sortLadder(ladder, p.Strategy.Order)

	cp = &compiledPolicy{policy: p, ladder: ladder}

	e.mu.Lock()
	e.cache[key] = cp
	e.mu.Unlock()

	e.logger.Debug("compiled policy",
		zap.String("policy_id", p.ID),
		zap.Int("version", p.Version),
		zap.Int("rules", len(ladder)))
	return cp, nil
}

// sortLadder orders rules per the strategy. Sorting is stable so rules with
// equal priority keep their declared order.
func sortLadder(ladder []compiledRule, order models.RuleOrder) {
	switch order {
	case models.OrderAscPriority:
		sort.SliceStable(ladder, func(i, j int) bool {
			return ladder[i].rule.Priority < ladder[j].rule.Priority
		})
	case models.OrderDescPriority:
		sort.SliceStable(ladder, func(i, j int) bool {
			return ladder[i].rule.Priority > ladder[j].rule.Priority
		})
	case models.OrderDeclared:
		// as authored
	}
}

// Evaluate walks the policy's rule ladder against the request. It is a pure
// function of its inputs: no state is read or written beyond the compiled
// policy cache.
func (e *Evaluator) Evaluate(p *models.Policy, req *models.Request) (*Result, error) {
	cp, err := e.compile(p)
	if err != nil {
		return nil, err
	}

	res := &Result{Trace: make([]models.TraceEntry, 0, len(cp.ladder))}

	type match struct {
		idx int // position in evaluation order
		cr  compiledRule
	}
	var matches []match

	for i, cr := range cp.ladder {
		r := cr.rule
		if !r.Enabled {
			res.Trace = append(res.Trace, models.TraceEntry{
				RuleID:  r.ID,
				Skipped: true,
				Reason:  "rule disabled",
			})
			continue
		}
		if !scopeApplies(r.AppliesTo, req) {
			res.Trace = append(res.Trace, models.TraceEntry{
				RuleID: r.ID,
				Reason: "outside rule scope",
			})
			continue
		}

		matched := cr.prog.Eval(req.Field)
		entry := models.TraceEntry{RuleID: r.ID, Matched: matched}
		if !matched {
			entry.Reason = "condition not satisfied"
		}
		res.Trace = append(res.Trace, entry)

		if matched {
			matches = append(matches, match{idx: i, cr: cr})
			if cp.policy.Strategy.ConflictResolution == models.ConflictFirstMatch {
				break
			}
		}
	}

	if len(matches) == 0 {
		res.Effect = cp.policy.Strategy.DefaultEffect
		res.UsedDefault = true
		return res, nil
	}

	winner := matches[0]
	if cp.policy.Strategy.ConflictResolution == models.ConflictMostSpecific {
		// Most populated applies_to scope wins; ties break to the lowest
		// rule priority, then to evaluation order.
		for _, m := range matches[1:] {
			ws, ms := winner.cr.rule.AppliesTo.Specificity(), m.cr.rule.AppliesTo.Specificity()
			if ms > ws || (ms == ws && m.cr.rule.Priority < winner.cr.rule.Priority) {
				winner = m
			}
		}
	}

	rule := winner.cr.rule
	res.Effect = rule.Effect
	res.MatchedRule = &rule
	res.Obligations = append(res.Obligations, rule.Obligations...)

	if rule.Effect == models.EffectRequireOverride {
		res.PendingReason = "matched rule requires a recorded override"
	}
	return res, nil
}

// scopeApplies checks the rule's applies_to filter against the request.
// Empty fields match everything.
func scopeApplies(scope models.AppliesTo, req *models.Request) bool {
	if scope.OrgID != "" && scope.OrgID != req.OrgID {
		return false
	}
	if len(scope.Actors) > 0 && !containsString(scope.Actors, req.ActorID) {
		return false
	}
	if len(scope.Models) > 0 && !containsString(scope.Models, req.Model) {
		return false
	}
	if len(scope.DataClasses) > 0 && !containsString(scope.DataClasses, req.DataClass()) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
