// Package decision orchestrates the full decision pipeline: policy fetch,
// ladder evaluation, routing selection, override registration and the audit
// append that makes a live decision final.
package decision

import (
	"context"

	"github.com/arbiterhq/arbiter/internal/observability"
	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/repositories"
	"github.com/arbiterhq/arbiter/services"
	"github.com/arbiterhq/arbiter/services/evaluator"
	"github.com/arbiterhq/arbiter/services/ledger"
	"github.com/arbiterhq/arbiter/services/override"
	"github.com/arbiterhq/arbiter/services/routing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service evaluates requests against policies. Evaluate is a pure
// simulation; Route is the live path, which is only final once its audit
// record is committed.
type Service struct {
	policies  repositories.PolicyRepository
	evaluator *evaluator.Evaluator
	selector  *routing.Selector
	ledger    *ledger.Service
	gate      *override.Gate
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewService creates the decision orchestrator.
func NewService(
	policies repositories.PolicyRepository,
	eval *evaluator.Evaluator,
	selector *routing.Selector,
	led *ledger.Service,
	gate *override.Gate,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		policies:  policies,
		evaluator: eval,
		selector:  selector,
		ledger:    led,
		gate:      gate,
		metrics:   metrics,
		logger:    logger,
	}
}

// Evaluate runs a simulation: ladder walk and trace only, no routing, no
// audit write, no pending override. Safe to call from UIs and automation at
// any rate.
func (s *Service) Evaluate(ctx context.Context, policyID string, req *models.Request) (*models.Outcome, error) {
	policy, res, err := s.evaluate(ctx, policyID, req)
	if err != nil {
		return nil, err
	}
	return s.outcome(policy, res), nil
}

// Route is the live decision path. For routed effects it selects a concrete
// target; a REQUIRE_OVERRIDE match opens a pending override. The outcome is
// reported only after its audit record is durably appended — a ledger
// failure means the decision was not committed.
func (s *Service) Route(ctx context.Context, policyID string, req *models.Request, prefs *models.RoutingPreference) (*models.Outcome, error) {
	policy, res, err := s.evaluate(ctx, policyID, req)
	if err != nil {
		return nil, err
	}
	out := s.outcome(policy, res)

	if res.MatchedRule != nil && res.Effect.RequiresRouting() {
		route, err := s.selector.Select(ctx, res.MatchedRule.RouteTo, prefs)
		if err != nil {
			return nil, err
		}
		out.Route = route
		if route.Selected() == nil {
			// No target survived the hard constraints: a distinct decision,
			// not a runtime error.
			out.Effect = models.EffectBlock
			out.Reason = "no eligible route in pool " + route.PoolID
		}
	}

	// A pending override is only opened once the decision that needs it is
	// on the ledger; a failed append must not leave an orphan in the gate.
	registerOverride := false
	if out.Effect == models.EffectRequireOverride {
		if res.MatchedRule.Overrides.Allowed {
			registerOverride = true
			out.PendingOverride = true
		} else {
			out.Effect = models.EffectBlock
			out.Reason = "rule requires an override but does not permit one"
		}
	}

	rec, err := s.ledger.Append(ctx, &models.AuditRecord{
		ID:            out.DecisionID,
		Kind:          models.AuditEventDecision,
		OrgID:         req.OrgID,
		ActorID:       req.ActorID,
		PolicyID:      policy.ID,
		PolicyVersion: policy.Version,
		MatchedRule:   out.MatchedRuleID,
		Effect:        out.Effect,
		Reason:        out.Reason,
		Obligations:   out.Obligations,
		Trace:         out.Trace,
		RouteDecision: out.Route,
	})
	if err != nil {
		return nil, err
	}
	out.AuditIndex = rec.Index
	out.AuditHash = rec.RecordHash

	if registerOverride {
		if _, err := s.gate.Register(ctx, out.DecisionID, req.OrgID, policy.ID, policy.Version, res.MatchedRule); err != nil {
			return nil, err
		}
	}

	s.metrics.RecordDecision(string(out.Effect))
	s.logger.Info("decision committed",
		zap.String("decision_id", out.DecisionID.String()),
		zap.String("policy_id", policy.ID),
		zap.String("effect", string(out.Effect)),
		zap.Int64("audit_index", rec.Index),
	)
	return out, nil
}

func (s *Service) evaluate(ctx context.Context, policyID string, req *models.Request) (*models.Policy, *evaluator.Result, error) {
	if req == nil {
		return nil, nil, services.ErrInvalidInput
	}
	policy, err := s.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, nil, err
	}
	if policy == nil {
		return nil, nil, services.ErrPolicyNotFound
	}
	res, err := s.evaluator.Evaluate(policy, req)
	if err != nil {
		return nil, nil, err
	}
	return policy, res, nil
}

func (s *Service) outcome(policy *models.Policy, res *evaluator.Result) *models.Outcome {
	out := &models.Outcome{
		DecisionID:    uuid.New(),
		PolicyID:      policy.ID,
		PolicyVersion: policy.Version,
		Effect:        res.Effect,
		Obligations:   res.Obligations,
		Trace:         res.Trace,
	}
	switch {
	case res.MatchedRule != nil:
		out.MatchedRuleID = res.MatchedRule.ID
		out.Reason = "matched rule " + res.MatchedRule.ID
	case res.UsedDefault:
		out.Reason = "no rule matched, default effect applied"
	}
	if res.PendingReason != "" {
		out.Reason = res.PendingReason
	}
	return out
}
