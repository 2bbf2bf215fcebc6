// Package override implements the approval gate for decisions that matched
// a REQUIRE_OVERRIDE rule: a keyed state machine from PENDING to exactly one
// of APPROVED, REJECTED or EXPIRED, with every transition written to the
// audit ledger before it commits.
package override

import (
	"context"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/observability"
	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/services"
	"github.com/arbiterhq/arbiter/services/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// entry is one arena slot: the override plus the policy identity needed to
// stamp transition audit events.
type entry struct {
	override      models.Override
	policyID      string
	policyVersion int
}

// Gate holds pending overrides in an indexed arena. All transitions go
// through the mutex, so concurrent submissions on the same decision resolve
// to a single winner; later callers see the override as no longer pending.
type Gate struct {
	mu      sync.Mutex
	arena   []entry
	index   map[uuid.UUID]int
	ledger  *ledger.Service
	metrics *observability.Metrics
	logger  *zap.Logger
	ttl     time.Duration
}

// NewGate creates a Gate whose pending overrides expire after ttl.
func NewGate(led *ledger.Service, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Gate {
	return &Gate{
		index:   make(map[uuid.UUID]int),
		ledger:  led,
		metrics: metrics,
		logger:  logger,
		ttl:     ttl,
	}
}

// Register opens a pending override for a decision that matched the given
// rule. The rule must permit overrides.
func (g *Gate) Register(ctx context.Context, decisionID uuid.UUID, orgID string, policyID string, policyVersion int, rule *models.Rule) (*models.Override, error) {
	if rule == nil || !rule.Overrides.Allowed {
		return nil, services.ErrOverrideNotPermitted
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if i, ok := g.index[decisionID]; ok {
		ov := g.arena[i].override
		return &ov, nil
	}

	now := time.Now().UTC()
	ov := models.Override{
		DecisionID:           decisionID,
		OrgID:                orgID,
		RuleID:               rule.ID,
		Roles:                rule.Overrides.Roles,
		RequireJustification: rule.Overrides.RequireJustification,
		State:                models.OverridePending,
		CreatedAt:            now,
		ExpiresAt:            now.Add(g.ttl),
	}
	g.index[decisionID] = len(g.arena)
	g.arena = append(g.arena, entry{override: ov, policyID: policyID, policyVersion: policyVersion})

	g.logger.Info("override registered",
		zap.String("decision_id", decisionID.String()),
		zap.String("rule_id", rule.ID),
	)
	return &ov, nil
}

// Get returns the current state of an override.
func (g *Gate) Get(ctx context.Context, decisionID uuid.UUID) (*models.Override, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, ok := g.index[decisionID]
	if !ok {
		return nil, services.ErrOverrideNotFound
	}
	ov := g.arena[i].override
	return &ov, nil
}

// Submit resolves a pending override. The actor's role must be allowed by
// the rule, and a justification is mandatory when the rule demands one. The
// first submission wins; anything after that fails with a not-pending error.
// The transition only commits once its audit event is durably appended.
func (g *Gate) Submit(ctx context.Context, decisionID uuid.UUID, actor, role, justification string, approve bool) (*models.Override, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, ok := g.index[decisionID]
	if !ok {
		return nil, services.ErrOverrideNotFound
	}
	e := g.arena[i]

	if e.override.State != models.OverridePending {
		return nil, services.ErrOverrideNotPending
	}

	now := time.Now().UTC()
	if now.After(e.override.ExpiresAt) {
		if err := g.transitionLocked(ctx, i, models.OverrideExpired, "", "", "override expired before resolution"); err != nil {
			return nil, err
		}
		return nil, services.ErrOverrideNotPending
	}

	if !roleAllowed(e.override.Roles, role) {
		return nil, services.ErrRoleNotAllowed
	}
	if e.override.RequireJustification && justification == "" {
		return nil, services.ErrJustificationRequired
	}

	state := models.OverrideRejected
	reason := "override rejected"
	if approve {
		state = models.OverrideApproved
		reason = "override approved"
	}
	if justification != "" {
		reason = reason + ": " + justification
	}

	if err := g.transitionLocked(ctx, i, state, actor, role, reason); err != nil {
		return nil, err
	}

	e = g.arena[i]
	e.override.ResolvedBy = actor
	e.override.ResolvedRole = role
	e.override.Justification = justification
	g.arena[i] = e

	ov := e.override
	return &ov, nil
}

// ExpireStale moves every pending override past its deadline to EXPIRED and
// returns how many were expired. Intended for a periodic sweep.
func (g *Gate) ExpireStale(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UTC()
	expired := 0
	for i := range g.arena {
		if g.arena[i].override.State != models.OverridePending {
			continue
		}
		if now.Before(g.arena[i].override.ExpiresAt) {
			continue
		}
		if err := g.transitionLocked(ctx, i, models.OverrideExpired, "", "", "override expired before resolution"); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// transitionLocked appends the audit event for a state change and, only on
// success, commits the new state. Caller holds the mutex.
func (g *Gate) transitionLocked(ctx context.Context, i int, state models.OverrideState, actor, role, reason string) error {
	e := g.arena[i]

	kind := models.AuditEventOverrideExpired
	effect := models.EffectBlock
	switch state {
	case models.OverrideApproved:
		kind = models.AuditEventOverrideApproved
		effect = models.EffectAllow
	case models.OverrideRejected:
		kind = models.AuditEventOverrideRejected
	}

	_, err := g.ledger.Append(ctx, &models.AuditRecord{
		Kind:          kind,
		OrgID:         e.override.OrgID,
		ActorID:       actor,
		PolicyID:      e.policyID,
		PolicyVersion: e.policyVersion,
		MatchedRule:   e.override.RuleID,
		Effect:        effect,
		Reason:        reason,
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	e.override.State = state
	e.override.ResolvedAt = &now
	g.arena[i] = e

	g.metrics.RecordOverride(string(state))
	g.logger.Info("override resolved",
		zap.String("decision_id", e.override.DecisionID.String()),
		zap.String("state", string(state)),
		zap.String("resolved_by", actor),
	)
	return nil
}

func roleAllowed(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
