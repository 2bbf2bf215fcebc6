// Package routing selects a concrete model target for rules whose effect
// requires routing: a hard constraint filter over target profiles followed
// by weighted scoring of the survivors.
package routing

import (
	"context"

	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/repositories"
	"github.com/arbiterhq/arbiter/services"
	"go.uber.org/zap"
)

// Selector resolves a pool's active targets against caller preferences.
type Selector struct {
	pools  repositories.PoolRepository
	logger *zap.Logger
}

// NewSelector creates a Selector backed by the given pool repository.
func NewSelector(pools repositories.PoolRepository, logger *zap.Logger) *Selector {
	return &Selector{pools: pools, logger: logger}
}

// Select filters and ranks the pool's active targets. An empty candidate
// list is a valid outcome and means no target satisfied the hard
// constraints; the caller decides how to surface that.
func (s *Selector) Select(ctx context.Context, poolID string, prefs *models.RoutingPreference) (*models.RoutingDecision, error) {
	pool, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, services.ErrPoolNotFound
	}

	if prefs == nil {
		prefs = &models.RoutingPreference{}
	}

	active := pool.ActiveTargets()
	eligible := make([]models.RouteTarget, 0, len(active))
	for _, t := range active {
		if t.PoolID == "" {
			t.PoolID = pool.ID
		}
		if Passes(&t.Profile, prefs) {
			eligible = append(eligible, t)
		}
	}

	decision := Rank(eligible, prefs)
	decision.PoolID = pool.ID

	s.logger.Debug("routing selection complete",
		zap.String("pool_id", pool.ID),
		zap.Int("active_targets", len(active)),
		zap.Int("eligible", len(eligible)),
	)
	return decision, nil
}
