package routing

import (
	"context"
	"testing"

	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockPoolRepository is a mock implementation of PoolRepository
type MockPoolRepository struct {
	mock.Mock
}

func (m *MockPoolRepository) GetByID(ctx context.Context, id string) (*models.ModelPool, error) {
	args := m.Called(ctx, id)
	if pool := args.Get(0); pool != nil {
		return pool.(*models.ModelPool), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPoolRepository) List(ctx context.Context) ([]*models.ModelPool, error) {
	args := m.Called(ctx)
	if pools := args.Get(0); pools != nil {
		return pools.([]*models.ModelPool), args.Error(1)
	}
	return nil, args.Error(1)
}

func sovereignPool() *models.ModelPool {
	return &models.ModelPool{
		ID:     "pool-au",
		Region: "ap-southeast-2",
		Health: models.PoolHealthy,
		Targets: []models.RouteTarget{
			{
				ID:       "t-cloud",
				PoolID:   "pool-au",
				Provider: "shared-cloud",
				Endpoint: "https://cloud.example.com",
				IsActive: true,
				Profile: models.ModelProfile{
					Capabilities: []string{"json_mode"},
					Compliance:   models.ComplianceProfile{DataResidency: "AU"},
					Cost:         models.Cost{Per1KTokens: 0.01, Currency: "AUD"},
					Tags:         map[string]string{"deployment": "cloud"},
				},
			},
			{
				ID:       "t-onsite",
				PoolID:   "pool-au",
				Provider: "sovereign-dc",
				Endpoint: "https://onsite.example.com",
				IsActive: true,
				Profile: models.ModelProfile{
					Capabilities: []string{"json_mode", "streaming"},
					Compliance:   models.ComplianceProfile{DataResidency: "AU"},
					Cost:         models.Cost{Per1KTokens: 0.03, Currency: "AUD"},
					Tags:         map[string]string{"deployment": "onsite"},
				},
			},
		},
	}
}

func TestSelect_AULocalExcludesCloudTarget(t *testing.T) {
	repo := new(MockPoolRepository)
	repo.On("GetByID", mock.Anything, "pool-au").Return(sovereignPool(), nil)

	sel := NewSelector(repo, zap.NewNop())
	decision, err := sel.Select(context.Background(), "pool-au", &models.RoutingPreference{
		RequiredDataResidency: models.ResidencyAULocal,
		RequiresJSONMode:      true,
	})
	require.NoError(t, err)

	require.Len(t, decision.Candidates, 1)
	assert.Equal(t, "t-onsite", decision.Candidates[0].TargetID)
	assert.True(t, decision.Candidates[0].Selected)
	assert.Equal(t, "pool-au", decision.PoolID)
	repo.AssertExpectations(t)
}

func TestSelect_NoEligibleTargets(t *testing.T) {
	repo := new(MockPoolRepository)
	repo.On("GetByID", mock.Anything, "pool-au").Return(sovereignPool(), nil)

	sel := NewSelector(repo, zap.NewNop())
	decision, err := sel.Select(context.Background(), "pool-au", &models.RoutingPreference{
		RequiredContextWindowTokens: 1000000,
	})
	require.NoError(t, err)
	assert.Empty(t, decision.Candidates)
	assert.Nil(t, decision.Selected())
}

func TestSelect_SkipsInactiveTargets(t *testing.T) {
	pool := sovereignPool()
	pool.Targets[1].IsActive = false

	repo := new(MockPoolRepository)
	repo.On("GetByID", mock.Anything, "pool-au").Return(pool, nil)

	sel := NewSelector(repo, zap.NewNop())
	decision, err := sel.Select(context.Background(), "pool-au", nil)
	require.NoError(t, err)
	require.Len(t, decision.Candidates, 1)
	assert.Equal(t, "t-cloud", decision.Candidates[0].TargetID)
}

func TestSelect_PoolNotFound(t *testing.T) {
	repo := new(MockPoolRepository)
	repo.On("GetByID", mock.Anything, "pool-missing").Return(nil, services.ErrPoolNotFound)

	sel := NewSelector(repo, zap.NewNop())
	_, err := sel.Select(context.Background(), "pool-missing", nil)
	assert.ErrorIs(t, err, services.ErrPoolNotFound)
}
