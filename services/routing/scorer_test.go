package routing

import (
	"testing"

	"github.com/arbiterhq/arbiter/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func target(id string, p95 int, cost float64, quality float64) models.RouteTarget {
	return models.RouteTarget{
		ID:       id,
		PoolID:   "pool-au",
		Provider: "provider-" + id,
		Endpoint: "https://" + id + ".example.com",
		IsActive: true,
		Profile: models.ModelProfile{
			Performance: models.Performance{P95LatencyMs: p95},
			Cost:        models.Cost{Per1KTokens: cost, Currency: "AUD"},
			Quality:     models.Quality{Score: quality},
		},
	}
}

func TestRank_EmptyInput(t *testing.T) {
	d := Rank(nil, &models.RoutingPreference{})
	assert.Empty(t, d.Candidates)
	assert.Nil(t, d.Selected())
}

func TestRank_MarksExactlyOneSelected(t *testing.T) {
	d := Rank([]models.RouteTarget{
		target("t-fast", 300, 0.02, 70),
		target("t-slow", 2500, 0.01, 70),
	}, &models.RoutingPreference{LatencyBudgetMs: 1000})

	require.Len(t, d.Candidates, 2)
	selected := 0
	for _, c := range d.Candidates {
		if c.Selected {
			selected++
		}
	}
	assert.Equal(t, 1, selected)
	assert.Equal(t, "t-fast", d.Candidates[0].TargetID)
	assert.True(t, d.Candidates[0].Selected)
	assert.Greater(t, d.Candidates[0].Score, d.Candidates[1].Score)
}

func TestRank_LatencyUnderBudgetBeatsOverBudget(t *testing.T) {
	d := Rank([]models.RouteTarget{
		target("t-over", 1500, 0.02, 0),
		target("t-under", 500, 0.02, 0),
	}, &models.RoutingPreference{LatencyBudgetMs: 1000})

	require.NotNil(t, d.Selected())
	assert.Equal(t, "t-under", d.Selected().TargetID)
	assert.NotEmpty(t, d.Candidates[0].Reasons)
}

func TestRank_CheaperWinsWithoutCeiling(t *testing.T) {
	// No latency budget, no quality: population cost spread decides.
	d := Rank([]models.RouteTarget{
		target("t-dear", 0, 0.08, 0),
		target("t-cheap", 0, 0.01, 0),
	}, &models.RoutingPreference{})

	require.NotNil(t, d.Selected())
	assert.Equal(t, "t-cheap", d.Selected().TargetID)
}

func TestRank_TieBreaksByCostThenID(t *testing.T) {
	// Identical profiles score identically; lower cost wins, then id.
	a := target("t-b", 100, 0.02, 0)
	b := target("t-a", 100, 0.02, 0)
	d := Rank([]models.RouteTarget{a, b}, &models.RoutingPreference{})
	assert.Equal(t, "t-a", d.Candidates[0].TargetID)

	c := target("t-cheap", 100, 0.01, 0)
	d = Rank([]models.RouteTarget{a, c}, &models.RoutingPreference{})
	assert.Equal(t, "t-cheap", d.Selected().TargetID)
}

func TestRank_StrengthTierBonus(t *testing.T) {
	strong := target("t-strong", 0, 0.02, 0)
	strong.Profile.Quality.Strength = "frontier"
	weak := target("t-weak", 0, 0.02, 0)
	weak.Profile.Quality.Strength = "basic"

	d := Rank([]models.RouteTarget{weak, strong}, &models.RoutingPreference{ModelStrength: "advanced"})
	require.NotNil(t, d.Selected())
	assert.Equal(t, "t-strong", d.Selected().TargetID)
}

func TestRank_InputOrderDoesNotChangeOutcome(t *testing.T) {
	targets := []models.RouteTarget{
		target("t-1", 800, 0.03, 65),
		target("t-2", 400, 0.05, 80),
		target("t-3", 1200, 0.01, 55),
	}
	prefs := &models.RoutingPreference{LatencyBudgetMs: 1000, MinQualityScore: 50}

	forward := Rank(targets, prefs)
	reversed := Rank([]models.RouteTarget{targets[2], targets[1], targets[0]}, prefs)

	require.NotNil(t, forward.Selected())
	require.NotNil(t, reversed.Selected())
	assert.Equal(t, forward.Selected().TargetID, reversed.Selected().TargetID)
	assert.Equal(t, forward.Selected().Score, reversed.Selected().Score)
	for i := range forward.Candidates {
		assert.Equal(t, forward.Candidates[i].TargetID, reversed.Candidates[i].TargetID)
		assert.Equal(t, forward.Candidates[i].Score, reversed.Candidates[i].Score)
	}
}
