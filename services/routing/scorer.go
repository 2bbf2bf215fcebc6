package routing

import (
	"fmt"
	"sort"

	"github.com/arbiterhq/arbiter/models"
)

const (
	baselineScore    = 50.0
	latencyBonusMax  = 20.0
	costBonusMax     = 15.0
	qualityBonusMax  = 10.0
	strengthMetBonus = 5.0
)

// strengthRank orders the quality strength tiers, weakest first. Unknown
// tiers rank zero and never satisfy a strength preference.
var strengthRank = map[string]int{
	"basic":    1,
	"standard": 2,
	"advanced": 3,
	"frontier": 4,
}

// Rank scores every target against prefs and returns them as an ordered
// candidate list. The score of a target depends only on its own profile,
// prefs, and the population's cost spread, never on list position, so
// reordering the input cannot change the winner.
func Rank(targets []models.RouteTarget, prefs *models.RoutingPreference) *models.RoutingDecision {
	decision := &models.RoutingDecision{Candidates: make([]models.Candidate, 0, len(targets))}
	if len(targets) == 0 {
		return decision
	}

	minCost, maxCost := costSpread(targets)

	for _, t := range targets {
		score := baselineScore
		reasons := []string{}

		if b, reason := latencyBonus(&t.Profile, prefs); reason != "" {
			score += b
			reasons = append(reasons, reason)
		}
		if b, reason := costBonus(&t.Profile, prefs, minCost, maxCost); reason != "" {
			score += b
			reasons = append(reasons, reason)
		}
		if b, reason := qualityBonus(&t.Profile, prefs); reason != "" {
			score += b
			reasons = append(reasons, reason)
		}

		decision.Candidates = append(decision.Candidates, models.Candidate{
			TargetID: t.ID,
			PoolID:   t.PoolID,
			Provider: t.Provider,
			Endpoint: t.Endpoint,
			Score:    score,
			Reasons:  reasons,
		})
	}

	costOf := make(map[string]float64, len(targets))
	for _, t := range targets {
		costOf[t.ID] = t.Profile.Cost.Per1KTokens
	}
	sort.SliceStable(decision.Candidates, func(i, j int) bool {
		a, b := decision.Candidates[i], decision.Candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if costOf[a.TargetID] != costOf[b.TargetID] {
			return costOf[a.TargetID] < costOf[b.TargetID]
		}
		return a.TargetID < b.TargetID
	})

	decision.Candidates[0].Selected = true
	return decision
}

// latencyBonus scales with how far p95 latency sits under the caller's
// budget; targets over budget are penalized by the same scale, capped at
// the bonus ceiling.
func latencyBonus(p *models.ModelProfile, prefs *models.RoutingPreference) (float64, string) {
	if prefs.LatencyBudgetMs <= 0 {
		return 0, ""
	}
	budget := float64(prefs.LatencyBudgetMs)
	p95 := float64(p.Performance.P95LatencyMs)
	bonus := latencyBonusMax * (budget - p95) / budget
	if bonus > latencyBonusMax {
		bonus = latencyBonusMax
	}
	if bonus < -latencyBonusMax {
		bonus = -latencyBonusMax
	}
	if bonus >= 0 {
		return bonus, fmt.Sprintf("p95 latency %dms within %dms budget", p.Performance.P95LatencyMs, prefs.LatencyBudgetMs)
	}
	return bonus, fmt.Sprintf("p95 latency %dms exceeds %dms budget", p.Performance.P95LatencyMs, prefs.LatencyBudgetMs)
}

// costBonus rewards cheap targets: against the caller's ceiling when one is
// set, otherwise against the population's cost spread.
func costBonus(p *models.ModelProfile, prefs *models.RoutingPreference, minCost, maxCost float64) (float64, string) {
	cost := p.Cost.Per1KTokens
	if prefs.MaxCostPer1KAUD > 0 {
		bonus := costBonusMax * (prefs.MaxCostPer1KAUD - cost) / prefs.MaxCostPer1KAUD
		if bonus < 0 {
			bonus = 0
		}
		if bonus > costBonusMax {
			bonus = costBonusMax
		}
		return bonus, fmt.Sprintf("cost %.4f/1k under %.4f ceiling", cost, prefs.MaxCostPer1KAUD)
	}
	if maxCost <= minCost {
		return 0, ""
	}
	bonus := costBonusMax * (maxCost - cost) / (maxCost - minCost)
	return bonus, fmt.Sprintf("cost %.4f/1k within pool range", cost)
}

// qualityBonus rewards margin above the quality floor and meeting or
// exceeding the requested strength tier.
func qualityBonus(p *models.ModelProfile, prefs *models.RoutingPreference) (float64, string) {
	var bonus float64
	reason := ""

	if p.Quality.Score > 0 {
		margin := p.Quality.Score
		if prefs.MinQualityScore > 0 {
			margin = p.Quality.Score - prefs.MinQualityScore
		}
		b := margin / 10.0
		if b > qualityBonusMax {
			b = qualityBonusMax
		}
		if b > 0 {
			bonus += b
			reason = fmt.Sprintf("quality score %.1f", p.Quality.Score)
		}
	}

	if prefs.ModelStrength != "" {
		want := strengthRank[prefs.ModelStrength]
		have := strengthRank[p.Quality.Strength]
		if want > 0 && have >= want {
			bonus += strengthMetBonus
			if have > want {
				bonus += strengthMetBonus / 2
			}
			if reason != "" {
				reason += ", "
			}
			reason += fmt.Sprintf("strength %s meets %s", p.Quality.Strength, prefs.ModelStrength)
		}
	}

	return bonus, reason
}

func costSpread(targets []models.RouteTarget) (min, max float64) {
	min, max = targets[0].Profile.Cost.Per1KTokens, targets[0].Profile.Cost.Per1KTokens
	for _, t := range targets[1:] {
		c := t.Profile.Cost.Per1KTokens
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	return min, max
}
