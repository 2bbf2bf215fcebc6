package models

// ResidencyAULocal is the strictest residency requirement: data must stay in
// Australia on local/onsite/onprem infrastructure.
const ResidencyAULocal = "AU_LOCAL"

// RoutingPreference is the caller-supplied criteria for selecting a route
// target. Zero values mean "no constraint".
type RoutingPreference struct {
	RequiredDataResidency       string  `json:"required_data_residency,omitempty"`
	RequiredContextWindowTokens int     `json:"required_context_window_tokens,omitempty" validate:"gte=0"`
	RequiredOutputTokens        int     `json:"required_output_tokens,omitempty" validate:"gte=0"`
	RequiresJSONMode            bool    `json:"requires_json_mode,omitempty"`
	RequiresFunctions           bool    `json:"requires_functions,omitempty"`
	RequiresStreaming           bool    `json:"requires_streaming,omitempty"`
	RequiresVision              bool    `json:"requires_vision,omitempty"`
	LatencyBudgetMs             int     `json:"latency_budget_ms,omitempty" validate:"gte=0"`
	MaxCostPer1KAUD             float64 `json:"max_cost_per_1k_aud,omitempty" validate:"gte=0"`
	MinQualityScore             float64 `json:"min_quality_score,omitempty" validate:"gte=0"`
	ModelStrength               string  `json:"model_strength,omitempty"`
}

// Candidate is a route target annotated with its score and the reasons the
// scorer assigned it.
type Candidate struct {
	TargetID string   `json:"target_id"`
	PoolID   string   `json:"pool_id"`
	Provider string   `json:"provider"`
	Endpoint string   `json:"endpoint"`
	Score    float64  `json:"score"`
	Reasons  []string `json:"reasons"`
	Selected bool     `json:"selected"`
}

// RoutingDecision is the ranked outcome of candidate selection. An empty
// candidate list means no target survived the hard constraints and the
// caller must treat the request as having no eligible route.
type RoutingDecision struct {
	PoolID     string      `json:"pool_id"`
	Candidates []Candidate `json:"candidates"`
}

// Selected returns the winning candidate, or nil when none was eligible.
func (d *RoutingDecision) Selected() *Candidate {
	for i := range d.Candidates {
		if d.Candidates[i].Selected {
			return &d.Candidates[i]
		}
	}
	return nil
}
