package routing

import (
	"testing"

	"github.com/arbiterhq/arbiter/models"
	"github.com/stretchr/testify/assert"
)

func auOnsiteProfile() *models.ModelProfile {
	return &models.ModelProfile{
		Capabilities: []string{"json_mode", "function_calling", "streaming"},
		Compliance:   models.ComplianceProfile{DataResidency: "AU", Certifications: []string{"IRAP"}},
		Performance:  models.Performance{AvgLatencyMs: 400, P95LatencyMs: 900, Availability: 0.999},
		Cost:         models.Cost{Per1KTokens: 0.012, Currency: "AUD"},
		Limits:       models.Limits{ContextWindowTokens: 128000, MaxOutputTokens: 8192},
		Quality:      models.Quality{Strength: "advanced", Score: 78},
		Tags:         map[string]string{"deployment": "onsite"},
	}
}

func TestPasses(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.ModelProfile)
		prefs   models.RoutingPreference
		eligible bool
	}{
		{
			name:     "no constraints always passes",
			mutate:   func(p *models.ModelProfile) {},
			prefs:    models.RoutingPreference{},
			eligible: true,
		},
		{
			name:     "au_local satisfied by AU onsite deployment",
			mutate:   func(p *models.ModelProfile) {},
			prefs:    models.RoutingPreference{RequiredDataResidency: models.ResidencyAULocal},
			eligible: true,
		},
		{
			name:     "au_local rejects cloud deployment even in AU",
			mutate:   func(p *models.ModelProfile) { p.Tags["deployment"] = "cloud" },
			prefs:    models.RoutingPreference{RequiredDataResidency: models.ResidencyAULocal},
			eligible: false,
		},
		{
			name:     "au_local rejects offshore residency",
			mutate:   func(p *models.ModelProfile) { p.Compliance.DataResidency = "US" },
			prefs:    models.RoutingPreference{RequiredDataResidency: models.ResidencyAULocal},
			eligible: false,
		},
		{
			name:     "plain residency requires exact match",
			mutate:   func(p *models.ModelProfile) { p.Compliance.DataResidency = "EU" },
			prefs:    models.RoutingPreference{RequiredDataResidency: "AU"},
			eligible: false,
		},
		{
			name:     "context window below requirement fails",
			mutate:   func(p *models.ModelProfile) { p.Limits.ContextWindowTokens = 8000 },
			prefs:    models.RoutingPreference{RequiredContextWindowTokens: 32000},
			eligible: false,
		},
		{
			name:     "output tokens below requirement fails",
			mutate:   func(p *models.ModelProfile) { p.Limits.MaxOutputTokens = 1024 },
			prefs:    models.RoutingPreference{RequiredOutputTokens: 4096},
			eligible: false,
		},
		{
			name:     "json mode from capabilities list",
			mutate:   func(p *models.ModelProfile) {},
			prefs:    models.RoutingPreference{RequiresJSONMode: true},
			eligible: true,
		},
		{
			name:     "json mode from truthy tag",
			mutate:   func(p *models.ModelProfile) { p.Capabilities = nil; p.Tags["json"] = "yes" },
			prefs:    models.RoutingPreference{RequiresJSONMode: true},
			eligible: true,
		},
		{
			name:     "missing function calling fails",
			mutate:   func(p *models.ModelProfile) { p.Capabilities = []string{"streaming"} },
			prefs:    models.RoutingPreference{RequiresFunctions: true},
			eligible: false,
		},
		{
			name:     "vision satisfied by multimodal capability",
			mutate:   func(p *models.ModelProfile) { p.Capabilities = []string{"multimodal"} },
			prefs:    models.RoutingPreference{RequiresVision: true},
			eligible: true,
		},
		{
			name:     "cost over ceiling fails",
			mutate:   func(p *models.ModelProfile) { p.Cost.Per1KTokens = 0.5 },
			prefs:    models.RoutingPreference{MaxCostPer1KAUD: 0.05},
			eligible: false,
		},
		{
			name:     "quality below floor fails",
			mutate:   func(p *models.ModelProfile) { p.Quality.Score = 40 },
			prefs:    models.RoutingPreference{MinQualityScore: 60},
			eligible: false,
		},
		{
			name:     "missing quality score fails a floor check",
			mutate:   func(p *models.ModelProfile) { p.Quality.Score = 0 },
			prefs:    models.RoutingPreference{MinQualityScore: 1},
			eligible: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := auOnsiteProfile()
			tt.mutate(profile)
			assert.Equal(t, tt.eligible, Passes(profile, &tt.prefs))
		})
	}
}
