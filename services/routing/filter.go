package routing

import "github.com/arbiterhq/arbiter/models"

// Passes applies the hard constraints in prefs to a target profile. All
// checks are AND-combined; any failure disqualifies the target outright,
// independent of how well it would have scored.
func Passes(profile *models.ModelProfile, prefs *models.RoutingPreference) bool {
	caps := profile.ResolveCapabilities()

	if prefs.RequiredDataResidency != "" {
		if prefs.RequiredDataResidency == models.ResidencyAULocal {
			if profile.Compliance.DataResidency != "AU" || !caps.LocalDeployment() {
				return false
			}
		} else if profile.Compliance.DataResidency != prefs.RequiredDataResidency {
			return false
		}
	}

	if prefs.RequiredContextWindowTokens > 0 &&
		profile.Limits.ContextWindowTokens < prefs.RequiredContextWindowTokens {
		return false
	}
	if prefs.RequiredOutputTokens > 0 &&
		profile.Limits.MaxOutputTokens < prefs.RequiredOutputTokens {
		return false
	}

	if prefs.RequiresJSONMode && !caps.JSONMode {
		return false
	}
	if prefs.RequiresFunctions && !caps.Functions {
		return false
	}
	if prefs.RequiresStreaming && !caps.Streaming {
		return false
	}
	if prefs.RequiresVision && !caps.Vision {
		return false
	}

	if prefs.MaxCostPer1KAUD > 0 && profile.Cost.Per1KTokens > prefs.MaxCostPer1KAUD {
		return false
	}

	// A floor check against an unknown score fails closed.
	if prefs.MinQualityScore > 0 && profile.Quality.Score < prefs.MinQualityScore {
		return false
	}

	return true
}
