package models

import "strings"

// PoolHealth is the aggregate health of a model pool.
type PoolHealth string

const (
	PoolHealthy   PoolHealth = "healthy"
	PoolDegraded  PoolHealth = "degraded"
	PoolUnhealthy PoolHealth = "unhealthy"
)

// ModelPool groups route targets that can serve a routed request.
type ModelPool struct {
	ID      string        `json:"pool_id" yaml:"pool_id" validate:"required"`
	Region  string        `json:"region" yaml:"region"`
	Health  PoolHealth    `json:"health" yaml:"health"`
	Targets []RouteTarget `json:"targets" yaml:"targets" validate:"dive"`
}

// ActiveTargets returns the targets eligible for selection.
func (p *ModelPool) ActiveTargets() []RouteTarget {
	out := make([]RouteTarget, 0, len(p.Targets))
	for _, t := range p.Targets {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out
}

// RouteTarget is a concrete model deployment inside a pool.
type RouteTarget struct {
	ID       string       `json:"id" yaml:"id" validate:"required"`
	PoolID   string       `json:"pool_id" yaml:"pool_id"`
	Provider string       `json:"provider" yaml:"provider"`
	Endpoint string       `json:"endpoint" yaml:"endpoint"`
	Weight   int          `json:"weight" yaml:"weight"`
	IsActive bool         `json:"is_active" yaml:"is_active"`
	Profile  ModelProfile `json:"profile" yaml:"profile"`
}

// ModelProfile describes a target's capabilities, compliance posture,
// performance, cost and limits.
type ModelProfile struct {
	Capabilities []string          `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Compliance   ComplianceProfile `json:"compliance" yaml:"compliance"`
	Performance  Performance       `json:"performance" yaml:"performance"`
	Cost         Cost              `json:"cost" yaml:"cost"`
	Limits       Limits            `json:"limits" yaml:"limits"`
	Quality      Quality           `json:"quality" yaml:"quality"`
	Tags         map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// ComplianceProfile captures where and under which certifications a target
// may process data.
type ComplianceProfile struct {
	DataResidency  string   `json:"data_residency" yaml:"data_residency"`
	Certifications []string `json:"certifications,omitempty" yaml:"certifications,omitempty"`
}

// Performance holds observed latency and availability figures.
type Performance struct {
	AvgLatencyMs int     `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	P95LatencyMs int     `json:"p95_latency_ms" yaml:"p95_latency_ms"`
	Availability float64 `json:"availability" yaml:"availability"`
}

// Cost holds per-token pricing.
type Cost struct {
	Per1KTokens float64 `json:"per_1k_tokens" yaml:"per_1k_tokens"`
	Currency    string  `json:"currency" yaml:"currency"`
}

// Limits holds token window constraints.
type Limits struct {
	ContextWindowTokens int `json:"context_window_tokens" yaml:"context_window_tokens"`
	MaxOutputTokens     int `json:"max_output_tokens" yaml:"max_output_tokens"`
}

// Quality holds the target's strength tier and benchmark score.
// Score <= 0 means no score is known.
type Quality struct {
	Strength string  `json:"strength" yaml:"strength"`
	Score    float64 `json:"score" yaml:"score"`
}

// CapabilitySet is the ModelProfile's free-form capability strings and tags
// resolved into typed flags, so the constraint filter and scorer operate on
// typed data rather than probing strings at evaluation time.
type CapabilitySet struct {
	Deployment string // cloud, local, onsite, onprem; empty when untagged
	JSONMode   bool
	Functions  bool
	Streaming  bool
	Vision     bool
}

// LocalDeployment reports whether the target runs on local/onsite/onprem
// infrastructure (as opposed to shared cloud).
func (c CapabilitySet) LocalDeployment() bool {
	switch c.Deployment {
	case "local", "onsite", "onprem":
		return true
	}
	return false
}

// ResolveCapabilities folds capabilities[] and tags into a CapabilitySet.
// Capability matching is case-insensitive substring; tags satisfy a flag when
// present with a truthy value.
func (p *ModelProfile) ResolveCapabilities() CapabilitySet {
	set := CapabilitySet{
		Deployment: strings.ToLower(p.Tags["deployment"]),
		JSONMode:   p.hasCapability("json"),
		Functions:  p.hasCapability("function"),
		Streaming:  p.hasCapability("streaming"),
		Vision:     p.hasCapability("vision") || p.hasCapability("multimodal"),
	}
	return set
}

func (p *ModelProfile) hasCapability(name string) bool {
	for _, c := range p.Capabilities {
		if strings.Contains(strings.ToLower(c), name) {
			return true
		}
	}
	return truthy(p.Tags[name])
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "true", "yes", "1", "on", "enabled":
		return true
	}
	return false
}
