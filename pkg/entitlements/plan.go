package entitlements

import (
	"time"

	"github.com/pharoshq/pharos/pkg/guarderr"
)

// WorkspacePlan is the resolved plan of a workspace with live usage
type WorkspacePlan struct {
	WorkspaceID      string             `json:"workspace_id"`
	Tier             Tier               `json:"tier"`
	Status           SubscriptionStatus `json:"status"`
	Limits           Limits             `json:"limits"`
	Features         map[Feature]bool   `json:"features"`
	Usage            Usage              `json:"usage"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	ResolvedAt       time.Time          `json:"resolved_at"`
}

// HasFeature reports whether f is enabled
func (p *WorkspacePlan) HasFeature(f Feature) bool {
	return p.Features[f]
}

// Remaining returns how many more of r may be created, never negative
func (p *WorkspacePlan) Remaining(r Resource) int64 {
	left := p.Limits.Get(r) - p.Usage.Get(r)
	if left < 0 {
		return 0
	}
	return left
}

// AtLimit reports whether creating one more r would exceed the limit
func (p *WorkspacePlan) AtLimit(r Resource) bool {
	return p.Usage.Get(r) >= p.Limits.Get(r)
}

// Denial reasons
const (
	ReasonFeatureLocked = "feature_locked"
	ReasonLimitReached  = "limit_reached"
)

// Denial explains why a plan does not allow an operation
type Denial struct {
	Reason   string   `json:"reason"`
	Tier     Tier     `json:"tier"`
	Feature  Feature  `json:"feature,omitempty"`
	Resource Resource `json:"resource,omitempty"`
	Limit    int64    `json:"limit,omitempty"`
	Used     int64    `json:"used,omitempty"`
}

// Check tests an optional feature and an optional resource limit, in that
// order. It returns nil when the operation is allowed.
func (p *WorkspacePlan) Check(feature Feature, resource Resource) *Denial {
	if feature != "" && !p.HasFeature(feature) {
		return &Denial{Reason: ReasonFeatureLocked, Tier: p.Tier, Feature: feature}
	}
	if resource != "" && p.AtLimit(resource) {
		return &Denial{
			Reason:   ReasonLimitReached,
			Tier:     p.Tier,
			Resource: resource,
			Limit:    p.Limits.Get(resource),
			Used:     p.Usage.Get(resource),
		}
	}
	return nil
}

// Err converts the denial into a 403 with locked details
func (d *Denial) Err() *guarderr.Error {
	details := map[string]interface{}{
		"locked": true,
		"reason": d.Reason,
		"tier":   string(d.Tier),
	}

	message := "Plan limit reached"
	if d.Reason == ReasonFeatureLocked {
		message = "Feature not available on current plan"
		details["feature"] = string(d.Feature)
	} else {
		details["resource"] = string(d.Resource)
		details["limit"] = d.Limit
		details["used"] = d.Used
	}
	return guarderr.ForbiddenWithDetails(message, details)
}
