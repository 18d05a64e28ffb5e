package entitlements

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a subscription plan tier
type Tier string

const (
	TierFree       Tier = "FREE"
	TierStarter    Tier = "STARTER"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// Valid reports whether t is in the catalog
func (t Tier) Valid() bool {
	_, ok := catalog[t]
	return ok
}

// ParseTier parses a tier name case-insensitively
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid tier %q", s)
	}
	return t, nil
}

// SubscriptionStatus mirrors the billing provider's subscription state
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
)

// Valid reports whether s is a known status
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusIncomplete:
		return true
	}
	return false
}

// Entitled reports whether the paid tier applies. past_due keeps the tier
// while the provider retries payment.
func (s SubscriptionStatus) Entitled() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// ParseStatus parses a subscription status
func ParseStatus(s string) (SubscriptionStatus, error) {
	st := SubscriptionStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("invalid subscription status %q", s)
	}
	return st, nil
}

// Feature is a named plan capability
type Feature string

const (
	FeatureCSVImport        Feature = "csv_import"
	FeaturePriceAlerts      Feature = "price_alerts"
	FeatureAutoRepricing    Feature = "auto_repricing"
	FeatureAPIAccess        Feature = "api_access"
	FeatureAuditLog         Feature = "audit_log"
	FeatureMarginGuardrails Feature = "margin_guardrails"
)

// AllFeatures lists every feature in display order
var AllFeatures = []Feature{
	FeatureCSVImport,
	FeaturePriceAlerts,
	FeatureAutoRepricing,
	FeatureAPIAccess,
	FeatureAuditLog,
	FeatureMarginGuardrails,
}

// Valid reports whether f is a known feature
func (f Feature) Valid() bool {
	for _, known := range AllFeatures {
		if f == known {
			return true
		}
	}
	return false
}

// Resource is a counted, limited resource
type Resource string

const (
	ResourceSeats       Resource = "seats"
	ResourceSKUs        Resource = "skus"
	ResourceCompetitors Resource = "competitors"
	ResourceImports     Resource = "imports"
)

// Valid reports whether r is a known resource
func (r Resource) Valid() bool {
	switch r {
	case ResourceSeats, ResourceSKUs, ResourceCompetitors, ResourceImports:
		return true
	}
	return false
}

// Limits caps each resource. Imports are per calendar month (UTC).
type Limits struct {
	Seats           int64 `json:"seats"`
	SKUs            int64 `json:"skus"`
	Competitors     int64 `json:"competitors"`
	ImportsPerMonth int64 `json:"imports_per_month"`
}

// Get returns the limit for r, or 0 for an unknown resource
func (l Limits) Get(r Resource) int64 {
	switch r {
	case ResourceSeats:
		return l.Seats
	case ResourceSKUs:
		return l.SKUs
	case ResourceCompetitors:
		return l.Competitors
	case ResourceImports:
		return l.ImportsPerMonth
	}
	return 0
}

// Usage is the live count of each resource
type Usage struct {
	Seats            int64 `json:"seats"`
	SKUs             int64 `json:"skus"`
	Competitors      int64 `json:"competitors"`
	ImportsThisMonth int64 `json:"imports_this_month"`
}

// Get returns the usage of r, or 0 for an unknown resource
func (u Usage) Get(r Resource) int64 {
	switch r {
	case ResourceSeats:
		return u.Seats
	case ResourceSKUs:
		return u.SKUs
	case ResourceCompetitors:
		return u.Competitors
	case ResourceImports:
		return u.ImportsThisMonth
	}
	return 0
}

// Subscription is the stored plan row of a workspace. Nil override fields
// fall back to the tier catalog.
type Subscription struct {
	WorkspaceID      string             `json:"workspace_id"`
	Tier             Tier               `json:"tier"`
	Status           SubscriptionStatus `json:"status"`
	SeatLimit        *int64             `json:"seat_limit,omitempty"`
	SKULimit         *int64             `json:"sku_limit,omitempty"`
	CompetitorLimit  *int64             `json:"competitor_limit,omitempty"`
	ImportLimit      *int64             `json:"import_limit,omitempty"`
	FeatureOverrides map[Feature]bool   `json:"feature_overrides,omitempty"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at"`
}
