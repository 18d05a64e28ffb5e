package entitlements

// Definition is the catalog entry for a tier
type Definition struct {
	Limits   Limits
	Features []Feature
}

var catalog = map[Tier]Definition{
	TierFree: {
		Limits:   Limits{Seats: 1, SKUs: 50, Competitors: 3, ImportsPerMonth: 2},
		Features: []Feature{FeatureCSVImport},
	},
	TierStarter: {
		Limits:   Limits{Seats: 3, SKUs: 500, Competitors: 10, ImportsPerMonth: 10},
		Features: []Feature{FeatureCSVImport, FeaturePriceAlerts},
	},
	TierPro: {
		Limits: Limits{Seats: 10, SKUs: 5000, Competitors: 50, ImportsPerMonth: 100},
		Features: []Feature{
			FeatureCSVImport,
			FeaturePriceAlerts,
			FeatureAutoRepricing,
			FeatureAPIAccess,
			FeatureAuditLog,
		},
	},
	TierEnterprise: {
		Limits:   Limits{Seats: 100, SKUs: 100000, Competitors: 500, ImportsPerMonth: 1000},
		Features: AllFeatures,
	},
}

// Lookup returns the catalog entry for t and whether it exists
func Lookup(t Tier) (Definition, bool) {
	def, ok := catalog[t]
	return def, ok
}

// Derive computes the effective limits and features of sub. A nil sub is a
// workspace that never subscribed and gets FREE. Non-entitled statuses fall
// back to FREE and ignore overrides.
func Derive(sub *Subscription) (Tier, Limits, map[Feature]bool) {
	if sub == nil || !sub.Status.Entitled() || !sub.Tier.Valid() {
		def := catalog[TierFree]
		return TierFree, def.Limits, featureSet(def.Features, nil)
	}

	def := catalog[sub.Tier]
	limits := def.Limits
	override(&limits.Seats, sub.SeatLimit)
	override(&limits.SKUs, sub.SKULimit)
	override(&limits.Competitors, sub.CompetitorLimit)
	override(&limits.ImportsPerMonth, sub.ImportLimit)

	return sub.Tier, limits, featureSet(def.Features, sub.FeatureOverrides)
}

func override(dst *int64, v *int64) {
	if v != nil && *v >= 0 {
		*dst = *v
	}
}

func featureSet(enabled []Feature, overrides map[Feature]bool) map[Feature]bool {
	set := make(map[Feature]bool, len(AllFeatures))
	for _, f := range AllFeatures {
		set[f] = false
	}
	for _, f := range enabled {
		set[f] = true
	}
	for f, on := range overrides {
		if f.Valid() {
			set[f] = on
		}
	}
	return set
}
