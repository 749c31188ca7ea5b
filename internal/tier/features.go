package tier

import "github.com/ignite/lifecycle-engine/internal/domain"

// Tier-1-only features, removed when the customer leaves tier 1.
var premiumOnly = []string{domain.FeaturePrioritySupport, domain.FeatureDedicatedManager}

// applyFeatures updates feature flags for old → new and reports whether
// the premium welcome is due. The welcome flag is set here so it is
// persisted together with the tier and sent at most once. Without a sender
// the flag stays unset and the welcome waits for a later entry to tier 1.
func applyFeatures(c *domain.Customer, oldTier, newTier int, canWelcome bool) bool {
	c.SetFeature(domain.FeaturePremiumContent, newTier <= domain.TierEngaged)

	if newTier == domain.TierPremium {
		for _, f := range premiumOnly {
			c.SetFeature(f, true)
		}
		if canWelcome && !c.HasFeature(domain.FeaturePremiumWelcomeSent) {
			c.SetFeature(domain.FeaturePremiumWelcomeSent, true)
			return true
		}
		return false
	}

	if oldTier == domain.TierPremium {
		for _, f := range premiumOnly {
			c.SetFeature(f, false)
		}
	}
	return false
}
