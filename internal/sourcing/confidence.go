package sourcing

// ConfidenceTier grades how complete a supplier's contact details are.
type ConfidenceTier string

// Confidence tiers.
const (
	TierHigh   ConfidenceTier = "HIGH"
	TierMedium ConfidenceTier = "MEDIUM"
	TierLow    ConfidenceTier = "LOW"
)

// Tier is HIGH when email, phone, address and website are all known, MEDIUM
// when at least a phone is known, LOW otherwise.
func Tier(c ContactRecord) ConfidenceTier {
	switch {
	case c.Complete():
		return TierHigh
	case c.HasPhone():
		return TierMedium
	default:
		return TierLow
	}
}
