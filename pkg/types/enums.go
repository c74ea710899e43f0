package types

import "fmt"

// RiskTier classifies how much venue risk a user will tolerate.
type RiskTier string

const (
	TierFortress    RiskTier = "fortress"
	TierBalanced    RiskTier = "balanced"
	TierSpeculative RiskTier = "speculative"
)

// MaxRiskScore returns the venue risk-score ceiling for the tier.
// Venue risk scores run 0 (safest) to 10.
func (t RiskTier) MaxRiskScore() float64 {
	switch t {
	case TierFortress:
		return 3.0
	case TierBalanced:
		return 6.0
	case TierSpeculative:
		return 10.0
	default:
		return 0
	}
}

// ParseRiskTier parses a risk tier from its string form.
func ParseRiskTier(s string) (RiskTier, error) {
	switch RiskTier(s) {
	case TierFortress, TierBalanced, TierSpeculative:
		return RiskTier(s), nil
	default:
		return "", fmt.Errorf("unknown risk tier %q", s)
	}
}

// AutonomyLevel controls how much the engine may do without the user.
type AutonomyLevel string

const (
	// AutonomyNotifyOnly surfaces candidates but never executes.
	AutonomyNotifyOnly AutonomyLevel = "notify_only"
	// AutonomyApproveEach requires the user to sign every leg.
	AutonomyApproveEach AutonomyLevel = "approve_each"
	// AutonomyAutoBounded allows delegated execution per-move with a
	// fresh repair authorization each time.
	AutonomyAutoBounded AutonomyLevel = "auto_bounded"
	// AutonomyAutoSpend allows delegated execution against a standing
	// spend permission.
	AutonomyAutoSpend AutonomyLevel = "auto_spend"
)

// AllowsRelayer reports whether the level permits the relayer path at all.
func (a AutonomyLevel) AllowsRelayer() bool {
	return a == AutonomyAutoBounded || a == AutonomyAutoSpend
}

// ParseAutonomyLevel parses an autonomy level from its string form.
func ParseAutonomyLevel(s string) (AutonomyLevel, error) {
	switch AutonomyLevel(s) {
	case AutonomyNotifyOnly, AutonomyApproveEach, AutonomyAutoBounded, AutonomyAutoSpend:
		return AutonomyLevel(s), nil
	default:
		return "", fmt.Errorf("unknown autonomy level %q", s)
	}
}

// HealthStatus is the traffic-light state of a held position.
type HealthStatus string

const (
	HealthGreen HealthStatus = "green"
	HealthAmber HealthStatus = "amber"
	HealthRed   HealthStatus = "red"
)

// ParseHealthStatus parses a health status from its string form.
func ParseHealthStatus(s string) (HealthStatus, error) {
	switch HealthStatus(s) {
	case HealthGreen, HealthAmber, HealthRed:
		return HealthStatus(s), nil
	default:
		return "", fmt.Errorf("unknown health status %q", s)
	}
}
