// Package policy holds the user's declared risk/return policy, the single
// source of truth for every repair decision. Policies are versioned: reads
// return the version they saw, and execution-time checks re-read rather
// than trusting a value captured at proposal time.
package policy

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perennialfi/autopilot/pkg/types"
)

// ErrNotFound is returned when a user has no stored policy.
var ErrNotFound = errors.New("policy not found")

// Policy is a user's declared target and bounds. Percentage fields are
// percentage points (5.0 == 5%).
type Policy struct {
	User                common.Address
	TargetAPY           float64
	MaxDrawdown         float64
	RiskTier            types.RiskTier
	Autonomy            types.AutonomyLevel
	SpendLimitPerWindow float64 // USD ceiling per permission window
}

// Versioned pairs a policy with its monotonically increasing version.
type Versioned struct {
	Policy
	Version int64
}

// Validate checks the policy's fields. Exactly these rules gate an Update;
// a policy that fails validation is never stored.
func Validate(p Policy) error {
	if p.User == (common.Address{}) {
		return fmt.Errorf("user address cannot be zero")
	}
	if p.TargetAPY < 0 || p.TargetAPY > 100 {
		return fmt.Errorf("target APY %v out of range [0, 100]", p.TargetAPY)
	}
	if p.MaxDrawdown <= 0 || p.MaxDrawdown > 100 {
		return fmt.Errorf("max drawdown %v out of range (0, 100]", p.MaxDrawdown)
	}
	if _, err := types.ParseRiskTier(string(p.RiskTier)); err != nil {
		return err
	}
	if _, err := types.ParseAutonomyLevel(string(p.Autonomy)); err != nil {
		return err
	}
	if p.SpendLimitPerWindow < 0 {
		return fmt.Errorf("spend limit cannot be negative, got %v", p.SpendLimitPerWindow)
	}

	return nil
}

// AllowsVenue reports whether a venue's risk profile fits within the
// policy's tier and drawdown bounds.
func (p Policy) AllowsVenue(riskScore, maxDrawdown float64) bool {
	return riskScore <= p.RiskTier.MaxRiskScore() && maxDrawdown <= p.MaxDrawdown
}
