// Package valuation computes impermanent loss and position values for a
// 50/50 liquidity pool against a hold-both-assets baseline. Everything here
// is pure math with no side effects.
//
// Percent convention: all percentage inputs and outputs are percentage
// points (50 means 50%, an APY of 5.0 means 5%). Conversion to fractions
// happens exactly once, inside this package.
package valuation

import (
	"fmt"
	"math"
)

// ImpermanentLoss returns the fractional loss of a 50/50 pool position
// relative to holding both assets, for the given price ratio between the
// two assets. The result is <= 0 for all valid ratios, with equality only
// at priceRatio == 1.
//
// Non-positive ratios are degenerate input and return 0; callers must treat
// them as invalid, not as a no-loss claim.
func ImpermanentLoss(priceRatio float64) float64 {
	if priceRatio <= 0 {
		return 0
	}

	return 2*math.Sqrt(priceRatio)/(1+priceRatio) - 1
}

// Result holds the outcome of a position valuation. Monetary fields are in
// the same currency as the investment input; percent fields are percentage
// points.
type Result struct {
	ILPercent         float64 // Impermanent loss, negative or zero
	HodlValue         float64 // Value of holding both assets unpooled
	LPValueBeforeFees float64 // Pool value before yield
	LPValueAfterFees  float64 // Pool value plus accrued yield
	YieldEarned       float64 // Linear daily-accrued venue yield
	NetGainVsHodl     float64 // LPValueAfterFees - HodlValue
	BreakEvenDays     int     // Days of yield needed to offset the loss; -1 if never
}

// PositionValue values a 50/50 pool position under a price-change scenario.
// priceChangeA and priceChangeB are percentage-point moves of each asset
// (+50 means the asset gained 50%); venueAPY is the venue's annual yield in
// percentage points; holdDays is the holding period.
func PositionValue(investment, priceChangeA, priceChangeB, venueAPY float64, holdDays int) (Result, error) {
	if investment <= 0 {
		return Result{}, fmt.Errorf("investment must be positive, got %v", investment)
	}
	if holdDays < 0 {
		return Result{}, fmt.Errorf("hold days cannot be negative, got %d", holdDays)
	}

	ratioA := 1 + priceChangeA/100
	ratioB := 1 + priceChangeB/100
	if ratioA <= 0 || ratioB <= 0 {
		return Result{}, fmt.Errorf("price change of -100%% or worse is not valuable: a=%v b=%v", priceChangeA, priceChangeB)
	}

	hodlValue := investment * (ratioA + ratioB) / 2

	il := ImpermanentLoss(ratioA / ratioB)
	lpBefore := hodlValue * (1 + il)

	yieldEarned := investment * (venueAPY / 100) / 365 * float64(holdDays)
	lpAfter := lpBefore + yieldEarned

	return Result{
		ILPercent:         il * 100,
		HodlValue:         hodlValue,
		LPValueBeforeFees: lpBefore,
		LPValueAfterFees:  lpAfter,
		YieldEarned:       yieldEarned,
		NetGainVsHodl:     lpAfter - hodlValue,
		BreakEvenDays:     breakEvenDays(hodlValue-lpBefore, investment, venueAPY),
	}, nil
}

// breakEvenDays returns the day count at which linear daily yield offsets
// the given loss. Returns 0 when there is no loss and -1 when the venue
// pays no yield.
func breakEvenDays(loss, investment, venueAPY float64) int {
	if loss <= 0 {
		return 0
	}

	dailyYield := investment * (venueAPY / 100) / 365
	if dailyYield <= 0 {
		return -1
	}

	return int(math.Ceil(loss / dailyYield))
}

// CalmarRatio returns annualized return divided by max drawdown, both in
// percentage points. A non-positive drawdown yields 0; callers that want a
// drawdown floor apply it before calling.
func CalmarRatio(apy, maxDrawdown float64) float64 {
	if maxDrawdown <= 0 {
		return 0
	}

	return apy / maxDrawdown
}
