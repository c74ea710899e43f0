package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a user's holding at a yield venue. Positions are created when
// a deposit is observed and refreshed from the data feed; the engine mutates
// them only through confirmed execution outcomes.
type Position struct {
	ID           string
	ChainID      int64
	Venue        common.Address
	Asset        string  // Asset class symbol, e.g. "USDC"
	Principal    float64 // USD at entry
	CurrentValue float64 // USD
	CurrentAPY   float64 // Percentage points, 5.0 == 5%
	Health       HealthStatus
	ObservedAt   time.Time
}

// VenueSnapshot is a point-in-time view of a yield venue from the data feed.
// Snapshots are never cached past the staleness window.
type VenueSnapshot struct {
	ChainID     int64
	Venue       common.Address
	Asset       string
	APY         float64 // Percentage points
	TVL         float64 // USD
	RiskScore   float64 // 0 (safest) .. 10
	MaxDrawdown float64 // Percentage points, historical max drawdown
	GasUSD      float64 // Estimated cost of a deposit into this venue
	ObservedAt  time.Time
}

// Stale reports whether the snapshot is older than the given window.
func (v VenueSnapshot) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(v.ObservedAt) > window
}

// TxRef identifies a submitted transaction.
type TxRef struct {
	ChainID int64
	Hash    common.Hash
}

func (r TxRef) String() string {
	return r.Hash.Hex()
}
