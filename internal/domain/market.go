// Package domain defines the core entities of the Vamos indexer (markets,
// outcomes, bets), the typed chain events that mutate them, and the store and
// cache interfaces implemented by the infrastructure packages.
package domain

import (
	"math/big"
	"time"
)

// MarketStatus represents the lifecycle state of a market. Transitions are
// one-directional: open -> paused -> resolved, where pause is optional.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusPaused   MarketStatus = "paused"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is one prediction question with N mutually exclusive outcomes and a
// pooled stake. It is created exactly once per MarketCreated event and never
// deleted. All amount fields are token base units (uint256 on chain).
type Market struct {
	ID          string // composite key, see Keyer
	ChainID     uint64
	MarketID    string // on-chain market id, decimal string
	Creator     string
	Judge       string // address authorized to pause and resolve
	Question    string
	NumOutcomes int
	TotalPool   *big.Int
	Status      MarketStatus
	// WinningOutcome is nil until the market resolves.
	WinningOutcome *int
	CreatedAt      time.Time

	// Resolution fields. Zero until status becomes resolved; written exactly
	// once, from the authoritative getMarket contract read.
	PoolAfterFees     *big.Int
	ProtocolFeeAmount *big.Int
	CreatorFeeAmount  *big.Int
	NoWinners         bool

	UpdatedAt time.Time
}

// Outcome is one of a market's selectable answers with its aggregated stake.
// Outcome rows are created in a batch at market creation with dense zero-based
// indexes; only TotalAmount changes afterwards.
type Outcome struct {
	ID          string // composite key, see Keyer
	MarketID    string // parent market composite key
	ChainID     uint64
	Index       int
	Description string
	TotalAmount *big.Int
}

// Bet is one user's cumulative stake on one outcome of one market. A single
// row aggregates every PredictionPlaced event for the same
// (market, user, outcome) triple; it is not a per-transaction log.
type Bet struct {
	ID           string // composite key, see Keyer
	MarketID     string // parent market composite key
	ChainID      uint64
	User         string // lowercase hex address
	OutcomeIndex int
	Amount       *big.Int
	LastUpdated  time.Time
}

// Resolution carries the fields finalized when a market resolves. The fee
// breakdown and the no-winners flag are computed inside the contract and are
// only available through the getMarket read, not the event payload.
type Resolution struct {
	WinningOutcome    int
	PoolAfterFees     *big.Int
	ProtocolFeeAmount *big.Int
	CreatorFeeAmount  *big.Int
	NoWinners         bool
}

// Equal reports whether two resolutions carry identical values. Used to
// distinguish an idempotent redelivery from a conflicting re-resolution.
func (r Resolution) Equal(other Resolution) bool {
	return r.WinningOutcome == other.WinningOutcome &&
		r.NoWinners == other.NoWinners &&
		bigEqual(r.PoolAfterFees, other.PoolAfterFees) &&
		bigEqual(r.ProtocolFeeAmount, other.ProtocolFeeAmount) &&
		bigEqual(r.CreatorFeeAmount, other.CreatorFeeAmount)
}

func bigEqual(a, b *big.Int) bool {
	if a == nil {
		a = big.NewInt(0)
	}
	if b == nil {
		b = big.NewInt(0)
	}
	return a.Cmp(b) == 0
}
