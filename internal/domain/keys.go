package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// Keyer derives the composite string keys under which markets, outcomes, and
// bets are materialized. With MultiChain set, the chain id is baked into every
// key so the same on-chain market id on two chains can never collide into one
// row. Single-chain deployments keep the bare on-chain id, matching the
// original single-network schema.
//
// Key layout (documented because bet keys double as a natural index for
// per-market and per-market-per-user scans):
//
//	market:  "{chainId}-{marketId}"            (or "{marketId}")
//	outcome: "{marketKey}-{outcomeIndex}"
//	bet:     "{marketKey}-{user}-{outcomeIndex}"
type Keyer struct {
	MultiChain bool
}

// MarketKey returns the composite key for a market.
func (k Keyer) MarketKey(chainID uint64, marketID *big.Int) string {
	if k.MultiChain {
		return fmt.Sprintf("%d-%s", chainID, marketID.String())
	}
	return marketID.String()
}

// OutcomeKey returns the composite key for one outcome of a market.
func (k Keyer) OutcomeKey(marketKey string, outcomeIndex int) string {
	return fmt.Sprintf("%s-%d", marketKey, outcomeIndex)
}

// BetKey returns the composite key for one user's cumulative bet on one
// outcome. The user address is lowercased so key equality does not depend on
// checksum casing.
func (k Keyer) BetKey(marketKey, user string, outcomeIndex int) string {
	return fmt.Sprintf("%s-%s-%d", marketKey, strings.ToLower(user), outcomeIndex)
}
