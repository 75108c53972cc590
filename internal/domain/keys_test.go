package domain

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyerMarketKey(t *testing.T) {
	multi := Keyer{MultiChain: true}
	single := Keyer{MultiChain: false}

	assert.Equal(t, "8453-7", multi.MarketKey(8453, big.NewInt(7)))
	assert.Equal(t, "7", single.MarketKey(8453, big.NewInt(7)))
}

func TestKeyerOutcomeAndBetKeys(t *testing.T) {
	k := Keyer{MultiChain: true}
	mk := k.MarketKey(8453, big.NewInt(7))

	assert.Equal(t, "8453-7-0", k.OutcomeKey(mk, 0))
	assert.Equal(t, "8453-7-0xaaa-0", k.BetKey(mk, "0xAAA", 0))
}

func TestKeyerSameMarketIDAcrossChains(t *testing.T) {
	k := Keyer{MultiChain: true}

	base := k.MarketKey(8453, big.NewInt(0))
	celo := k.MarketKey(42220, big.NewInt(0))
	require.NotEqual(t, base, celo)
}

// Distinct (chain, market, outcome, user) tuples must never map to the same
// bet key.
func TestKeyerInjective(t *testing.T) {
	k := Keyer{MultiChain: true}

	chains := []uint64{1, 8453, 42220}
	marketIDs := []int64{0, 1, 7, 12}
	users := []string{"0xaaa", "0xbbb"}
	outcomes := []int{0, 1, 2}

	seen := map[string]string{}
	for _, chain := range chains {
		for _, mid := range marketIDs {
			mk := k.MarketKey(chain, big.NewInt(mid))
			for _, user := range users {
				for _, out := range outcomes {
					key := k.BetKey(mk, user, out)
					tuple := fmt.Sprintf("%d/%d/%s/%d", chain, mid, user, out)
					if prev, ok := seen[key]; ok {
						t.Fatalf("key %q produced by both %s and %s", key, prev, tuple)
					}
					seen[key] = tuple
				}
			}
		}
	}
}

func TestResolutionEqual(t *testing.T) {
	base := Resolution{
		WinningOutcome:    0,
		PoolAfterFees:     big.NewInt(140),
		ProtocolFeeAmount: big.NewInt(5),
		CreatorFeeAmount:  big.NewInt(5),
	}

	same := base
	same.PoolAfterFees = big.NewInt(140)
	assert.True(t, base.Equal(same))

	diff := base
	diff.WinningOutcome = 1
	assert.False(t, base.Equal(diff))

	// nil and zero amounts compare equal
	zero := Resolution{PoolAfterFees: big.NewInt(0)}
	assert.True(t, zero.Equal(Resolution{}))
}
