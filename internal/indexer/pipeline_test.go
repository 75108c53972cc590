package indexer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamos-labs/vamos-indexer/internal/chain"
	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

var topicPlaced = crypto.Keccak256Hash([]byte("PredictionPlaced(uint256,address,uint256,uint256)"))

// placedRaw builds a scanned PredictionPlaced log. marketId and user are
// indexed; outcomeId and amount are two static words in the data section.
func placedRaw(marketID int64, user common.Address, outcome, amount int64, block uint64, tx string, idx uint) chain.RawLog {
	data := append(
		common.BigToHash(big.NewInt(outcome)).Bytes(),
		common.BigToHash(big.NewInt(amount)).Bytes()...,
	)
	return chain.RawLog{
		Log: types.Log{
			Topics: []common.Hash{
				topicPlaced,
				common.BigToHash(big.NewInt(marketID)),
				common.BytesToHash(common.LeftPadBytes(user.Bytes(), 32)),
			},
			Data:        data,
			BlockNumber: block,
			TxHash:      common.HexToHash(tx),
			Index:       idx,
		},
		BlockTime: baseTime.Add(time.Duration(block) * 2 * time.Second),
	}
}

func newTestPipeline(f *fixture) *Pipeline {
	return NewPipeline(nil, chain.NewDecoder(8453), f.mat, nil,
		domain.Keyer{MultiChain: true}, time.Millisecond, testLogger())
}

func TestPipelineHaltsFaultedMarketOnly(t *testing.T) {
	f := newFixture(t)
	p := newTestPipeline(f)
	ctx := context.Background()
	user := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	// Market 8 exists; market 7 was never created.
	require.NoError(t, f.mat.Apply(ctx, created(8453, 8, "0xaa", "Yes", "No")))

	// A stake on the unmaterialized market 7 is a causal fault: absorbed,
	// alerted, and the market halted.
	require.NoError(t, p.process(ctx, placedRaw(7, user, 0, 100, 11, "0xb1", 0)))
	assert.Contains(t, p.halted, "8453-7")
	assert.Contains(t, f.alerts.events, "market_fault")

	// Halting is sticky: even once market 7 exists, its events stay out until
	// an operator intervenes.
	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xcc", "Yes", "No")))
	require.NoError(t, p.process(ctx, placedRaw(7, user, 0, 100, 12, "0xb2", 0)))
	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Zero(t, market.TotalPool.Sign(), "halted market receives no events")

	// Market 8 keeps flowing.
	require.NoError(t, p.process(ctx, placedRaw(8, user, 1, 250, 12, "0xb3", 1)))
	market, err = f.stores.Markets().GetByID(ctx, "8453-8")
	require.NoError(t, err)
	assert.Equal(t, "250", market.TotalPool.String())
}

func TestPipelineSkipsUndecodableLogs(t *testing.T) {
	f := newFixture(t)
	p := newTestPipeline(f)
	ctx := context.Background()
	user := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))

	// Unknown topic0: dropped, nothing halted.
	junk := chain.RawLog{
		Log: types.Log{
			Topics:      []common.Hash{common.HexToHash("0x1234")},
			BlockNumber: 11,
			TxHash:      common.HexToHash("0xb0"),
		},
		BlockTime: baseTime,
	}
	require.NoError(t, p.process(ctx, junk))
	assert.Empty(t, p.halted)

	// Truncated data on a known topic is also a decode fault, not a halt.
	bad := placedRaw(7, user, 0, 100, 11, "0xb1", 0)
	bad.Log.Data = bad.Log.Data[:8]
	require.NoError(t, p.process(ctx, bad))
	assert.Empty(t, p.halted)

	// The next valid log still applies.
	require.NoError(t, p.process(ctx, placedRaw(7, user, 0, 100, 12, "0xb2", 0)))
	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Equal(t, "100", market.TotalPool.String())
}
