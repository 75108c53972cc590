package worker

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamos-labs/vamos-indexer/internal/chain"
	"github.com/vamos-labs/vamos-indexer/internal/crypto"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeBackend struct {
	mu     sync.Mutex
	height uint64
	logs   []types.Log
	sent   []*types.Transaction
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Header{
		Number:  new(big.Int).SetUint64(f.height),
		BaseFee: big.NewInt(1_000_000_000),
	}, nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 120_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func resolvedLog(block uint64, tx string, logIndex uint, marketID int64) types.Log {
	return types.Log{
		Address: testContract,
		Topics: []common.Hash{
			chain.MarketResolvedTopic(),
			common.BigToHash(big.NewInt(marketID)),
			common.BigToHash(big.NewInt(0)), // winning outcome
		},
		BlockNumber: block,
		TxHash:      common.HexToHash(tx),
		Index:       logIndex,
	}
}

func newTestResolver(t *testing.T, backend *fakeBackend) *Resolver {
	t.Helper()
	signer, err := crypto.NewSigner(testKeyHex, 8453)
	require.NoError(t, err)

	return NewResolver(backend, signer, ResolverConfig{
		ChainID:  8453,
		Contract: testContract,
		DedupTTL: time.Minute,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolverSubmitsDistributeForNewResolution(t *testing.T) {
	backend := &fakeBackend{height: 100}
	r := newTestResolver(t, backend)
	ctx := context.Background()

	// First pass only anchors the cursor at the tip.
	require.NoError(t, r.processOnce(ctx))
	assert.Empty(t, backend.sent)

	backend.logs = append(backend.logs, resolvedLog(105, "0xr1", 3, 7))
	backend.height = 110
	require.NoError(t, r.processOnce(ctx))

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, testContract, *tx.To())

	// Calldata carries distribute(7).
	expected, err := chain.ABI().Pack("distribute", big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, expected, tx.Data())
	assert.Equal(t, uint64(120_000), tx.Gas())
}

func TestResolverDedupesRescannedLog(t *testing.T) {
	backend := &fakeBackend{height: 100}
	r := newTestResolver(t, backend)
	ctx := context.Background()

	require.NoError(t, r.processOnce(ctx))

	backend.logs = append(backend.logs, resolvedLog(105, "0xr1", 3, 7))
	backend.height = 110
	require.NoError(t, r.processOnce(ctx))
	require.Len(t, backend.sent, 1)

	// Force a rescan of the same range; the dedup window absorbs the log.
	r.lastBlock = 100
	require.NoError(t, r.processOnce(ctx))
	assert.Len(t, backend.sent, 1)
}

func TestResolverIgnoresRemovedAndForeignLogs(t *testing.T) {
	backend := &fakeBackend{height: 100}
	r := newTestResolver(t, backend)
	ctx := context.Background()

	require.NoError(t, r.processOnce(ctx))

	removed := resolvedLog(105, "0xr1", 3, 7)
	removed.Removed = true
	short := resolvedLog(106, "0xr2", 0, 8)
	short.Topics = short.Topics[:1] // no indexed market id

	backend.logs = append(backend.logs, removed, short)
	backend.height = 110
	require.NoError(t, r.processOnce(ctx))
	assert.Empty(t, backend.sent)
}

func TestDedupExpiresAfterTTL(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)
	lg := resolvedLog(105, "0xr1", 3, 7)

	assert.False(t, d.IsDuplicate(lg))
	assert.True(t, d.IsDuplicate(lg))

	time.Sleep(15 * time.Millisecond)
	assert.False(t, d.IsDuplicate(lg))
}
