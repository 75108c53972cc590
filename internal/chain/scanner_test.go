package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// fakeBackend serves a canned chain of headers and logs.
type fakeBackend struct {
	headers map[uint64]*types.Header
	logs    []types.Log
	callOut []byte
	callErr error
	calls   int
}

func (f *fakeBackend) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	if number == nil {
		var latest *types.Header
		for _, h := range f.headers {
			if latest == nil || h.Number.Uint64() > latest.Number.Uint64() {
				latest = h
			}
		}
		return latest, nil
	}
	h, ok := f.headers[number.Uint64()]
	if !ok {
		return nil, fmt.Errorf("no header %d", number.Uint64())
	}
	return h, nil
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.callOut, nil
}

// memCheckpoints is an in-memory domain.CheckpointStore.
type memCheckpoints struct {
	cps map[uint64]domain.Checkpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{cps: map[uint64]domain.Checkpoint{}}
}

func (m *memCheckpoints) Get(_ context.Context, chainID uint64) (domain.Checkpoint, bool, error) {
	cp, ok := m.cps[chainID]
	return cp, ok, nil
}

func (m *memCheckpoints) Upsert(_ context.Context, cp domain.Checkpoint) error {
	m.cps[cp.ChainID] = cp
	return nil
}

// buildChain creates numbered headers where each block links to its parent.
func buildChain(n uint64) map[uint64]*types.Header {
	headers := map[uint64]*types.Header{}
	parent := common.Hash{}
	for i := uint64(0); i <= n; i++ {
		h := &types.Header{
			Number:     new(big.Int).SetUint64(i),
			ParentHash: parent,
			Time:       1_700_000_000 + i*2,
		}
		headers[i] = h
		parent = h.Hash()
	}
	return headers
}

func TestScannerAdvancesCursorInEmissionOrder(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{headers: buildChain(20)}
	backend.logs = []types.Log{
		{Address: testContract, Topics: []common.Hash{topicMarketPaused, common.BigToHash(big.NewInt(1))}, BlockNumber: 6, Index: 2},
		{Address: testContract, Topics: []common.Hash{topicMarketPaused, common.BigToHash(big.NewInt(2))}, BlockNumber: 6, Index: 0},
		{Address: testContract, Topics: []common.Hash{topicMarketPaused, common.BigToHash(big.NewInt(3))}, BlockNumber: 4, Index: 1},
	}

	cps := newMemCheckpoints()
	s := NewScanner(backend, cps, ScannerConfig{
		ChainID:       8453,
		Contract:      testContract,
		StartBlock:    3,
		Confirmations: 2,
		BatchSize:     50,
	}, testLogger())

	raw, err := s.ProcessNext(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 3)

	// Block order first, then log index within a block.
	assert.Equal(t, uint64(4), raw[0].Log.BlockNumber)
	assert.Equal(t, uint(0), raw[1].Log.Index)
	assert.Equal(t, uint(2), raw[2].Log.Index)

	// Timestamps come from the containing block header.
	assert.Equal(t, int64(1_700_000_000+4*2), raw[0].BlockTime.Unix())

	// Cursor advanced to the safe height (20 - 2 confirmations).
	cp, ok, err := cps.Get(ctx, 8453)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(18), cp.Height)
	assert.Equal(t, backend.headers[18].Hash().Hex(), cp.BlockHash)

	// A second pass with no new safe blocks yields nothing.
	raw, err = s.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestScannerDetectsReorg(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{headers: buildChain(20)}
	cps := newMemCheckpoints()

	// Cursor claims block 10 had a hash that does not match block 11's parent.
	require.NoError(t, cps.Upsert(ctx, domain.Checkpoint{
		ChainID:   8453,
		Height:    10,
		BlockHash: common.HexToHash("0xdead").Hex(),
	}))

	s := NewScanner(backend, cps, ScannerConfig{
		ChainID:  8453,
		Contract: testContract,
	}, testLogger())

	// Retry until the scanner converges, recording every rewound height. A
	// single mismatched cursor must cost exactly one rewind, not a cascade
	// back to genesis.
	var rewinds []uint64
	for i := 0; i < 15; i++ {
		_, err := s.ProcessNext(ctx)
		if errors.Is(err, ErrReorgDetected) {
			cp, _, _ := cps.Get(ctx, 8453)
			rewinds = append(rewinds, cp.Height)
			continue
		}
		require.NoError(t, err)
		break
	}
	assert.Equal(t, []uint64{9}, rewinds, "one rewind, anchored on the canonical header")

	cp, ok, err := cps.Get(ctx, 8453)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(20), cp.Height, "scan resumed past the rewound block")
	assert.Equal(t, backend.headers[20].Hash().Hex(), cp.BlockHash)
}

func TestScannerResumeClampsToStartBlock(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{headers: buildChain(20)}
	backend.logs = []types.Log{
		{Address: testContract, Topics: []common.Hash{topicMarketPaused, common.BigToHash(big.NewInt(1))}, BlockNumber: 5, Index: 0},
		{Address: testContract, Topics: []common.Hash{topicMarketPaused, common.BigToHash(big.NewInt(2))}, BlockNumber: 16, Index: 0},
	}

	// A stale cursor far below the configured start must not drag the scan
	// back through pre-deployment blocks.
	cps := newMemCheckpoints()
	require.NoError(t, cps.Upsert(ctx, domain.Checkpoint{
		ChainID:   8453,
		Height:    2,
		BlockHash: backend.headers[2].Hash().Hex(),
	}))

	s := NewScanner(backend, cps, ScannerConfig{
		ChainID:    8453,
		Contract:   testContract,
		StartBlock: 15,
	}, testLogger())

	raw, err := s.ProcessNext(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, uint64(16), raw[0].Log.BlockNumber)

	cp, _, err := cps.Get(ctx, 8453)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cp.Height)
}
