package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func packGetMarketReturn(t *testing.T) []byte {
	t.Helper()
	out, err := vamosABI.Methods["getMarket"].Outputs.Pack(
		testCreator,          // creator
		testJudge,            // judge
		"Will it rain?",      // question
		big.NewInt(150),      // totalPool
		big.NewInt(140),      // poolAfterFees
		big.NewInt(5),        // protocolFeeAmount
		big.NewInt(5),        // creatorFeeAmount
		big.NewInt(0),        // winningOutcome
		false,                // noWinners
		true,                 // resolved
		false,                // paused
	)
	require.NoError(t, err)
	return out
}

func fastReader(backend Backend) *Reader {
	r := NewReader(backend, testContract, testLogger())
	r.attempts = 2
	r.baseBackoff = time.Millisecond
	r.maxBackoff = time.Millisecond
	return r
}

func TestReaderGetMarket(t *testing.T) {
	backend := &fakeBackend{callOut: packGetMarketReturn(t)}
	r := fastReader(backend)

	m, err := r.GetMarket(context.Background(), big.NewInt(7))
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(140), m.PoolAfterFees)
	assert.Equal(t, big.NewInt(5), m.ProtocolFeeAmount)
	assert.Equal(t, big.NewInt(5), m.CreatorFeeAmount)
	assert.False(t, m.NoWinners)
	assert.True(t, m.Resolved)
	assert.Zero(t, big.NewInt(0).Cmp(m.WinningOutcome))
	assert.Equal(t, 1, backend.calls)
}

func TestReaderRetriesThenFails(t *testing.T) {
	backend := &fakeBackend{callErr: errors.New("connection refused")}
	r := fastReader(backend)

	_, err := r.GetMarket(context.Background(), big.NewInt(7))
	require.Error(t, err)
	assert.Equal(t, 2, backend.calls, "one retry after the first failure")
}

func TestReaderBreakerOpensOnceAndAlerts(t *testing.T) {
	backend := &fakeBackend{callErr: errors.New("node down")}
	r := fastReader(backend)

	var alerts int
	r.OnBreakerOpen = func(error) { alerts++ }

	// Three failed call sequences trip the breaker.
	for i := 0; i < breakerThreshold; i++ {
		_, err := r.GetMarket(context.Background(), big.NewInt(7))
		require.Error(t, err)
	}
	assert.Equal(t, 1, alerts)

	// While open, calls fail fast without touching the backend.
	callsBefore := backend.calls
	_, err := r.GetMarket(context.Background(), big.NewInt(7))
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, callsBefore, backend.calls)
}

func TestReaderBreakerResetsOnSuccess(t *testing.T) {
	backend := &fakeBackend{callErr: errors.New("flaky")}
	r := fastReader(backend)

	_, err := r.GetMarket(context.Background(), big.NewInt(7))
	require.Error(t, err)

	backend.callErr = nil
	backend.callOut = packGetMarketReturn(t)

	_, err = r.GetMarket(context.Background(), big.NewInt(7))
	require.NoError(t, err)

	r.mu.Lock()
	failures := r.failures
	r.mu.Unlock()
	assert.Zero(t, failures)
}
