package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// OnchainMarket is the result of the contract's getMarket accessor. The fee
// breakdown and noWinners flag only exist here; they are computed inside the
// contract at resolution time and never emitted in an event.
type OnchainMarket struct {
	Creator           string
	Judge             string
	Question          string
	TotalPool         *big.Int
	PoolAfterFees     *big.Int
	ProtocolFeeAmount *big.Int
	CreatorFeeAmount  *big.Int
	WinningOutcome    *big.Int
	NoWinners         bool
	Resolved          bool
	Paused            bool
}

const (
	defaultReadAttempts    = 5
	defaultReadBaseBackoff = 500 * time.Millisecond
	defaultReadMaxBackoff  = 8 * time.Second
	breakerThreshold       = 3 // consecutive failed call sequences before opening
	breakerCooldown        = 30 * time.Second
)

// Reader performs getMarket reads with bounded retry and a circuit breaker.
// A single GetMarket call retries with exponential backoff; when whole call
// sequences keep failing the breaker opens, OnBreakerOpen fires once, and
// further calls fail fast with domain.ErrCircuitOpen until the cooldown
// passes. Callers that must not proceed without the data (the resolution
// handler) keep retrying at their own cadence.
type Reader struct {
	backend  Backend
	contract common.Address
	logger   *slog.Logger

	// OnBreakerOpen, when set, is invoked once each time the breaker trips.
	OnBreakerOpen func(chainErr error)

	attempts    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu          sync.Mutex
	failures    int
	openedAt    time.Time
	alertedOpen bool
}

// NewReader creates a Reader for the Vamos contract at the given address.
func NewReader(backend Backend, contract common.Address, logger *slog.Logger) *Reader {
	return &Reader{
		backend:     backend,
		contract:    contract,
		logger:      logger.With(slog.String("component", "contract_reader")),
		attempts:    defaultReadAttempts,
		baseBackoff: defaultReadBaseBackoff,
		maxBackoff:  defaultReadMaxBackoff,
	}
}

// GetMarket fetches the on-chain market record. It retries transient RPC
// failures with exponential backoff before giving up for this call.
func (r *Reader) GetMarket(ctx context.Context, marketID *big.Int) (OnchainMarket, error) {
	if err := r.checkBreaker(); err != nil {
		return OnchainMarket{}, err
	}

	data, err := vamosABI.Pack("getMarket", marketID)
	if err != nil {
		return OnchainMarket{}, fmt.Errorf("chain: pack getMarket(%s): %w", marketID, err)
	}
	call := ethereum.CallMsg{To: &r.contract, Data: data}

	var lastErr error
	backoff := r.baseBackoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := r.backend.CallContract(ctx, call, nil)
		if err == nil {
			m, decErr := unpackOnchainMarket(out)
			if decErr != nil {
				return OnchainMarket{}, decErr
			}
			r.recordSuccess()
			return m, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return OnchainMarket{}, ctx.Err()
		}

		r.logger.WarnContext(ctx, "getMarket call failed, backing off",
			slog.String("market_id", marketID.String()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return OnchainMarket{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}

	r.recordFailure(lastErr)
	return OnchainMarket{}, fmt.Errorf("chain: getMarket(%s) after %d attempts: %w",
		marketID, r.attempts, lastErr)
}

// checkBreaker fails fast while the breaker is open and inside the cooldown.
func (r *Reader) checkBreaker() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failures < breakerThreshold {
		return nil
	}
	if time.Since(r.openedAt) >= breakerCooldown {
		// Half-open: allow one call sequence through.
		return nil
	}
	return domain.ErrCircuitOpen
}

func (r *Reader) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
	r.alertedOpen = false
}

func (r *Reader) recordFailure(cause error) {
	r.mu.Lock()
	r.failures++
	tripped := r.failures == breakerThreshold && !r.alertedOpen
	if tripped {
		r.openedAt = time.Now()
		r.alertedOpen = true
	}
	onOpen := r.OnBreakerOpen
	r.mu.Unlock()

	if tripped {
		r.logger.Error("rpc circuit breaker opened",
			slog.String("contract", r.contract.Hex()),
			slog.String("error", cause.Error()),
		)
		if onOpen != nil {
			onOpen(cause)
		}
	}
}

// unpackOnchainMarket decodes the flat getMarket return values.
func unpackOnchainMarket(data []byte) (OnchainMarket, error) {
	vals, err := vamosABI.Unpack("getMarket", data)
	if err != nil {
		return OnchainMarket{}, fmt.Errorf("chain: unpack getMarket return: %w", err)
	}
	if len(vals) != 11 {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket returned %d values, want 11", len(vals))
	}

	m := OnchainMarket{}
	var ok bool

	creator, ok := vals[0].(common.Address)
	if !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket creator has type %T", vals[0])
	}
	judge, ok := vals[1].(common.Address)
	if !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket judge has type %T", vals[1])
	}
	m.Creator = creator.Hex()
	m.Judge = judge.Hex()

	if m.Question, ok = vals[2].(string); !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket question has type %T", vals[2])
	}
	if m.TotalPool, ok = vals[3].(*big.Int); !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket totalPool has type %T", vals[3])
	}
	if m.PoolAfterFees, ok = vals[4].(*big.Int); !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket poolAfterFees has type %T", vals[4])
	}
	if m.ProtocolFeeAmount, ok = vals[5].(*big.Int); !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket protocolFeeAmount has type %T", vals[5])
	}
	if m.CreatorFeeAmount, ok = vals[6].(*big.Int); !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket creatorFeeAmount has type %T", vals[6])
	}
	if m.WinningOutcome, ok = vals[7].(*big.Int); !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket winningOutcome has type %T", vals[7])
	}
	if m.NoWinners, ok = vals[8].(bool); !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket noWinners has type %T", vals[8])
	}
	if m.Resolved, ok = vals[9].(bool); !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket resolved has type %T", vals[9])
	}
	if m.Paused, ok = vals[10].(bool); !ok {
		return OnchainMarket{}, fmt.Errorf("chain: getMarket paused has type %T", vals[10])
	}

	return m, nil
}
