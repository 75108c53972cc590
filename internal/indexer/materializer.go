// Package indexer materializes decoded chain events into relational state and
// drives the per-chain scan pipelines, the raw-log archive, and replay.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/vamos-labs/vamos-indexer/internal/chain"
	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// Pub/Sub channels fed by the materializer and consumed by the WebSocket hub.
const (
	ChannelMarkets     = "markets"
	ChannelBets        = "bets"
	ChannelResolutions = "resolutions"
)

const (
	// resolveLockTTL bounds how long a resolution critical section may hold
	// its per-market lock before Redis expires it.
	resolveLockTTL = 2 * time.Minute
	// defaultResolveRetryWait is the pause between contract-read attempts
	// when the reader keeps failing or its breaker is open.
	defaultResolveRetryWait = 5 * time.Second
)

// MarketUpdate is the JSON payload published on ChannelMarkets and
// ChannelResolutions.
type MarketUpdate struct {
	Type           string `json:"type"` // created | paused | resolved
	MarketID       string `json:"market_id"`
	ChainID        uint64 `json:"chain_id"`
	Status         string `json:"status"`
	WinningOutcome *int   `json:"winning_outcome,omitempty"`
}

// BetUpdate is the JSON payload published on ChannelBets.
type BetUpdate struct {
	BetID        string `json:"bet_id"`
	MarketID     string `json:"market_id"`
	ChainID      uint64 `json:"chain_id"`
	User         string `json:"user"`
	OutcomeIndex int    `json:"outcome_index"`
	Amount       string `json:"amount"`
}

// MarketReader fetches the authoritative on-chain market record. Implemented
// by chain.Reader; tests substitute a fake.
type MarketReader interface {
	GetMarket(ctx context.Context, marketID *big.Int) (chain.OnchainMarket, error)
}

// Alerter raises operational alerts. Implemented by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Materializer applies decoded events to the stores. One instance serves one
// chain; the reader is bound to that chain's contract. Every handler runs in
// a single transaction together with an applied-events ledger insert, so a
// redelivered log is recognized and skipped instead of applied twice.
type Materializer struct {
	stores  domain.Stores
	keyer   domain.Keyer
	reader  MarketReader
	locks   domain.LockManager
	cache   domain.MarketCache
	bus     domain.SignalBus
	alerter Alerter
	logger  *slog.Logger

	resolveRetryWait time.Duration
}

// NewMaterializer wires a materializer for one chain. Cache, bus, and alerter
// may be nil; the corresponding side effects are then skipped.
func NewMaterializer(
	stores domain.Stores,
	keyer domain.Keyer,
	reader MarketReader,
	locks domain.LockManager,
	cache domain.MarketCache,
	bus domain.SignalBus,
	alerter Alerter,
	logger *slog.Logger,
) *Materializer {
	return &Materializer{
		stores:           stores,
		keyer:            keyer,
		reader:           reader,
		locks:            locks,
		cache:            cache,
		bus:              bus,
		alerter:          alerter,
		logger:           logger.With(slog.String("component", "materializer")),
		resolveRetryWait: defaultResolveRetryWait,
	}
}

// Apply materializes one event. Events for the same market must be applied in
// the chain's emission order; the per-chain pipeline guarantees that by
// applying sequentially.
func (m *Materializer) Apply(ctx context.Context, ev domain.Event) error {
	switch e := ev.(type) {
	case *domain.MarketCreated:
		return m.applyCreated(ctx, e)
	case *domain.PredictionPlaced:
		return m.applyPrediction(ctx, e)
	case *domain.MarketPaused:
		return m.applyPaused(ctx, e)
	case *domain.MarketResolved:
		return m.applyResolved(ctx, e)
	default:
		return fmt.Errorf("indexer: unhandled event type %T", ev)
	}
}

// IsMarketFault reports whether the error halts processing for the affected
// market: a causal-order violation, a duplicate creation, or a resolution
// value conflict. Other errors are transient and retried in place.
func IsMarketFault(err error) bool {
	return errors.Is(err, domain.ErrUnknownMarket) ||
		errors.Is(err, domain.ErrUnknownOutcome) ||
		errors.Is(err, domain.ErrAlreadyExists) ||
		errors.Is(err, domain.ErrResolutionConflict)
}

func (m *Materializer) applyCreated(ctx context.Context, e *domain.MarketCreated) error {
	marketKey := m.keyer.MarketKey(e.Ref.ChainID, e.MarketID)

	err := m.stores.InTx(ctx, func(s domain.Stores) error {
		fresh, err := s.AppliedEvents().Record(ctx, e.Ref)
		if err != nil {
			return err
		}
		if !fresh {
			m.logger.DebugContext(ctx, "skipping redelivered event", slog.String("ref", e.Ref.String()))
			return nil
		}

		market := domain.Market{
			ID:          marketKey,
			ChainID:     e.Ref.ChainID,
			MarketID:    e.MarketID.String(),
			Creator:     e.Creator,
			Judge:       e.Judge,
			Question:    e.Question,
			NumOutcomes: len(e.Outcomes),
			TotalPool:   big.NewInt(0),
			Status:      domain.MarketStatusOpen,
			CreatedAt:   e.BlockTime,
		}
		if err := s.Markets().Insert(ctx, market); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return fmt.Errorf("indexer: market %s: %w", marketKey, domain.ErrAlreadyExists)
			}
			return err
		}

		outcomes := make([]domain.Outcome, len(e.Outcomes))
		for i, desc := range e.Outcomes {
			outcomes[i] = domain.Outcome{
				ID:          m.keyer.OutcomeKey(marketKey, i),
				MarketID:    marketKey,
				ChainID:     e.Ref.ChainID,
				Index:       i,
				Description: desc,
				TotalAmount: big.NewInt(0),
			}
		}
		return s.Outcomes().InsertBatch(ctx, outcomes)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			m.alert(ctx, "market_fault", "Duplicate market creation",
				fmt.Sprintf("MarketCreated for existing key %s (event %s)", marketKey, e.Ref))
		}
		return err
	}

	m.logger.InfoContext(ctx, "market created",
		slog.String("market", marketKey),
		slog.Int("outcomes", len(e.Outcomes)),
	)
	m.publishMarket(ctx, ChannelMarkets, MarketUpdate{
		Type: "created", MarketID: marketKey, ChainID: e.Ref.ChainID,
		Status: string(domain.MarketStatusOpen),
	})
	return nil
}

func (m *Materializer) applyPrediction(ctx context.Context, e *domain.PredictionPlaced) error {
	marketKey := m.keyer.MarketKey(e.Ref.ChainID, e.MarketID)
	outcomeKey := m.keyer.OutcomeKey(marketKey, e.OutcomeID)
	betKey := m.keyer.BetKey(marketKey, e.User, e.OutcomeID)

	err := m.stores.InTx(ctx, func(s domain.Stores) error {
		fresh, err := s.AppliedEvents().Record(ctx, e.Ref)
		if err != nil {
			return err
		}
		if !fresh {
			m.logger.DebugContext(ctx, "skipping redelivered event", slog.String("ref", e.Ref.String()))
			return nil
		}

		// Counters first: AddToPool and AddAmount report a missing parent,
		// which surfaces the causal-order fault before the bet row exists.
		bet := domain.Bet{
			ID:           betKey,
			MarketID:     marketKey,
			ChainID:      e.Ref.ChainID,
			User:         e.User,
			OutcomeIndex: e.OutcomeID,
			Amount:       e.Amount,
			LastUpdated:  e.BlockTime,
		}
		if err := s.Markets().AddToPool(ctx, marketKey, e.Amount); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("indexer: market %s: %w", marketKey, domain.ErrUnknownMarket)
			}
			return err
		}
		if err := s.Outcomes().AddAmount(ctx, outcomeKey, e.Amount); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("indexer: outcome %s: %w", outcomeKey, domain.ErrUnknownOutcome)
			}
			return err
		}
		return s.Bets().UpsertAdd(ctx, bet)
	})
	if err != nil {
		if IsMarketFault(err) {
			m.alert(ctx, "market_fault", "Causal-order fault",
				fmt.Sprintf("PredictionPlaced on unmaterialized parent (event %s): %v", e.Ref, err))
		}
		return err
	}

	m.invalidate(ctx, marketKey)
	m.publishBet(ctx, BetUpdate{
		BetID: betKey, MarketID: marketKey, ChainID: e.Ref.ChainID,
		User: e.User, OutcomeIndex: e.OutcomeID, Amount: e.Amount.String(),
	})
	return nil
}

func (m *Materializer) applyPaused(ctx context.Context, e *domain.MarketPaused) error {
	marketKey := m.keyer.MarketKey(e.Ref.ChainID, e.MarketID)

	var paused bool
	err := m.stores.InTx(ctx, func(s domain.Stores) error {
		fresh, err := s.AppliedEvents().Record(ctx, e.Ref)
		if err != nil {
			return err
		}
		if !fresh {
			m.logger.DebugContext(ctx, "skipping redelivered event", slog.String("ref", e.Ref.String()))
			return nil
		}

		paused, err = s.Markets().MarkPaused(ctx, marketKey)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("indexer: market %s: %w", marketKey, domain.ErrUnknownMarket)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if IsMarketFault(err) {
			m.alert(ctx, "market_fault", "Causal-order fault",
				fmt.Sprintf("MarketPaused for unknown market %s (event %s)", marketKey, e.Ref))
		}
		return err
	}

	if !paused {
		// Already paused or resolved; a redelivered or late pause is a no-op.
		m.logger.DebugContext(ctx, "pause skipped, market not open", slog.String("market", marketKey))
		return nil
	}

	m.invalidate(ctx, marketKey)
	m.logger.InfoContext(ctx, "market paused", slog.String("market", marketKey))
	m.publishMarket(ctx, ChannelMarkets, MarketUpdate{
		Type: "paused", MarketID: marketKey, ChainID: e.Ref.ChainID,
		Status: string(domain.MarketStatusPaused),
	})
	return nil
}

// applyResolved holds a per-market lock across the contract read and the
// write so two instances can never resolve the same market concurrently with
// divergent reads. The read is the one external call a handler makes; it is
// retried until it succeeds because a market must never reach resolved state
// with missing fee data.
func (m *Materializer) applyResolved(ctx context.Context, e *domain.MarketResolved) error {
	marketKey := m.keyer.MarketKey(e.Ref.ChainID, e.MarketID)

	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, "resolve:"+marketKey, resolveLockTTL)
		if err != nil {
			return fmt.Errorf("indexer: resolve lock %s: %w", marketKey, err)
		}
		defer unlock()
	}

	onchain, err := m.readMarket(ctx, e)
	if err != nil {
		return err
	}

	res := domain.Resolution{
		WinningOutcome:    e.WinningOutcome,
		PoolAfterFees:     onchain.PoolAfterFees,
		ProtocolFeeAmount: onchain.ProtocolFeeAmount,
		CreatorFeeAmount:  onchain.CreatorFeeAmount,
		NoWinners:         onchain.NoWinners,
	}

	err = m.stores.InTx(ctx, func(s domain.Stores) error {
		fresh, err := s.AppliedEvents().Record(ctx, e.Ref)
		if err != nil {
			return err
		}
		if !fresh {
			m.logger.DebugContext(ctx, "skipping redelivered event", slog.String("ref", e.Ref.String()))
			return nil
		}

		market, err := s.Markets().GetByID(ctx, marketKey)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("indexer: market %s: %w", marketKey, domain.ErrUnknownMarket)
			}
			return err
		}

		if market.Status == domain.MarketStatusResolved {
			stored := domain.Resolution{
				PoolAfterFees:     market.PoolAfterFees,
				ProtocolFeeAmount: market.ProtocolFeeAmount,
				CreatorFeeAmount:  market.CreatorFeeAmount,
				NoWinners:         market.NoWinners,
			}
			if market.WinningOutcome != nil {
				stored.WinningOutcome = *market.WinningOutcome
			}
			if stored.Equal(res) {
				// A distinct log resolving with identical values; absorb it.
				return nil
			}
			return fmt.Errorf("indexer: market %s: %w", marketKey, domain.ErrResolutionConflict)
		}

		return s.Markets().SetResolved(ctx, marketKey, res)
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrResolutionConflict):
			m.alert(ctx, "resolution_conflict", "Resolution value conflict",
				fmt.Sprintf("Market %s re-resolved with different values (event %s)", marketKey, e.Ref))
		case errors.Is(err, domain.ErrUnknownMarket):
			m.alert(ctx, "market_fault", "Causal-order fault",
				fmt.Sprintf("MarketResolved for unknown market %s (event %s)", marketKey, e.Ref))
		}
		return err
	}

	m.invalidate(ctx, marketKey)
	m.logger.InfoContext(ctx, "market resolved",
		slog.String("market", marketKey),
		slog.Int("winning_outcome", e.WinningOutcome),
		slog.Bool("no_winners", res.NoWinners),
	)
	update := MarketUpdate{
		Type: "resolved", MarketID: marketKey, ChainID: e.Ref.ChainID,
		Status: string(domain.MarketStatusResolved), WinningOutcome: &e.WinningOutcome,
	}
	m.publishMarket(ctx, ChannelMarkets, update)
	m.publishMarket(ctx, ChannelResolutions, update)
	return nil
}

// readMarket calls getMarket until it succeeds or the context is cancelled.
// The reader already retries transient failures with backoff inside one call;
// this loop covers sustained outages and open-breaker periods.
func (m *Materializer) readMarket(ctx context.Context, e *domain.MarketResolved) (chain.OnchainMarket, error) {
	for {
		onchain, err := m.reader.GetMarket(ctx, e.MarketID)
		if err == nil {
			return onchain, nil
		}
		if ctx.Err() != nil {
			return chain.OnchainMarket{}, fmt.Errorf("indexer: getMarket %s: %w", e.MarketID, err)
		}

		m.logger.WarnContext(ctx, "contract read failed, will retry",
			slog.String("ref", e.Ref.String()),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return chain.OnchainMarket{}, ctx.Err()
		case <-time.After(m.resolveRetryWait):
		}
	}
}

func (m *Materializer) invalidate(ctx context.Context, marketKey string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, marketKey); err != nil {
		m.logger.WarnContext(ctx, "cache invalidation failed",
			slog.String("market", marketKey),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Materializer) publishMarket(ctx context.Context, channel string, u MarketUpdate) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, channel, payload); err != nil {
		m.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Materializer) publishBet(ctx context.Context, u BetUpdate) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, ChannelBets, payload); err != nil {
		m.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", ChannelBets),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Materializer) alert(ctx context.Context, event, title, message string) {
	if m.alerter == nil {
		return
	}
	if err := m.alerter.Notify(ctx, event, title, message); err != nil {
		m.logger.WarnContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
	}
}
