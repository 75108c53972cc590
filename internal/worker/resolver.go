package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vamos-labs/vamos-indexer/internal/chain"
	"github.com/vamos-labs/vamos-indexer/internal/crypto"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultDedupTTL     = 30 * time.Minute
	// fallbackGasLimit is used when gas estimation fails; distribute iterates
	// over winners, so the limit is generous.
	fallbackGasLimit = 500_000
	cleanupEvery     = 64 // dedup cleanup every N poll passes
)

// Backend is the subset of ethclient.Client the resolver uses. chain.Client
// satisfies it.
type Backend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Alerter raises operational notifications for submitted and failed
// distributions.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ResolverConfig parameterizes a Resolver for one chain.
type ResolverConfig struct {
	ChainID       uint64
	Contract      common.Address
	Confirmations uint64
	PollInterval  time.Duration
	DedupTTL      time.Duration
}

// Resolver watches MarketResolved logs from the chain tip and submits a
// distribute(marketId) transaction for each one. It carries no persistent
// state: on restart it resumes from the current tip, and the contract itself
// rejects a second distribute for the same market, so a missed or duplicated
// submission costs gas at worst, never correctness.
type Resolver struct {
	backend Backend
	signer  *crypto.Signer
	cfg     ResolverConfig
	dedup   *Dedup
	alerter Alerter
	logger  *slog.Logger

	lastBlock uint64
	passes    int
}

// NewResolver creates a Resolver for one chain.
func NewResolver(backend Backend, signer *crypto.Signer, cfg ResolverConfig, alerter Alerter, logger *slog.Logger) *Resolver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	return &Resolver{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		dedup:   NewDedup(cfg.DedupTTL),
		alerter: alerter,
		logger: logger.With(
			slog.String("component", "resolver_worker"),
			slog.Uint64("chain_id", cfg.ChainID),
		),
	}
}

// Run polls until the context is cancelled.
func (r *Resolver) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "resolution worker starting",
		slog.String("contract", r.cfg.Contract.Hex()),
		slog.String("sender", r.signer.Address().Hex()),
	)

	for {
		if err := r.processOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.ErrorContext(ctx, "poll pass failed", slog.String("error", err.Error()))
		}

		r.passes++
		if r.passes%cleanupEvery == 0 {
			r.dedup.Cleanup()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// processOnce scans newly confirmed blocks for MarketResolved logs and fires
// a distribute per unseen log.
func (r *Resolver) processOnce(ctx context.Context) error {
	latest, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("worker: latest header: %w", err)
	}
	safe := latest.Number.Uint64()
	if r.cfg.Confirmations > 0 {
		if r.cfg.Confirmations > safe {
			return nil
		}
		safe -= r.cfg.Confirmations
	}

	if r.lastBlock == 0 {
		// First pass: watch forward from boot, do not backfill history. The
		// indexer's materialized state covers the past; old resolutions were
		// either distributed already or need operator attention anyway.
		r.lastBlock = safe
		return nil
	}
	if safe <= r.lastBlock {
		return nil
	}

	logs, err := r.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(safe),
		Addresses: []common.Address{r.cfg.Contract},
		Topics:    [][]common.Hash{{chain.MarketResolvedTopic()}},
	})
	if err != nil {
		return fmt.Errorf("worker: filter logs: %w", err)
	}

	for _, lg := range logs {
		if lg.Removed || len(lg.Topics) < 2 {
			continue
		}
		if r.dedup.IsDuplicate(lg) {
			continue
		}

		marketID := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		if err := r.distribute(ctx, marketID); err != nil {
			r.logger.ErrorContext(ctx, "distribute failed",
				slog.String("market_id", marketID.String()),
				slog.String("error", err.Error()),
			)
			r.alert(ctx, "distribute_failed", "Distribute submission failed",
				fmt.Sprintf("Chain %d market %s: %v", r.cfg.ChainID, marketID, err))
			continue
		}
	}

	r.lastBlock = safe
	return nil
}

// distribute builds, signs, and submits distribute(marketId).
func (r *Resolver) distribute(ctx context.Context, marketID *big.Int) error {
	contractABI := chain.ABI()
	data, err := contractABI.Pack("distribute", marketID)
	if err != nil {
		return fmt.Errorf("worker: pack distribute: %w", err)
	}

	from := r.signer.Address()
	nonce, err := r.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("worker: pending nonce: %w", err)
	}

	tip, err := r.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("worker: suggest tip: %w", err)
	}

	head, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("worker: head for base fee: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	contract := r.cfg.Contract
	gas, err := r.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &contract,
		Data: data,
	})
	if err != nil {
		gas = fallbackGasLimit
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   r.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &contract,
		Data:      data,
	})

	signed, err := r.signer.SignTx(tx)
	if err != nil {
		return err
	}

	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("worker: send distribute: %w", err)
	}

	r.logger.InfoContext(ctx, "distribute submitted",
		slog.String("market_id", marketID.String()),
		slog.String("tx", signed.Hash().Hex()),
	)
	r.alert(ctx, "distribute_submitted", "Distribute submitted",
		fmt.Sprintf("Chain %d market %s tx %s", r.cfg.ChainID, marketID, signed.Hash().Hex()))
	return nil
}

func (r *Resolver) alert(ctx context.Context, event, title, message string) {
	if r.alerter == nil {
		return
	}
	if err := r.alerter.Notify(ctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
	}
}
