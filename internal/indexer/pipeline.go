package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vamos-labs/vamos-indexer/internal/chain"
	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

const (
	defaultPollInterval = 5 * time.Second
	applyBaseBackoff    = 500 * time.Millisecond
	applyMaxBackoff     = 30 * time.Second
)

// Pipeline drives one chain end to end: scan a block range, archive the raw
// logs, decode, and apply sequentially. Sequential application within a chain
// is what preserves per-market emission order; across chains, pipelines run
// in parallel with no shared ordering.
type Pipeline struct {
	scanner  *chain.Scanner
	decoder  *chain.Decoder
	mat      *Materializer
	archiver *Archiver // nil disables archiving
	keyer    domain.Keyer
	logger   *slog.Logger
	poll     time.Duration

	// halted markets stopped by a fault. Events for them are skipped until
	// the operator intervenes; every other market keeps flowing.
	halted map[string]struct{}
}

// NewPipeline assembles a per-chain pipeline.
func NewPipeline(
	scanner *chain.Scanner,
	decoder *chain.Decoder,
	mat *Materializer,
	archiver *Archiver,
	keyer domain.Keyer,
	pollInterval time.Duration,
	logger *slog.Logger,
) *Pipeline {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Pipeline{
		scanner:  scanner,
		decoder:  decoder,
		mat:      mat,
		archiver: archiver,
		keyer:    keyer,
		logger:   logger.With(slog.String("component", "pipeline")),
		poll:     pollInterval,
		halted:   make(map[string]struct{}),
	}
}

// Run scans until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		logs, err := p.scanner.ProcessNext(ctx)
		switch {
		case errors.Is(err, chain.ErrReorgDetected):
			// Cursor already rewound; rescan immediately.
			continue
		case err != nil:
			p.logger.ErrorContext(ctx, "scan pass failed", slog.String("error", err.Error()))
			if !p.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if len(logs) == 0 {
			if !p.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if p.archiver != nil {
			if err := p.archiver.Append(ctx, logs); err != nil {
				// The archive is the only backfill source; do not consume a
				// batch that was never archived.
				p.logger.ErrorContext(ctx, "archive failed, batch not applied",
					slog.String("error", err.Error()))
				if !p.sleep(ctx) {
					return ctx.Err()
				}
				continue
			}
		}

		for _, rl := range logs {
			if err := p.process(ctx, rl); err != nil {
				return err
			}
		}
	}
}

// process decodes and applies one log. Only context cancellation propagates
// out; every fault is absorbed here so the chain keeps moving.
func (p *Pipeline) process(ctx context.Context, rl chain.RawLog) error {
	ev, err := p.decoder.Decode(rl.Log, rl.BlockTime)
	if err != nil {
		// Decode faults are not retried; the raw log sits in the archive if
		// it ever turns out to have been valid.
		p.logger.ErrorContext(ctx, "undecodable log, skipping",
			slog.String("tx", rl.Log.TxHash.Hex()),
			slog.Uint64("log_index", uint64(rl.Log.Index)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	marketKey := p.keyer.MarketKey(ev.Meta().Ref.ChainID, ev.Market())
	if _, ok := p.halted[marketKey]; ok {
		p.logger.WarnContext(ctx, "skipping event for halted market",
			slog.String("market", marketKey),
			slog.String("ref", ev.Meta().Ref.String()),
		)
		return nil
	}

	if err := p.applyWithRetry(ctx, ev); err != nil {
		if IsMarketFault(err) {
			p.halted[marketKey] = struct{}{}
			p.logger.ErrorContext(ctx, "market halted",
				slog.String("market", marketKey),
				slog.String("ref", ev.Meta().Ref.String()),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return err
	}
	return nil
}

// applyWithRetry retries transient failures (storage outages, lock
// contention) with capped exponential backoff until the apply lands, a market
// fault surfaces, or the context ends.
func (p *Pipeline) applyWithRetry(ctx context.Context, ev domain.Event) error {
	backoff := applyBaseBackoff
	for {
		err := p.mat.Apply(ctx, ev)
		if err == nil || IsMarketFault(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("indexer: apply %s: %w", ev.Meta().Ref, err)
		}

		p.logger.WarnContext(ctx, "apply failed, retrying",
			slog.String("ref", ev.Meta().Ref.String()),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > applyMaxBackoff {
			backoff = applyMaxBackoff
		}
	}
}

func (p *Pipeline) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.poll):
		return true
	}
}

// RunAll supervises one pipeline per chain under an errgroup; the first
// pipeline error cancels the rest.
func RunAll(ctx context.Context, pipelines []*Pipeline) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range pipelines {
		g.Go(func() error {
			return p.Run(ctx)
		})
	}
	return g.Wait()
}
