package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vamos-labs/vamos-indexer/internal/chain"
	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// Replayer re-applies archived raw logs through the decoder and the
// materializer. The applied-events ledger makes replay safe over state that
// was already materialized: every previously applied log is skipped inside
// its transaction, so replay only fills gaps.
type Replayer struct {
	blobs   domain.BlobReader
	decoder *chain.Decoder
	mat     *Materializer
	chainID uint64
	logger  *slog.Logger
}

// NewReplayer creates a Replayer for one chain's archive.
func NewReplayer(blobs domain.BlobReader, decoder *chain.Decoder, chainID uint64, mat *Materializer, logger *slog.Logger) *Replayer {
	return &Replayer{
		blobs:   blobs,
		decoder: decoder,
		mat:     mat,
		chainID: chainID,
		logger: logger.With(
			slog.String("component", "replayer"),
			slog.Uint64("chain_id", chainID),
		),
	}
}

// Run streams every archived object for the chain in chronological order and
// applies each log. Decode faults and market faults are logged and skipped;
// transient apply errors abort the replay so it can be rerun.
func (r *Replayer) Run(ctx context.Context) error {
	prefix := fmt.Sprintf("raws/%d/", r.chainID)
	paths, err := r.blobs.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("indexer: list archive %s: %w", prefix, err)
	}

	r.logger.InfoContext(ctx, "replay starting", slog.Int("objects", len(paths)))

	var applied, skipped int
	for _, path := range paths {
		a, s, err := r.replayObject(ctx, path)
		applied += a
		skipped += s
		if err != nil {
			return err
		}
	}

	r.logger.InfoContext(ctx, "replay finished",
		slog.Int("applied", applied),
		slog.Int("skipped", skipped),
	)
	return nil
}

func (r *Replayer) replayObject(ctx context.Context, path string) (applied, skipped int, err error) {
	body, err := r.blobs.Get(ctx, path)
	if err != nil {
		return 0, 0, fmt.Errorf("indexer: replay get %s: %w", path, err)
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return applied, skipped, err
		}

		var rec ArchivedLog
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			r.logger.ErrorContext(ctx, "corrupt archive line, skipping",
				slog.String("path", path),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			skipped++
			continue
		}

		ev, err := r.decoder.Decode(rec.ToLog(), rec.BlockTime)
		if err != nil {
			if errors.Is(err, domain.ErrDecode) {
				r.logger.ErrorContext(ctx, "undecodable archived log, skipping",
					slog.String("path", path),
					slog.Int("line", line),
					slog.String("error", err.Error()),
				)
				skipped++
				continue
			}
			return applied, skipped, fmt.Errorf("indexer: replay decode %s:%d: %w", path, line, err)
		}

		if err := r.mat.Apply(ctx, ev); err != nil {
			if IsMarketFault(err) {
				r.logger.ErrorContext(ctx, "market fault during replay, skipping",
					slog.String("ref", ev.Meta().Ref.String()),
					slog.String("error", err.Error()),
				)
				skipped++
				continue
			}
			return applied, skipped, fmt.Errorf("indexer: replay apply %s: %w", ev.Meta().Ref, err)
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return applied, skipped, fmt.Errorf("indexer: replay read %s: %w", path, err)
	}
	return applied, skipped, nil
}
