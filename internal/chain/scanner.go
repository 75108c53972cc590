package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// ErrReorgDetected is returned when a block's parent hash does not match the
// stored cursor hash. The scanner rewinds its cursor by one block before
// returning; the caller simply retries.
var ErrReorgDetected = errors.New("chain: reorg detected, cursor rewound")

// RawLog is a contract log paired with its block timestamp, in the order the
// chain emitted it (block number, then log index).
type RawLog struct {
	Log       types.Log
	BlockTime time.Time
}

// ScannerConfig parameterizes a per-chain scanner.
type ScannerConfig struct {
	ChainID       uint64
	Contract      common.Address
	StartBlock    uint64
	Confirmations uint64
	// BatchSize caps how many blocks one ProcessNext pass covers.
	BatchSize uint64
}

// Scanner walks a chain's blocks sequentially, persisting a (height, hash)
// cursor so restarts resume where they left off and reorgs are detected by
// parent-hash mismatch. One Scanner exists per configured chain; within a
// chain, logs are always yielded in emission order, which is what makes
// per-market ordering hold downstream.
type Scanner struct {
	backend     Backend
	checkpoints domain.CheckpointStore
	cfg         ScannerConfig
	logger      *slog.Logger
}

// NewScanner creates a Scanner for one chain.
func NewScanner(backend Backend, checkpoints domain.CheckpointStore, cfg ScannerConfig, logger *slog.Logger) *Scanner {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	return &Scanner{
		backend:     backend,
		checkpoints: checkpoints,
		cfg:         cfg,
		logger: logger.With(
			slog.String("component", "scanner"),
			slog.Uint64("chain_id", cfg.ChainID),
		),
	}
}

// ProcessNext scans the next eligible block range (respecting the
// confirmation depth) and returns the Vamos logs it contains, ordered by
// block then log index. It advances the persisted cursor on success. A nil
// slice with nil error means the chain tip has not moved far enough yet.
func (s *Scanner) ProcessNext(ctx context.Context) ([]RawLog, error) {
	cp, hasCursor, err := s.checkpoints.Get(ctx, s.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("chain: load checkpoint: %w", err)
	}

	latest, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: latest header: %w", err)
	}
	safe := latest.Number.Uint64()
	if s.cfg.Confirmations > 0 {
		if s.cfg.Confirmations > safe {
			return nil, nil
		}
		safe -= s.cfg.Confirmations
	}

	// Resume one past the cursor, never below the configured start. The
	// parent-hash check is only meaningful when the scan is contiguous with
	// the cursor; a raised start block skips it once.
	from := s.cfg.StartBlock
	contiguous := false
	if hasCursor && cp.Height+1 >= from {
		from = cp.Height + 1
		contiguous = true
	}
	if from > safe {
		return nil, nil
	}

	to := from + s.cfg.BatchSize - 1
	if to > safe {
		to = safe
	}

	first, err := s.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(from))
	if err != nil {
		return nil, fmt.Errorf("chain: header %d: %w", from, err)
	}

	if contiguous && first.ParentHash.Hex() != cp.BlockHash {
		rewindTo := uint64(0)
		if cp.Height > 0 {
			rewindTo = cp.Height - 1
		}
		// Re-anchor on the canonical header at the rewound height; the next
		// pass's parent check compares against this hash, so an anchor taken
		// from the replaced branch would rewind forever.
		anchor, err := s.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(rewindTo))
		if err != nil {
			return nil, fmt.Errorf("chain: rewind header %d: %w", rewindTo, err)
		}
		s.logger.WarnContext(ctx, "parent hash mismatch, rewinding cursor",
			slog.Uint64("height", cp.Height),
			slog.Uint64("rewind_to", rewindTo),
		)
		if err := s.checkpoints.Upsert(ctx, domain.Checkpoint{
			ChainID:   s.cfg.ChainID,
			Height:    rewindTo,
			BlockHash: anchor.Hash().Hex(),
		}); err != nil {
			return nil, fmt.Errorf("chain: rewind checkpoint: %w", err)
		}
		return nil, ErrReorgDetected
	}

	logs, err := s.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.cfg.Contract},
		Topics:    [][]common.Hash{EventTopics()},
	})
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs [%d,%d]: %w", from, to, err)
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	out, err := s.attachTimestamps(ctx, logs, first)
	if err != nil {
		return nil, err
	}

	last := first
	if to != from {
		if last, err = s.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(to)); err != nil {
			return nil, fmt.Errorf("chain: header %d: %w", to, err)
		}
	}

	if err := s.checkpoints.Upsert(ctx, domain.Checkpoint{
		ChainID:   s.cfg.ChainID,
		Height:    to,
		BlockHash: last.Hash().Hex(),
	}); err != nil {
		return nil, fmt.Errorf("chain: advance checkpoint: %w", err)
	}

	if len(out) > 0 {
		s.logger.DebugContext(ctx, "scanned block range",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("logs", len(out)),
		)
	}

	return out, nil
}

// attachTimestamps pairs each log with its block timestamp, fetching each
// distinct header once.
func (s *Scanner) attachTimestamps(ctx context.Context, logs []types.Log, first *types.Header) ([]RawLog, error) {
	times := map[uint64]time.Time{
		first.Number.Uint64(): time.Unix(int64(first.Time), 0).UTC(),
	}

	out := make([]RawLog, 0, len(logs))
	for _, lg := range logs {
		ts, ok := times[lg.BlockNumber]
		if !ok {
			header, err := s.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("chain: header %d: %w", lg.BlockNumber, err)
			}
			ts = time.Unix(int64(header.Time), 0).UTC()
			times[lg.BlockNumber] = ts
		}
		out = append(out, RawLog{Log: lg, BlockTime: ts})
	}
	return out, nil
}
