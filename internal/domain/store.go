package domain

import (
	"context"
	"math/big"
	"time"
)

// ListOpts provides pagination for list queries. Results are always ordered
// by creation time, newest first.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketFilter narrows market list queries.
type MarketFilter struct {
	// ChainID filters to one chain when non-zero.
	ChainID uint64
	// Status filters to one lifecycle state when non-empty.
	Status MarketStatus
	ListOpts
}

// MarketStore persists markets. Writers are primitive on purpose: the
// materializer owns the state-machine rules and composes these calls inside
// one transaction.
type MarketStore interface {
	// Insert creates a market row. It returns ErrAlreadyExists when the key
	// is taken; the caller decides whether that is fatal.
	Insert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	// AddToPool atomically increments the market's total pool. It returns
	// ErrNotFound when the market does not exist.
	AddToPool(ctx context.Context, id string, amount *big.Int) error
	// MarkPaused transitions open -> paused. It reports false without error
	// when the market exists but is not open (idempotent no-op), and
	// ErrNotFound when it does not exist.
	MarkPaused(ctx context.Context, id string) (bool, error)
	// SetResolved transitions the market to resolved and writes the
	// resolution fields. It returns ErrNotFound when the market is missing.
	SetResolved(ctx context.Context, id string, res Resolution) error
	List(ctx context.Context, f MarketFilter) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// OutcomeStore persists per-outcome aggregates.
type OutcomeStore interface {
	InsertBatch(ctx context.Context, outcomes []Outcome) error
	GetByID(ctx context.Context, id string) (Outcome, error)
	// AddAmount atomically increments an outcome's aggregated stake. It
	// returns ErrNotFound when the outcome row does not exist.
	AddAmount(ctx context.Context, id string, amount *big.Int) error
	ListByMarket(ctx context.Context, marketID string) ([]Outcome, error)
}

// BetStore persists cumulative bets.
type BetStore interface {
	// UpsertAdd inserts the bet or, when the key exists, atomically adds
	// b.Amount to the stored amount and advances LastUpdated.
	UpsertAdd(ctx context.Context, b Bet) error
	GetByID(ctx context.Context, id string) (Bet, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Bet, error)
	ListByUser(ctx context.Context, user string, opts ListOpts) ([]Bet, error)
}

// AppliedEventStore is the idempotency ledger. One row per applied log keyed
// by (chain id, tx hash, log index).
type AppliedEventStore interface {
	// Record inserts the reference and reports whether it was new. A false
	// return means the event was already applied and must be skipped.
	Record(ctx context.Context, ref EventRef) (bool, error)
}

// Checkpoint is a per-chain scan cursor: the last block fully processed and
// its hash, used for reorg detection on restart.
type Checkpoint struct {
	ChainID   uint64
	Height    uint64
	BlockHash string
	UpdatedAt time.Time
}

// CheckpointStore persists scan cursors.
type CheckpointStore interface {
	Get(ctx context.Context, chainID uint64) (Checkpoint, bool, error)
	Upsert(ctx context.Context, cp Checkpoint) error
}

// Stores bundles the materialized-state stores backed by one storage engine.
// InTx runs fn against a transactional view so a handler's writes commit or
// roll back as a unit.
type Stores interface {
	Markets() MarketStore
	Outcomes() OutcomeStore
	Bets() BetStore
	AppliedEvents() AppliedEventStore
	Checkpoints() CheckpointStore
	InTx(ctx context.Context, fn func(Stores) error) error
}
