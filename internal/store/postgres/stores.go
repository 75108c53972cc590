package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// querier is the common surface of pgxpool.Pool and pgx.Tx, letting every
// store run against either the pool or an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Stores implements domain.Stores on top of one connection pool. InTx yields
// a Stores view bound to a single transaction so one event's writes commit or
// roll back together.
type Stores struct {
	pool *pgxpool.Pool // nil inside a transaction
	q    querier
}

// NewStores creates the store bundle from a connected client.
func NewStores(c *Client) *Stores {
	return &Stores{pool: c.Pool(), q: c.Pool()}
}

// Markets returns the market store bound to this view.
func (s *Stores) Markets() domain.MarketStore { return &MarketStore{q: s.q} }

// Outcomes returns the outcome store bound to this view.
func (s *Stores) Outcomes() domain.OutcomeStore { return &OutcomeStore{q: s.q} }

// Bets returns the bet store bound to this view.
func (s *Stores) Bets() domain.BetStore { return &BetStore{q: s.q} }

// AppliedEvents returns the idempotency ledger bound to this view.
func (s *Stores) AppliedEvents() domain.AppliedEventStore { return &AppliedEventStore{q: s.q} }

// Checkpoints returns the scan-cursor store bound to this view.
func (s *Stores) Checkpoints() domain.CheckpointStore { return &CheckpointStore{q: s.q} }

// InTx runs fn against a transactional view of the stores, committing on nil
// return and rolling back otherwise. Calling InTx on an already-transactional
// view reuses the open transaction rather than nesting.
func (s *Stores) InTx(ctx context.Context, fn func(domain.Stores) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(&Stores{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Stores = (*Stores)(nil)
