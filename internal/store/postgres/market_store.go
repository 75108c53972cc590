package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	q querier
}

const marketCols = `id, chain_id, market_id, creator, judge, question,
	num_outcomes, total_pool, status, winning_outcome, created_at,
	pool_after_fees, protocol_fee_amount, creator_fee_amount, no_winners,
	updated_at`

// Insert creates a market row. A primary-key collision maps to
// domain.ErrAlreadyExists so the materializer can surface the
// duplicate-creation fault instead of overwriting.
func (s *MarketStore) Insert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, chain_id, market_id, creator, judge, question,
			num_outcomes, total_pool, status, winning_outcome, created_at,
			pool_after_fees, protocol_fee_amount, creator_fee_amount,
			no_winners, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, NOW()
		)`

	_, err := s.q.Exec(ctx, query,
		m.ID, m.ChainID, m.MarketID, m.Creator, m.Judge, m.Question,
		m.NumOutcomes, numericFromBig(m.TotalPool), string(m.Status),
		m.WinningOutcome, m.CreatedAt,
		numericFromBig(m.PoolAfterFees), numericFromBig(m.ProtocolFeeAmount),
		numericFromBig(m.CreatorFeeAmount), m.NoWinners,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market by its composite key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.q.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// AddToPool atomically increments total_pool. The increment happens in SQL so
// concurrent deliveries cannot lose updates.
func (s *MarketStore) AddToPool(ctx context.Context, id string, amount *big.Int) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE markets SET total_pool = total_pool + $2, updated_at = NOW() WHERE id = $1`,
		id, numericFromBig(amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: add to pool of market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkPaused transitions open -> paused. A market in any other state is left
// untouched and reported as a no-op.
func (s *MarketStore) MarkPaused(ctx context.Context, id string) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE markets SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		id, string(domain.MarketStatusPaused), string(domain.MarketStatusOpen),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: pause market %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "not open" from "does not exist".
	if _, err := s.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SetResolved finalizes the market with the resolution values.
func (s *MarketStore) SetResolved(ctx context.Context, id string, res domain.Resolution) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE markets SET
			status = $2,
			winning_outcome = $3,
			pool_after_fees = $4,
			protocol_fee_amount = $5,
			creator_fee_amount = $6,
			no_winners = $7,
			updated_at = NOW()
		WHERE id = $1`,
		id, string(domain.MarketStatusResolved), res.WinningOutcome,
		numericFromBig(res.PoolAfterFees), numericFromBig(res.ProtocolFeeAmount),
		numericFromBig(res.CreatorFeeAmount), res.NoWinners,
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns markets matching the filter, newest first.
func (s *MarketStore) List(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets`
	args := []any{}
	var where []string

	if f.ChainID != 0 {
		args = append(args, f.ChainID)
		where = append(where, fmt.Sprintf("chain_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY created_at DESC"

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// scanMarket scans one market row, converting NUMERIC amounts to big.Int.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                                     domain.Market
		status                                string
		pool, afterFees, protoFee, creatorFee pgtype.Numeric
	)
	err := row.Scan(
		&m.ID, &m.ChainID, &m.MarketID, &m.Creator, &m.Judge, &m.Question,
		&m.NumOutcomes, &pool, &status, &m.WinningOutcome, &m.CreatedAt,
		&afterFees, &protoFee, &creatorFee, &m.NoWinners,
		&m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.Status = domain.MarketStatus(status)
	if m.TotalPool, err = bigFromNumeric(pool); err != nil {
		return domain.Market{}, err
	}
	if m.PoolAfterFees, err = bigFromNumeric(afterFees); err != nil {
		return domain.Market{}, err
	}
	if m.ProtocolFeeAmount, err = bigFromNumeric(protoFee); err != nil {
		return domain.Market{}, err
	}
	if m.CreatorFeeAmount, err = bigFromNumeric(creatorFee); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
