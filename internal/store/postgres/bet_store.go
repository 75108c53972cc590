package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	q querier
}

const betCols = `id, market_id, chain_id, user_address, outcome_index, amount, last_updated`

// UpsertAdd inserts the bet or adds its amount to the existing row. The
// increment is pushed down to SQL so the read-modify-write cannot race.
func (s *BetStore) UpsertAdd(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (id, market_id, chain_id, user_address, outcome_index, amount, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			amount = bets.amount + EXCLUDED.amount,
			last_updated = EXCLUDED.last_updated`

	_, err := s.q.Exec(ctx, query,
		b.ID, b.MarketID, b.ChainID, b.User, b.OutcomeIndex,
		numericFromBig(b.Amount), b.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bet %s: %w", b.ID, err)
	}
	return nil
}

// GetByID retrieves one bet by its composite key.
func (s *BetStore) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	row := s.q.QueryRow(ctx, `SELECT `+betCols+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

// ListByMarket returns a market's bets, most recently updated first.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.list(ctx, "market_id", marketID, opts)
}

// ListByUser returns a user's bets across markets, most recently updated
// first. The address is matched lowercased, the form every writer uses.
func (s *BetStore) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.list(ctx, "user_address", user, opts)
}

func (s *BetStore) list(ctx context.Context, column, value string, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE ` + column + ` = $1 ORDER BY last_updated DESC`
	args := []any{value}

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets by %s %s: %w", column, value, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b      domain.Bet
		amount pgtype.Numeric
	)
	err := row.Scan(&b.ID, &b.MarketID, &b.ChainID, &b.User, &b.OutcomeIndex,
		&amount, &b.LastUpdated)
	if err != nil {
		return domain.Bet{}, err
	}
	if b.Amount, err = bigFromNumeric(amount); err != nil {
		return domain.Bet{}, err
	}
	return b, nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
