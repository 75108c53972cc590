package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	q querier
}

const outcomeCols = `id, market_id, chain_id, outcome_index, description, total_amount`

// InsertBatch creates the outcome rows for a new market in one round trip.
func (s *OutcomeStore) InsertBatch(ctx context.Context, outcomes []domain.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	query := `INSERT INTO outcomes (` + outcomeCols + `) VALUES `
	args := make([]any, 0, len(outcomes)*6)
	for i, o := range outcomes {
		if i > 0 {
			query += ", "
		}
		base := i * 6
		query += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, o.ID, o.MarketID, o.ChainID, o.Index, o.Description,
			numericFromBig(o.TotalAmount))
	}

	if _, err := s.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: insert %d outcomes for market %s: %w",
			len(outcomes), outcomes[0].MarketID, err)
	}
	return nil
}

// GetByID retrieves one outcome by its composite key.
func (s *OutcomeStore) GetByID(ctx context.Context, id string) (domain.Outcome, error) {
	row := s.q.QueryRow(ctx, `SELECT `+outcomeCols+` FROM outcomes WHERE id = $1`, id)
	o, err := scanOutcome(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Outcome{}, domain.ErrNotFound
		}
		return domain.Outcome{}, fmt.Errorf("postgres: get outcome %s: %w", id, err)
	}
	return o, nil
}

// AddAmount atomically increments an outcome's aggregated stake.
func (s *OutcomeStore) AddAmount(ctx context.Context, id string, amount *big.Int) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE outcomes SET total_amount = total_amount + $2 WHERE id = $1`,
		id, numericFromBig(amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: add amount to outcome %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByMarket returns a market's outcomes in index order.
func (s *OutcomeStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Outcome, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+outcomeCols+` FROM outcomes WHERE market_id = $1 ORDER BY outcome_index`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list outcomes rows: %w", err)
	}
	return outcomes, nil
}

func scanOutcome(row pgx.Row) (domain.Outcome, error) {
	var (
		o      domain.Outcome
		amount pgtype.Numeric
	)
	err := row.Scan(&o.ID, &o.MarketID, &o.ChainID, &o.Index, &o.Description, &amount)
	if err != nil {
		return domain.Outcome{}, err
	}
	if o.TotalAmount, err = bigFromNumeric(amount); err != nil {
		return domain.Outcome{}, err
	}
	return o, nil
}

// Compile-time interface check.
var _ domain.OutcomeStore = (*OutcomeStore)(nil)
