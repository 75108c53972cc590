package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL. One row
// per chain holds the scan cursor.
type CheckpointStore struct {
	q querier
}

// Get loads the cursor for a chain. The second return is false when the chain
// has never been scanned.
func (s *CheckpointStore) Get(ctx context.Context, chainID uint64) (domain.Checkpoint, bool, error) {
	var cp domain.Checkpoint
	err := s.q.QueryRow(ctx,
		`SELECT chain_id, height, block_hash, updated_at FROM checkpoints WHERE chain_id = $1`,
		chainID,
	).Scan(&cp.ChainID, &cp.Height, &cp.BlockHash, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Checkpoint{}, false, nil
		}
		return domain.Checkpoint{}, false, fmt.Errorf("postgres: get checkpoint for chain %d: %w", chainID, err)
	}
	return cp, true, nil
}

// Upsert writes the cursor for a chain.
func (s *CheckpointStore) Upsert(ctx context.Context, cp domain.Checkpoint) error {
	const query = `
		INSERT INTO checkpoints (chain_id, height, block_hash, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chain_id) DO UPDATE SET
			height = EXCLUDED.height,
			block_hash = EXCLUDED.block_hash,
			updated_at = NOW()`

	if _, err := s.q.Exec(ctx, query, cp.ChainID, cp.Height, cp.BlockHash); err != nil {
		return fmt.Errorf("postgres: upsert checkpoint for chain %d: %w", cp.ChainID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CheckpointStore = (*CheckpointStore)(nil)
