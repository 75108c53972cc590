package postgres

import (
	"context"
	"fmt"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// AppliedEventStore implements domain.AppliedEventStore using PostgreSQL.
// The table is an append-only ledger of applied log references; recording
// inside the same transaction as the event's writes makes redelivery a no-op.
type AppliedEventStore struct {
	q querier
}

// Record inserts the reference and reports whether it was new.
func (s *AppliedEventStore) Record(ctx context.Context, ref domain.EventRef) (bool, error) {
	const query = `
		INSERT INTO applied_events (chain_id, tx_hash, log_index, block_number, applied_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`

	tag, err := s.q.Exec(ctx, query, ref.ChainID, ref.TxHash, ref.LogIndex, ref.BlockNumber)
	if err != nil {
		return false, fmt.Errorf("postgres: record applied event %s: %w", ref, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Compile-time interface check.
var _ domain.AppliedEventStore = (*AppliedEventStore)(nil)
