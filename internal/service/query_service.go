// Package service exposes the read projection: the query surface over the
// materialized tables that the UI and API consume. It never writes market
// state; the materializer is the single writer.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// QueryService serves point lookups and filtered lists over markets,
// outcomes, and bets. Market lookups go through the cache; list queries hit
// the store directly since their result sets change with every block.
type QueryService struct {
	stores domain.Stores
	cache  domain.MarketCache
	logger *slog.Logger
}

// NewQueryService creates a QueryService. The cache may be nil, in which case
// every lookup reads the store.
func NewQueryService(stores domain.Stores, cache domain.MarketCache, logger *slog.Logger) *QueryService {
	return &QueryService{
		stores: stores,
		cache:  cache,
		logger: logger.With(slog.String("component", "query_service")),
	}
}

// GetMarket retrieves a market by composite key, cache first.
func (s *QueryService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.stores.Markets().GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: get market %q: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns markets matching the filter, newest first.
func (s *QueryService) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	markets, err := s.stores.Markets().List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("service: list markets: %w", err)
	}
	return markets, nil
}

// CountMarkets returns the total row count.
func (s *QueryService) CountMarkets(ctx context.Context) (int64, error) {
	count, err := s.stores.Markets().Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: count markets: %w", err)
	}
	return count, nil
}

// ListOutcomes returns a market's outcomes in index order. It verifies the
// market exists so a request for an unknown market gets ErrNotFound rather
// than an empty list.
func (s *QueryService) ListOutcomes(ctx context.Context, marketID string) ([]domain.Outcome, error) {
	if _, err := s.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	outcomes, err := s.stores.Outcomes().ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("service: list outcomes for %q: %w", marketID, err)
	}
	return outcomes, nil
}

// ListBetsByMarket returns a market's bets, most recently updated first.
func (s *QueryService) ListBetsByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error) {
	bets, err := s.stores.Bets().ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list bets for market %q: %w", marketID, err)
	}
	return bets, nil
}

// ListBetsByUser returns a user's bets across all markets. The address is
// lowercased to match the stored form.
func (s *QueryService) ListBetsByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Bet, error) {
	bets, err := s.stores.Bets().ListByUser(ctx, normalizeAddress(user), opts)
	if err != nil {
		return nil, fmt.Errorf("service: list bets for user %q: %w", user, err)
	}
	return bets, nil
}
