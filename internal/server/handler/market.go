package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// MarketQuerier is the slice of the query service the market handler needs,
// declared locally so the handler package does not depend on the concrete
// service type.
type MarketQuerier interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error)
	CountMarkets(ctx context.Context) (int64, error)
	ListOutcomes(ctx context.Context, marketID string) ([]domain.Outcome, error)
}

// MarketHandler serves market and outcome endpoints.
type MarketHandler struct {
	markets MarketQuerier
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketQuerier, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type listMarketsResponse struct {
	Markets []marketJSON `json:"markets"`
	Total   int64        `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets newest first, optionally filtered by chain and
// lifecycle status.
// GET /api/markets?chain_id=8453&status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	filter := domain.MarketFilter{ListOpts: parseListOpts(r)}

	if v := r.URL.Query().Get("chain_id"); v != "" {
		chainID, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid chain_id")
			return
		}
		filter.ChainID = chainID
	}

	if v := r.URL.Query().Get("status"); v != "" {
		switch domain.MarketStatus(v) {
		case domain.MarketStatusOpen, domain.MarketStatusPaused, domain.MarketStatusResolved:
			filter.Status = domain.MarketStatus(v)
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	markets, err := h.markets.ListMarkets(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.markets.CountMarkets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	out := make([]marketJSON, len(markets))
	for i, m := range markets {
		out[i] = toMarketJSON(m)
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: out,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

// GetMarket returns one market by composite key.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, toMarketJSON(market))
}

// ListOutcomes returns a market's outcomes in index order.
// GET /api/markets/{id}/outcomes
func (h *MarketHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	outcomes, err := h.markets.ListOutcomes(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list outcomes failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}

	out := make([]outcomeJSON, len(outcomes))
	for i, o := range outcomes {
		out[i] = toOutcomeJSON(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": out})
}
