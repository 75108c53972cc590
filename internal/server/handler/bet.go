package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// BetQuerier is the slice of the query service the bet handler needs.
type BetQuerier interface {
	ListBetsByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error)
	ListBetsByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Bet, error)
}

// BetHandler serves bet endpoints.
type BetHandler struct {
	bets   BetQuerier
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets BetQuerier, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

type listBetsResponse struct {
	Bets   []betJSON `json:"bets"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// ListByMarket returns a market's bets, most recently updated first.
// GET /api/markets/{id}/bets
func (h *BetHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	opts := parseListOpts(r)
	bets, err := h.bets.ListBetsByMarket(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bets by market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bets")
		return
	}

	writeJSON(w, http.StatusOK, toListBetsResponse(bets, opts))
}

// ListByUser returns a user's cumulative bets across markets.
// GET /api/users/{address}/bets
func (h *BetHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing user address")
		return
	}

	opts := parseListOpts(r)
	bets, err := h.bets.ListBetsByUser(r.Context(), address, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bets by user failed",
			slog.String("user", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bets")
		return
	}

	writeJSON(w, http.StatusOK, toListBetsResponse(bets, opts))
}

func toListBetsResponse(bets []domain.Bet, opts domain.ListOpts) listBetsResponse {
	out := make([]betJSON, len(bets))
	for i, b := range bets {
		out[i] = toBetJSON(b)
	}
	return listBetsResponse{Bets: out, Limit: opts.Limit, Offset: opts.Offset}
}
