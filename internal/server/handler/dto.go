package handler

import (
	"math/big"
	"time"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// The wire DTOs render token amounts as decimal strings. uint256 values
// overflow JSON numbers, and clients should not have to parse scientific
// notation.

type marketJSON struct {
	ID                string     `json:"id"`
	ChainID           uint64     `json:"chain_id"`
	MarketID          string     `json:"market_id"`
	Creator           string     `json:"creator"`
	Judge             string     `json:"judge"`
	Question          string     `json:"question"`
	NumOutcomes       int        `json:"num_outcomes"`
	TotalPool         string     `json:"total_pool"`
	Status            string     `json:"status"`
	WinningOutcome    *int       `json:"winning_outcome,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	PoolAfterFees     string     `json:"pool_after_fees"`
	ProtocolFeeAmount string     `json:"protocol_fee_amount"`
	CreatorFeeAmount  string     `json:"creator_fee_amount"`
	NoWinners         bool       `json:"no_winners"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type outcomeJSON struct {
	ID          string `json:"id"`
	MarketID    string `json:"market_id"`
	Index       int    `json:"index"`
	Description string `json:"description"`
	TotalAmount string `json:"total_amount"`
}

type betJSON struct {
	ID           string    `json:"id"`
	MarketID     string    `json:"market_id"`
	ChainID      uint64    `json:"chain_id"`
	User         string    `json:"user"`
	OutcomeIndex int       `json:"outcome_index"`
	Amount       string    `json:"amount"`
	LastUpdated  time.Time `json:"last_updated"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toMarketJSON(m domain.Market) marketJSON {
	return marketJSON{
		ID:                m.ID,
		ChainID:           m.ChainID,
		MarketID:          m.MarketID,
		Creator:           m.Creator,
		Judge:             m.Judge,
		Question:          m.Question,
		NumOutcomes:       m.NumOutcomes,
		TotalPool:         amountString(m.TotalPool),
		Status:            string(m.Status),
		WinningOutcome:    m.WinningOutcome,
		CreatedAt:         m.CreatedAt,
		PoolAfterFees:     amountString(m.PoolAfterFees),
		ProtocolFeeAmount: amountString(m.ProtocolFeeAmount),
		CreatorFeeAmount:  amountString(m.CreatorFeeAmount),
		NoWinners:         m.NoWinners,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toOutcomeJSON(o domain.Outcome) outcomeJSON {
	return outcomeJSON{
		ID:          o.ID,
		MarketID:    o.MarketID,
		Index:       o.Index,
		Description: o.Description,
		TotalAmount: amountString(o.TotalAmount),
	}
}

func toBetJSON(b domain.Bet) betJSON {
	return betJSON{
		ID:           b.ID,
		MarketID:     b.MarketID,
		ChainID:      b.ChainID,
		User:         b.User,
		OutcomeIndex: b.OutcomeIndex,
		Amount:       amountString(b.Amount),
		LastUpdated:  b.LastUpdated,
	}
}
