package handler

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

type fakeBetQuerier struct {
	bets []domain.Bet
}

func (f *fakeBetQuerier) ListBetsByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.Bet, error) {
	var out []domain.Bet
	for _, b := range f.bets {
		if b.MarketID == marketID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBetQuerier) ListBetsByUser(_ context.Context, user string, _ domain.ListOpts) ([]domain.Bet, error) {
	var out []domain.Bet
	for _, b := range f.bets {
		if b.User == strings.ToLower(user) {
			out = append(out, b)
		}
	}
	return out, nil
}

func sampleBets() []domain.Bet {
	ts := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	return []domain.Bet{
		{ID: "8453-7-0xalice-0", MarketID: "8453-7", ChainID: 8453, User: "0xalice", OutcomeIndex: 0, Amount: big.NewInt(250), LastUpdated: ts},
		{ID: "8453-7-0xbob-1", MarketID: "8453-7", ChainID: 8453, User: "0xbob", OutcomeIndex: 1, Amount: big.NewInt(100), LastUpdated: ts},
		{ID: "8453-9-0xalice-0", MarketID: "8453-9", ChainID: 8453, User: "0xalice", OutcomeIndex: 0, Amount: big.NewInt(40), LastUpdated: ts},
	}
}

func TestListBetsByMarket(t *testing.T) {
	h := NewBetHandler(&fakeBetQuerier{bets: sampleBets()}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/8453-7/bets", nil)
	req.SetPathValue("id", "8453-7")
	rec := httptest.NewRecorder()

	h.ListByMarket(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got listBetsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Bets, 2)
	assert.Equal(t, "250", got.Bets[0].Amount)
	assert.Equal(t, 50, got.Limit)
}

func TestListBetsByUserCaseInsensitive(t *testing.T) {
	h := NewBetHandler(&fakeBetQuerier{bets: sampleBets()}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/users/0xALICE/bets", nil)
	req.SetPathValue("address", "0xALICE")
	rec := httptest.NewRecorder()

	h.ListByUser(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got listBetsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Bets, 2)
	for _, b := range got.Bets {
		assert.Equal(t, "0xalice", b.User)
	}
}
