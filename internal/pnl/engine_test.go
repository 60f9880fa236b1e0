package pnl

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jabez4jc/tradecontrol/internal/domain"
)

func TestRealizedBySymbol_WeightedAverageExample(t *testing.T) {
	trades := []domain.Trade{
		{Symbol: "RELIANCE", Action: domain.ActionBuy, Price: 100, Quantity: 10},
		{Symbol: "RELIANCE", Action: domain.ActionSell, Price: 122.5, Quantity: 10},
	}

	realized := RealizedBySymbol(trades)
	assert.Equal(t, 225.0, realized["RELIANCE"])
}

func TestRealizedBySymbol_PermutationInvariant(t *testing.T) {
	base := []domain.Trade{
		{Symbol: "RELIANCE", Action: domain.ActionBuy, Price: 100, Quantity: 5},
		{Symbol: "RELIANCE", Action: domain.ActionBuy, Price: 100, Quantity: 5},
		{Symbol: "RELIANCE", Action: domain.ActionSell, Price: 122.5, Quantity: 4},
		{Symbol: "RELIANCE", Action: domain.ActionSell, Price: 122.5, Quantity: 6},
		{Symbol: "INFY", Action: domain.ActionBuy, Price: 1500, Quantity: 2},
		{Symbol: "INFY", Action: domain.ActionSell, Price: 1400, Quantity: 2},
	}

	want := RealizedBySymbol(base)
	require.Equal(t, 225.0, want["RELIANCE"])

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make([]domain.Trade, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := RealizedBySymbol(shuffled)
		assert.InDelta(t, want["RELIANCE"], got["RELIANCE"], 1e-9)
		assert.InDelta(t, want["INFY"], got["INFY"], 1e-9)
	}
}

func TestRealizedBySymbol_ClosedQtyIsSmallerSide(t *testing.T) {
	trades := []domain.Trade{
		{Symbol: "RELIANCE", Action: domain.ActionBuy, Price: 100, Quantity: 10},
		{Symbol: "RELIANCE", Action: domain.ActionSell, Price: 110, Quantity: 4},
	}
	realized := RealizedBySymbol(trades)
	assert.Equal(t, 40.0, realized["RELIANCE"])
}

func TestUnrealizedBySymbol_SumsAcrossLots(t *testing.T) {
	positions := []domain.UpstreamPosition{
		{Symbol: "RELIANCE", NetQty: 10, PnL: 50},
		{Symbol: "RELIANCE", NetQty: -5, PnL: -20},
		{Symbol: "INFY", NetQty: 2, PnL: 10},
	}
	unrealized := UnrealizedBySymbol(positions)
	assert.Equal(t, 30.0, unrealized["RELIANCE"])
	assert.Equal(t, 10.0, unrealized["INFY"])
}

func TestFromBooks_DegradedTradebookZeroesRealized(t *testing.T) {
	positions := []domain.UpstreamPosition{{Symbol: "RELIANCE", NetQty: 10, PnL: 50}}

	account := FromBooks(nil, assert.AnError, positions)

	assert.True(t, account.TradebookDegraded)
	assert.Equal(t, 0.0, account.TotalRealized)
	assert.Equal(t, 50.0, account.TotalUnrealized)
	assert.Equal(t, 50.0, account.TotalPnL)
}

func TestFromBooks_HealthyTradebookComputesRealized(t *testing.T) {
	trades := []domain.Trade{
		{Symbol: "RELIANCE", Action: domain.ActionBuy, Price: 100, Quantity: 10},
		{Symbol: "RELIANCE", Action: domain.ActionSell, Price: 122.5, Quantity: 10},
	}
	positions := []domain.UpstreamPosition{{Symbol: "RELIANCE", NetQty: 0, PnL: 0}}

	account := FromBooks(trades, nil, positions)

	assert.False(t, account.TradebookDegraded)
	assert.Equal(t, 225.0, account.TotalRealized)
	assert.Equal(t, 225.0, account.TotalPnL)
}
