package broadcaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jabez4jc/tradecontrol/internal/domain"
)

func TestResolveQuantity_FixedUnits(t *testing.T) {
	sym := domain.WatchlistSymbol{LotSize: 75, QtyMode: domain.QtyModeFixed, QtyValue: 150, QtyUnits: domain.QtyUnitsUnits}

	qty, err := ResolveQuantity(sym, 0, nil)

	require.NoError(t, err)
	assert.Equal(t, 150.0, qty)
}

func TestResolveQuantity_FixedLots(t *testing.T) {
	sym := domain.WatchlistSymbol{LotSize: 75, QtyMode: domain.QtyModeFixed, QtyValue: 2, QtyUnits: domain.QtyUnitsLots}

	qty, err := ResolveQuantity(sym, 0, nil)

	require.NoError(t, err)
	assert.Equal(t, 150.0, qty)
}

func TestResolveQuantity_CapitalRequiresLTP(t *testing.T) {
	sym := domain.WatchlistSymbol{LotSize: 75, QtyMode: domain.QtyModeCapital, QtyValue: 10000, Rounding: domain.RoundFloorToLot}

	_, err := ResolveQuantity(sym, 0, nil)
	assert.Error(t, err)

	zero := 0.0
	_, err = ResolveQuantity(sym, 0, &zero)
	assert.Error(t, err)
}

func TestResolveQuantity_CapitalFloorsToLotBoundary(t *testing.T) {
	ltp := 100.0
	sym := domain.WatchlistSymbol{LotSize: 75, QtyMode: domain.QtyModeCapital, QtyValue: 20000, Rounding: domain.RoundFloorToLot}

	qty, err := ResolveQuantity(sym, 0, &ltp)

	require.NoError(t, err)
	// raw = 20000/100 = 200 shares = 2.66 lots, floors to 2 lots = 150.
	assert.Equal(t, 150.0, qty)
}

func TestResolveQuantity_CapitalCeilsToLotBoundary(t *testing.T) {
	ltp := 100.0
	sym := domain.WatchlistSymbol{LotSize: 75, QtyMode: domain.QtyModeCapital, QtyValue: 20000, Rounding: domain.RoundCeilToLot}

	qty, err := ResolveQuantity(sym, 0, &ltp)

	require.NoError(t, err)
	assert.Equal(t, 225.0, qty)
}

func TestResolveQuantity_ExactLotBoundaryDoesNotDriftBelow(t *testing.T) {
	ltp := 100.0
	sym := domain.WatchlistSymbol{LotSize: 75, QtyMode: domain.QtyModeCapital, QtyValue: 15000, Rounding: domain.RoundFloorToLot}

	qty, err := ResolveQuantity(sym, 0, &ltp)

	require.NoError(t, err)
	// raw = 15000/100 = 150 shares = exactly 2 lots; a naive float division
	// could land at 1.9999999 lots and floor down to 75.
	assert.Equal(t, 150.0, qty)
}

func TestResolveQuantity_FundsPercent(t *testing.T) {
	ltp := 200.0
	sym := domain.WatchlistSymbol{LotSize: 25, QtyMode: domain.QtyModeFundsPercent, QtyValue: 10, Rounding: domain.RoundFloorToLot}

	qty, err := ResolveQuantity(sym, 100000, &ltp)

	require.NoError(t, err)
	// 10% of 100000 = 10000; /200 = 50 shares = 2 lots exactly.
	assert.Equal(t, 50.0, qty)
}

func TestResolveQuantity_ClampsToMinAndMaxPerClick(t *testing.T) {
	ltp := 100.0
	sym := domain.WatchlistSymbol{
		LotSize: 75, QtyMode: domain.QtyModeCapital, QtyValue: 100,
		Rounding: domain.RoundNearestToLot, MinQtyPerClick: 75,
	}
	qty, err := ResolveQuantity(sym, 0, &ltp)
	require.NoError(t, err)
	assert.Equal(t, 75.0, qty)

	symMax := domain.WatchlistSymbol{
		LotSize: 75, QtyMode: domain.QtyModeCapital, QtyValue: 1000000,
		Rounding: domain.RoundFloorToLot, MaxQtyPerClick: 150,
	}
	qty, err = ResolveQuantity(symMax, 0, &ltp)
	require.NoError(t, err)
	assert.Equal(t, 150.0, qty)
}

func TestResolveQuantity_UnknownModeIsValidationError(t *testing.T) {
	sym := domain.WatchlistSymbol{LotSize: 75, QtyMode: "bogus"}
	_, err := ResolveQuantity(sym, 0, nil)
	assert.Error(t, err)
}
