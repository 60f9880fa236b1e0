// Package pnl computes realized and unrealized profit/loss from a tradebook
// and positionbook. Pure functions, no I/O: every entry point takes data in
// and returns a value, so it is trivially unit-testable and never needs a
// broker client of its own.
package pnl

import (
	"gonum.org/v1/gonum/stat"

	"github.com/jabez4jc/tradecontrol/internal/domain"
)

// SymbolPnL is one row of the per-symbol aggregate.
type SymbolPnL struct {
	Symbol     string  `json:"symbol"`
	Realized   float64 `json:"realized"`
	Unrealized float64 `json:"unrealized"`
	Total      float64 `json:"total"`
}

// AccountPnL is the full P&L snapshot: per-symbol rows plus account totals.
type AccountPnL struct {
	Symbols           []SymbolPnL `json:"symbols"`
	TotalRealized     float64     `json:"total_realized"`
	TotalUnrealized   float64     `json:"total_unrealized"`
	TotalPnL          float64     `json:"total_pnl"`
	TradebookDegraded bool        `json:"tradebook_degraded"`
}

// side accumulates one side (buy or sell) of a symbol's trades for the
// weighted-average computation.
type side struct {
	prices []float64
	qtys   []float64
}

func (s *side) add(price, qty float64) {
	s.prices = append(s.prices, price)
	s.qtys = append(s.qtys, qty)
}

// weightedAverage returns the quantity-weighted mean price and total
// quantity, or (0, 0) if there were no trades on this side.
func (s *side) weightedAverage() (avgPrice, totalQty float64) {
	if len(s.qtys) == 0 {
		return 0, 0
	}
	for _, q := range s.qtys {
		totalQty += q
	}
	if totalQty == 0 {
		return 0, 0
	}
	avgPrice = stat.Mean(s.prices, s.qtys)
	return avgPrice, totalQty
}

// RealizedBySymbol computes realized P&L per symbol from a tradebook.
// Trades are grouped irrespective of intra-day ordering and combined via
// quantity-weighted averages on each side, not FIFO lot matching — a
// deliberate choice, so the result does not depend on trade order and a
// FIFO implementation would report different figures.
func RealizedBySymbol(trades []domain.Trade) map[string]float64 {
	bySymbol := make(map[string]*struct{ buys, sells side })

	for _, t := range trades {
		acc, ok := bySymbol[t.Symbol]
		if !ok {
			acc = &struct{ buys, sells side }{}
			bySymbol[t.Symbol] = acc
		}
		switch t.Action {
		case domain.ActionBuy:
			acc.buys.add(t.Price, t.Quantity)
		case domain.ActionSell:
			acc.sells.add(t.Price, t.Quantity)
		}
	}

	out := make(map[string]float64, len(bySymbol))
	for symbol, acc := range bySymbol {
		avgBuy, buyQty := acc.buys.weightedAverage()
		avgSell, sellQty := acc.sells.weightedAverage()
		closedQty := buyQty
		if sellQty < closedQty {
			closedQty = sellQty
		}
		out[symbol] = (avgSell - avgBuy) * closedQty
	}
	return out
}

// UnrealizedBySymbol reads the broker-supplied signed P&L straight off each
// position; the engine never recomputes from LTP, to avoid disagreeing with
// the broker's own valuation.
func UnrealizedBySymbol(positions []domain.UpstreamPosition) map[string]float64 {
	out := make(map[string]float64, len(positions))
	for _, p := range positions {
		out[p.Symbol] += p.PnL
	}
	return out
}

// Aggregate merges realized and unrealized maps into the per-symbol table
// and account totals.
func Aggregate(realized, unrealized map[string]float64) AccountPnL {
	symbols := make(map[string]bool, len(realized)+len(unrealized))
	for s := range realized {
		symbols[s] = true
	}
	for s := range unrealized {
		symbols[s] = true
	}

	out := AccountPnL{Symbols: make([]SymbolPnL, 0, len(symbols))}
	for s := range symbols {
		r := realized[s]
		u := unrealized[s]
		out.Symbols = append(out.Symbols, SymbolPnL{Symbol: s, Realized: r, Unrealized: u, Total: r + u})
		out.TotalRealized += r
		out.TotalUnrealized += u
	}
	out.TotalPnL = out.TotalRealized + out.TotalUnrealized
	return out
}

// FromBooks computes the full account P&L snapshot from a tradebook and
// positionbook, applying §4.3's fallback: if the tradebook could not be
// fetched (tradebookErr != nil) but positions are available, realized is
// reported as zero rather than failing the whole computation, and the
// degraded flag is set so the caller can decide whether to still treat the
// instance as healthy.
func FromBooks(trades []domain.Trade, tradebookErr error, positions []domain.UpstreamPosition) AccountPnL {
	var realized map[string]float64
	degraded := tradebookErr != nil
	if !degraded {
		realized = RealizedBySymbol(trades)
	} else {
		realized = map[string]float64{}
	}

	unrealized := UnrealizedBySymbol(positions)
	result := Aggregate(realized, unrealized)
	result.TradebookDegraded = degraded
	return result
}
