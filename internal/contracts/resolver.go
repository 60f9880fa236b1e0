// Package contracts resolves an option contract symbol from an underlying,
// option type, and strike offset. It is a thin local stand-in for the
// contract-generation service described as an external collaborator: real
// deployments are expected to swap this for a proper option-chain service,
// but broadcasting still needs something satisfying domain.ContractResolver
// to exercise end to end.
package contracts

import (
	"context"
	"fmt"
	"math"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/domain"
	"github.com/jabez4jc/tradecontrol/internal/marketcache"
)

// StrikeStep is the strike-price increment used to round an underlying's LTP
// to its at-the-money strike, per exchange.
type StrikeStep map[string]float64

// DefaultStrikeSteps covers the F&O exchanges this control plane recognizes.
var DefaultStrikeSteps = StrikeStep{
	"NFO": 50,
	"BFO": 100,
	"MCX": 1,
}

// strikeOffsetSteps maps an options_strike_offset to how many strike
// increments away from ATM it resolves to, signed by option type: for a call
// ITM means a lower strike, for a put ITM means a higher strike.
var strikeOffsetSteps = map[domain.StrikeOffset]int{
	domain.StrikeITM2: -2,
	domain.StrikeITM1: -1,
	domain.StrikeATM:  0,
	domain.StrikeOTM1: 1,
	domain.StrikeOTM2: 2,
}

// Resolver computes an option contract symbol from the underlying's cached
// LTP and the requested strike offset.
type Resolver struct {
	cache *marketcache.Cache
	steps StrikeStep
}

// New constructs a Resolver backed by the given market-data cache and
// strike-step table.
func New(cache *marketcache.Cache, steps StrikeStep) *Resolver {
	if steps == nil {
		steps = DefaultStrikeSteps
	}
	return &Resolver{cache: cache, steps: steps}
}

// ResolveOptionContract implements domain.ContractResolver.
func (r *Resolver) ResolveOptionContract(ctx context.Context, underlying, optionType string, offset domain.StrikeOffset) (exchange, symbol string, err error) {
	exchange = "NFO"
	row, ok := r.cache.Get(exchange, underlying)
	if !ok {
		return "", "", apierrors.LTPUnavailable(exchange, underlying)
	}

	step, ok := r.steps[exchange]
	if !ok || step <= 0 {
		step = 50
	}

	atmStrike := math.Round(row.LTP/step) * step

	stepsAway, ok := strikeOffsetSteps[offset]
	if !ok {
		return "", "", apierrors.Validation("unrecognized strike offset")
	}
	// For a put, ITM moves toward a higher strike rather than a lower one.
	if optionType == "PE" {
		stepsAway = -stepsAway
	}
	strike := atmStrike + float64(stepsAway)*step

	symbol = fmt.Sprintf("%s%d%s", underlying, int64(strike), optionType)
	return exchange, symbol, nil
}

var _ domain.ContractResolver = (*Resolver)(nil)
