package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jabez4jc/tradecontrol/internal/domain"
)

func TestEvaluateExitTrigger_TargetHitTakesPriorityOverTrailing(t *testing.T) {
	pos := domain.WatchlistPosition{
		Direction:         domain.DirectionLong,
		TargetPrice:       110,
		SLPrice:           90,
		TrailingActivated: true,
		TrailingStopPrice: 108,
	}
	sym := domain.WatchlistSymbol{TargetType: domain.TargetTypePercentage, SLType: domain.TargetTypePercentage}

	reason, hit := evaluateExitTrigger(pos, sym, 111)

	assert.True(t, hit)
	assert.Equal(t, domain.ExitTargetHit, reason)
}

func TestEvaluateExitTrigger_StopLossBeforeTrailing(t *testing.T) {
	pos := domain.WatchlistPosition{
		Direction:         domain.DirectionLong,
		TargetPrice:       110,
		SLPrice:           90,
		TrailingActivated: true,
		TrailingStopPrice: 95,
	}
	sym := domain.WatchlistSymbol{TargetType: domain.TargetTypePercentage, SLType: domain.TargetTypePercentage}

	reason, hit := evaluateExitTrigger(pos, sym, 89)

	assert.True(t, hit)
	assert.Equal(t, domain.ExitStopLoss, reason)
}

func TestEvaluateExitTrigger_TrailingStopWhenNoOtherLevelHit(t *testing.T) {
	pos := domain.WatchlistPosition{
		Direction:         domain.DirectionLong,
		TrailingActivated: true,
		TrailingStopPrice: 100,
	}
	sym := domain.WatchlistSymbol{}

	reason, hit := evaluateExitTrigger(pos, sym, 99)

	assert.True(t, hit)
	assert.Equal(t, domain.ExitTrailingStop, reason)
}

func TestEvaluateExitTrigger_NoHitIsIdempotent(t *testing.T) {
	pos := domain.WatchlistPosition{
		Direction:         domain.DirectionLong,
		TargetPrice:       110,
		SLPrice:           90,
		TrailingActivated: true,
		TrailingStopPrice: 95,
	}
	sym := domain.WatchlistSymbol{TargetType: domain.TargetTypePercentage, SLType: domain.TargetTypePercentage}

	for i := 0; i < 3; i++ {
		reason, hit := evaluateExitTrigger(pos, sym, 100)
		assert.False(t, hit)
		assert.Empty(t, reason)
	}
}

// TestTrailingStopMonotonicity_LongPosition replays the production trailing
// recalculation (activation on first tick, then recompute-from-extremum each
// tick) for the LTP sequence 101, 99, 103 against a 2% trailing distance,
// mirroring updateTrailingStop's loop body without the repository/alert I/O.
func TestTrailingStopMonotonicity_LongPosition(t *testing.T) {
	sym := domain.WatchlistSymbol{
		TSType:                 domain.TargetTypePercentage,
		TSValue:                2,
		TrailingActivationType: domain.TrailingActivationImmediate,
	}
	pos := domain.WatchlistPosition{Direction: domain.DirectionLong, EntryPrice: 100}

	var activated bool
	var stopPrice, highest float64

	tick := func(ltp float64) float64 {
		if !activated && shouldActivateTrailing(sym, pos, ltp) {
			activated = true
			stopPrice = trailingStopFromReference(ltp, sym, true)
		}
		if ltp > highest {
			highest = ltp
		}
		if activated {
			candidate := trailingStopFromReference(highest, sym, true)
			if candidate > stopPrice {
				stopPrice = candidate
			}
		}
		return stopPrice
	}

	assert.InDelta(t, 98.98, tick(101), 1e-9)
	assert.InDelta(t, 98.98, tick(99), 1e-9)
	assert.InDelta(t, 100.94, tick(103), 1e-9)
}

func TestTrailingStopFromReference_ShortPositionWidensAboveReference(t *testing.T) {
	sym := domain.WatchlistSymbol{TSType: domain.TargetTypePercentage, TSValue: 2}
	stop := trailingStopFromReference(100, sym, false)
	assert.InDelta(t, 102.0, stop, 1e-9)
}

func TestRecomputeLevelsFromFill_PreservesOffsetsFromConfiguredEntry(t *testing.T) {
	pos := domain.WatchlistPosition{EntryPrice: 100, TargetPrice: 110, SLPrice: 95}

	target, sl := recomputeLevelsFromFill(pos, 102)

	assert.Equal(t, 112.0, target)
	assert.Equal(t, 97.0, sl)
}

func TestExitReasonFromMessage_RoundTripsKnownReasons(t *testing.T) {
	for _, reason := range []domain.ExitReason{
		domain.ExitTargetHit, domain.ExitStopLoss, domain.ExitTrailingStop,
		domain.ExitOrderRejected, domain.ExitSystemAuto,
	} {
		assert.Equal(t, reason, exitReasonFromMessage(string(reason)))
	}
}

func TestExitReasonFromMessage_UnknownOrEmptyDefaultsToManual(t *testing.T) {
	assert.Equal(t, domain.ExitManual, exitReasonFromMessage(""))
	assert.Equal(t, domain.ExitManual, exitReasonFromMessage("order rejected upstream: insufficient margin"))
}
