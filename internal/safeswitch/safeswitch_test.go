package safeswitch

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/jabez4jc/tradecontrol/internal/domain"
)

func TestSwitch_AlreadyAnalyzerIsIdempotentNoOp(t *testing.T) {
	// An instance already in analyzer mode must short-circuit before any
	// broker call, so no ClientFactory/InstanceRepository/alerts.Sink is
	// needed to exercise this path.
	c := New(nil, nil, nil, zerolog.Nop())

	inst := domain.Instance{ID: 1, IsAnalyzerMode: true}

	result := c.Switch(context.Background(), inst, ReasonManual)

	assert.True(t, result.AlreadyAnalyzer)
	assert.NoError(t, result.Err)
	assert.Empty(t, result.Step)
}

func TestSwitch_AlreadyAnalyzerRepeatedCallsStayIdempotent(t *testing.T) {
	c := New(nil, nil, nil, zerolog.Nop())
	inst := domain.Instance{ID: 7, IsAnalyzerMode: true}

	for i := 0; i < 5; i++ {
		result := c.Switch(context.Background(), inst, ReasonTargetProfit)
		assert.True(t, result.AlreadyAnalyzer)
	}

	// No in-flight coalescing state should be left behind.
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.inFlight)
}
