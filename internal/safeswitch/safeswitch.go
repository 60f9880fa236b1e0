// Package safeswitch implements the strictly sequential LIVE→ANALYZER
// transition (C5): close positions, cancel orders, verify flat, toggle
// analyzer mode, verify the toggle took effect. Idempotent and single-flight
// per instance.
package safeswitch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/alerts"
	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

// Reason is why the switch was triggered.
type Reason string

const (
	ReasonTargetProfit Reason = "TARGET_PROFIT"
	ReasonMaxLoss      Reason = "MAX_LOSS"
	ReasonManual       Reason = "MANUAL"
)

// Result is the outcome of one Safe-Switch invocation.
type Result struct {
	AlreadyAnalyzer bool
	Step            string
	Err             error
}

// ClientFactory returns a domain.BrokerClient bound to the given instance.
// A narrow function type rather than a full factory interface, since the
// coordinator only ever needs "give me a client for this instance".
type ClientFactory func(domain.Instance) domain.BrokerClient

// Coordinator runs the five-step transition and coalesces concurrent
// invocations for the same instance into a single in-flight attempt.
type Coordinator struct {
	instances  *repositories.InstanceRepository
	newClient  ClientFactory
	alertSink  *alerts.Sink
	log        zerolog.Logger

	mu      sync.Mutex
	inFlight map[int64]*flight
}

type flight struct {
	done chan struct{}
	res  Result
}

// New constructs a Coordinator.
func New(instances *repositories.InstanceRepository, newClient ClientFactory, alertSink *alerts.Sink, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		instances: instances,
		newClient: newClient,
		alertSink: alertSink,
		log:       log.With().Str("component", "safeswitch").Logger(),
		inFlight:  make(map[int64]*flight),
	}
}

// Switch performs (or joins an in-progress) LIVE→ANALYZER transition for
// the given instance.
func (c *Coordinator) Switch(ctx context.Context, inst domain.Instance, reason Reason) Result {
	c.mu.Lock()
	if f, ok := c.inFlight[inst.ID]; ok {
		c.mu.Unlock()
		<-f.done
		return f.res
	}
	f := &flight{done: make(chan struct{})}
	c.inFlight[inst.ID] = f
	c.mu.Unlock()

	res := c.run(ctx, inst, reason)

	c.mu.Lock()
	delete(c.inFlight, inst.ID)
	c.mu.Unlock()

	f.res = res
	close(f.done)
	return res
}

func (c *Coordinator) run(ctx context.Context, inst domain.Instance, reason Reason) Result {
	if inst.IsAnalyzerMode {
		return Result{AlreadyAnalyzer: true}
	}

	client := c.newClient(inst)
	strategy := strings.TrimSpace(inst.StrategyTag)

	// Step 1: close all positions.
	if _, err := client.ClosePosition(ctx, strategy); err != nil {
		c.fail(ctx, inst, "closing_positions", err, domain.SeverityWarning)
		return Result{Step: "closing_positions", Err: err}
	}

	// Step 2: cancel all orders.
	if _, err := client.CancelAllOrders(ctx, strategy); err != nil {
		c.fail(ctx, inst, "cancelling_orders", err, domain.SeverityWarning)
		return Result{Step: "cancelling_orders", Err: err}
	}

	// Step 3: verify flat.
	positions, _, err := client.PositionBook(ctx)
	if err != nil {
		c.fail(ctx, inst, "verifying_flat", err, domain.SeverityError)
		return Result{Step: "verifying_flat", Err: err}
	}
	for _, p := range positions {
		if p.NetQty != 0 {
			err := apierrors.New(apierrors.KindConflict, fmt.Sprintf("position %s still has net qty %g after close", p.Symbol, p.NetQty))
			c.fail(ctx, inst, "verifying_flat", err, domain.SeverityError)
			return Result{Step: "verifying_flat", Err: err}
		}
	}

	// Step 4: toggle analyzer mode on.
	if _, err := client.ToggleAnalyzer(ctx, true); err != nil {
		c.fail(ctx, inst, "toggling", err, domain.SeverityError)
		return Result{Step: "toggling", Err: err}
	}

	// Step 5: verify the toggle took effect. No compensating toggle-back on
	// failure: the broker is the source of truth for mode.
	isAnalyzer, _, err := client.Analyzer(ctx)
	if err != nil {
		c.fail(ctx, inst, "verifying_mode", err, domain.SeverityError)
		return Result{Step: "verifying_mode", Err: err}
	}
	if !isAnalyzer {
		err := apierrors.New(apierrors.KindConflict, "analyzer mode did not take effect after toggle")
		c.fail(ctx, inst, "verifying_mode", err, domain.SeverityError)
		return Result{Step: "verifying_mode", Err: err}
	}

	if _, err := c.instances.SetAnalyzerMode(ctx, inst.ID, true); err != nil {
		c.log.Error().Err(err).Int64("instance_id", inst.ID).Msg("failed to persist analyzer mode after successful switch")
	}

	instanceID := inst.ID
	c.alertSink.Emit(ctx, domain.SystemAlert{
		AlertType:  domain.AlertAnalyzerAutoSwitch,
		Severity:   domain.SeverityInfo,
		Title:      fmt.Sprintf("%s switched to analyzer mode", inst.Name),
		Message:    fmt.Sprintf("reason: %s", reason),
		InstanceID: &instanceID,
		Details:    map[string]interface{}{"reason": reason},
	})

	return Result{}
}

func (c *Coordinator) fail(ctx context.Context, inst domain.Instance, step string, err error, severity domain.AlertSeverity) {
	instanceID := inst.ID
	c.alertSink.Emit(ctx, domain.SystemAlert{
		AlertType:  domain.AlertSafeSwitchFailed,
		Severity:   severity,
		Title:      fmt.Sprintf("safe-switch failed for %s at step %s", inst.Name, step),
		Message:    err.Error(),
		InstanceID: &instanceID,
		Details:    map[string]interface{}{"step": step},
	})
}
