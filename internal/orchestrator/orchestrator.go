// Package orchestrator implements C4: the per-instance health check and P&L
// refresh loops, each registered as a scheduler.Job and fanned out across
// every active instance with bounded concurrency.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/alerts"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
	"github.com/jabez4jc/tradecontrol/internal/metrics"
	"github.com/jabez4jc/tradecontrol/internal/pnl"
	"github.com/jabez4jc/tradecontrol/internal/polling"
	"github.com/jabez4jc/tradecontrol/internal/safeswitch"
)

// maxInstanceConcurrency caps how many instances a single loop iteration
// talks to at once, bounding upstream load regardless of fleet size.
const maxInstanceConcurrency = 8

// ClientFactory returns a domain.BrokerClient bound to the given instance.
type ClientFactory func(domain.Instance) domain.BrokerClient

// InstanceLocks serializes HealthJob and PnLJob ticks for the same instance
// id, mirroring safeswitch.Coordinator's per-instance coalescing so the two
// loops' UpdateHealth/UpdatePnL writes never interleave for one instance.
type InstanceLocks struct {
	mu   sync.Mutex
	byID map[int64]*sync.Mutex
}

// NewInstanceLocks constructs an empty InstanceLocks.
func NewInstanceLocks() *InstanceLocks {
	return &InstanceLocks{byID: make(map[int64]*sync.Mutex)}
}

// Lock acquires the per-instance mutex for id, creating it on first use, and
// returns a function that releases it.
func (l *InstanceLocks) Lock(id int64) func() {
	l.mu.Lock()
	m, ok := l.byID[id]
	if !ok {
		m = &sync.Mutex{}
		l.byID[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// forEachActiveInstance loads every active instance and runs fn over each,
// bounded by maxInstanceConcurrency.
func forEachActiveInstance(ctx context.Context, instances *repositories.InstanceRepository, fn func(domain.Instance)) error {
	active := true
	list, err := instances.List(ctx, &active)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, maxInstanceConcurrency)
	var wg sync.WaitGroup
	for _, inst := range list {
		wg.Add(1)
		go func(inst domain.Instance) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			fn(inst)
		}(inst)
	}
	wg.Wait()
	return nil
}

// HealthJob pings every active instance and persists its reachability.
type HealthJob struct {
	instances *repositories.InstanceRepository
	newClient ClientFactory
	alertSink *alerts.Sink
	locks     *InstanceLocks
	log       zerolog.Logger
}

// NewHealthJob constructs a HealthJob. locks must be shared with the PnLJob
// running against the same instance set so their per-instance writes
// serialize instead of interleaving.
func NewHealthJob(instances *repositories.InstanceRepository, newClient ClientFactory, alertSink *alerts.Sink, locks *InstanceLocks, log zerolog.Logger) *HealthJob {
	return &HealthJob{instances: instances, newClient: newClient, alertSink: alertSink, locks: locks, log: log.With().Str("job", "health").Logger()}
}

// Name implements scheduler.Job.
func (j *HealthJob) Name() string { return "instance_health_check" }

// Run implements scheduler.Job.
func (j *HealthJob) Run() error {
	ctx := context.Background()
	err := forEachActiveInstance(ctx, j.instances, func(inst domain.Instance) {
		j.checkOne(ctx, inst)
	})
	if err != nil {
		metrics.LoopFailuresTotal.WithLabelValues(j.Name()).Inc()
		return err
	}
	metrics.LoopRunsTotal.WithLabelValues(j.Name()).Inc()
	return nil
}

func (j *HealthJob) checkOne(ctx context.Context, inst domain.Instance) {
	unlock := j.locks.Lock(inst.ID)
	defer unlock()

	client := j.newClient(inst)
	_, err := client.Ping(ctx)

	wasHealthy := inst.HealthStatus == domain.HealthHealthy
	newStatus := domain.HealthHealthy
	isActive := inst.IsActive
	gaugeValue := 1.0
	if err != nil {
		newStatus = domain.HealthUnhealthy
		isActive = false
		gaugeValue = 0.0
	}

	if _, updErr := j.instances.UpdateHealth(ctx, inst.ID, newStatus, isActive); updErr != nil {
		j.log.Error().Err(updErr).Int64("instance_id", inst.ID).Msg("failed to persist health check result")
	}
	metrics.InstanceHealthStatus.WithLabelValues(instanceLabel(inst)).Set(gaugeValue)

	if err != nil && wasHealthy {
		instanceID := inst.ID
		j.alertSink.Emit(ctx, domain.SystemAlert{
			AlertType:  domain.AlertInstanceOffline,
			Severity:   domain.SeverityWarning,
			Title:      fmt.Sprintf("%s became unreachable", inst.Name),
			Message:    err.Error(),
			InstanceID: &instanceID,
		})
	}
}

// PnLJob refreshes each active instance's funds/tradebook/positionbook and
// evaluates the target_profit/target_loss Safe-Switch threshold.
type PnLJob struct {
	instances  *repositories.InstanceRepository
	newClient  ClientFactory
	safeSwitch *safeswitch.Coordinator
	polling    *polling.Controller
	locks      *InstanceLocks
	log        zerolog.Logger
}

// NewPnLJob constructs a PnLJob. polling gates whether a tick actually runs,
// letting the REST polling-control endpoints pause refreshes without
// unregistering the cron entry. locks must be the same InstanceLocks passed
// to NewHealthJob so the two loops' per-instance writes serialize.
func NewPnLJob(instances *repositories.InstanceRepository, newClient ClientFactory, safeSwitch *safeswitch.Coordinator, pollingCtl *polling.Controller, locks *InstanceLocks, log zerolog.Logger) *PnLJob {
	return &PnLJob{instances: instances, newClient: newClient, safeSwitch: safeSwitch, polling: pollingCtl, locks: locks, log: log.With().Str("job", "pnl_refresh").Logger()}
}

// Name implements scheduler.Job.
func (j *PnLJob) Name() string { return "pnl_refresh" }

// Run implements scheduler.Job.
func (j *PnLJob) Run() error {
	if j.polling != nil && !j.polling.OrdersActive() {
		return nil
	}
	ctx := context.Background()
	err := forEachActiveInstance(ctx, j.instances, func(inst domain.Instance) {
		j.refreshOne(ctx, inst)
	})
	if err != nil {
		metrics.LoopFailuresTotal.WithLabelValues(j.Name()).Inc()
		return err
	}
	metrics.LoopRunsTotal.WithLabelValues(j.Name()).Inc()
	return nil
}

func (j *PnLJob) refreshOne(ctx context.Context, inst domain.Instance) {
	if inst.IsAnalyzerMode {
		return
	}

	unlock := j.locks.Lock(inst.ID)
	defer unlock()

	client := j.newClient(inst)

	funds, _, fundsErr := client.Funds(ctx)
	if fundsErr != nil {
		j.log.Warn().Err(fundsErr).Int64("instance_id", inst.ID).Msg("failed to fetch funds")
		if _, updErr := j.instances.UpdateHealth(ctx, inst.ID, domain.HealthUnhealthy, false); updErr != nil {
			j.log.Error().Err(updErr).Int64("instance_id", inst.ID).Msg("failed to persist health status after funds failure")
		}
		return
	}

	trades, _, tradeErr := client.TradeBook(ctx)
	positions, _, posErr := client.PositionBook(ctx)
	if posErr != nil {
		j.log.Warn().Err(posErr).Int64("instance_id", inst.ID).Msg("failed to fetch positionbook")
		return
	}

	account := pnl.FromBooks(trades, tradeErr, positions)

	if _, err := j.instances.UpdatePnL(ctx, inst.ID, funds.AvailableBalance, account.TotalRealized, account.TotalUnrealized, account.TotalPnL); err != nil {
		j.log.Error().Err(err).Int64("instance_id", inst.ID).Msg("failed to persist P&L refresh")
		return
	}
	metrics.InstanceTotalPnL.WithLabelValues(instanceLabel(inst)).Set(account.TotalPnL)

	j.evaluateThreshold(ctx, inst, account.TotalPnL)
}

func (j *PnLJob) evaluateThreshold(ctx context.Context, inst domain.Instance, totalPnL float64) {
	var reason safeswitch.Reason
	tp := inst.TargetProfit
	if tp == 0 {
		tp = 5000
	}
	tl := inst.TargetLoss
	if tl < 0 {
		tl = -tl
	}
	if tl == 0 {
		tl = 2000
	}
	switch {
	case tp > 0 && totalPnL >= tp:
		reason = safeswitch.ReasonTargetProfit
	case totalPnL <= -tl:
		reason = safeswitch.ReasonMaxLoss
	default:
		return
	}

	result := j.safeSwitch.Switch(ctx, inst, reason)
	outcome := "success"
	if result.Err != nil {
		outcome = "failed"
	} else if result.AlreadyAnalyzer {
		outcome = "already_analyzer"
	}
	metrics.SafeSwitchTotal.WithLabelValues(outcome).Inc()
}

// ReconcileRunner is satisfied by *reconciler.Reconciler; declared narrowly
// here so this package does not need to import reconciler just to wrap it.
type ReconcileRunner interface {
	Run(ctx context.Context)
}

// ReconcileJob adapts a ReconcileRunner to scheduler.Job (C7, scheduled
// through the same cron registry as the health and P&L loops).
type ReconcileJob struct {
	runner  ReconcileRunner
	polling *polling.Controller
}

// NewReconcileJob constructs a ReconcileJob.
func NewReconcileJob(runner ReconcileRunner, pollingCtl *polling.Controller) *ReconcileJob {
	return &ReconcileJob{runner: runner, polling: pollingCtl}
}

// Name implements scheduler.Job.
func (j *ReconcileJob) Name() string { return "order_position_reconciliation" }

// Run implements scheduler.Job.
func (j *ReconcileJob) Run() error {
	if j.polling != nil && !j.polling.OrdersActive() {
		return nil
	}
	j.runner.Run(context.Background())
	metrics.LoopRunsTotal.WithLabelValues(j.Name()).Inc()
	return nil
}

func instanceLabel(inst domain.Instance) string {
	return fmt.Sprintf("%d:%s", inst.ID, inst.Name)
}
