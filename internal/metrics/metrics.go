// Package metrics exposes the control plane's Prometheus gauges and
// counters (A4): per-instance health/P&L gauges plus loop-run and
// loop-failure counters for each background job.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// InstanceHealthStatus is 1 when an instance's last health check succeeded, 0 otherwise.
	InstanceHealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradecontrol_instance_health_status",
			Help: "1 if the instance's last health check succeeded, 0 otherwise.",
		},
		[]string{"instance"},
	)

	// InstanceTotalPnL is the last computed total P&L (realized + unrealized) for an instance.
	InstanceTotalPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradecontrol_instance_total_pnl",
			Help: "Last computed total P&L (realized + unrealized) for the instance.",
		},
		[]string{"instance"},
	)

	// LoopRunsTotal counts completed runs of a background loop.
	LoopRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecontrol_loop_runs_total",
			Help: "Completed runs of a background loop, by loop name.",
		},
		[]string{"loop"},
	)

	// LoopFailuresTotal counts failed runs of a background loop.
	LoopFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecontrol_loop_failures_total",
			Help: "Failed runs of a background loop, by loop name.",
		},
		[]string{"loop"},
	)

	// SafeSwitchTotal counts Safe-Switch invocations by outcome.
	SafeSwitchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecontrol_safe_switch_total",
			Help: "Safe-Switch invocations by outcome (success|already_analyzer|failed).",
		},
		[]string{"outcome"},
	)

	// BroadcastLegsTotal counts dispatched broadcast legs by outcome.
	BroadcastLegsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecontrol_broadcast_legs_total",
			Help: "Broadcast legs dispatched, by outcome (success|failed).",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		InstanceHealthStatus,
		InstanceTotalPnL,
		LoopRunsTotal,
		LoopFailuresTotal,
		SafeSwitchTotal,
		BroadcastLegsTotal,
	)
}
