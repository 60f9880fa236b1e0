// Package selfhealth reports the control plane process's own resource
// usage and database reachability for the unversioned /healthz endpoint
// (A5) — distinct from C4's per-instance broker health checks.
package selfhealth

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jabez4jc/tradecontrol/internal/database"
)

// Report is the /healthz response body.
type Report struct {
	Status      string  `json:"status"` // "ok" or "degraded"
	UptimeSec   float64 `json:"uptime_seconds"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DBReachable bool    `json:"db_reachable"`
}

// Checker computes Reports against a process start time and the primary database.
type Checker struct {
	db        *database.DB
	startedAt time.Time
}

// New constructs a Checker. startedAt should be captured once at process startup.
func New(db *database.DB, startedAt time.Time) *Checker {
	return &Checker{db: db, startedAt: startedAt}
}

// Check gathers a fresh Report. CPU sampling blocks for 100ms, matching the
// short-sample pattern used for a responsive healthcheck endpoint.
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{
		Status:    "ok",
		UptimeSec: time.Since(c.startedAt).Seconds(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		report.CPUPercent = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		report.MemPercent = memStat.UsedPercent
	}

	report.DBReachable = c.db.HealthCheck(ctx) == nil
	if !report.DBReachable {
		report.Status = "degraded"
	}

	return report
}
