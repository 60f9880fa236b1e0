package backup

import (
	"context"

	"github.com/jabez4jc/tradecontrol/internal/metrics"
)

// Job implements scheduler.Job: each run creates a fresh backup archive,
// uploads it, then rotates out anything past the retention window.
type Job struct {
	svc *Service
}

// NewJob constructs a backup Job.
func NewJob(svc *Service) *Job {
	return &Job{svc: svc}
}

// Name implements scheduler.Job.
func (j *Job) Name() string { return "backup_upload" }

// Run implements scheduler.Job.
func (j *Job) Run() error {
	ctx := context.Background()
	if err := j.svc.CreateAndUpload(ctx); err != nil {
		metrics.LoopFailuresTotal.WithLabelValues(j.Name()).Inc()
		return err
	}
	if err := j.svc.RotateOld(ctx); err != nil {
		metrics.LoopFailuresTotal.WithLabelValues(j.Name()).Inc()
		return err
	}
	metrics.LoopRunsTotal.WithLabelValues(j.Name()).Inc()
	return nil
}
