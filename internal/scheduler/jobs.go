package scheduler

import (
	"github.com/nninov/ngt/internal/clients/openfigi"
	"github.com/nninov/ngt/internal/enrichment"
	"github.com/nninov/ngt/internal/hitl"
	"github.com/rs/zerolog"
)

// Schedules. The drain runs slightly slower than once a minute so a pass
// that starts right after a rate-window reset still fits inside it.
const (
	DrainSchedule  = "@every 75s"
	ApplySchedule  = "@every 5m"
	NotifySchedule = "@every 1h"
	WatchSchedule  = "@every 30s"
)

// DrainJob drains the enrichment queue against the external lookup service.
type DrainJob struct {
	drainer *enrichment.Drainer
	log     zerolog.Logger
}

// NewDrainJob creates a drain job.
func NewDrainJob(drainer *enrichment.Drainer, log zerolog.Logger) *DrainJob {
	return &DrainJob{drainer: drainer, log: log.With().Str("job", "queue_drain").Logger()}
}

// Name returns the job name.
func (j *DrainJob) Name() string { return "queue_drain" }

// Run drains one batch. The batch stays one below the per-minute ceiling so
// a drain overlapping a window boundary cannot trip the remote limit.
func (j *DrainJob) Run() error {
	stats, err := j.drainer.Drain(openfigi.MaxRequestsPerMinute - 1)
	if err != nil {
		return err
	}
	if stats.Failed > 0 {
		j.log.Warn().Int("failed", stats.Failed).Msg("Some lookups failed and will be retried")
	}
	return nil
}

// ApplyJob folds completed lookups into the security master.
type ApplyJob struct {
	applier *enrichment.Applier
}

// NewApplyJob creates an apply job.
func NewApplyJob(applier *enrichment.Applier) *ApplyJob {
	return &ApplyJob{applier: applier}
}

// Name returns the job name.
func (j *ApplyJob) Name() string { return "reference_apply" }

// Run applies every completed, unapplied queue entry.
func (j *ApplyJob) Run() error {
	_, err := j.applier.ApplyCompleted()
	return err
}

// NotifyJob mails pending faulty rows out for correction.
type NotifyJob struct {
	notifiers []*hitl.Notifier
}

// NewNotifyJob creates a notify job over one notifier per faulty collection.
func NewNotifyJob(notifiers ...*hitl.Notifier) *NotifyJob {
	return &NotifyJob{notifiers: notifiers}
}

// Name returns the job name.
func (j *NotifyJob) Name() string { return "faulty_notify" }

// Run notifies for each collection; a collection with no unnotified rows
// sends nothing.
func (j *NotifyJob) Run() error {
	for _, n := range j.notifiers {
		if _, err := n.Notify(); err != nil {
			return err
		}
	}
	return nil
}
