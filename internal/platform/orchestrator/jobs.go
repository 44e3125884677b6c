package orchestrator

import (
	"context"
	"time"

	"github.com/medicare/medicare/internal/platform/scheduler"
)

// Schedule holds one interval per step.
type Schedule map[string]time.Duration

// DefaultSchedule is the cadence used when nothing is configured.
func DefaultSchedule() Schedule {
	return Schedule{
		StepDoseReminders:    15 * time.Minute,
		StepRefillReminders:  time.Hour,
		StepHealthAlerts:     30 * time.Minute,
		StepDispatchPending:  time.Minute,
		StepRetryFailed:      5 * time.Minute,
		StepExpirePending:    10 * time.Minute,
		StepRefreshAdherence: 24 * time.Hour,
		StepCompleteEnded:    24 * time.Hour,
		StepCleanup:          24 * time.Hour,
	}
}

// Register adds one scheduler job per step. Steps missing from s use the
// default interval.
func (o *Orchestrator) Register(s *scheduler.Scheduler, sched Schedule) error {
	defaults := DefaultSchedule()
	for _, name := range Steps() {
		interval, ok := sched[name]
		if !ok || interval <= 0 {
			interval = defaults[name]
		}
		err := s.Add(scheduler.Job{
			Name:     name,
			Interval: interval,
			Run: func(ctx context.Context) error {
				_, err := o.Run(ctx, name)
				return err
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
