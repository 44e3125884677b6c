package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/domain/medication"
	"github.com/medicare/medicare/internal/domain/notification"
	"github.com/medicare/medicare/internal/domain/vitals"
	"github.com/medicare/medicare/internal/platform/apperr"
	"github.com/medicare/medicare/internal/platform/events"
)

// DoseReminders creates a reminder for every active medication whose dose is
// due. It does not check whether a reminder already went out this cycle, so
// a patient who ignores a reminder gets another one on the next run.
func (o *Orchestrator) DoseReminders(ctx context.Context) (rep *StepReport, err error) {
	ctx, rep, done := o.begin(ctx, StepDoseReminders)
	defer done(&err)

	now := o.now()
	teams := o.newTeamCache()
	err = o.eachMedication(ctx, func(after uuid.UUID, limit int) ([]*medication.Medication, error) {
		return o.meds.ListActive(ctx, after, limit)
	}, func(m *medication.Medication) {
		rep.Scanned++
		if m.IsExpired(now) || !m.IsDoseDue(now, o.policy) {
			return
		}
		log := o.logger.With().Str("medication_id", m.ID.String()).Logger()
		team, err := teams.get(ctx, m.PatientID)
		if err != nil {
			rep.Errors++
			log.Error().Err(err).Msg("resolve care team")
			return
		}
		n := notification.NewMedicationReminder(recipient(team.User, m.PatientID), m, now)
		if err := o.engine.Create(ctx, n); err != nil {
			rep.Errors++
			log.Error().Err(err).Msg("create dose reminder")
			return
		}
		rep.Created++
	})
	return rep, err
}

func (o *Orchestrator) RefillReminders(ctx context.Context) (rep *StepReport, err error) {
	ctx, rep, done := o.begin(ctx, StepRefillReminders)
	defer done(&err)

	now := o.now()
	teams := o.newTeamCache()
	err = o.eachMedication(ctx, func(after uuid.UUID, limit int) ([]*medication.Medication, error) {
		return o.meds.ListRefillDue(ctx, now, after, limit)
	}, func(m *medication.Medication) {
		rep.Scanned++
		if !m.NeedsRefill(now) {
			return
		}
		log := o.logger.With().Str("medication_id", m.ID.String()).Logger()
		team, err := teams.get(ctx, m.PatientID)
		if err != nil {
			rep.Errors++
			log.Error().Err(err).Msg("resolve care team")
			return
		}
		n := notification.NewRefillReminder(recipient(team.User, m.PatientID), m, now)
		if err := o.engine.Create(ctx, n); err != nil {
			rep.Errors++
			log.Error().Err(err).Msg("create refill reminder")
			return
		}
		rep.Created++
	})
	return rep, err
}

var errAlreadyProcessed = errors.New("health record already processed")

// HealthAlerts evaluates recent unprocessed health records. Each record is
// handled in one transaction: it is marked processed first, so a concurrent
// worker that lost the race creates nothing, and then one notification is
// created per alert for the patient and, when assigned, the physician.
// Records without alerts are marked processed too.
func (o *Orchestrator) HealthAlerts(ctx context.Context) (rep *StepReport, err error) {
	ctx, rep, done := o.begin(ctx, StepHealthAlerts)
	defer done(&err)

	now := o.now()
	since := now.Add(-o.cfg.HealthScanWindow)
	teams := o.newTeamCache()
	after := uuid.Nil
	for {
		if err = ctx.Err(); err != nil {
			return rep, err
		}
		var page []*vitals.HealthRecord
		page, err = o.records.ListUnprocessedSince(ctx, since, after, o.cfg.BatchSize)
		if err != nil {
			return rep, err
		}
		for _, r := range page {
			rep.Scanned++
			created, err := o.processRecord(ctx, r, teams, now)
			switch {
			case errors.Is(err, errAlreadyProcessed):
				rep.Outcomes["already_processed"]++
			case err != nil:
				rep.Errors++
				o.logger.Error().Err(err).Str("health_record_id", r.ID.String()).Msg("process health record")
			default:
				rep.Created += created
				rep.Updated++
			}
		}
		if len(page) < o.cfg.BatchSize {
			return rep, nil
		}
		after = page[len(page)-1].ID
	}
}

func (o *Orchestrator) processRecord(ctx context.Context, r *vitals.HealthRecord, teams *teamCache, now time.Time) (int, error) {
	alerts := vitals.Evaluate(r)
	var raised []*notification.Notification
	err := o.tx.WithTx(ctx, func(ctx context.Context) error {
		raised = raised[:0]
		if err := o.records.MarkProcessed(ctx, r.ID); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return errAlreadyProcessed
			}
			return err
		}
		if len(alerts) == 0 {
			return nil
		}
		team, err := teams.get(ctx, r.PatientID)
		if err != nil {
			return err
		}
		for _, a := range alerts {
			ns := []*notification.Notification{
				notification.NewHealthAlert(recipient(team.User, r.PatientID), r, a, "", now),
			}
			if team.Physician != nil {
				ns = append(ns, notification.NewHealthAlert(recipient(team.Physician, r.PatientID), r, a, team.User.FullName, now))
			}
			for _, n := range ns {
				if err := o.engine.Create(ctx, n); err != nil {
					return err
				}
				raised = append(raised, n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, a := range alerts {
		o.metrics.AlertRaised(ctx, a.Type)
		ev := events.Event{
			Type:       events.AlertRaised,
			EntityID:   r.ID,
			Status:     string(a.Severity),
			Data:       map[string]string{"alert_type": a.Type, "message": a.Message},
			OccurredAt: now,
		}
		if len(raised) > 0 {
			ev.UserID = raised[0].UserID
		}
		if err := o.events.Publish(ctx, ev); err != nil {
			o.logger.Warn().Err(err).Str("health_record_id", r.ID.String()).Msg("publish alert event failed")
		}
	}
	return len(raised), nil
}

// outcomeConflict counts medications skipped because they changed after
// being read.
const outcomeConflict = "conflict"

type outcomeCounter struct {
	mu  sync.Mutex
	rep *StepReport
}

func (c *outcomeCounter) add(outcome string, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rep.Outcomes[outcome]++
	if failed {
		c.rep.Errors++
	}
}

func (c *outcomeCounter) scanned() {
	c.mu.Lock()
	c.rep.Scanned++
	c.mu.Unlock()
}

// DispatchPending drains pending notifications that are due, with bounded
// parallelism.
func (o *Orchestrator) DispatchPending(ctx context.Context) (rep *StepReport, err error) {
	ctx, rep, done := o.begin(ctx, StepDispatchPending)
	defer done(&err)

	now := o.now()
	staleBefore := now.Add(-o.engine.Lease())
	counter := &outcomeCounter{rep: rep}
	err = o.eachNotification(ctx, func(after uuid.UUID, limit int) ([]*notification.Notification, error) {
		return o.notifications.ListDispatchable(ctx, now, staleBefore, after, limit)
	}, func(ctx context.Context, n *notification.Notification) {
		counter.scanned()
		o.dispatch(ctx, n, counter)
	})
	return rep, err
}

func (o *Orchestrator) dispatch(ctx context.Context, n *notification.Notification, counter *outcomeCounter) {
	outcome, err := o.engine.Dispatch(ctx, n)
	if err != nil {
		counter.add("error", true)
		o.logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("dispatch notification")
		return
	}
	counter.add(string(outcome), false)
}

// RetryFailed resets failed notifications whose backoff elapsed and
// dispatches them again right away.
func (o *Orchestrator) RetryFailed(ctx context.Context) (rep *StepReport, err error) {
	ctx, rep, done := o.begin(ctx, StepRetryFailed)
	defer done(&err)

	now := o.now()
	counter := &outcomeCounter{rep: rep}
	err = o.eachNotification(ctx, func(after uuid.UUID, limit int) ([]*notification.Notification, error) {
		return o.notifications.ListRetryable(ctx, now, after, limit)
	}, func(ctx context.Context, n *notification.Notification) {
		counter.scanned()
		ok, err := o.engine.Retry(ctx, n)
		if err != nil {
			counter.add("error", true)
			o.logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("reset notification for retry")
			return
		}
		if !ok {
			counter.add(string(notification.OutcomeSkipped), false)
			return
		}
		o.dispatch(ctx, n, counter)
	})
	return rep, err
}

func (o *Orchestrator) ExpirePending(ctx context.Context) (rep *StepReport, err error) {
	ctx, rep, done := o.begin(ctx, StepExpirePending)
	defer done(&err)

	now := o.now()
	counter := &outcomeCounter{rep: rep}
	err = o.eachNotification(ctx, func(after uuid.UUID, limit int) ([]*notification.Notification, error) {
		return o.notifications.ListExpiredPending(ctx, now, after, limit)
	}, func(ctx context.Context, n *notification.Notification) {
		counter.scanned()
		ok, err := o.engine.ExpireOne(ctx, n)
		switch {
		case err != nil:
			counter.add("error", true)
			o.logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("expire notification")
		case ok:
			counter.add(string(notification.OutcomeExpired), false)
		default:
			counter.add(string(notification.OutcomeSkipped), false)
		}
	})
	return rep, err
}

// RefreshAdherence recomputes the adherence score of every active
// medication, so scores keep moving as days pass without missed doses.
func (o *Orchestrator) RefreshAdherence(ctx context.Context) (rep *StepReport, err error) {
	ctx, rep, done := o.begin(ctx, StepRefreshAdherence)
	defer done(&err)

	now := o.now()
	err = o.eachMedication(ctx, func(after uuid.UUID, limit int) ([]*medication.Medication, error) {
		return o.meds.ListActive(ctx, after, limit)
	}, func(m *medication.Medication) {
		rep.Scanned++
		before := m.AdherenceScore
		m.UpdateAdherenceScore(now, o.policy)
		if sameScore(before, m.AdherenceScore) {
			return
		}
		m.UpdatedAt = now
		if err := o.meds.Update(ctx, m); err != nil {
			if o.skipConflict(rep, err, m, "adherence score") {
				return
			}
			rep.Errors++
			o.logger.Error().Err(err).Str("medication_id", m.ID.String()).Msg("update adherence score")
			return
		}
		rep.Updated++
	})
	return rep, err
}

func sameScore(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// CompleteEnded moves active medications past their end date to completed.
func (o *Orchestrator) CompleteEnded(ctx context.Context) (rep *StepReport, err error) {
	ctx, rep, done := o.begin(ctx, StepCompleteEnded)
	defer done(&err)

	now := o.now()
	err = o.eachMedication(ctx, func(after uuid.UUID, limit int) ([]*medication.Medication, error) {
		return o.meds.ListActive(ctx, after, limit)
	}, func(m *medication.Medication) {
		rep.Scanned++
		if !m.IsExpired(now) {
			return
		}
		log := o.logger.With().Str("medication_id", m.ID.String()).Logger()
		if err := m.ChangeStatus(medication.StatusCompleted, now); err != nil {
			rep.Errors++
			log.Error().Err(err).Msg("complete medication")
			return
		}
		if err := o.meds.Update(ctx, m); err != nil {
			if o.skipConflict(rep, err, m, "completion") {
				return
			}
			rep.Errors++
			log.Error().Err(err).Msg("complete medication")
			return
		}
		rep.Updated++
	})
	return rep, err
}

// skipConflict reports whether err is a lost version race. The medication
// changed after the page was read, so the write is dropped and the next run
// sees the fresh row.
func (o *Orchestrator) skipConflict(rep *StepReport, err error, m *medication.Medication, what string) bool {
	if !errors.Is(err, apperr.ErrConflict) {
		return false
	}
	rep.Outcomes[outcomeConflict]++
	o.logger.Info().Str("medication_id", m.ID.String()).Msgf("medication changed concurrently, skipping %s", what)
	return true
}

// Cleanup removes read notifications after the read retention window and
// every other finished notification after the full retention window.
func (o *Orchestrator) Cleanup(ctx context.Context) (rep *StepReport, err error) {
	ctx, rep, done := o.begin(ctx, StepCleanup)
	defer done(&err)

	now := o.now()
	rep.Deleted, err = o.engine.Cleanup(ctx, now.Add(-o.cfg.ReadRetention), now.Add(-o.cfg.Retention))
	return rep, err
}
