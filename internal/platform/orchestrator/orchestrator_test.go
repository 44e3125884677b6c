package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medicare/medicare/internal/domain/medication"
	"github.com/medicare/medicare/internal/domain/notification"
	"github.com/medicare/medicare/internal/domain/patient"
	"github.com/medicare/medicare/internal/domain/vitals"
	"github.com/medicare/medicare/internal/platform/apperr"
	"github.com/medicare/medicare/internal/platform/delivery"
	"github.com/medicare/medicare/internal/platform/events"
	"github.com/medicare/medicare/internal/platform/scheduler"
	"github.com/medicare/medicare/internal/platform/validation"
)

var start = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type env struct {
	orch      *Orchestrator
	meds      *medication.MemoryRepository
	records   *vitals.MemoryRepository
	notifs    *notification.MemoryRepository
	people    *patient.MemoryRepository
	sms       *delivery.MockChannel
	email     *delivery.MockChannel
	events    *events.MemoryPublisher
	patient   *patient.Patient
	user      *patient.User
	physician *patient.User

	mu    sync.Mutex
	clock time.Time
}

func (e *env) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

func (e *env) advance(d time.Duration) {
	e.mu.Lock()
	e.clock = e.clock.Add(d)
	e.mu.Unlock()
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{
		meds:    medication.NewMemoryRepository(),
		records: vitals.NewMemoryRepository(),
		notifs:  notification.NewMemoryRepository(),
		people:  patient.NewMemoryRepository(),
		sms:     &delivery.MockChannel{},
		email:   &delivery.MockChannel{},
		events:  &events.MemoryPublisher{},
		clock:   start,
	}

	e.user = &patient.User{ID: uuid.New(), FullName: "Ada Lovelace", Phone: "+15550100", NotificationChannel: "sms"}
	e.physician = &patient.User{ID: uuid.New(), FullName: "Dr. Grace Hopper", Email: "grace@example.com", NotificationChannel: "email"}
	for _, u := range []*patient.User{e.user, e.physician} {
		if err := e.people.CreateUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	e.patient = &patient.Patient{ID: uuid.New(), UserID: e.user.ID, PrimaryPhysicianID: &e.physician.ID}
	if err := e.people.CreatePatient(ctx, e.patient); err != nil {
		t.Fatal(err)
	}
	people := patient.NewService(e.people, validation.New())

	dispatcher := delivery.NewDispatcher(zerolog.Nop(),
		delivery.WithChannel(delivery.ChannelSMS, e.sms),
		delivery.WithChannel(delivery.ChannelEmail, e.email),
		delivery.WithChannel(delivery.ChannelInApp, delivery.InAppChannel{}),
		delivery.WithDirectory(people),
	)
	engine := notification.NewEngine(e.notifs, dispatcher, validation.New(), zerolog.Nop(),
		notification.WithEvents(e.events), notification.WithClock(e.now))

	e.orch = New(e.meds, medication.DefaultDosingPolicy(), e.records, people, engine, e.notifs,
		Config{BatchSize: 2, Workers: 3}, zerolog.Nop(), WithEvents(e.events))
	e.orch.now = e.now
	return e
}

func (e *env) addMedication(t *testing.T, mutate func(m *medication.Medication)) *medication.Medication {
	t.Helper()
	m := &medication.Medication{
		ID:                 uuid.New(),
		PatientID:          e.patient.ID,
		Name:               "Metformin",
		Frequency:          medication.TwiceDaily,
		DosageAmount:       500,
		DosageUnit:         "mg",
		QuantityPrescribed: 60000,
		QuantityRemaining:  60000,
		RefillsRemaining:   2,
		Status:             medication.StatusActive,
		StartDate:          start.AddDate(0, 0, -10),
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	if mutate != nil {
		mutate(m)
	}
	if err := e.meds.Create(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return m
}

func (e *env) byType(typ notification.Type) []*notification.Notification {
	var out []*notification.Notification
	for _, n := range e.notifs.All() {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func ip(v int) *int { return &v }

// A systolic reading of 190 raises a critical hypertensive crisis alert that
// reaches both the patient and the assigned physician as pending
// notifications.
func TestHealthAlerts_CrisisReachesPatientAndPhysician(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := &vitals.HealthRecord{ID: uuid.New(), PatientID: e.patient.ID, RecordedAt: start.Add(-30 * time.Minute), SystolicBP: ip(190)}
	e.records.Create(ctx, rec)

	rep, err := e.orch.HealthAlerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 1 || rep.Errors != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}

	var crisis []*notification.Notification
	for _, n := range e.byType(notification.TypeHealthAlert) {
		if n.HealthRecordID != nil && *n.HealthRecordID == rec.ID && strings.Contains(n.Message, "Hypertensive crisis") {
			crisis = append(crisis, n)
		}
	}
	if len(crisis) != 2 {
		t.Fatalf("expected patient and physician crisis alerts, got %d", len(crisis))
	}
	recipients := map[uuid.UUID]*notification.Notification{}
	for _, n := range crisis {
		recipients[n.UserID] = n
		if n.Status != notification.StatusPending || n.Priority != notification.PriorityCritical {
			t.Errorf("expected pending critical alert, got %s/%s", n.Status, n.Priority)
		}
	}
	if recipients[e.user.ID] == nil || recipients[e.physician.ID] == nil {
		t.Fatalf("alerts not addressed to patient and physician: %v", recipients)
	}
	if got := recipients[e.physician.ID].Message; !strings.HasPrefix(got, "Patient Ada Lovelace: ") {
		t.Errorf("physician copy lacks patient name: %q", got)
	}

	stored, _ := e.records.GetByID(ctx, rec.ID)
	if !stored.AnomalyProcessed {
		t.Error("record must be marked processed")
	}
	if len(e.events.OfType(events.AlertRaised)) == 0 {
		t.Error("expected alert events")
	}

	before := len(e.notifs.All())
	if _, err := e.orch.HealthAlerts(ctx); err != nil {
		t.Fatal(err)
	}
	if after := len(e.notifs.All()); after != before {
		t.Errorf("second scan created %d more notifications", after-before)
	}
}

func TestHealthAlerts_NormalRecordMarkedWithoutAlerts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := &vitals.HealthRecord{ID: uuid.New(), PatientID: e.patient.ID, RecordedAt: start.Add(-time.Minute), SystolicBP: ip(120), DiastolicBP: ip(80)}
	old := &vitals.HealthRecord{ID: uuid.New(), PatientID: e.patient.ID, RecordedAt: start.Add(-5 * time.Hour), SystolicBP: ip(200)}
	e.records.Create(ctx, rec)
	e.records.Create(ctx, old)

	rep, err := e.orch.HealthAlerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 1 || rep.Created != 0 {
		t.Errorf("only the in-window record should be scanned, got %+v", rep)
	}
	stored, _ := e.records.GetByID(ctx, rec.ID)
	if !stored.AnomalyProcessed {
		t.Error("record without alerts must still be marked processed")
	}
	if len(e.notifs.All()) != 0 {
		t.Error("no notifications expected")
	}
}

func TestDoseReminders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	due := e.addMedication(t, nil)
	e.addMedication(t, func(m *medication.Medication) {
		taken := start.Add(-time.Hour)
		m.LastTaken = &taken
	})
	e.addMedication(t, func(m *medication.Medication) { m.Status = medication.StatusDiscontinued })
	e.addMedication(t, func(m *medication.Medication) { m.PatientID = uuid.New() })

	rep, err := e.orch.DoseReminders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 3 || rep.Created != 1 || rep.Errors != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	reminders := e.byType(notification.TypeMedicationReminder)
	if len(reminders) != 1 {
		t.Fatalf("expected one reminder, got %d", len(reminders))
	}
	n := reminders[0]
	if *n.MedicationID != due.ID || n.UserID != e.user.ID || n.Channel != notification.ChannelSMS {
		t.Errorf("unexpected reminder %+v", n)
	}
	if n.Message != "Time to take your Metformin (500 mg)" {
		t.Errorf("unexpected message %q", n.Message)
	}
}

func TestRefillReminders(t *testing.T) {
	e := newEnv(t)
	e.addMedication(t, func(m *medication.Medication) {
		d := start.Add(-time.Hour)
		m.NextRefillDue = &d
	})
	e.addMedication(t, func(m *medication.Medication) {
		d := start.Add(24 * time.Hour)
		m.NextRefillDue = &d
	})

	rep, err := e.orch.RefillReminders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Created != 1 || len(e.byType(notification.TypeRefillReminder)) != 1 {
		t.Errorf("expected one refill reminder, got %+v", rep)
	}
}

func TestDispatchPending_WaitsForSchedule(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addMedication(t, nil)
	e.orch.DoseReminders(ctx)

	rep, _ := e.orch.DispatchPending(ctx)
	if rep.Scanned != 0 || len(e.sms.Calls()) != 0 {
		t.Fatalf("reminder dispatched before its scheduled time: %+v", rep)
	}

	e.advance(5 * time.Minute)
	rep, err := e.orch.DispatchPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcomes[string(notification.OutcomeSent)] != 1 {
		t.Fatalf("expected one sent, got %+v", rep.Outcomes)
	}
	calls := e.sms.Calls()
	if len(calls) != 1 || calls[0].Contact.Phone != "+15550100" {
		t.Errorf("expected sms to the patient phone, got %+v", calls)
	}
	n := e.byType(notification.TypeMedicationReminder)[0]
	if n.Status != notification.StatusSent {
		t.Errorf("expected sent, got %s", n.Status)
	}
}

func TestDispatchPending_ManyInParallel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		e.addMedication(t, nil)
	}
	e.orch.DoseReminders(ctx)
	e.advance(5 * time.Minute)

	rep, err := e.orch.DispatchPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 7 || rep.Outcomes[string(notification.OutcomeSent)] != 7 {
		t.Errorf("expected all 7 sent across pages, got %+v", rep)
	}
	if len(e.sms.Calls()) != 7 {
		t.Errorf("expected 7 sends, got %d", len(e.sms.Calls()))
	}
}

// Three consecutive transport failures end in terminal failure with
// retry_count == max_retries.
func TestRetryFailed_UntilExhausted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.email.ShouldFail = true
	n := notification.NewRefillReminder(notification.Recipient{UserID: e.physician.ID, Channel: notification.ChannelEmail},
		&medication.Medication{ID: uuid.New(), Name: "Warfarin", RefillsRemaining: 1}, start)
	if err := e.orch.engine.Create(ctx, n); err != nil {
		t.Fatal(err)
	}

	rep, _ := e.orch.DispatchPending(ctx)
	if rep.Outcomes[string(notification.OutcomeFailed)] != 1 {
		t.Fatalf("expected first attempt to fail, got %+v", rep.Outcomes)
	}
	for i := 1; i <= 2; i++ {
		if rep, _ := e.orch.RetryFailed(ctx); rep.Scanned != 0 {
			t.Fatalf("retry %d ran before backoff elapsed", i)
		}
		e.advance(notification.Backoff(i))
		rep, err := e.orch.RetryFailed(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if rep.Outcomes[string(notification.OutcomeFailed)] != 1 {
			t.Fatalf("retry %d: expected failed re-dispatch, got %+v", i, rep.Outcomes)
		}
	}

	stored, _ := e.notifs.GetByID(ctx, n.ID)
	if stored.Status != notification.StatusFailed || stored.RetryCount != 3 || stored.MaxRetries != 3 {
		t.Fatalf("expected terminal failure, got %s retry %d/%d", stored.Status, stored.RetryCount, stored.MaxRetries)
	}
	e.advance(24 * time.Hour)
	if rep, _ := e.orch.RetryFailed(ctx); rep.Scanned != 0 {
		t.Error("exhausted notification was picked up again")
	}
	if got := len(e.email.Calls()); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestExpirePending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addMedication(t, nil)
	e.orch.DoseReminders(ctx)
	e.advance(3 * time.Hour)

	rep, err := e.orch.ExpirePending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcomes[string(notification.OutcomeExpired)] != 1 {
		t.Fatalf("expected one expiry, got %+v", rep.Outcomes)
	}
	n := e.byType(notification.TypeMedicationReminder)[0]
	if n.Status != notification.StatusCancelled {
		t.Errorf("expected cancelled, got %s", n.Status)
	}
	if rep, _ := e.orch.DispatchPending(ctx); rep.Scanned != 0 || len(e.sms.Calls()) != 0 {
		t.Error("expired reminder must never be sent")
	}
}

func TestRefreshAdherenceAndCompleteEnded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scored := e.addMedication(t, func(m *medication.Medication) { m.MissedDoses = 2 })
	ended := e.addMedication(t, func(m *medication.Medication) {
		end := start.Add(-time.Hour)
		m.EndDate = &end
	})
	broken := e.addMedication(t, func(m *medication.Medication) {
		end := start.Add(-time.Hour)
		m.EndDate = &end
	})
	e.meds.FailUpdate[broken.ID] = errors.New("disk full")

	rep, err := e.orch.RefreshAdherence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Updated != 2 || rep.Errors != 1 {
		t.Errorf("unexpected adherence report %+v", rep)
	}
	got, _ := e.meds.GetByID(ctx, scored.ID)
	// 10 days at 2 doses a day of 500 units = 10000 expected, 2 missed.
	if got.AdherenceScore == nil || *got.AdherenceScore != 99.98 {
		t.Errorf("unexpected adherence score %v", got.AdherenceScore)
	}

	rep, err = e.orch.CompleteEnded(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Updated != 1 || rep.Errors != 1 {
		t.Errorf("expected one completion and one isolated failure, got %+v", rep)
	}
	got, _ = e.meds.GetByID(ctx, ended.ID)
	if got.Status != medication.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestMedicationStepsSkipConcurrentChanges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	changed := e.addMedication(t, func(m *medication.Medication) {
		m.MissedDoses = 2
		end := start.Add(-time.Hour)
		m.EndDate = &end
	})
	// The row moved on after the step read its page.
	e.meds.FailUpdate[changed.ID] = apperr.ErrConflict

	for _, run := range []func(context.Context) (*StepReport, error){e.orch.RefreshAdherence, e.orch.CompleteEnded} {
		rep, err := run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if rep.Errors != 0 || rep.Updated != 0 || rep.Outcomes[outcomeConflict] != 1 {
			t.Errorf("%s: expected one skipped conflict, got %+v", rep.Step, rep)
		}
	}
	got, _ := e.meds.GetByID(ctx, changed.ID)
	if got.Status != medication.StatusActive || got.AdherenceScore != nil {
		t.Errorf("conflicting write must not be applied, got %+v", got)
	}
}

func TestCleanup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user.NotificationChannel = "in_app"
	e.people.UpdateUser(ctx, e.user)
	e.addMedication(t, nil)
	e.orch.DoseReminders(ctx)
	n := e.byType(notification.TypeMedicationReminder)[0]
	if _, err := e.orch.engine.MarkRead(ctx, n.ID); err != nil {
		t.Fatal(err)
	}

	e.advance(31 * 24 * time.Hour)
	rep, err := e.orch.Cleanup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Deleted != 1 || len(e.notifs.All()) != 0 {
		t.Errorf("expected read notification removed, got %+v", rep)
	}
}

func TestRunAll(t *testing.T) {
	e := newEnv(t)
	e.addMedication(t, nil)
	reports := e.orch.RunAll(context.Background())
	if len(reports) != 6 {
		t.Fatalf("expected 6 reports, got %d", len(reports))
	}
	if reports[0].Step != StepDoseReminders || reports[0].Created != 1 {
		t.Errorf("unexpected first report %+v", reports[0])
	}
	for _, r := range reports {
		if r == nil {
			t.Fatal("missing report")
		}
	}
}

func TestRun_UnknownStep(t *testing.T) {
	e := newEnv(t)
	if _, err := e.orch.Run(context.Background(), "defragment"); err == nil {
		t.Error("expected error for unknown step")
	}
}

func TestRegister(t *testing.T) {
	e := newEnv(t)
	s := scheduler.New(zerolog.Nop())
	if err := e.orch.Register(s, Schedule{StepDispatchPending: 30 * time.Second}); err != nil {
		t.Fatal(err)
	}
	if got := len(s.Names()); got != len(Steps()) {
		t.Fatalf("expected %d jobs, got %d", len(Steps()), got)
	}
	e.addMedication(t, nil)
	if ran, err := s.RunOnce(context.Background(), StepDoseReminders); !ran || err != nil {
		t.Fatalf("expected job to run, ran=%v err=%v", ran, err)
	}
	if len(e.byType(notification.TypeMedicationReminder)) != 1 {
		t.Error("scheduled job did not create the reminder")
	}
}
