package medication

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
)

var policy = DefaultDosingPolicy()

func ptrTime(t time.Time) *time.Time { return &t }

func newMed(freq Frequency, dose, qty float64) *Medication {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &Medication{
		ID:                 uuid.New(),
		PatientID:          uuid.New(),
		Name:               "Metformin",
		Frequency:          freq,
		DosageAmount:       dose,
		DosageUnit:         "tablet",
		QuantityPrescribed: qty,
		QuantityRemaining:  qty,
		Status:             StatusActive,
		StartDate:          now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestDailyConsumption(t *testing.T) {
	tests := []struct {
		freq Frequency
		dose float64
		want float64
	}{
		{OnceDaily, 1, 1},
		{TwiceDaily, 1, 2},
		{ThreeTimesDaily, 2, 6},
		{FourTimesDaily, 0.5, 2},
		{Weekly, 7, 1},
		{Monthly, 30, 1},
		{AsNeeded, 2, 1},
		{Custom, 3, 3},
	}
	for _, tt := range tests {
		m := newMed(tt.freq, tt.dose, 10)
		got := m.DailyConsumption(policy)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s x %v: got %v, want %v", tt.freq, tt.dose, got, tt.want)
		}
	}
}

func TestDailyConsumption_UsesPolicy(t *testing.T) {
	p := policy
	p.AsNeededDailyDoses = 2
	m := newMed(AsNeeded, 1, 10)
	if got := m.DailyConsumption(p); got != 2 {
		t.Errorf("expected tuned as-needed consumption 2, got %v", got)
	}
}

func TestIsDoseDue_NeverTaken(t *testing.T) {
	for _, f := range []Frequency{OnceDaily, TwiceDaily, Weekly, AsNeeded, Custom} {
		m := newMed(f, 1, 10)
		if !m.IsDoseDue(time.Now(), policy) {
			t.Errorf("%s: expected dose due when never taken", f)
		}
	}
}

func TestIsDoseDue_OnceDailyThreshold(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := newMed(OnceDaily, 1, 10)

	m.LastTaken = ptrTime(now.Add(-23 * time.Hour))
	if m.IsDoseDue(now, policy) {
		t.Error("expected not due 23h after last dose")
	}

	m.LastTaken = ptrTime(now.Add(-24*time.Hour - time.Second))
	if !m.IsDoseDue(now, policy) {
		t.Error("expected due just past 24h after last dose")
	}

	m.LastTaken = ptrTime(now.Add(-24 * time.Hour))
	if !m.IsDoseDue(now, policy) {
		t.Error("expected due exactly 24h after last dose")
	}
}

func TestIsDoseDue_Intervals(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		freq     Frequency
		interval time.Duration
	}{
		{TwiceDaily, 12 * time.Hour},
		{ThreeTimesDaily, 8 * time.Hour},
		{FourTimesDaily, 6 * time.Hour},
		{Weekly, 168 * time.Hour},
		{Monthly, 720 * time.Hour},
		{AsNeeded, 4 * time.Hour},
		{Custom, 24 * time.Hour},
	}
	for _, tt := range tests {
		m := newMed(tt.freq, 1, 10)
		m.LastTaken = ptrTime(now.Add(-tt.interval + time.Minute))
		if m.IsDoseDue(now, policy) {
			t.Errorf("%s: expected not due a minute before %s", tt.freq, tt.interval)
		}
		m.LastTaken = ptrTime(now.Add(-tt.interval))
		if !m.IsDoseDue(now, policy) {
			t.Errorf("%s: expected due at %s", tt.freq, tt.interval)
		}
	}
}

func TestRecordDoseTaken_FloorsAtZero(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for _, start := range []float64{0, 0.5, 1, 1.5, 2, 3, 100} {
		m := newMed(OnceDaily, 2, 10)
		m.QuantityRemaining = start
		for i := 0; i < 5; i++ {
			if err := m.RecordDoseTaken(now, policy); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.QuantityRemaining < 0 {
				t.Fatalf("start %v: quantity went negative: %v", start, m.QuantityRemaining)
			}
		}
	}
}

func TestRecordDoseTaken_UpdatesState(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := newMed(OnceDaily, 1, 30)

	if err := m.RecordDoseTaken(now, policy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.LastTaken == nil || !m.LastTaken.Equal(now) {
		t.Errorf("expected last taken %s, got %v", now, m.LastTaken)
	}
	if m.QuantityRemaining != 29 {
		t.Errorf("expected 29 remaining, got %v", m.QuantityRemaining)
	}
	// 29 days of supply: refill due when 7 remain.
	want := now.AddDate(0, 0, 22)
	if m.NextRefillDue == nil || !m.NextRefillDue.Equal(want) {
		t.Errorf("expected next refill %s, got %v", want, m.NextRefillDue)
	}
}

func TestCalculateNextRefillDate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	m := newMed(TwiceDaily, 1, 10)
	if got := m.DaysSupplyRemaining(policy); got != 5 {
		t.Fatalf("expected 5 days supply, got %d", got)
	}
	m.CalculateNextRefillDate(now, policy)
	if m.NextRefillDue != nil {
		t.Errorf("expected next refill unset with 5 days supply, got %v", m.NextRefillDue)
	}

	m.QuantityRemaining = 20
	m.CalculateNextRefillDate(now, policy)
	want := now.AddDate(0, 0, 3)
	if m.NextRefillDue == nil || !m.NextRefillDue.Equal(want) {
		t.Errorf("expected next refill %s, got %v", want, m.NextRefillDue)
	}

	// Running low keeps the due date already computed.
	m.QuantityRemaining = 10
	m.CalculateNextRefillDate(now.AddDate(0, 0, 2), policy)
	if m.NextRefillDue == nil || !m.NextRefillDue.Equal(want) {
		t.Errorf("expected next refill kept at %s, got %v", want, m.NextRefillDue)
	}
}

func TestCalculateNextRefillDate_ExactlySevenDays(t *testing.T) {
	now := time.Now()
	m := newMed(OnceDaily, 1, 7)
	m.CalculateNextRefillDate(now, policy)
	if m.NextRefillDue != nil {
		t.Error("expected no refill date with exactly 7 days of supply")
	}
}

func TestUpdateAdherenceScore(t *testing.T) {
	m := newMed(TwiceDaily, 1, 60)
	now := m.StartDate.Add(10 * 24 * time.Hour)
	m.MissedDoses = 5

	m.UpdateAdherenceScore(now, policy)
	if m.AdherenceScore == nil || *m.AdherenceScore != 75 {
		t.Fatalf("expected 75, got %v", m.AdherenceScore)
	}

	m.MissedDoses = 100
	m.UpdateAdherenceScore(now, policy)
	if *m.AdherenceScore != 0 {
		t.Errorf("expected score floored at 0, got %v", *m.AdherenceScore)
	}

	m.MissedDoses = 1
	m.Frequency = ThreeTimesDaily
	m.UpdateAdherenceScore(now, policy)
	if *m.AdherenceScore != 96.67 {
		t.Errorf("expected 96.67, got %v", *m.AdherenceScore)
	}
}

func TestUpdateAdherenceScore_ZeroDaysUnchanged(t *testing.T) {
	m := newMed(OnceDaily, 1, 30)
	m.MissedDoses = 3

	m.UpdateAdherenceScore(m.StartDate.Add(23*time.Hour), policy)
	if m.AdherenceScore != nil {
		t.Errorf("expected nil score on day zero, got %v", *m.AdherenceScore)
	}

	prev := 88.5
	m.AdherenceScore = &prev
	m.UpdateAdherenceScore(m.StartDate, policy)
	if *m.AdherenceScore != 88.5 {
		t.Errorf("expected score unchanged, got %v", *m.AdherenceScore)
	}
}

func TestUpdateAdherenceScore_NotMonotonic(t *testing.T) {
	m := newMed(OnceDaily, 1, 30)
	m.MissedDoses = 5
	m.UpdateAdherenceScore(m.StartDate.AddDate(0, 0, 10), policy)
	first := *m.AdherenceScore

	m.UpdateAdherenceScore(m.StartDate.AddDate(0, 0, 20), policy)
	if *m.AdherenceScore <= first {
		t.Errorf("expected score to recover over time: %v then %v", first, *m.AdherenceScore)
	}
}

func TestRecordMissedDose(t *testing.T) {
	m := newMed(OnceDaily, 1, 30)
	now := m.StartDate.AddDate(0, 0, 4)
	if err := m.RecordMissedDose(now, policy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.MissedDoses != 1 {
		t.Errorf("expected 1 missed dose, got %d", m.MissedDoses)
	}
	if m.AdherenceScore == nil || *m.AdherenceScore != 75 {
		t.Errorf("expected 75, got %v", m.AdherenceScore)
	}
}

func TestAddRefill(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := newMed(OnceDaily, 1, 30)
	m.QuantityRemaining = 3

	if err := m.AddRefill(30, 2, now, policy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.QuantityRemaining != 33 || m.RefillsRemaining != 2 {
		t.Errorf("unexpected supply: %v / %d", m.QuantityRemaining, m.RefillsRemaining)
	}
	if m.LastRefillDate == nil || !m.LastRefillDate.Equal(now) {
		t.Errorf("expected last refill date stamped")
	}
	if want := now.AddDate(0, 0, 26); m.NextRefillDue == nil || !m.NextRefillDue.Equal(want) {
		t.Errorf("expected next refill %s, got %v", want, m.NextRefillDue)
	}
}

func TestAddRefill_Validation(t *testing.T) {
	m := newMed(OnceDaily, 1, 30)
	before := *m

	for _, tc := range []struct {
		qty     float64
		refills int
	}{{0, 1}, {-5, 1}, {10, -1}} {
		err := m.AddRefill(tc.qty, tc.refills, time.Now(), policy)
		if !apperr.IsValidation(err) {
			t.Errorf("qty=%v refills=%d: expected ValidationError, got %v", tc.qty, tc.refills, err)
		}
	}
	if m.QuantityRemaining != before.QuantityRemaining || m.RefillsRemaining != before.RefillsRemaining {
		t.Error("validation failure must not mutate state")
	}
}

func TestDiscontinue(t *testing.T) {
	now := time.Now()
	m := newMed(OnceDaily, 1, 30)
	m.Notes = "Take with food"

	if err := m.Discontinue("adverse reaction", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Status != StatusDiscontinued {
		t.Errorf("expected discontinued, got %s", m.Status)
	}
	if m.DiscontinuedAt == nil {
		t.Error("expected discontinued_at stamped")
	}
	if m.Notes != "Take with food\nDiscontinued: adverse reaction" {
		t.Errorf("unexpected notes %q", m.Notes)
	}

	ops := map[string]func() error{
		"dose":     func() error { return m.RecordDoseTaken(now, policy) },
		"missed":   func() error { return m.RecordMissedDose(now, policy) },
		"refill":   func() error { return m.AddRefill(10, 0, now, policy) },
		"reopen":   func() error { return m.ChangeStatus(StatusActive, now) },
		"again":    func() error { return m.Discontinue("", now) },
		"complete": func() error { return m.ChangeStatus(StatusCompleted, now) },
	}
	for name, op := range ops {
		if err := op(); !apperr.IsInvalidState(err) {
			t.Errorf("%s on discontinued medication: expected InvalidStateError, got %v", name, err)
		}
	}
}

func TestChangeStatus(t *testing.T) {
	now := time.Now()
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusActive, StatusOnHold, true},
		{StatusOnHold, StatusActive, true},
		{StatusActive, StatusInactive, true},
		{StatusInactive, StatusActive, true},
		{StatusActive, StatusCompleted, true},
		{StatusOnHold, StatusDiscontinued, true},
		{StatusCompleted, StatusActive, false},
		{StatusDiscontinued, StatusOnHold, false},
		{StatusActive, StatusActive, false},
	}
	for _, tt := range tests {
		m := newMed(OnceDaily, 1, 10)
		m.Status = tt.from
		err := m.ChangeStatus(tt.to, now)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: got err %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
	}

	m := newMed(OnceDaily, 1, 10)
	if err := m.ChangeStatus("paused", now); !apperr.IsValidation(err) {
		t.Errorf("expected ValidationError for unknown status, got %v", err)
	}
}

func TestDosingRejectedWhenNotActive(t *testing.T) {
	for _, s := range []Status{StatusOnHold, StatusInactive, StatusCompleted} {
		m := newMed(OnceDaily, 1, 10)
		m.Status = s
		if err := m.RecordDoseTaken(time.Now(), policy); !apperr.IsInvalidState(err) {
			t.Errorf("%s: expected InvalidStateError, got %v", s, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Medication)
		field  string
	}{
		{"valid", func(m *Medication) {}, ""},
		{"zero dose", func(m *Medication) { m.DosageAmount = 0 }, "dosage_amount"},
		{"negative quantity", func(m *Medication) { m.QuantityPrescribed = -1 }, "quantity_prescribed"},
		{"unknown frequency", func(m *Medication) { m.Frequency = "hourly" }, "frequency"},
		{"blank name", func(m *Medication) { m.Name = " " }, "name"},
		{"end before start", func(m *Medication) { m.EndDate = ptrTime(m.StartDate.Add(-time.Hour)) }, "end_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMed(OnceDaily, 1, 10)
			tt.mutate(m)
			err := m.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			ve, ok := err.(*apperr.ValidationError)
			if !ok || ve.Field != tt.field {
				t.Errorf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestIsExpiredAndNeedsRefill(t *testing.T) {
	now := time.Now()
	m := newMed(OnceDaily, 1, 10)
	if m.IsExpired(now) || m.NeedsRefill(now) {
		t.Error("fresh medication should be neither expired nor due for refill")
	}
	m.EndDate = ptrTime(now.Add(-time.Minute))
	m.NextRefillDue = ptrTime(now)
	if !m.IsExpired(now) {
		t.Error("expected expired after end date")
	}
	if !m.NeedsRefill(now) {
		t.Error("expected refill due at next_refill_due")
	}
}

func TestCheckInteractions(t *testing.T) {
	warfarin := newMed(OnceDaily, 5, 30)
	warfarin.Name = "Warfarin"
	aspirin := newMed(OnceDaily, 1, 30)
	aspirin.Name = "Low-dose Aspirin"
	stopped := newMed(OnceDaily, 1, 30)
	stopped.Name = "Ibuprofen"
	stopped.Status = StatusDiscontinued
	vitamin := newMed(OnceDaily, 1, 30)
	vitamin.Name = "Vitamin D"

	got := warfarin.CheckInteractions([]*Medication{warfarin, aspirin, stopped, vitamin})
	if len(got) != 1 {
		t.Fatalf("expected 1 interaction, got %+v", got)
	}
	if got[0].MedicationID != aspirin.ID || got[0].Severity != "high" {
		t.Errorf("unexpected interaction %+v", got[0])
	}

	// Symmetric.
	if back := aspirin.CheckInteractions([]*Medication{warfarin}); len(back) != 1 {
		t.Errorf("expected symmetric match, got %+v", back)
	}
}
