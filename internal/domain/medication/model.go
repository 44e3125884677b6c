package medication

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
)

type Frequency string

const (
	OnceDaily       Frequency = "once_daily"
	TwiceDaily      Frequency = "twice_daily"
	ThreeTimesDaily Frequency = "three_times_daily"
	FourTimesDaily  Frequency = "four_times_daily"
	Weekly          Frequency = "weekly"
	Monthly         Frequency = "monthly"
	AsNeeded        Frequency = "as_needed"
	Custom          Frequency = "custom"
)

type Status string

const (
	StatusActive       Status = "active"
	StatusInactive     Status = "inactive"
	StatusDiscontinued Status = "discontinued"
	StatusCompleted    Status = "completed"
	StatusOnHold       Status = "on_hold"
)

// Terminal statuses cannot be left.
func (s Status) Terminal() bool {
	return s == StatusDiscontinued || s == StatusCompleted
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDiscontinued, StatusCompleted, StatusOnHold:
		return true
	}
	return false
}

// refillLeadDays is how many days of supply should remain when a refill
// becomes due.
const refillLeadDays = 7

// DosingPolicy carries the tunable heuristics for frequencies without a fixed
// clinical interval. Fixed frequencies ignore it.
type DosingPolicy struct {
	AsNeededInterval   time.Duration
	AsNeededDailyDoses float64
	CustomInterval     time.Duration
	CustomDailyDoses   float64
}

func DefaultDosingPolicy() DosingPolicy {
	return DosingPolicy{
		AsNeededInterval:   4 * time.Hour,
		AsNeededDailyDoses: 0.5,
		CustomInterval:     24 * time.Hour,
		CustomDailyDoses:   1,
	}
}

// Interval is the minimum spacing between doses. This is a threshold check,
// not a pharmacological schedule.
func (p DosingPolicy) Interval(f Frequency) time.Duration {
	switch f {
	case OnceDaily:
		return 24 * time.Hour
	case TwiceDaily:
		return 12 * time.Hour
	case ThreeTimesDaily:
		return 8 * time.Hour
	case FourTimesDaily:
		return 6 * time.Hour
	case Weekly:
		return 168 * time.Hour
	case Monthly:
		return 720 * time.Hour
	case AsNeeded:
		return p.AsNeededInterval
	default:
		return p.CustomInterval
	}
}

// DosesPerDay is the expected number of doses per day for f.
func (p DosingPolicy) DosesPerDay(f Frequency) float64 {
	switch f {
	case OnceDaily:
		return 1
	case TwiceDaily:
		return 2
	case ThreeTimesDaily:
		return 3
	case FourTimesDaily:
		return 4
	case Weekly:
		return 1.0 / 7
	case Monthly:
		return 1.0 / 30
	case AsNeeded:
		return p.AsNeededDailyDoses
	default:
		return p.CustomDailyDoses
	}
}

func ValidFrequency(f Frequency) bool {
	switch f {
	case OnceDaily, TwiceDaily, ThreeTimesDaily, FourTimesDaily, Weekly, Monthly, AsNeeded, Custom:
		return true
	}
	return false
}

// Medication is one prescribed medication owned by a single patient. Rows are
// never deleted; terminal statuses replace deletion.
type Medication struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	Name               string     `json:"name"`
	Frequency          Frequency  `json:"frequency"`
	DosageAmount       float64    `json:"dosage_amount"`
	DosageUnit         string     `json:"dosage_unit"`
	Route              string     `json:"route"`
	Instructions       string     `json:"instructions,omitempty"`
	QuantityPrescribed float64    `json:"quantity_prescribed"`
	QuantityRemaining  float64    `json:"quantity_remaining"`
	RefillsRemaining   int        `json:"refills_remaining"`
	LastRefillDate     *time.Time `json:"last_refill_date,omitempty"`
	NextRefillDue      *time.Time `json:"next_refill_due,omitempty"`
	Status             Status     `json:"status"`
	IsCritical         bool       `json:"is_critical"`
	StartDate          time.Time  `json:"start_date"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	MissedDoses        int        `json:"missed_doses"`
	LastTaken          *time.Time `json:"last_taken,omitempty"`
	AdherenceScore     *float64   `json:"adherence_score,omitempty"`
	DiscontinuedAt     *time.Time `json:"discontinued_at,omitempty"`
	DiscontinueReason  *string    `json:"discontinue_reason,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	// Version is bumped on every write and guards against lost updates.
	Version            int        `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (m *Medication) IsActive() bool {
	return m.Status == StatusActive
}

func (m *Medication) requireActive(op string) error {
	if !m.IsActive() {
		return apperr.InvalidState("medication", string(m.Status), op)
	}
	return nil
}

func (m *Medication) doseAmount() float64 {
	if m.DosageAmount > 0 {
		return m.DosageAmount
	}
	return 1
}

// DailyConsumption is the expected units consumed per day.
func (m *Medication) DailyConsumption(p DosingPolicy) float64 {
	return m.doseAmount() * p.DosesPerDay(m.Frequency)
}

// DaysSupplyRemaining is the whole number of days the remaining quantity lasts.
func (m *Medication) DaysSupplyRemaining(p DosingPolicy) int {
	daily := m.DailyConsumption(p)
	if daily <= 0 || m.QuantityRemaining <= 0 {
		return 0
	}
	return int(math.Floor(m.QuantityRemaining / daily))
}

// IsDoseDue reports whether the frequency interval has elapsed since the last
// dose. A medication that was never taken is always due.
func (m *Medication) IsDoseDue(now time.Time, p DosingPolicy) bool {
	if m.LastTaken == nil {
		return true
	}
	return now.Sub(*m.LastTaken) >= p.Interval(m.Frequency)
}

func (m *Medication) NeedsRefill(now time.Time) bool {
	return m.NextRefillDue != nil && !now.Before(*m.NextRefillDue)
}

// IsExpired reports whether the course end date has passed.
func (m *Medication) IsExpired(now time.Time) bool {
	return m.EndDate != nil && now.After(*m.EndDate)
}

// CalculateNextRefillDate schedules the refill for when refillLeadDays of
// supply remain. With that much supply or less the existing value is left
// untouched.
func (m *Medication) CalculateNextRefillDate(now time.Time, p DosingPolicy) {
	days := m.DaysSupplyRemaining(p)
	if days <= refillLeadDays {
		return
	}
	due := now.AddDate(0, 0, days-refillLeadDays)
	m.NextRefillDue = &due
}

func (m *Medication) RecordDoseTaken(now time.Time, p DosingPolicy) error {
	if err := m.requireActive("record dose"); err != nil {
		return err
	}
	m.LastTaken = &now
	m.QuantityRemaining = math.Max(0, m.QuantityRemaining-m.doseAmount())
	m.CalculateNextRefillDate(now, p)
	m.UpdatedAt = now
	return nil
}

func (m *Medication) RecordMissedDose(now time.Time, p DosingPolicy) error {
	if err := m.requireActive("record missed dose"); err != nil {
		return err
	}
	m.MissedDoses++
	m.UpdateAdherenceScore(now, p)
	m.UpdatedAt = now
	return nil
}

// UpdateAdherenceScore recomputes the score from expected versus missed doses.
// Before the first full day, or when nothing is expected, the score is kept
// as is.
func (m *Medication) UpdateAdherenceScore(now time.Time, p DosingPolicy) {
	days := int(now.Sub(m.StartDate).Hours() / 24)
	if days <= 0 {
		return
	}
	expected := float64(days) * m.DailyConsumption(p)
	if expected <= 0 {
		return
	}
	score := math.Max(0, (expected-float64(m.MissedDoses))/expected*100)
	score = math.Round(score*100) / 100
	m.AdherenceScore = &score
}

func (m *Medication) AddRefill(quantity float64, refills int, now time.Time, p DosingPolicy) error {
	if quantity <= 0 {
		return apperr.Validation("quantity", "must be greater than 0")
	}
	if refills < 0 {
		return apperr.Validation("refills", "must be at least 0")
	}
	if err := m.requireActive("add refill"); err != nil {
		return err
	}
	m.QuantityRemaining += quantity
	m.RefillsRemaining = refills
	m.LastRefillDate = &now
	m.CalculateNextRefillDate(now, p)
	m.UpdatedAt = now
	return nil
}

func (m *Medication) Discontinue(reason string, now time.Time) error {
	if err := m.ChangeStatus(StatusDiscontinued, now); err != nil {
		return err
	}
	m.DiscontinuedAt = &now
	if reason = strings.TrimSpace(reason); reason != "" {
		m.DiscontinueReason = &reason
		m.Notes = strings.TrimSpace(m.Notes + "\nDiscontinued: " + reason)
	}
	return nil
}

var allowedStatus = map[Status][]Status{
	StatusActive:   {StatusInactive, StatusOnHold, StatusCompleted, StatusDiscontinued},
	StatusInactive: {StatusActive, StatusOnHold, StatusCompleted, StatusDiscontinued},
	StatusOnHold:   {StatusActive, StatusInactive, StatusCompleted, StatusDiscontinued},
}

// ChangeStatus applies a lifecycle transition. Discontinued and completed are
// terminal.
func (m *Medication) ChangeStatus(to Status, now time.Time) error {
	if !to.Valid() {
		return apperr.Validation("status", "unknown status %q", to)
	}
	for _, s := range allowedStatus[m.Status] {
		if s == to {
			m.Status = to
			m.UpdatedAt = now
			return nil
		}
	}
	return apperr.InvalidState("medication", string(m.Status), fmt.Sprintf("transition to %s", to))
}

// Validate checks the invariants required at prescription time.
func (m *Medication) Validate() error {
	switch {
	case strings.TrimSpace(m.Name) == "":
		return apperr.Validation("name", "is required")
	case !ValidFrequency(m.Frequency):
		return apperr.Validation("frequency", "unknown frequency %q", m.Frequency)
	case m.DosageAmount <= 0:
		return apperr.Validation("dosage_amount", "must be greater than 0")
	case m.QuantityPrescribed <= 0:
		return apperr.Validation("quantity_prescribed", "must be greater than 0")
	case m.QuantityRemaining < 0:
		return apperr.Validation("quantity_remaining", "must not be negative")
	case m.RefillsRemaining < 0:
		return apperr.Validation("refills_remaining", "must not be negative")
	case m.EndDate != nil && m.EndDate.Before(m.StartDate):
		return apperr.Validation("end_date", "must not precede start_date")
	}
	return nil
}
