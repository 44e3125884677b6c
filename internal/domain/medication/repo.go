package medication

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	Update(ctx context.Context, m *Medication) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Medication, int, error)
	// ListActive pages through active medications ordered by id, starting
	// after the given id (uuid.Nil for the first page).
	ListActive(ctx context.Context, after uuid.UUID, limit int) ([]*Medication, error)
	// ListRefillDue pages through active medications whose next_refill_due is
	// at or before now.
	ListRefillDue(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]*Medication, error)
	AdherenceSummary(ctx context.Context, patientID uuid.UUID, now time.Time) (*AdherenceSummary, error)
}

// AdherenceSummary aggregates per-medication adherence state for one patient.
// It is computed on read, never cached.
type AdherenceSummary struct {
	PatientID         uuid.UUID `json:"patient_id"`
	ActiveMedications int       `json:"active_medications"`
	TotalMissedDoses  int       `json:"total_missed_doses"`
	AverageAdherence  *float64  `json:"average_adherence,omitempty"`
	RefillsDue        int       `json:"refills_due"`
}
