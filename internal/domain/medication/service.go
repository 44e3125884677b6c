package medication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
	"github.com/medicare/medicare/internal/platform/validation"
)

type CreateInput struct {
	Name               string     `json:"name" validate:"not_blank,max=200"`
	Frequency          Frequency  `json:"frequency" validate:"required,oneof=once_daily twice_daily three_times_daily four_times_daily weekly monthly as_needed custom"`
	DosageAmount       float64    `json:"dosage_amount" validate:"gt=0"`
	DosageUnit         string     `json:"dosage_unit" validate:"not_blank,max=30"`
	Route              string     `json:"route" validate:"omitempty,max=30"`
	Instructions       string     `json:"instructions"`
	QuantityPrescribed float64    `json:"quantity_prescribed" validate:"gt=0"`
	RefillsRemaining   int        `json:"refills_remaining" validate:"gte=0"`
	IsCritical         bool       `json:"is_critical"`
	StartDate          *time.Time `json:"start_date"`
	EndDate            *time.Time `json:"end_date"`
	Notes              string     `json:"notes"`
}

type RefillInput struct {
	Quantity float64 `json:"quantity" validate:"gt=0"`
	Refills  int     `json:"refills" validate:"gte=0"`
}

type Service struct {
	repo     Repository
	validate *validation.Validator
	policy   DosingPolicy
	now      func() time.Time
}

func NewService(repo Repository, v *validation.Validator, policy DosingPolicy) *Service {
	return &Service{repo: repo, validate: v, policy: policy, now: time.Now}
}

func (s *Service) Policy() DosingPolicy { return s.policy }

// Prescribe creates an active medication with a full supply and computes its
// first refill date.
func (s *Service) Prescribe(ctx context.Context, patientID uuid.UUID, in CreateInput) (*Medication, error) {
	if err := s.validate.Validate(in); err != nil {
		return nil, err
	}
	now := s.now()
	m := &Medication{
		ID:                 uuid.New(),
		PatientID:          patientID,
		Name:               strings.TrimSpace(in.Name),
		Frequency:          in.Frequency,
		DosageAmount:       in.DosageAmount,
		DosageUnit:         in.DosageUnit,
		Route:              in.Route,
		Instructions:       in.Instructions,
		QuantityPrescribed: in.QuantityPrescribed,
		QuantityRemaining:  in.QuantityPrescribed,
		RefillsRemaining:   in.RefillsRemaining,
		Status:             StatusActive,
		IsCritical:         in.IsCritical,
		StartDate:          now,
		EndDate:            in.EndDate,
		Notes:              in.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if m.Route == "" {
		m.Route = "oral"
	}
	if in.StartDate != nil {
		m.StartDate = *in.StartDate
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.CalculateNextRefillDate(now, s.policy)

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create medication: %w", err)
	}
	return m, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Medication, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// mutateAttempts bounds how often a write that lost a version race is
// re-applied on a fresh read.
const mutateAttempts = 3

// mutate loads a medication, applies fn and persists the result. Errors from
// fn leave the stored row untouched. A concurrent write in between makes the
// update conflict, and fn is then applied again to the current row.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(m *Medication, now time.Time) error) (*Medication, error) {
	var err error
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		var m *Medication
		m, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(m, s.now()); err != nil {
			return nil, err
		}
		err = s.repo.Update(ctx, m)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			break
		}
	}
	return nil, fmt.Errorf("update medication %s: %w", id, err)
}

func (s *Service) RecordDoseTaken(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return s.mutate(ctx, id, func(m *Medication, now time.Time) error {
		return m.RecordDoseTaken(now, s.policy)
	})
}

func (s *Service) RecordMissedDose(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return s.mutate(ctx, id, func(m *Medication, now time.Time) error {
		return m.RecordMissedDose(now, s.policy)
	})
}

func (s *Service) AddRefill(ctx context.Context, id uuid.UUID, in RefillInput) (*Medication, error) {
	if err := s.validate.Validate(in); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(m *Medication, now time.Time) error {
		return m.AddRefill(in.Quantity, in.Refills, now, s.policy)
	})
}

func (s *Service) Discontinue(ctx context.Context, id uuid.UUID, reason string) (*Medication, error) {
	return s.mutate(ctx, id, func(m *Medication, now time.Time) error {
		return m.Discontinue(reason, now)
	})
}

func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, status Status) (*Medication, error) {
	return s.mutate(ctx, id, func(m *Medication, now time.Time) error {
		return m.ChangeStatus(status, now)
	})
}

// Interactions screens a medication against the patient's other medications.
func (s *Service) Interactions(ctx context.Context, id uuid.UUID) ([]Interaction, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	others, _, err := s.repo.ListByPatient(ctx, m.PatientID, 500, 0)
	if err != nil {
		return nil, fmt.Errorf("list patient medications: %w", err)
	}
	return m.CheckInteractions(others), nil
}

func (s *Service) AdherenceSummary(ctx context.Context, patientID uuid.UUID) (*AdherenceSummary, error) {
	return s.repo.AdherenceSummary(ctx, patientID, s.now())
}
