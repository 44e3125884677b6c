package vitals

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/validation"
)

type RecordInput struct {
	RecordedAt       *time.Time `json:"recorded_at"`
	SystolicBP       *int       `json:"systolic_bp" validate:"omitempty,gte=40,lte=300"`
	DiastolicBP      *int       `json:"diastolic_bp" validate:"omitempty,gte=20,lte=200"`
	HeartRate        *int       `json:"heart_rate" validate:"omitempty,gte=20,lte=250"`
	Temperature      *float64   `json:"temperature" validate:"omitempty,gte=85,lte=110"`
	RespiratoryRate  *int       `json:"respiratory_rate" validate:"omitempty,gte=4,lte=60"`
	OxygenSaturation *float64   `json:"oxygen_saturation" validate:"omitempty,gte=50,lte=100"`
	BloodSugar       *float64   `json:"blood_sugar" validate:"omitempty,gte=10,lte=1000"`
	RecordType       RecordType `json:"record_type" validate:"omitempty,oneof=routine emergency follow_up"`
	Notes            string     `json:"notes" validate:"max=2000"`
}

// Assessment is a record together with its derived readings.
type Assessment struct {
	*HealthRecord
	IsCritical  bool              `json:"is_critical"`
	HealthScore int               `json:"health_score"`
	Summary     map[string]string `json:"summary"`
	Alerts      []Alert           `json:"alerts"`
}

type Service struct {
	repo     Repository
	validate *validation.Validator
	now      func() time.Time
}

func NewService(repo Repository, v *validation.Validator) *Service {
	return &Service{repo: repo, validate: v, now: time.Now}
}

func (s *Service) Record(ctx context.Context, patientID uuid.UUID, in RecordInput) (*HealthRecord, error) {
	if err := s.validate.Validate(in); err != nil {
		return nil, err
	}
	now := s.now()
	r := &HealthRecord{
		ID:               uuid.New(),
		PatientID:        patientID,
		RecordedAt:       now,
		SystolicBP:       in.SystolicBP,
		DiastolicBP:      in.DiastolicBP,
		HeartRate:        in.HeartRate,
		Temperature:      in.Temperature,
		RespiratoryRate:  in.RespiratoryRate,
		OxygenSaturation: in.OxygenSaturation,
		BloodSugar:       in.BloodSugar,
		RecordType:       in.RecordType,
		Notes:            in.Notes,
		CreatedAt:        now,
	}
	if in.RecordedAt != nil {
		r.RecordedAt = *in.RecordedAt
	}
	if r.RecordType == "" {
		r.RecordType = RecordRoutine
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Assess loads a record and previews the alerts it would raise. Records that
// were already processed preview no alerts.
func (s *Service) Assess(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return assess(r), nil
}

func assess(r *HealthRecord) *Assessment {
	alerts := Evaluate(r)
	if alerts == nil {
		alerts = []Alert{}
	}
	return &Assessment{
		HealthRecord: r,
		IsCritical:   r.IsCritical(),
		HealthScore:  r.HealthScore(),
		Summary:      r.Summary(),
		Alerts:       alerts,
	}
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*HealthRecord, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
