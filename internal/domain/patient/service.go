package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
	"github.com/medicare/medicare/internal/platform/delivery"
	"github.com/medicare/medicare/internal/platform/validation"
)

type UserInput struct {
	FullName            string `json:"full_name" validate:"not_blank,max=200"`
	Email               string `json:"email" validate:"omitempty,email,max=255"`
	Phone               string `json:"phone" validate:"omitempty,max=32"`
	PushTopic           string `json:"push_topic" validate:"omitempty,max=255"`
	NotificationChannel string `json:"notification_channel" validate:"omitempty,oneof=in_app email sms push phone_call"`
}

type PatientInput struct {
	UserID             uuid.UUID  `json:"user_id" validate:"required"`
	PrimaryPhysicianID *uuid.UUID `json:"primary_physician_id"`
}

type Service struct {
	repo     Repository
	validate *validation.Validator
	now      func() time.Time
}

func NewService(repo Repository, v *validation.Validator) *Service {
	return &Service{repo: repo, validate: v, now: time.Now}
}

func (s *Service) RegisterUser(ctx context.Context, in UserInput) (*User, error) {
	if err := s.validate.Validate(in); err != nil {
		return nil, err
	}
	u := &User{
		ID:                  uuid.New(),
		FullName:            strings.TrimSpace(in.FullName),
		Email:               in.Email,
		Phone:               in.Phone,
		PushTopic:           in.PushTopic,
		NotificationChannel: in.NotificationChannel,
		CreatedAt:           s.now(),
	}
	u.NotificationChannel = u.PreferredChannel()
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// UpdateUser replaces the contact details and channel preference.
func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, in UserInput) (*User, error) {
	if err := s.validate.Validate(in); err != nil {
		return nil, err
	}
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	u.FullName = strings.TrimSpace(in.FullName)
	u.Email = in.Email
	u.Phone = in.Phone
	u.PushTopic = in.PushTopic
	u.NotificationChannel = in.NotificationChannel
	u.NotificationChannel = u.PreferredChannel()
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) RegisterPatient(ctx context.Context, in PatientInput) (*Patient, error) {
	if err := s.validate.Validate(in); err != nil {
		return nil, err
	}
	if in.PrimaryPhysicianID != nil {
		if err := s.requireUser(ctx, *in.PrimaryPhysicianID, "primary_physician_id"); err != nil {
			return nil, err
		}
	}
	p := &Patient{
		ID:                 uuid.New(),
		UserID:             in.UserID,
		PrimaryPhysicianID: in.PrimaryPhysicianID,
		CreatedAt:          s.now(),
	}
	if err := s.repo.CreatePatient(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) requireUser(ctx context.Context, id uuid.UUID, field string) error {
	_, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Validation(field, "unknown user %s", id)
	}
	return err
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

// AssignPhysician sets or, with nil, clears the primary physician.
func (s *Service) AssignPhysician(ctx context.Context, patientID uuid.UUID, physicianID *uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if physicianID != nil {
		if err := s.requireUser(ctx, *physicianID, "physician_id"); err != nil {
			return nil, err
		}
	}
	p.PrimaryPhysicianID = physicianID
	if err := s.repo.UpdatePatient(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CareTeam loads the patient, their user account and the assigned physician.
// A dangling physician reference is treated as unassigned.
func (s *Service) CareTeam(ctx context.Context, patientID uuid.UUID) (*CareTeam, error) {
	p, err := s.repo.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.GetUser(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user for patient %s: %w", patientID, err)
	}
	team := &CareTeam{Patient: p, User: u}
	if p.PrimaryPhysicianID != nil {
		doc, err := s.repo.GetUser(ctx, *p.PrimaryPhysicianID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load physician for patient %s: %w", patientID, err)
		default:
			team.Physician = doc
		}
	}
	return team, nil
}

// Contact implements delivery.Directory.
func (s *Service) Contact(ctx context.Context, userID uuid.UUID) (delivery.Contact, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return delivery.Contact{}, err
	}
	return delivery.Contact{
		FullName:  u.FullName,
		Email:     u.Email,
		Phone:     u.Phone,
		PushTopic: u.PushTopic,
	}, nil
}
