package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
	"github.com/medicare/medicare/internal/platform/validation"
)

var fixedNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	svc := NewService(repo, validation.New())
	svc.now = func() time.Time { return fixedNow }
	return svc, repo
}

func mustUser(t *testing.T, svc *Service, name, channel string) *User {
	t.Helper()
	u, err := svc.RegisterUser(context.Background(), UserInput{
		FullName:            name,
		Email:               "user@example.com",
		Phone:               "+15550100",
		NotificationChannel: channel,
	})
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	return u
}

func TestService_RegisterUser_DefaultChannel(t *testing.T) {
	svc, _ := newTestService()
	u := mustUser(t, svc, "Grace Hopper", "")
	if u.NotificationChannel != DefaultChannel {
		t.Errorf("channel = %q, want %q", u.NotificationChannel, DefaultChannel)
	}
	if !u.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %s", u.CreatedAt)
	}
}

func TestService_RegisterUser_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name  string
		in    UserInput
		field string
	}{
		{"blank name", UserInput{FullName: "  "}, "full_name"},
		{"bad email", UserInput{FullName: "A", Email: "nope"}, "email"},
		{"bad channel", UserInput{FullName: "A", NotificationChannel: "fax"}, "notification_channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterUser(context.Background(), tt.in)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestService_UpdateUser(t *testing.T) {
	svc, _ := newTestService()
	u := mustUser(t, svc, "Grace Hopper", "sms")

	got, err := svc.UpdateUser(context.Background(), u.ID, UserInput{FullName: "Grace B. Hopper", NotificationChannel: "push"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.NotificationChannel != "push" || got.FullName != "Grace B. Hopper" {
		t.Errorf("unexpected user %+v", got)
	}

	if _, err := svc.UpdateUser(context.Background(), uuid.New(), UserInput{FullName: "x"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_RegisterPatient(t *testing.T) {
	svc, _ := newTestService()
	u := mustUser(t, svc, "Ada Lovelace", "")
	doc := mustUser(t, svc, "Dr. Snow", "email")

	p, err := svc.RegisterPatient(context.Background(), PatientInput{UserID: u.ID, PrimaryPhysicianID: &doc.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != u.ID || p.PrimaryPhysicianID == nil || *p.PrimaryPhysicianID != doc.ID {
		t.Errorf("unexpected patient %+v", p)
	}

	missing := uuid.New()
	_, err = svc.RegisterPatient(context.Background(), PatientInput{UserID: u.ID, PrimaryPhysicianID: &missing})
	if !apperr.IsValidation(err) {
		t.Errorf("expected validation error for unknown physician, got %v", err)
	}

	_, err = svc.RegisterPatient(context.Background(), PatientInput{})
	if !apperr.IsValidation(err) {
		t.Errorf("expected validation error for missing user, got %v", err)
	}
}

func TestService_CareTeam(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	u := mustUser(t, svc, "Ada Lovelace", "")
	p, _ := svc.RegisterPatient(ctx, PatientInput{UserID: u.ID})

	team, err := svc.CareTeam(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if team.User.FullName != "Ada Lovelace" || team.Physician != nil {
		t.Errorf("unexpected team %+v", team)
	}

	doc := mustUser(t, svc, "Dr. Snow", "email")
	if _, err := svc.AssignPhysician(ctx, p.ID, &doc.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	team, _ = svc.CareTeam(ctx, p.ID)
	if team.Physician == nil || team.Physician.ID != doc.ID {
		t.Errorf("expected physician in team, got %+v", team.Physician)
	}

	if _, err := svc.CareTeam(ctx, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Contact(t *testing.T) {
	svc, _ := newTestService()
	u := mustUser(t, svc, "Ada Lovelace", "sms")

	c, err := svc.Contact(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.FullName != "Ada Lovelace" || c.Phone != "+15550100" || c.Email != "user@example.com" {
		t.Errorf("unexpected contact %+v", c)
	}
	if _, err := svc.Contact(context.Background(), uuid.New()); err == nil {
		t.Error("expected error for unknown user")
	}
}
