package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medicare/medicare/internal/domain/patient"
	"github.com/medicare/medicare/internal/platform/apperr"
	"github.com/medicare/medicare/internal/platform/delivery"
	"github.com/medicare/medicare/internal/platform/events"
	"github.com/medicare/medicare/internal/platform/telemetry"
	"github.com/medicare/medicare/internal/platform/validation"
)

// Outcome is the result of one Dispatch call.
type Outcome string

const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeExpired     Outcome = "expired"
	OutcomeSent        Outcome = "sent"
	OutcomeFailed      Outcome = "failed"
	OutcomeConflict    Outcome = "conflict"
	// OutcomeInterrupted means the caller gave up mid-send. The notification
	// stays pending and is picked up again once its dispatch lease lapses.
	OutcomeInterrupted Outcome = "interrupted"
)

// DefaultDispatchLease is how long a dispatch intent blocks other workers.
const DefaultDispatchLease = 10 * time.Minute

// Deliverer sends a message and reports the outcome. Transport problems come
// back as an unsuccessful Result, never as an error.
type Deliverer interface {
	Deliver(ctx context.Context, msg delivery.Message) delivery.Result
}

type CreateInput struct {
	UserID         uuid.UUID  `json:"user_id" validate:"required"`
	PatientID      *uuid.UUID `json:"patient_id"`
	MedicationID   *uuid.UUID `json:"medication_id"`
	AppointmentID  *uuid.UUID `json:"appointment_id"`
	HealthRecordID *uuid.UUID `json:"health_record_id"`
	Title          string     `json:"title" validate:"not_blank,max=200"`
	Message        string     `json:"message" validate:"not_blank"`
	Type           Type       `json:"type" validate:"required,oneof=medication_reminder appointment_reminder health_alert system_alert emergency_alert refill_reminder care_plan_update lab_result prescription_ready vital_signs_alert"`
	Priority       Priority   `json:"priority" validate:"omitempty,oneof=low medium high urgent critical"`
	Channel        Channel    `json:"channel" validate:"omitempty,oneof=email sms push in_app phone_call"`
	ActionText     string     `json:"action_text" validate:"max=100"`
	ScheduledFor   *time.Time `json:"scheduled_for"`
	ExpiresAt      *time.Time `json:"expires_at"`
	MaxRetries     *int       `json:"max_retries" validate:"omitempty,gte=0,lte=10"`
}

// AppointmentInput asks for a reminder ahead of an appointment booked
// elsewhere.
type AppointmentInput struct {
	UserID        uuid.UUID  `json:"user_id" validate:"required"`
	PatientID     *uuid.UUID `json:"patient_id"`
	AppointmentID uuid.UUID  `json:"appointment_id" validate:"required"`
	AppointmentAt time.Time  `json:"appointment_at" validate:"required"`
	HoursBefore   int        `json:"hours_before" validate:"omitempty,gte=1,lte=168"`
	Channel       Channel    `json:"channel" validate:"omitempty,oneof=email sms push in_app phone_call"`
}

type Option func(*Engine)

func WithEvents(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDispatchLease sets how old a dispatch intent must be before another
// worker may take the notification over.
func WithDispatchLease(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lease = d
		}
	}
}

// Engine owns the notification lifecycle: creation, dispatch through a
// Deliverer, retries, expiry and the recipient-driven transitions.
type Engine struct {
	repo     Repository
	sender   Deliverer
	validate *validation.Validator
	events   events.Publisher
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	lease    time.Duration
	now      func() time.Time
}

func NewEngine(repo Repository, sender Deliverer, v *validation.Validator, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		sender:   sender,
		validate: v,
		events:   events.NopPublisher{},
		logger:   logger.With().Str("component", "notifications").Logger(),
		lease:    DefaultDispatchLease,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Lease is the dispatch intent lease in effect.
func (e *Engine) Lease() time.Duration { return e.lease }

func (e *Engine) publish(ctx context.Context, typ string, n *Notification, data map[string]string) {
	if data == nil {
		data = make(map[string]string, 2)
	}
	data["type"] = string(n.Type)
	data["channel"] = string(n.Channel)
	ev := events.Event{
		Type:       typ,
		EntityID:   n.ID,
		UserID:     n.UserID,
		Status:     string(n.Status),
		Data:       data,
		OccurredAt: n.UpdatedAt,
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Warn().Err(err).Str("event", typ).Str("notification_id", n.ID.String()).Msg("publish event failed")
	}
}

// Create persists a new notification. In-app notifications need no transport
// and are stored as sent and delivered.
func (e *Engine) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	now := e.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
		n.UpdatedAt = now
	}
	if err := n.Validate(); err != nil {
		return err
	}
	inApp := n.Channel == ChannelInApp && n.Status == StatusPending
	if inApp {
		if err := n.MarkSent(now); err != nil {
			return err
		}
		if err := n.MarkDelivered(now); err != nil {
			return err
		}
	}
	if err := e.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	e.metrics.NotificationCreated(ctx, string(n.Type), string(n.Channel))
	e.publish(ctx, events.NotificationCreated, n, map[string]string{"priority": string(n.Priority)})
	if inApp {
		e.publish(ctx, events.NotificationDelivered, n, nil)
	}
	return nil
}

// Submit builds a notification from API input and creates it.
func (e *Engine) Submit(ctx context.Context, in CreateInput) (*Notification, error) {
	if err := e.validate.Validate(in); err != nil {
		return nil, err
	}
	now := e.now()
	n := &Notification{
		ID:             uuid.New(),
		UserID:         in.UserID,
		PatientID:      in.PatientID,
		MedicationID:   in.MedicationID,
		AppointmentID:  in.AppointmentID,
		HealthRecordID: in.HealthRecordID,
		Title:          strings.TrimSpace(in.Title),
		Message:        strings.TrimSpace(in.Message),
		Type:           in.Type,
		Priority:       in.Priority,
		Channel:        in.Channel,
		ActionText:     in.ActionText,
		Status:         StatusPending,
		ScheduledFor:   in.ScheduledFor,
		ExpiresAt:      in.ExpiresAt,
		MaxRetries:     DefaultMaxRetries,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if n.Channel == "" {
		n.Channel = ChannelInApp
	}
	if in.MaxRetries != nil {
		n.MaxRetries = *in.MaxRetries
	}
	if err := e.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// ScheduleAppointmentReminder creates the reminder for an upcoming
// appointment. Appointments already started are rejected.
func (e *Engine) ScheduleAppointmentReminder(ctx context.Context, in AppointmentInput) (*Notification, error) {
	if err := e.validate.Validate(in); err != nil {
		return nil, err
	}
	now := e.now()
	if !in.AppointmentAt.After(now) {
		return nil, apperr.Validation("appointment_at", "must be in the future")
	}
	hours := in.HoursBefore
	if hours == 0 {
		hours = DefaultAppointmentLeadHours
	}
	r := Recipient{UserID: in.UserID, PatientID: in.PatientID, Channel: in.Channel}
	n := NewAppointmentReminder(r, in.AppointmentID, in.AppointmentAt, hours, now)
	if err := e.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func message(n *Notification) delivery.Message {
	return delivery.Message{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        string(n.Channel),
		Type:           string(n.Type),
		Priority:       string(n.Priority),
		Title:          n.Title,
		Body:           n.Message,
		ActionText:     n.ActionText,
	}
}

// Dispatch attempts delivery of one pending notification.
//
// Expiry is checked before anything is sent. Before calling out, a dispatch
// intent is persisted with a version-guarded update; losing that race means
// another worker owns the attempt and nothing is sent. The final transition
// is guarded the same way. Only persistence failures are returned as errors.
func (e *Engine) Dispatch(ctx context.Context, n *Notification) (Outcome, error) {
	outcome, err := e.dispatch(ctx, n)
	if err == nil {
		e.metrics.DispatchOutcome(ctx, string(outcome))
	}
	return outcome, err
}

func (e *Engine) dispatch(ctx context.Context, n *Notification) (Outcome, error) {
	now := e.now()
	if n.Status != StatusPending {
		return OutcomeSkipped, nil
	}
	if n.IsExpired(now) {
		return e.expire(ctx, n, now)
	}
	if !n.IsDue(now) {
		return OutcomeSkipped, nil
	}
	if n.DispatchStartedAt != nil && now.Sub(*n.DispatchStartedAt) < e.lease {
		return OutcomeSkipped, nil
	}

	started := now
	n.DispatchStartedAt = &started
	n.UpdatedAt = now
	if err := e.repo.Update(ctx, n); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return OutcomeConflict, nil
		}
		return "", fmt.Errorf("claim notification %s: %w", n.ID, err)
	}

	res := e.sender.Deliver(ctx, message(n))
	if !res.Success && ctx.Err() != nil {
		// Shutdown is not a transport fault and must not use up a retry.
		e.logger.Warn().Str("notification_id", n.ID.String()).Str("reason", res.FailureReason).
			Msg("delivery interrupted, leaving notification pending")
		return OutcomeInterrupted, nil
	}

	done := e.now()
	outcome := OutcomeSent
	if res.Success {
		if err := n.MarkSent(done); err != nil {
			return "", err
		}
	} else {
		outcome = OutcomeFailed
		if err := n.MarkFailed(res.FailureReason, done); err != nil {
			return "", err
		}
	}

	// The attempt already happened; record it even if the caller gave up.
	if err := e.repo.Update(context.WithoutCancel(ctx), n); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			e.logger.Warn().Str("notification_id", n.ID.String()).Str("outcome", string(outcome)).
				Msg("notification changed during delivery, result discarded")
			return OutcomeConflict, nil
		}
		return "", fmt.Errorf("record dispatch of %s: %w", n.ID, err)
	}

	if res.Success {
		e.publish(ctx, events.NotificationSent, n, nil)
	} else {
		e.logger.Info().Str("notification_id", n.ID.String()).Str("channel", string(n.Channel)).
			Int("retry_count", n.RetryCount).Str("reason", res.FailureReason).Msg("delivery failed")
		e.publish(ctx, events.NotificationFailed, n, map[string]string{
			"reason":      res.FailureReason,
			"retry_count": strconv.Itoa(n.RetryCount),
		})
	}
	return outcome, nil
}

func (e *Engine) expire(ctx context.Context, n *Notification, now time.Time) (Outcome, error) {
	if err := n.Expire(now); err != nil {
		return "", err
	}
	if err := e.repo.Update(ctx, n); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return OutcomeConflict, nil
		}
		return "", fmt.Errorf("expire notification %s: %w", n.ID, err)
	}
	e.publish(ctx, events.NotificationCancelled, n, map[string]string{"reason": "expired"})
	return OutcomeExpired, nil
}

// ExpireOne cancels n if it is still pending past its expiry. It reports
// whether n was expired by this call.
func (e *Engine) ExpireOne(ctx context.Context, n *Notification) (bool, error) {
	now := e.now()
	if n.Status != StatusPending || !n.IsExpired(now) {
		return false, nil
	}
	outcome, err := e.expire(ctx, n, now)
	return outcome == OutcomeExpired, err
}

// Retry moves a failed notification whose backoff has elapsed back to
// pending. It reports whether the reset happened.
func (e *Engine) Retry(ctx context.Context, n *Notification) (bool, error) {
	now := e.now()
	if !n.RetryDue(now) {
		return false, nil
	}
	if err := n.ResetForRetry(now); err != nil {
		return false, err
	}
	if err := e.repo.Update(ctx, n); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("reset notification %s: %w", n.ID, err)
	}
	e.publish(ctx, events.NotificationRetried, n, map[string]string{"retry_count": strconv.Itoa(n.RetryCount)})
	return true, nil
}

func (e *Engine) apply(ctx context.Context, id uuid.UUID, event string, fn func(*Notification, time.Time) error) (*Notification, error) {
	n, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(n, e.now()); err != nil {
		return nil, err
	}
	if err := e.repo.Update(ctx, n); err != nil {
		return nil, err
	}
	e.publish(ctx, event, n, nil)
	return n, nil
}

// MarkDelivered records a delivery receipt for a sent notification.
func (e *Engine) MarkDelivered(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return e.apply(ctx, id, events.NotificationDelivered, (*Notification).MarkDelivered)
}

func (e *Engine) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return e.apply(ctx, id, events.NotificationRead, (*Notification).MarkRead)
}

func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return e.apply(ctx, id, events.NotificationCancelled, (*Notification).Cancel)
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return e.repo.GetByID(ctx, id)
}

func (e *Engine) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return e.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
}

// Stats counts notifications per status, for one user or for everyone.
func (e *Engine) Stats(ctx context.Context, userID *uuid.UUID) (map[Status]int, error) {
	return e.repo.CountByStatus(ctx, userID)
}

// Cleanup deletes read notifications older than readBefore and every other
// finished notification older than finishedBefore.
func (e *Engine) Cleanup(ctx context.Context, readBefore, finishedBefore time.Time) (int64, error) {
	read, err := e.repo.DeleteReadBefore(ctx, readBefore)
	if err != nil {
		return 0, err
	}
	finished, err := e.repo.DeleteFinishedBefore(ctx, finishedBefore)
	if err != nil {
		return read, err
	}
	return read + finished, nil
}

// RaiseEmergency alerts the patient and, when assigned, the primary
// physician. Both copies go out by phone call.
func (e *Engine) RaiseEmergency(ctx context.Context, team *patient.CareTeam, message string) ([]*Notification, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.Validation("message", "is required")
	}
	now := e.now()
	pid := team.Patient.ID
	out := []*Notification{
		NewEmergencyAlert(Recipient{UserID: team.User.ID, PatientID: &pid}, message, now),
	}
	if team.Physician != nil {
		msg := fmt.Sprintf("Patient %s: %s", team.User.FullName, message)
		out = append(out, NewEmergencyAlert(Recipient{UserID: team.Physician.ID, PatientID: &pid}, msg, now))
	}
	for _, n := range out {
		if err := e.Create(ctx, n); err != nil {
			return nil, err
		}
	}
	return out, nil
}
