package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
)

type Type string

const (
	TypeMedicationReminder  Type = "medication_reminder"
	TypeAppointmentReminder Type = "appointment_reminder"
	TypeHealthAlert         Type = "health_alert"
	TypeSystemAlert         Type = "system_alert"
	TypeEmergencyAlert      Type = "emergency_alert"
	TypeRefillReminder      Type = "refill_reminder"
	TypeCarePlanUpdate      Type = "care_plan_update"
	TypeLabResult           Type = "lab_result"
	TypePrescriptionReady   Type = "prescription_ready"
	TypeVitalSignsAlert     Type = "vital_signs_alert"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelPush      Channel = "push"
	ChannelInApp     Channel = "in_app"
	ChannelPhoneCall Channel = "phone_call"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const DefaultMaxRetries = 3

const (
	baseBackoff = 300 * time.Second
	maxBackoff  = time.Hour
)

// transitions is the complete lifecycle. Anything not listed is illegal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSent, StatusFailed, StatusCancelled},
	StatusSent:      {StatusDelivered},
	StatusDelivered: {StatusRead},
	StatusFailed:    {StatusPending},
}

// Notification is one message to one recipient user. It links back to the
// entities that caused it but owns none of them.
type Notification struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	MedicationID   *uuid.UUID `json:"medication_id,omitempty"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	HealthRecordID *uuid.UUID `json:"health_record_id,omitempty"`

	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Type       Type     `json:"type"`
	Priority   Priority `json:"priority"`
	Channel    Channel  `json:"channel"`
	ActionText string   `json:"action_text,omitempty"`

	Status Status `json:"status"`
	IsRead bool   `json:"is_read"`

	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	SentAt        *time.Time `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`

	// DispatchStartedAt is written before calling out to a channel and
	// cleared when the attempt resolves.
	DispatchStartedAt *time.Time `json:"dispatch_started_at,omitempty"`
	Version           int        `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *Notification) transition(to Status, now time.Time) error {
	for _, s := range transitions[n.Status] {
		if s == to {
			n.Status = to
			n.UpdatedAt = now
			return nil
		}
	}
	return apperr.InvalidState("notification", string(n.Status), fmt.Sprintf("transition to %s", to))
}

// IsExpired reports whether expires_at has passed.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// IsDue reports whether the scheduled time has arrived. Unscheduled
// notifications are due immediately.
func (n *Notification) IsDue(now time.Time) bool {
	return n.ScheduledFor == nil || !now.Before(*n.ScheduledFor)
}

func (n *Notification) RetriesRemaining() bool {
	return n.RetryCount < n.MaxRetries
}

// CanRetry reports whether a failed notification may go back to pending.
func (n *Notification) CanRetry(now time.Time) bool {
	return n.Status == StatusFailed && n.RetriesRemaining() && !n.IsExpired(now)
}

// RetryDue is CanRetry plus the backoff having elapsed.
func (n *Notification) RetryDue(now time.Time) bool {
	return n.CanRetry(now) && n.NextRetryAt != nil && !now.Before(*n.NextRetryAt)
}

// Backoff is the delay before retry attempt retryCount (1-based): 300s
// doubling per attempt, capped at one hour.
func Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := baseBackoff
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func (n *Notification) MarkSent(now time.Time) error {
	if err := n.transition(StatusSent, now); err != nil {
		return err
	}
	n.SentAt = &now
	n.DispatchStartedAt = nil
	return nil
}

// MarkFailed records a failed delivery attempt. The retry count never
// exceeds MaxRetries; a retry is scheduled only while attempts remain and
// the notification has not expired.
func (n *Notification) MarkFailed(reason string, now time.Time) error {
	if err := n.transition(StatusFailed, now); err != nil {
		return err
	}
	n.FailedAt = &now
	n.FailureReason = reason
	n.DispatchStartedAt = nil
	if n.RetryCount < n.MaxRetries {
		n.RetryCount++
	}
	n.NextRetryAt = nil
	if n.RetriesRemaining() && !n.IsExpired(now) {
		next := now.Add(Backoff(n.RetryCount))
		n.NextRetryAt = &next
	}
	return nil
}

// ResetForRetry moves a failed notification back to pending.
func (n *Notification) ResetForRetry(now time.Time) error {
	if !n.CanRetry(now) {
		return apperr.InvalidState("notification", string(n.Status), "retry")
	}
	if err := n.transition(StatusPending, now); err != nil {
		return err
	}
	n.NextRetryAt = nil
	return nil
}

func (n *Notification) MarkDelivered(now time.Time) error {
	if err := n.transition(StatusDelivered, now); err != nil {
		return err
	}
	n.DeliveredAt = &now
	return nil
}

func (n *Notification) MarkRead(now time.Time) error {
	if err := n.transition(StatusRead, now); err != nil {
		return err
	}
	n.ReadAt = &now
	n.IsRead = true
	return nil
}

// Cancel stops a pending notification from ever being dispatched.
func (n *Notification) Cancel(now time.Time) error {
	if err := n.transition(StatusCancelled, now); err != nil {
		return err
	}
	n.CancelledAt = &now
	n.DispatchStartedAt = nil
	return nil
}

// Expire cancels a pending notification whose expiry has passed.
func (n *Notification) Expire(now time.Time) error {
	if !n.IsExpired(now) {
		return apperr.InvalidState("notification", string(n.Status), "expire before expires_at")
	}
	if err := n.Cancel(now); err != nil {
		return err
	}
	n.FailureReason = "expired"
	return nil
}

func validType(t Type) bool {
	switch t {
	case TypeMedicationReminder, TypeAppointmentReminder, TypeHealthAlert, TypeSystemAlert,
		TypeEmergencyAlert, TypeRefillReminder, TypeCarePlanUpdate, TypeLabResult,
		TypePrescriptionReady, TypeVitalSignsAlert:
		return true
	}
	return false
}

func validPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent, PriorityCritical:
		return true
	}
	return false
}

func ValidChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp, ChannelPhoneCall:
		return true
	}
	return false
}

func (n *Notification) Validate() error {
	switch {
	case n.UserID == uuid.Nil:
		return apperr.Validation("user_id", "is required")
	case strings.TrimSpace(n.Title) == "":
		return apperr.Validation("title", "is required")
	case strings.TrimSpace(n.Message) == "":
		return apperr.Validation("message", "is required")
	case !validType(n.Type):
		return apperr.Validation("type", "unknown type %q", n.Type)
	case !validPriority(n.Priority):
		return apperr.Validation("priority", "unknown priority %q", n.Priority)
	case !ValidChannel(n.Channel):
		return apperr.Validation("channel", "unknown channel %q", n.Channel)
	case n.MaxRetries < 0:
		return apperr.Validation("max_retries", "must not be negative")
	case n.ScheduledFor != nil && n.ExpiresAt != nil && n.ExpiresAt.Before(*n.ScheduledFor):
		return apperr.Validation("expires_at", "must not precede scheduled_for")
	}
	return nil
}
