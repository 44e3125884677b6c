package notification

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/domain/medication"
	"github.com/medicare/medicare/internal/domain/vitals"
)

const (
	reminderLead   = 5 * time.Minute
	reminderWindow = 2 * time.Hour

	// DefaultAppointmentLeadHours is how far ahead of an appointment its
	// reminder goes out when the caller does not say.
	DefaultAppointmentLeadHours = 24

	actionMarkTaken   = "Mark as Taken"
	actionViewDetails = "View Details"
	actionRespondNow  = "Respond Now"
)

// Recipient addresses a notification to one user on one channel, optionally
// on behalf of a patient.
type Recipient struct {
	UserID    uuid.UUID
	PatientID *uuid.UUID
	Channel   Channel
}

func (r Recipient) channel() Channel {
	if r.Channel == "" {
		return ChannelInApp
	}
	return r.Channel
}

func base(r Recipient, typ Type, prio Priority, title, msg string, now time.Time) *Notification {
	return &Notification{
		ID:         uuid.New(),
		UserID:     r.UserID,
		PatientID:  r.PatientID,
		Title:      title,
		Message:    msg,
		Type:       typ,
		Priority:   prio,
		Channel:    r.channel(),
		Status:     StatusPending,
		MaxRetries: DefaultMaxRetries,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NewMedicationReminder schedules a dose reminder five minutes out that is
// useless two hours after that.
func NewMedicationReminder(r Recipient, m *medication.Medication, now time.Time) *Notification {
	msg := fmt.Sprintf("Time to take your %s (%s %s)", m.Name, formatAmount(m.DosageAmount), m.DosageUnit)
	if m.Instructions != "" {
		msg += ". " + m.Instructions
	}
	n := base(r, TypeMedicationReminder, PriorityHigh, "Medication Reminder", msg, now)
	scheduled := now.Add(reminderLead)
	expires := scheduled.Add(reminderWindow)
	n.ScheduledFor = &scheduled
	n.ExpiresAt = &expires
	n.MedicationID = &m.ID
	n.ActionText = actionMarkTaken
	return n
}

func NewRefillReminder(r Recipient, m *medication.Medication, now time.Time) *Notification {
	msg := fmt.Sprintf("Your prescription for %s is due for refill", m.Name)
	if m.RefillsRemaining == 0 {
		msg += ". No refills remain, contact your physician for a new prescription"
	}
	n := base(r, TypeRefillReminder, PriorityMedium, "Prescription Refill Due", msg, now)
	n.MedicationID = &m.ID
	n.ScheduledFor = &now
	n.ActionText = actionViewDetails
	return n
}

// AlertPriority maps an evaluator severity onto a notification priority.
func AlertPriority(s vitals.Severity) Priority {
	switch s {
	case vitals.SeverityCritical:
		return PriorityCritical
	case vitals.SeverityHigh:
		return PriorityHigh
	}
	return PriorityMedium
}

// NewHealthAlert builds one alert for the recipient. When patientName is not
// empty the message is the physician copy and is prefixed with it.
func NewHealthAlert(r Recipient, rec *vitals.HealthRecord, a vitals.Alert, patientName string, now time.Time) *Notification {
	msg := a.Message
	if patientName != "" {
		msg = fmt.Sprintf("Patient %s: %s", patientName, a.Message)
	}
	n := base(r, TypeHealthAlert, AlertPriority(a.Severity), "Health Alert", msg, now)
	n.HealthRecordID = &rec.ID
	n.ScheduledFor = &now
	n.ActionText = actionViewDetails
	return n
}

// NewEmergencyAlert always goes out by phone call regardless of preference.
func NewEmergencyAlert(r Recipient, message string, now time.Time) *Notification {
	r.Channel = ChannelPhoneCall
	n := base(r, TypeEmergencyAlert, PriorityCritical, "EMERGENCY ALERT", message, now)
	n.ScheduledFor = &now
	n.ActionText = actionRespondNow
	return n
}

// NewAppointmentReminder schedules a reminder hoursBefore ahead of the
// appointment at at, or right away when that moment has passed. The reminder
// expires when the appointment starts.
func NewAppointmentReminder(r Recipient, appointmentID uuid.UUID, at time.Time, hoursBefore int, now time.Time) *Notification {
	scheduled := at.Add(-time.Duration(hoursBefore) * time.Hour)
	if scheduled.Before(now) {
		scheduled = now
	}
	msg := "You have an appointment within the hour"
	if hours := int(at.Sub(scheduled).Hours()); hours >= 1 {
		msg = fmt.Sprintf("You have an appointment in %d hours", hours)
	}
	n := base(r, TypeAppointmentReminder, PriorityMedium, "Appointment Reminder", msg, now)
	n.ScheduledFor = &scheduled
	n.ExpiresAt = &at
	n.AppointmentID = &appointmentID
	n.ActionText = actionViewDetails
	return n
}
