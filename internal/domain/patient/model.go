package patient

import (
	"time"

	"github.com/google/uuid"
)

// DefaultChannel is used when a user has no channel preference.
const DefaultChannel = "in_app"

// User is anyone who receives notifications: patients, caregivers and
// physicians alike.
type User struct {
	ID                  uuid.UUID `json:"id"`
	FullName            string    `json:"full_name"`
	Email               string    `json:"email,omitempty"`
	Phone               string    `json:"phone,omitempty"`
	PushTopic           string    `json:"push_topic,omitempty"`
	NotificationChannel string    `json:"notification_channel"`
	CreatedAt           time.Time `json:"created_at"`
}

// PreferredChannel falls back to in-app when no preference is stored.
func (u *User) PreferredChannel() string {
	if u.NotificationChannel == "" {
		return DefaultChannel
	}
	return u.NotificationChannel
}

type Patient struct {
	ID                 uuid.UUID  `json:"id"`
	UserID             uuid.UUID  `json:"user_id"`
	PrimaryPhysicianID *uuid.UUID `json:"primary_physician_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// CareTeam is a patient together with the users that should hear about them.
// Physician is nil when none is assigned.
type CareTeam struct {
	Patient   *Patient `json:"patient"`
	User      *User    `json:"user"`
	Physician *User    `json:"physician,omitempty"`
}
