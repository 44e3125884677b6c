// Package delivery sends rendered notifications over concrete channels
// (email, SMS, push, voice, in-app) behind a single capability interface.
package delivery

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Channel names. They match the notification channel enum.
const (
	ChannelEmail     = "email"
	ChannelSMS       = "sms"
	ChannelPush      = "push"
	ChannelInApp     = "in_app"
	ChannelPhoneCall = "phone_call"
)

// ErrNoRecipient is returned when the contact has no address for the channel.
var ErrNoRecipient = errors.New("recipient has no address for channel")

// Contact holds the addresses a user can be reached at.
type Contact struct {
	FullName  string
	Email     string
	Phone     string
	PushTopic string
}

// Message is one notification ready to be sent over a channel.
type Message struct {
	NotificationID uuid.UUID
	UserID         uuid.UUID
	Channel        string
	Type           string
	Priority       string
	Title          string
	Body           string
	ActionText     string
	Contact        Contact
}

// Result reports the outcome of one delivery attempt. Transport failures are
// data, not errors.
type Result struct {
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func success() Result { return Result{Success: true} }

func failure(reason string) Result { return Result{FailureReason: reason} }

// Channel is the capability each transport implements.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// ChannelFunc adapts a plain function to Channel.
type ChannelFunc func(ctx context.Context, msg Message) error

func (f ChannelFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Directory resolves recipient addresses for a user.
type Directory interface {
	Contact(ctx context.Context, userID uuid.UUID) (Contact, error)
}
