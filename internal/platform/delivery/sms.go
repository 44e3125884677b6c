package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// smsLimit is the single-segment SMS length.
const smsLimit = 160

// TruncateSMS shortens s to one SMS segment, marking the cut with "...".
func TruncateSMS(s string) string {
	r := []rune(s)
	if len(r) <= smsLimit {
		return s
	}
	return string(r[:smsLimit-3]) + "..."
}

type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Sender  string
	Timeout time.Duration
}

func newGatewayClient(cfg GatewayConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.APIKey)
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

type gatewayResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SMSChannel posts messages to an HTTP SMS gateway.
type SMSChannel struct {
	client    *resty.Client
	sender    string
	templates *TemplateEngine
}

func NewSMSChannel(cfg GatewayConfig, templates *TemplateEngine) *SMSChannel {
	return &SMSChannel{client: newGatewayClient(cfg), sender: cfg.Sender, templates: templates}
}

func (s *SMSChannel) Send(ctx context.Context, msg Message) error {
	if msg.Contact.Phone == "" {
		return fmt.Errorf("sms: %w", ErrNoRecipient)
	}
	_, body, err := s.templates.RenderMessage(msg)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}

	var out gatewayResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(smsRequest{To: msg.Contact.Phone, From: s.sender, Body: TruncateSMS(body)}).
		SetResult(&out).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms: gateway returned %d", resp.StatusCode())
	}
	return nil
}
