package delivery

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

type callRequest struct {
	To       string `json:"to"`
	From     string `json:"from,omitempty"`
	Script   string `json:"script"`
	Priority string `json:"priority"`
}

// VoiceChannel places text-to-speech calls through an HTTP voice gateway.
// Used for emergency alerts.
type VoiceChannel struct {
	client    *resty.Client
	sender    string
	templates *TemplateEngine
}

func NewVoiceChannel(cfg GatewayConfig, templates *TemplateEngine) *VoiceChannel {
	return &VoiceChannel{client: newGatewayClient(cfg), sender: cfg.Sender, templates: templates}
}

func (v *VoiceChannel) Send(ctx context.Context, msg Message) error {
	if msg.Contact.Phone == "" {
		return fmt.Errorf("voice: %w", ErrNoRecipient)
	}
	_, script, err := v.templates.RenderMessage(msg)
	if err != nil {
		return fmt.Errorf("voice: %w", err)
	}

	var out gatewayResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetBody(callRequest{To: msg.Contact.Phone, From: v.sender, Script: script, Priority: msg.Priority}).
		SetResult(&out).
		Post("/calls")
	if err != nil {
		return fmt.Errorf("voice: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("voice: gateway returned %d", resp.StatusCode())
	}
	return nil
}

var _ Channel = (*VoiceChannel)(nil)
