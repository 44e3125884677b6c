package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewMQTTClient connects to the broker with auto reconnect enabled.
func NewMQTTClient(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// Publisher is the subset of mqtt.Client the push channel needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type pushPayload struct {
	NotificationID string `json:"notification_id"`
	Type           string `json:"type"`
	Priority       string `json:"priority"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	ActionText     string `json:"action_text,omitempty"`
}

// PushChannel publishes to the recipient's device topic with QoS 1.
type PushChannel struct {
	pub         Publisher
	topicPrefix string
}

func NewPushChannel(pub Publisher, topicPrefix string) *PushChannel {
	return &PushChannel{pub: pub, topicPrefix: topicPrefix}
}

func (p *PushChannel) topic(msg Message) string {
	if msg.Contact.PushTopic != "" {
		return msg.Contact.PushTopic
	}
	return p.topicPrefix + "/" + msg.UserID.String()
}

func (p *PushChannel) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(pushPayload{
		NotificationID: msg.NotificationID.String(),
		Type:           msg.Type,
		Priority:       msg.Priority,
		Title:          msg.Title,
		Body:           msg.Body,
		ActionText:     msg.ActionText,
	})
	if err != nil {
		return fmt.Errorf("push: marshal payload: %w", err)
	}

	topic := p.topic(msg)
	token := p.pub.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("push: publish to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("push: publish to %s: %w", topic, ctx.Err())
	}
}
