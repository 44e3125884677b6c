package main

import (
	"github.com/rs/zerolog"

	"github.com/medicare/medicare/internal/config"
	"github.com/medicare/medicare/internal/platform/delivery"
)

// buildChannels registers a transport for every channel whose endpoint is
// configured. In-app delivery is always available and added by wire.
func buildChannels(cfg *config.Config, logger zerolog.Logger) ([]delivery.Option, func(), error) {
	templates := delivery.NewTemplateEngine()
	var opts []delivery.Option
	closer := func() {}

	if cfg.SMTPHost != "" {
		opts = append(opts, delivery.WithChannel(delivery.ChannelEmail, delivery.NewEmailChannel(delivery.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, templates)))
	}
	if cfg.SMSGatewayURL != "" {
		opts = append(opts, delivery.WithChannel(delivery.ChannelSMS, delivery.NewSMSChannel(delivery.GatewayConfig{
			BaseURL: cfg.SMSGatewayURL,
			APIKey:  cfg.SMSGatewayKey,
			Sender:  cfg.SMSSender,
			Timeout: cfg.DispatchTimeout,
		}, templates)))
	}
	if cfg.VoiceGatewayURL != "" {
		opts = append(opts, delivery.WithChannel(delivery.ChannelPhoneCall, delivery.NewVoiceChannel(delivery.GatewayConfig{
			BaseURL: cfg.VoiceGatewayURL,
			APIKey:  cfg.VoiceGatewayKey,
			Sender:  cfg.SMSSender,
			Timeout: cfg.DispatchTimeout,
		}, templates)))
	}
	if cfg.MQTTBroker != "" {
		client, err := delivery.NewMQTTClient(delivery.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		})
		if err != nil {
			return nil, closer, err
		}
		closer = func() { client.Disconnect(250) }
		opts = append(opts, delivery.WithChannel(delivery.ChannelPush, delivery.NewPushChannel(client, cfg.MQTTTopicPrefix)))
	}

	logger.Info().Int("transports", len(opts)).Msg("delivery channels configured")
	return opts, closer, nil
}
