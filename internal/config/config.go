package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Delivery channels. A channel without its endpoint configured is not
	// registered and notifications routed to it fail with a transport error.
	SMTPHost        string        `mapstructure:"SMTP_HOST"`
	SMTPPort        int           `mapstructure:"SMTP_PORT"`
	SMTPUsername    string        `mapstructure:"SMTP_USERNAME"`
	SMTPPassword    string        `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom        string        `mapstructure:"SMTP_FROM"`
	SMSGatewayURL   string        `mapstructure:"SMS_GATEWAY_URL"`
	SMSGatewayKey   string        `mapstructure:"SMS_GATEWAY_KEY"`
	SMSSender       string        `mapstructure:"SMS_SENDER"`
	VoiceGatewayURL string        `mapstructure:"VOICE_GATEWAY_URL"`
	VoiceGatewayKey string        `mapstructure:"VOICE_GATEWAY_KEY"`
	MQTTBroker      string        `mapstructure:"MQTT_BROKER"`
	MQTTClientID    string        `mapstructure:"MQTT_CLIENT_ID"`
	MQTTUsername    string        `mapstructure:"MQTT_USERNAME"`
	MQTTPassword    string        `mapstructure:"MQTT_PASSWORD"`
	MQTTTopicPrefix string        `mapstructure:"MQTT_TOPIC_PREFIX"`
	DispatchWorkers int           `mapstructure:"DISPATCH_CONCURRENCY"`
	DispatchTimeout time.Duration `mapstructure:"DISPATCH_TIMEOUT"`
	DispatchLease   time.Duration `mapstructure:"DISPATCH_LEASE"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	ServiceName  string `mapstructure:"SERVICE_NAME"`

	// Job cadences.
	DoseReminderInterval time.Duration `mapstructure:"DOSE_REMINDER_INTERVAL"`
	RefillInterval       time.Duration `mapstructure:"REFILL_INTERVAL"`
	HealthAlertInterval  time.Duration `mapstructure:"HEALTH_ALERT_INTERVAL"`
	DispatchInterval     time.Duration `mapstructure:"DISPATCH_INTERVAL"`
	RetryInterval        time.Duration `mapstructure:"RETRY_INTERVAL"`
	ExpiryInterval       time.Duration `mapstructure:"EXPIRY_INTERVAL"`
	AdherenceInterval    time.Duration `mapstructure:"ADHERENCE_INTERVAL"`
	CleanupInterval      time.Duration `mapstructure:"CLEANUP_INTERVAL"`
	HealthScanWindow     time.Duration `mapstructure:"HEALTH_SCAN_WINDOW"`
	JobBatchSize         int           `mapstructure:"JOB_BATCH_SIZE"`

	// Dosing heuristics for frequencies without a fixed interval.
	AsNeededInterval   time.Duration `mapstructure:"AS_NEEDED_INTERVAL"`
	AsNeededDailyDoses float64       `mapstructure:"AS_NEEDED_DAILY_DOSES"`
	CustomInterval     time.Duration `mapstructure:"CUSTOM_INTERVAL"`
	CustomDailyDoses   float64       `mapstructure:"CUSTOM_DAILY_DOSES"`

	ReadRetentionDays int `mapstructure:"READ_RETENTION_DAYS"`
	RetentionDays     int `mapstructure:"RETENTION_DAYS"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CORS_ORIGINS",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"SMS_GATEWAY_URL", "SMS_GATEWAY_KEY", "SMS_SENDER",
	"VOICE_GATEWAY_URL", "VOICE_GATEWAY_KEY",
	"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_TOPIC_PREFIX",
	"DISPATCH_CONCURRENCY", "DISPATCH_TIMEOUT", "DISPATCH_LEASE",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "OTLP_ENDPOINT", "SERVICE_NAME",
	"DOSE_REMINDER_INTERVAL", "REFILL_INTERVAL", "HEALTH_ALERT_INTERVAL", "DISPATCH_INTERVAL",
	"RETRY_INTERVAL", "EXPIRY_INTERVAL", "ADHERENCE_INTERVAL", "CLEANUP_INTERVAL",
	"HEALTH_SCAN_WINDOW", "JOB_BATCH_SIZE",
	"AS_NEEDED_INTERVAL", "AS_NEEDED_DAILY_DOSES", "CUSTOM_INTERVAL", "CUSTOM_DAILY_DOSES",
	"READ_RETENTION_DAYS", "RETENTION_DAYS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MQTT_CLIENT_ID", "medicare-server")
	v.SetDefault("MQTT_TOPIC_PREFIX", "medicare/notifications")
	v.SetDefault("DISPATCH_CONCURRENCY", 8)
	v.SetDefault("DISPATCH_TIMEOUT", "30s")
	v.SetDefault("DISPATCH_LEASE", "10m")
	v.SetDefault("KAFKA_TOPIC", "medicare.notifications")
	v.SetDefault("SERVICE_NAME", "medicare-server")
	v.SetDefault("DOSE_REMINDER_INTERVAL", "15m")
	v.SetDefault("REFILL_INTERVAL", "1h")
	v.SetDefault("HEALTH_ALERT_INTERVAL", "30m")
	v.SetDefault("DISPATCH_INTERVAL", "1m")
	v.SetDefault("RETRY_INTERVAL", "5m")
	v.SetDefault("EXPIRY_INTERVAL", "10m")
	v.SetDefault("ADHERENCE_INTERVAL", "24h")
	v.SetDefault("CLEANUP_INTERVAL", "24h")
	v.SetDefault("HEALTH_SCAN_WINDOW", "2h")
	v.SetDefault("JOB_BATCH_SIZE", 100)
	v.SetDefault("AS_NEEDED_INTERVAL", "4h")
	v.SetDefault("AS_NEEDED_DAILY_DOSES", 0.5)
	v.SetDefault("CUSTOM_INTERVAL", "24h")
	v.SetDefault("CUSTOM_DAILY_DOSES", 1)
	v.SetDefault("READ_RETENTION_DAYS", 30)
	v.SetDefault("RETENTION_DAYS", 90)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList accepts both a decoded slice and the raw comma separated env form.
func splitList(decoded []string, raw string) []string {
	if len(decoded) > 1 {
		return decoded
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects cadences and dosing heuristics that would make the
// scheduler spin or the dosing model divide by zero.
func (c *Config) Validate() error {
	intervals := map[string]time.Duration{
		"DOSE_REMINDER_INTERVAL": c.DoseReminderInterval,
		"REFILL_INTERVAL":        c.RefillInterval,
		"HEALTH_ALERT_INTERVAL":  c.HealthAlertInterval,
		"DISPATCH_INTERVAL":      c.DispatchInterval,
		"RETRY_INTERVAL":         c.RetryInterval,
		"EXPIRY_INTERVAL":        c.ExpiryInterval,
		"ADHERENCE_INTERVAL":     c.AdherenceInterval,
		"CLEANUP_INTERVAL":       c.CleanupInterval,
		"AS_NEEDED_INTERVAL":     c.AsNeededInterval,
		"CUSTOM_INTERVAL":        c.CustomInterval,
		"DISPATCH_TIMEOUT":       c.DispatchTimeout,
		"DISPATCH_LEASE":         c.DispatchLease,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.DispatchLease <= c.DispatchTimeout {
		return fmt.Errorf("DISPATCH_LEASE (%s) must exceed DISPATCH_TIMEOUT (%s)", c.DispatchLease, c.DispatchTimeout)
	}
	if c.AsNeededDailyDoses <= 0 || c.CustomDailyDoses <= 0 {
		return fmt.Errorf("AS_NEEDED_DAILY_DOSES and CUSTOM_DAILY_DOSES must be positive")
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be at least 1, got %d", c.DispatchWorkers)
	}
	if c.JobBatchSize < 1 {
		return fmt.Errorf("JOB_BATCH_SIZE must be at least 1, got %d", c.JobBatchSize)
	}
	if c.ReadRetentionDays < 1 || c.RetentionDays < c.ReadRetentionDays {
		return fmt.Errorf("retention must satisfy 1 <= READ_RETENTION_DAYS <= RETENTION_DAYS")
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}
