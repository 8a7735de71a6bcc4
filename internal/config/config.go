package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	DBConn   string
	LogLevel string

	JWTSecret string

	// CronSecret protects the scheduled trigger endpoint; empty disables the check.
	CronSecret   string
	CronSchedule string

	Timezone         string
	Location         *time.Location
	LeaseTTL         time.Duration
	BatchTimeout     time.Duration
	RescheduleAnchor string

	PushURL         string
	PushAccessToken string
	PushChunkSize   int

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
	OpsEmail     string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBConn:           getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=finance sslmode=disable"),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:        getEnv("JWT_SECRET", "secret"),
		CronSecret:       getEnv("CRON_SECRET", ""),
		CronSchedule:     getEnv("CRON_SCHEDULE", ""),
		Timezone:         getEnv("TIMEZONE", "UTC"),
		RescheduleAnchor: getEnv("RESCHEDULE_ANCHOR", "next_due_date"),
		PushURL:          getEnv("PUSH_URL", "https://exp.host/--/api/v2/push/send"),
		PushAccessToken:  getEnv("PUSH_ACCESS_TOKEN", ""),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getEnv("SMTP_PORT", "587"),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		SenderEmail:      getEnv("SENDER_EMAIL", ""),
		OpsEmail:         getEnv("OPS_EMAIL", ""),
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	cfg.LeaseTTL, err = time.ParseDuration(getEnv("LEASE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEASE_TTL: %w", err)
	}
	if cfg.LeaseTTL <= 0 {
		return nil, fmt.Errorf("LEASE_TTL must be positive")
	}

	cfg.BatchTimeout, err = time.ParseDuration(getEnv("BATCH_TIMEOUT", "10m"))
	if err != nil || cfg.BatchTimeout <= 0 {
		return nil, fmt.Errorf("invalid BATCH_TIMEOUT")
	}

	cfg.PushChunkSize, err = strconv.Atoi(getEnv("PUSH_CHUNK_SIZE", "100"))
	if err != nil || cfg.PushChunkSize < 1 {
		return nil, fmt.Errorf("invalid PUSH_CHUNK_SIZE")
	}

	return cfg, nil
}

// MailEnabled reports whether run reports can be emailed.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SenderEmail != "" && c.OpsEmail != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
