// Package config loads service settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcclellann/loanledger/pkg/credit"
	"github.com/mcclellann/loanledger/pkg/notify"
	"github.com/mcclellann/loanledger/pkg/store/postgres"
	"github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the service.
type Config struct {
	HTTPPort      int
	StoreDriver   string
	SQLitePath    string
	Database      postgres.Config
	SMTP          notify.SMTPConfig
	KafkaBrokers  []string
	KafkaTopic    string
	NodeID        int64
	LogLevel      string
	SweepInterval time.Duration
	LockTimeout   time.Duration
	ReminderDays  int
	CreditCheck   bool
	CreditRating  credit.Rating
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	httpPort, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	dbPort, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	smtpPort, err := getEnvInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	nodeID, err := getEnvInt("NODE_ID", 1)
	if err != nil {
		return nil, err
	}
	sweep, err := getEnvDuration("SWEEP_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	lockTimeout, err := getEnvDuration("LOCK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	reminderDays, err := getEnvInt("REMINDER_DAYS", 3)
	if err != nil {
		return nil, err
	}
	creditCheck, err := getEnvBool("CREDIT_CHECK", true)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:    httpPort,
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:  getEnv("SQLITE_PATH", "loanledger.db"),
		Database: postgres.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "loanledger"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		SMTP: notify.SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     smtpPort,
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SENDER_EMAIL", "no-reply@loanledger.local"),
		},
		KafkaBrokers:  splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "loan-events"),
		NodeID:        int64(nodeID),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		SweepInterval: sweep,
		LockTimeout:   lockTimeout,
		ReminderDays:  reminderDays,
		CreditCheck:   creditCheck,
		CreditRating:  credit.Rating(strings.ToUpper(getEnv("CREDIT_MIN_RATING", string(credit.RatingC)))),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: HTTP_PORT %d out of range", c.HTTPPort)
	}
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("config: DB_HOST and DB_NAME are required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	// snowflake keeps 10 bits for the node.
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("config: NODE_ID %d out of range 0-1023", c.NodeID)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL must be positive")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: LOCK_TIMEOUT must be positive")
	}
	if c.ReminderDays < 0 {
		return fmt.Errorf("config: REMINDER_DAYS must not be negative")
	}
	if !c.CreditRating.Valid() {
		return fmt.Errorf("config: unknown CREDIT_MIN_RATING %q", c.CreditRating)
	}
	return nil
}

// CreditPolicy is the lending policy CreateLoan enforces when CreditCheck is on.
func (c *Config) CreditPolicy() credit.Policy {
	p := credit.DefaultPolicy()
	p.MinRating = c.CreditRating
	return p
}

// EmailEnabled reports whether an SMTP server is configured.
func (c *Config) EmailEnabled() bool {
	return c.SMTP.Host != ""
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
