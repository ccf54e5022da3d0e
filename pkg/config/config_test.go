package config

import (
	"testing"
	"time"

	"github.com/mcclellann/loanledger/pkg/credit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "STORE_DRIVER", "SQLITE_PATH", "NODE_ID", "KAFKA_BROKERS", "SMTP_HOST", "SWEEP_INTERVAL", "REMINDER_DAYS", "CREDIT_CHECK", "CREDIT_MIN_RATING"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "loanledger.db", cfg.SQLitePath)
	assert.Equal(t, int64(1), cfg.NodeID)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.EmailEnabled())
	assert.Equal(t, 24*time.Hour, cfg.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 3, cfg.ReminderDays)
	assert.True(t, cfg.CreditCheck)
	assert.Equal(t, credit.RatingC, cfg.CreditPolicy().MinRating)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORE_DRIVER", "POSTGRES")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6432")
	t.Setenv("DB_NAME", "ledger")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SMTP_HOST", "smtp.example.org")
	t.Setenv("NODE_ID", "42")
	t.Setenv("SWEEP_INTERVAL", "1h")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("REMINDER_DAYS", "7")
	t.Setenv("CREDIT_CHECK", "false")
	t.Setenv("CREDIT_MIN_RATING", "b")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.EmailEnabled())
	assert.Equal(t, int64(42), cfg.NodeID)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 7, cfg.ReminderDays)
	assert.False(t, cfg.CreditCheck)
	assert.Equal(t, credit.RatingB, cfg.CreditPolicy().MinRating)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"non-numeric port", "HTTP_PORT", "eighty"},
		{"unknown driver", "STORE_DRIVER", "mongo"},
		{"node id too large", "NODE_ID", "1024"},
		{"bad duration", "SWEEP_INTERVAL", "daily"},
		{"zero lock timeout", "LOCK_TIMEOUT", "0s"},
		{"bad log level", "LOG_LEVEL", "loud"},
		{"negative reminder window", "REMINDER_DAYS", "-1"},
		{"bad credit check flag", "CREDIT_CHECK", "maybe"},
		{"unknown credit rating", "CREDIT_MIN_RATING", "E"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
