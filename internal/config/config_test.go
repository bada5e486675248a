package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PAYMENT_PROVIDER", "")

	cfg := Load()

	assert.Equal(t, ":8084", cfg.Server.Port)
	assert.Equal(t, "mock", cfg.Payment.Provider)
	assert.Equal(t, 15*time.Minute, cfg.Payment.ReservationTTL)
	assert.Equal(t, 3, cfg.Payment.MaxRetries)
	assert.Equal(t, 20, cfg.Tickets.CodeByteSize)
	assert.False(t, cfg.Reconciliation.AutoFix)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", ":9000")
	t.Setenv("RESERVATION_TTL", "2m")
	t.Setenv("RECONCILIATION_AUTO_FIX", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PAYMENT_MAX_RETRIES", "not-a-number")

	cfg := Load()

	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Payment.ReservationTTL)
	assert.True(t, cfg.Reconciliation.AutoFix)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Payment.MaxRetries, "invalid ints fall back to the default")
}
