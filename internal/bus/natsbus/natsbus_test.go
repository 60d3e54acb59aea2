package natsbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	// Zero redelivery settings must be clamped, or the retry loop in
	// deliver never runs and exhaustion handling dereferences a nil error.
	cfg := Config{URL: "nats://localhost:4222", Name: "formsink"}
	cfg.withDefaults()

	assert.Equal(t, 5, cfg.MaxRedeliveries)
	assert.Equal(t, time.Second, cfg.RedeliveryBackoff)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestConfigExplicitValuesKept(t *testing.T) {
	cfg := Config{
		URL:               "nats://broker:4222",
		Timeout:           time.Second,
		MaxRedeliveries:   2,
		RedeliveryBackoff: 10 * time.Millisecond,
	}
	cfg.withDefaults()

	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, 2, cfg.MaxRedeliveries)
	assert.Equal(t, 10*time.Millisecond, cfg.RedeliveryBackoff)
	assert.Equal(t, time.Second, cfg.Timeout)
}
