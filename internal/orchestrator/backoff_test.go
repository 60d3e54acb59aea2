package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayBounds(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 15 * time.Minute}

	for attempt := 1; attempt <= 10; attempt++ {
		full := 2 * time.Second << (attempt - 1)
		if full > b.Cap {
			full = b.Cap
		}
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, full/2, "attempt %d", attempt)
			assert.LessOrEqual(t, d, full, "attempt %d", attempt)
		}
	}
}

func TestDelayNeverShrinks(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 15 * time.Minute}

	// The minimum of attempt N+1 equals the maximum of attempt N, so
	// consecutive intervals never decrease regardless of jitter.
	for attempt := 1; attempt < 9; attempt++ {
		maxPrev := 2 * time.Second << (attempt - 1)
		for i := 0; i < 50; i++ {
			assert.GreaterOrEqual(t, b.Delay(attempt+1), maxPrev, "attempt %d", attempt)
		}
	}
}

func TestDelayCapped(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 10 * time.Second}
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, b.Delay(30), 10*time.Second)
	}
}

func TestDelayClampsAttempt(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 15 * time.Minute}
	d := b.Delay(0)
	assert.GreaterOrEqual(t, d, time.Second)
	assert.LessOrEqual(t, d, 2*time.Second)
}

func TestNextRetryAtIsInTheFuture(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 15 * time.Minute}
	at := b.NextRetryAt(1)
	require.NotNil(t, at)
	assert.True(t, at.After(time.Now().UTC()))
}
