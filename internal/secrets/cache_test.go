package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	secrets map[string]string
	errs    map[string]error
	calls   int
}

func (p *fakeProvider) GetSecret(_ context.Context, tenantID string) (string, error) {
	p.calls++
	if err, ok := p.errs[tenantID]; ok {
		return "", err
	}
	if s, ok := p.secrets[tenantID]; ok {
		return s, nil
	}
	return "", ErrNotFound
}

func TestCacheServesFromCacheWithinTTL(t *testing.T) {
	next := &fakeProvider{secrets: map[string]string{"tnt_1": "fsk_a"}}
	c := NewCache(next, 30*time.Second)

	for i := 0; i < 3; i++ {
		secret, err := c.GetSecret(context.Background(), "tnt_1")
		require.NoError(t, err)
		assert.Equal(t, "fsk_a", secret)
	}
	assert.Equal(t, 1, next.calls)
}

func TestCacheExpires(t *testing.T) {
	next := &fakeProvider{secrets: map[string]string{"tnt_1": "fsk_a"}}
	c := NewCache(next, 30*time.Second)

	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.GetSecret(context.Background(), "tnt_1")
	require.NoError(t, err)

	next.secrets["tnt_1"] = "fsk_rotated"
	now = now.Add(31 * time.Second)

	secret, err := c.GetSecret(context.Background(), "tnt_1")
	require.NoError(t, err)
	assert.Equal(t, "fsk_rotated", secret)
	assert.Equal(t, 2, next.calls)
}

func TestCacheDropsEntryOnError(t *testing.T) {
	next := &fakeProvider{secrets: map[string]string{"tnt_1": "fsk_a"}}
	c := NewCache(next, 30*time.Second)

	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.GetSecret(context.Background(), "tnt_1")
	require.NoError(t, err)

	// Suspension must surface as soon as the TTL lapses, not be masked by
	// the stale positive entry.
	next.errs = map[string]error{"tnt_1": ErrSuspended}
	now = now.Add(31 * time.Second)

	_, err = c.GetSecret(context.Background(), "tnt_1")
	assert.ErrorIs(t, err, ErrSuspended)

	_, err = c.GetSecret(context.Background(), "tnt_1")
	assert.ErrorIs(t, err, ErrSuspended)
}

func TestCacheNegativeNotCached(t *testing.T) {
	next := &fakeProvider{}
	c := NewCache(next, 30*time.Second)

	_, err := c.GetSecret(context.Background(), "tnt_unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.GetSecret(context.Background(), "tnt_unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, next.calls)
}
