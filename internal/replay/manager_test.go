package replay

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/storage"
)

type captureBus struct {
	mu        sync.Mutex
	published []*bus.Envelope
}

func (b *captureBus) Publish(_ context.Context, ev *bus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, ev)
	return nil
}

func (b *captureBus) Subscribe(string, string, bus.Handler) error { return nil }
func (b *captureBus) DeadLetter(context.Context, *bus.Envelope, string, string, int) error {
	return nil
}
func (b *captureBus) Close() error { return nil }

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func archive(t *testing.T, store storage.Storage, id, tenant string, at time.Time) {
	t.Helper()
	ev := &bus.Envelope{
		EventID:       id,
		EventType:     bus.EventSubmissionReceived,
		SchemaVersion: bus.SchemaVersion,
		TenantID:      tenant,
		SubmissionID:  "sub_" + id,
		EmittedAt:     at,
		Payload:       bus.Payload{Inline: json.RawMessage(`{}`)},
	}
	require.NoError(t, store.ArchiveEvent(context.Background(), ev))
}

func TestReplayPublishesMatchingEvents(t *testing.T) {
	store := newTestStore(t)
	b := &captureBus{}
	m := NewManager(store, b, zerolog.Nop())

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	archive(t, store, "ev_1", "tnt_1", base)
	archive(t, store, "ev_2", "tnt_1", base.Add(time.Minute))
	archive(t, store, "ev_3", "tnt_2", base.Add(2*time.Minute))
	archive(t, store, "ev_old", "tnt_1", base.Add(-2*time.Hour))

	n, err := m.Replay(context.Background(), storage.ReplayFilter{
		From:     base.Add(-time.Minute),
		To:       base.Add(time.Hour),
		TenantID: "tnt_1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, b.published, 2)
	for _, ev := range b.published {
		assert.True(t, ev.Replayed, "replayed envelopes must carry the marker")
		assert.Equal(t, "tnt_1", ev.TenantID)
	}
	assert.Equal(t, "ev_1", b.published[0].EventID)
	assert.Equal(t, "ev_2", b.published[1].EventID)
}

func TestReplayEmptyWindow(t *testing.T) {
	store := newTestStore(t)
	b := &captureBus{}
	m := NewManager(store, b, zerolog.Nop())

	n, err := m.Replay(context.Background(), storage.ReplayFilter{
		From: time.Now().UTC().Add(-time.Minute),
		To:   time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, b.published)
}
