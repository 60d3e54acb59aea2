package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formsink/formsink/internal/models"
)

type fakeArchive struct {
	mu     sync.Mutex
	events []*Envelope
}

func (a *fakeArchive) ArchiveEvent(_ context.Context, ev *Envelope) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *fakeArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

type fakeSink struct {
	mu      sync.Mutex
	letters []*models.DeadLetter
}

func (s *fakeSink) RecordDeadLetter(_ context.Context, dl *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
	return nil
}

func (s *fakeSink) all() []*models.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.DeadLetter(nil), s.letters...)
}

func testEnvelope() *Envelope {
	return NewEnvelope(EventSubmissionReceived, "tnt_1", "sub_1", Payload{Inline: json.RawMessage(`{}`)})
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"submission.received", "submission.received", true},
		{"submission.received", "submission.replayed", false},
		{"*", "submission.received", true},
		{"submission.*", "submission.received", true},
		{"submission.*", "delivery.failed", false},
		{"submission.*", "submission", false},
		{"delivery.*", "submission.received", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Match(tc.pattern, tc.eventType), "pattern %q vs %q", tc.pattern, tc.eventType)
	}
}

func TestMemoryPublishReachesAllGroups(t *testing.T) {
	archive := &fakeArchive{}
	m := NewMemory(MemoryOptions{}, archive, &fakeSink{}, zerolog.Nop())
	defer m.Close()

	got := make(chan string, 2)
	require.NoError(t, m.Subscribe("writer", EventSubmissionReceived, func(_ context.Context, ev *Envelope) error {
		got <- "writer:" + ev.SubmissionID
		return nil
	}))
	require.NoError(t, m.Subscribe("orchestrator", "submission.*", func(_ context.Context, ev *Envelope) error {
		got <- "orchestrator:" + ev.SubmissionID
		return nil
	}))

	require.NoError(t, m.Publish(context.Background(), testEnvelope()))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-got:
			seen[v] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for consumers")
		}
	}
	assert.True(t, seen["writer:sub_1"])
	assert.True(t, seen["orchestrator:sub_1"])
	assert.Equal(t, 1, archive.count())
}

func TestMemoryArchivesBeforeDelivery(t *testing.T) {
	archive := &fakeArchive{}
	m := NewMemory(MemoryOptions{}, archive, &fakeSink{}, zerolog.Nop())
	defer m.Close()

	sawArchived := make(chan bool, 1)
	require.NoError(t, m.Subscribe("writer", EventSubmissionReceived, func(_ context.Context, _ *Envelope) error {
		sawArchived <- archive.count() == 1
		return nil
	}))

	require.NoError(t, m.Publish(context.Background(), testEnvelope()))

	select {
	case ok := <-sawArchived:
		assert.True(t, ok, "envelope must be archived before any consumer sees it")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for consumer")
	}
}

func TestMemoryReplayedNotRearchived(t *testing.T) {
	archive := &fakeArchive{}
	m := NewMemory(MemoryOptions{}, archive, &fakeSink{}, zerolog.Nop())
	defer m.Close()

	ev := testEnvelope()
	ev.Replayed = true
	require.NoError(t, m.Publish(context.Background(), ev))
	assert.Equal(t, 0, archive.count())
}

func TestMemoryRedeliveryThenDeadLetter(t *testing.T) {
	sink := &fakeSink{}
	m := NewMemory(MemoryOptions{MaxRedeliveries: 3, RedeliveryBackoff: time.Millisecond}, &fakeArchive{}, sink, zerolog.Nop())
	defer m.Close()

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	require.NoError(t, m.Subscribe("writer", EventSubmissionReceived, func(_ context.Context, _ *Envelope) error {
		mu.Lock()
		calls++
		last := calls == 3
		mu.Unlock()
		if last {
			close(done)
		}
		return errors.New("store unavailable")
	}))

	require.NoError(t, m.Publish(context.Background(), testEnvelope()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not redelivered")
	}

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	dl := sink.all()[0]
	assert.Equal(t, models.DeadLetterConsumer, dl.Scope)
	assert.Equal(t, "writer", dl.Source)
	assert.Equal(t, 3, dl.Attempts)
	assert.Contains(t, dl.Reason, "redelivery_exhausted")
}

func TestMemoryPermanentErrorSkipsRedelivery(t *testing.T) {
	sink := &fakeSink{}
	m := NewMemory(MemoryOptions{MaxRedeliveries: 5, RedeliveryBackoff: time.Millisecond}, &fakeArchive{}, sink, zerolog.Nop())
	defer m.Close()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, m.Subscribe("writer", EventSubmissionReceived, func(_ context.Context, _ *Envelope) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return Permanent(errors.New("malformed envelope"))
	}))

	require.NoError(t, m.Publish(context.Background(), testEnvelope()))
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Contains(t, sink.all()[0].Reason, "permanent_failure")
}

func TestMemoryPanicIsDeadLettered(t *testing.T) {
	sink := &fakeSink{}
	m := NewMemory(MemoryOptions{RedeliveryBackoff: time.Millisecond}, &fakeArchive{}, sink, zerolog.Nop())
	defer m.Close()

	require.NoError(t, m.Subscribe("writer", EventSubmissionReceived, func(_ context.Context, _ *Envelope) error {
		panic("boom")
	}))

	require.NoError(t, m.Publish(context.Background(), testEnvelope()))
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, sink.all()[0].Reason, "panic")
}

func TestMemoryDuplicateGroupRejected(t *testing.T) {
	m := NewMemory(MemoryOptions{}, &fakeArchive{}, &fakeSink{}, zerolog.Nop())
	defer m.Close()

	noop := func(_ context.Context, _ *Envelope) error { return nil }
	require.NoError(t, m.Subscribe("writer", "*", noop))
	assert.Error(t, m.Subscribe("writer", "*", noop))
}

func TestMemoryCloseDuringPublish(t *testing.T) {
	for i := 0; i < 50; i++ {
		m := NewMemory(MemoryOptions{}, &fakeArchive{}, &fakeSink{}, zerolog.Nop())
		require.NoError(t, m.Subscribe("writer", "*", func(_ context.Context, _ *Envelope) error {
			return nil
		}))

		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					// Either a clean accept or a closed-bus error; never a
					// send on a closed channel.
					if err := m.Publish(context.Background(), testEnvelope()); err != nil {
						assert.ErrorContains(t, err, "closed")
						return
					}
				}
			}()
		}
		require.NoError(t, m.Close())
		wg.Wait()
	}
}

func TestMemoryPublishAfterClose(t *testing.T) {
	m := NewMemory(MemoryOptions{}, &fakeArchive{}, &fakeSink{}, zerolog.Nop())
	require.NoError(t, m.Close())
	assert.Error(t, m.Publish(context.Background(), testEnvelope()))
}

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("bad input")
	assert.True(t, IsPermanent(Permanent(base)))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
	assert.ErrorIs(t, Permanent(base), base)
}
