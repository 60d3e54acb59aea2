package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/formsink/formsink/internal/models"
)

// MemoryOptions tune the in-process bus.
type MemoryOptions struct {
	BufferSize        int
	MaxRedeliveries   int
	RedeliveryBackoff time.Duration
}

func (o *MemoryOptions) withDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 64
	}
	if o.MaxRedeliveries <= 0 {
		o.MaxRedeliveries = 5
	}
	if o.RedeliveryBackoff <= 0 {
		o.RedeliveryBackoff = 1 * time.Second
	}
}

type memorySub struct {
	group   string
	pattern string
	handler Handler
	ch      chan *Envelope
}

// Memory is a channel-based Bus. Each consumer group gets its own queue and
// worker goroutine, so groups never block each other. Handler failures are
// redelivered with backoff up to MaxRedeliveries, then dead-lettered.
type Memory struct {
	opts    MemoryOptions
	archive Archiver
	sink    DeadLetterSink
	log     zerolog.Logger

	mu     sync.RWMutex
	subs   []*memorySub
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewMemory(opts MemoryOptions, archive Archiver, sink DeadLetterSink, log zerolog.Logger) *Memory {
	opts.withDefaults()
	return &Memory{
		opts:    opts,
		archive: archive,
		sink:    sink,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Publish archives the envelope and enqueues it to every matching group.
// It blocks until every queue has accepted the envelope, which is the
// synchronous ack the ingestion gateway relies on. Replayed envelopes are
// not re-archived.
func (m *Memory) Publish(ctx context.Context, ev *Envelope) error {
	if ev == nil || ev.EventType == "" {
		return fmt.Errorf("bus: invalid envelope")
	}

	if m.archive != nil && !ev.Replayed {
		if err := m.archive.ArchiveEvent(ctx, ev); err != nil {
			return fmt.Errorf("bus: archive event: %w", err)
		}
	}

	// The read lock spans the sends: Close takes the write lock, so it can
	// never close a queue while a publish is enqueueing into it.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("bus: closed")
	}

	for _, sub := range m.subs {
		if !Match(sub.pattern, ev.EventType) {
			continue
		}
		select {
		case sub.ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Memory) Subscribe(group, pattern string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("bus: closed")
	}
	for _, sub := range m.subs {
		if sub.group == group {
			return fmt.Errorf("bus: group %q already subscribed", group)
		}
	}

	sub := &memorySub{
		group:   group,
		pattern: pattern,
		handler: h,
		ch:      make(chan *Envelope, m.opts.BufferSize),
	}
	m.subs = append(m.subs, sub)

	m.wg.Add(1)
	go m.consume(sub)
	return nil
}

func (m *Memory) consume(sub *memorySub) {
	defer m.wg.Done()
	for ev := range sub.ch {
		m.deliver(sub, ev)
	}
}

// deliver invokes the handler with redelivery. Panics are normalized to
// errors so a misbehaving consumer never takes the process down.
func (m *Memory) deliver(sub *memorySub, ev *Envelope) {
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxRedeliveries; attempt++ {
		lastErr = m.invoke(sub, ev)
		if lastErr == nil {
			return
		}
		if IsPermanent(lastErr) {
			m.log.Error().Err(lastErr).
				Str("group", sub.group).
				Str("event_id", ev.EventID).
				Msg("permanent consumer failure, dead-lettering")
			m.DeadLetter(context.Background(), ev, sub.group, "permanent_failure: "+lastErr.Error(), attempt)
			return
		}

		m.log.Warn().Err(lastErr).
			Str("group", sub.group).
			Str("event_id", ev.EventID).
			Int("attempt", attempt).
			Msg("consumer failed, scheduling redelivery")

		select {
		case <-time.After(m.opts.RedeliveryBackoff * time.Duration(attempt)):
		case <-m.done:
			return
		}
	}

	m.DeadLetter(context.Background(), ev, sub.group, "redelivery_exhausted: "+lastErr.Error(), m.opts.MaxRedeliveries)
}

func (m *Memory) invoke(sub *memorySub, ev *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("consumer panic: %v", r))
		}
	}()
	return sub.handler(context.Background(), ev)
}

func (m *Memory) DeadLetter(ctx context.Context, ev *Envelope, group, reason string, attempts int) error {
	if m.sink == nil {
		return nil
	}
	payload, _ := json.Marshal(ev)
	dl := &models.DeadLetter{
		ID:           models.NewID("dl"),
		Scope:        models.DeadLetterConsumer,
		Source:       group,
		TenantID:     ev.TenantID,
		SubmissionID: ev.SubmissionID,
		Reason:       reason,
		Attempts:     attempts,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.sink.RecordDeadLetter(ctx, dl); err != nil {
		m.log.Error().Err(err).Str("group", group).Str("event_id", ev.EventID).Msg("failed to record dead letter")
		return err
	}
	return nil
}

// Close stops accepting publishes, drains queues, and waits for consumers.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	for _, sub := range m.subs {
		close(sub.ch)
	}
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
