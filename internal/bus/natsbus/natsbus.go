// Package natsbus implements the event bus over NATS. Consumer groups map to
// NATS queue groups so each group processes every event exactly once per
// group, and dead letters are mirrored onto a dlq.<group> subject for
// external tooling in addition to the durable sink.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/models"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	MaxRedeliveries   int
	RedeliveryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:               nats.DefaultURL,
		Name:              "formsink",
		MaxReconnects:     -1,
		ReconnectWait:     2 * time.Second,
		Timeout:           5 * time.Second,
		MaxRedeliveries:   5,
		RedeliveryBackoff: 1 * time.Second,
	}
}

func (c *Config) withDefaults() {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxRedeliveries <= 0 {
		c.MaxRedeliveries = def.MaxRedeliveries
	}
	if c.RedeliveryBackoff <= 0 {
		c.RedeliveryBackoff = def.RedeliveryBackoff
	}
}

// Bus is a NATS-backed bus.Bus.
type Bus struct {
	conn    *nats.Conn
	cfg     Config
	archive bus.Archiver
	sink    bus.DeadLetterSink
	log     zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func Connect(cfg Config, archive bus.Archiver, sink bus.DeadLetterSink, log zerolog.Logger) (*Bus, error) {
	cfg.withDefaults()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect: %w", err)
	}

	return &Bus{conn: conn, cfg: cfg, archive: archive, sink: sink, log: log}, nil
}

// Publish archives the envelope, publishes it on a subject equal to its event
// type, and flushes so the caller gets a synchronous ack from the server.
func (b *Bus) Publish(ctx context.Context, ev *bus.Envelope) error {
	if ev == nil || ev.EventType == "" {
		return fmt.Errorf("natsbus: invalid envelope")
	}
	if b.archive != nil && !ev.Replayed {
		if err := b.archive.ArchiveEvent(ctx, ev); err != nil {
			return fmt.Errorf("natsbus: archive event: %w", err)
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("natsbus: marshal envelope: %w", err)
	}
	if err := b.conn.Publish(ev.EventType, data); err != nil {
		return fmt.Errorf("natsbus: publish: %w", err)
	}
	if err := b.conn.FlushTimeout(b.cfg.Timeout); err != nil {
		return fmt.Errorf("natsbus: flush: %w", err)
	}
	return nil
}

// Subscribe creates a queue subscription for the group. The wildcard pattern
// "prefix.*" is translated to the NATS form "prefix.>".
func (b *Bus) Subscribe(group, pattern string, h bus.Handler) error {
	subject := pattern
	if strings.HasSuffix(pattern, ".*") {
		subject = strings.TrimSuffix(pattern, ".*") + ".>"
	} else if pattern == "*" {
		subject = ">"
	}

	sub, err := b.conn.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		var ev bus.Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.Error().Err(err).Str("group", group).Msg("undecodable envelope, dead-lettering")
			b.deadLetterRaw(group, "undecodable_envelope: "+err.Error(), msg.Data)
			return
		}
		b.deliver(group, &ev, h)
	})
	if err != nil {
		return fmt.Errorf("natsbus: subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// deliver mirrors the in-process bus redelivery policy: core NATS has no
// broker-side redelivery, so retries run in the subscriber.
func (b *Bus) deliver(group string, ev *bus.Envelope, h bus.Handler) {
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxRedeliveries; attempt++ {
		lastErr = b.invoke(ev, h)
		if lastErr == nil {
			return
		}
		if bus.IsPermanent(lastErr) {
			b.DeadLetter(context.Background(), ev, group, "permanent_failure: "+lastErr.Error(), attempt)
			return
		}
		b.log.Warn().Err(lastErr).
			Str("group", group).
			Str("event_id", ev.EventID).
			Int("attempt", attempt).
			Msg("consumer failed, retrying")
		time.Sleep(b.cfg.RedeliveryBackoff * time.Duration(attempt))
	}
	b.DeadLetter(context.Background(), ev, group, "redelivery_exhausted: "+lastErr.Error(), b.cfg.MaxRedeliveries)
}

func (b *Bus) invoke(ev *bus.Envelope, h bus.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = bus.Permanent(fmt.Errorf("consumer panic: %v", r))
		}
	}()
	return h(context.Background(), ev)
}

func (b *Bus) DeadLetter(ctx context.Context, ev *bus.Envelope, group, reason string, attempts int) error {
	payload, _ := json.Marshal(ev)

	// Best effort mirror for external consumers; the sink is the record.
	if err := b.conn.Publish("dlq."+group, payload); err != nil {
		b.log.Warn().Err(err).Str("group", group).Msg("failed to mirror dead letter to nats")
	}

	if b.sink == nil {
		return nil
	}
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
	if err := b.sink.RecordDeadLetter(ctx, dl); err != nil {
		b.log.Error().Err(err).Str("group", group).Msg("failed to record dead letter")
		return err
	}
	return nil
}

func (b *Bus) deadLetterRaw(group, reason string, data []byte) {
	if b.sink == nil {
		return
	}
	dl := &models.DeadLetter{
		ID:        models.NewID("dl"),
		Scope:     models.DeadLetterConsumer,
		Source:    group,
		Reason:    reason,
		Attempts:  1,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.sink.RecordDeadLetter(context.Background(), dl); err != nil {
		b.log.Error().Err(err).Str("group", group).Msg("failed to record dead letter")
	}
}

// Close drains in-flight messages before disconnecting.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Drain()
}
