// Package bus defines the event transport the pipeline runs on: at-least-once
// delivery to independent consumer groups, pattern-based routing, and a
// per-group dead-letter path. The in-process implementation lives here; a
// NATS-backed one lives in the natsbus subpackage.
package bus

import (
	"context"
	"errors"
	"strings"

	"github.com/formsink/formsink/internal/models"
)

// Handler processes one envelope. Returning an error triggers redelivery
// unless the error is marked Permanent, in which case the envelope is
// dead-lettered immediately.
type Handler func(ctx context.Context, ev *Envelope) error

// Bus is the transport abstraction. Publish returns only after the bus has
// accepted (archived and enqueued) the envelope.
type Bus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(group, pattern string, h Handler) error
	DeadLetter(ctx context.Context, ev *Envelope, group, reason string, attempts int) error
	Close() error
}

// Archiver persists every published envelope for later replay.
type Archiver interface {
	ArchiveEvent(ctx context.Context, ev *Envelope) error
}

// DeadLetterSink records envelopes that exhausted redelivery.
type DeadLetterSink interface {
	RecordDeadLetter(ctx context.Context, dl *models.DeadLetter) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as non-retryable. The bus dead-letters the
// envelope without further redelivery.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Match reports whether an event type matches a subscription pattern.
// Patterns are exact types, "*" for everything, or a "prefix.*" wildcard:
// "submission.*" matches "submission.received".
func Match(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}
