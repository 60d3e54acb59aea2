// Package persist records each submission durably, exactly once per tenant.
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/storage"
)

// Group is the writer's consumer group on the bus.
const Group = "persistence-writer"

type Writer struct {
	store storage.Storage
	log   zerolog.Logger
}

func NewWriter(store storage.Storage, log zerolog.Logger) *Writer {
	return &Writer{store: store, log: log}
}

// Register subscribes the writer to submission.received events.
func (w *Writer) Register(b bus.Bus) error {
	return b.Subscribe(Group, bus.EventSubmissionReceived, w.Handle)
}

// Handle writes the submission with a conditional create-if-absent. A
// duplicate is an idempotent no-op; a transient store failure propagates so
// the bus redelivers; a malformed envelope is dead-lettered immediately.
func (w *Writer) Handle(ctx context.Context, ev *bus.Envelope) error {
	if ev.TenantID == "" || ev.SubmissionID == "" {
		return bus.Permanent(fmt.Errorf("envelope missing tenant or submission id"))
	}

	var ref string
	if ev.Payload.Ref != nil {
		ref = ev.Payload.Ref.Key
	}

	now := time.Now().UTC()
	sub := &models.Submission{
		ID:            ev.SubmissionID,
		TenantID:      ev.TenantID,
		Source:        ev.Source,
		Status:        models.SubmissionPersisted,
		PayloadInline: ev.Payload.Inline,
		PayloadRef:    ref,
		ReceivedAt:    ev.EmittedAt,
		UpdatedAt:     now,
	}

	created, err := w.store.CreateSubmissionIfAbsent(ctx, sub)
	if err != nil {
		return fmt.Errorf("persist submission %s/%s: %w", ev.TenantID, ev.SubmissionID, err)
	}
	if !created {
		w.log.Info().
			Str("tenant_id", ev.TenantID).
			Str("submission_id", ev.SubmissionID).
			Bool("replayed", ev.Replayed).
			Msg("duplicate submission, skipping")
		return nil
	}

	w.log.Info().
		Str("tenant_id", ev.TenantID).
		Str("submission_id", ev.SubmissionID).
		Bool("replayed", ev.Replayed).
		Msg("submission persisted")
	return nil
}
