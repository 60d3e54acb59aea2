package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/formsink/formsink/internal/blob"
	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/connector"
	"github.com/formsink/formsink/internal/metrics"
	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/storage"
)

// Worker performs one delivery attempt for a due delivery row, records the
// attempt, and either finalizes the pair or schedules the next retry.
type Worker struct {
	store       storage.Storage
	blobs       *blob.Store
	registry    *connector.Registry
	backoff     Backoff
	timeout     time.Duration
	maxAttempts int
	log         zerolog.Logger
}

func NewWorker(store storage.Storage, blobs *blob.Store, registry *connector.Registry, backoff Backoff, timeout time.Duration, maxAttempts int, log zerolog.Logger) *Worker {
	return &Worker{
		store:       store,
		blobs:       blobs,
		registry:    registry,
		backoff:     backoff,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func (w *Worker) Process(ctx context.Context, d models.Delivery) {
	dest, err := w.store.GetDestination(ctx, d.DestinationID)
	if err != nil || dest == nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to load destination for delivery")
		return
	}

	// Administrative suspension cancels remaining retries.
	if !dest.Enabled {
		d.Status = models.DeliveryFailed
		d.NextRetryAt = nil
		if err := w.store.UpdateDelivery(ctx, &d); err != nil {
			w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to update delivery")
			return
		}
		w.log.Info().Str("delivery_id", d.ID).Str("destination_id", dest.ID).Msg("destination disabled, delivery cancelled")
		w.finalize(ctx, d)
		return
	}

	if dest.TenantID != d.TenantID {
		w.log.Error().
			Str("delivery_id", d.ID).
			Str("destination_id", dest.ID).
			Msg("cross-tenant delivery rejected")
		return
	}

	payload, err := w.resolvePayload(ctx, d)
	if err != nil {
		w.recordResult(ctx, d, dest, &connector.Outcome{
			Outcome: models.OutcomeFailure,
			Error:   fmt.Sprintf("payload resolution failed: %v", err),
			Attempt: d.AttemptCount + 1,
		})
		return
	}

	conn, ok := w.registry.Get(dest.Protocol)
	if !ok {
		w.recordResult(ctx, d, dest, &connector.Outcome{
			Outcome: models.OutcomeFailure,
			Error:   fmt.Sprintf("no connector for protocol %q", dest.Protocol),
			Attempt: d.AttemptCount + 1,
		})
		return
	}

	req := &connector.Request{
		TenantID:     d.TenantID,
		SubmissionID: d.SubmissionID,
		Attempt:      d.AttemptCount + 1,
		Payload:      payload,
	}
	outcome := w.send(ctx, conn, req, dest)
	w.recordResult(ctx, d, dest, outcome)
}

// send bounds the attempt with the per-call timeout and normalizes panics:
// nothing crosses the connector boundary except an Outcome.
func (w *Worker) send(ctx context.Context, conn connector.Connector, req *connector.Request, dest *models.Destination) (out *connector.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = &connector.Outcome{
				Outcome: models.OutcomeFailure,
				Error:   fmt.Sprintf("connector panic: %v", r),
				Attempt: req.Attempt,
			}
		}
	}()
	sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return conn.Send(sendCtx, req, dest)
}

// resolvePayload reads the submission body from the archived envelope, which
// exists before any consumer runs because the bus archives at publish time.
// Replay therefore resolves through the same path as first delivery.
func (w *Worker) resolvePayload(ctx context.Context, d models.Delivery) ([]byte, error) {
	ev, err := w.store.GetArchivedEvent(ctx, d.TenantID, d.SubmissionID, bus.EventSubmissionReceived)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("no archived event for submission %s", d.SubmissionID)
	}
	if ev.Payload.Ref != nil {
		return w.blobs.Get(ctx, ev.Payload.Ref.Key)
	}
	return ev.Payload.Inline, nil
}

func (w *Worker) recordResult(ctx context.Context, d models.Delivery, dest *models.Destination, outcome *connector.Outcome) {
	d.AttemptCount++
	now := time.Now().UTC()

	attempt := &models.Attempt{
		ID:            models.NewID("att"),
		DeliveryID:    d.ID,
		AttemptNumber: d.AttemptCount,
		Outcome:       outcome.Outcome,
		StatusCode:    outcome.StatusCode,
		Error:         outcome.Error,
		LatencyMs:     outcome.LatencyMs,
		CreatedAt:     now,
	}
	switch err := w.store.AppendAttempt(ctx, attempt); {
	case errors.Is(err, storage.ErrDuplicateAttempt):
		// A prior run recorded this attempt number but lost the row update.
		// Adopt the existing record and fall through to the status update so
		// the delivery cannot stay pending forever.
		w.log.Warn().
			Str("delivery_id", d.ID).
			Int("attempt", d.AttemptCount).
			Msg("attempt already recorded, reconciling delivery state")
	case err != nil:
		// Leave the row untouched; the scheduler re-runs the attempt and the
		// unique (delivery, attempt_number) constraint keeps the log strict.
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to record attempt")
		return
	default:
		metrics.DeliveryAttemptsTotal.WithLabelValues(outcome.Outcome).Inc()
	}

	maxAttempts := w.maxAttempts
	if dest.MaxAttempts > 0 {
		maxAttempts = dest.MaxAttempts
	}

	switch {
	case outcome.Success():
		d.Status = models.DeliverySucceeded
		d.NextRetryAt = nil
		w.log.Info().
			Str("delivery_id", d.ID).
			Int("status_code", outcome.StatusCode).
			Int("attempt", d.AttemptCount).
			Int64("latency_ms", outcome.LatencyMs).
			Msg("delivery succeeded")

	case d.AttemptCount >= maxAttempts:
		d.Status = models.DeliveryFailed
		d.NextRetryAt = nil
		w.log.Warn().
			Str("delivery_id", d.ID).
			Int("attempts", d.AttemptCount).
			Str("error", outcome.Error).
			Msg("delivery retries exhausted")
		w.deadLetter(ctx, d, dest, outcome)

	default:
		d.Status = models.DeliveryRetrying
		d.NextRetryAt = w.backoff.NextRetryAt(d.AttemptCount)
		w.log.Info().
			Str("delivery_id", d.ID).
			Int("attempt", d.AttemptCount).
			Time("next_retry", *d.NextRetryAt).
			Msg("delivery scheduled for retry")
	}

	if err := w.store.UpdateDelivery(ctx, &d); err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to update delivery")
		return
	}

	if d.Status == models.DeliverySucceeded || d.Status == models.DeliveryFailed {
		w.finalize(ctx, d)
	}
}

// deadLetter routes an exhausted (submission, destination) pair to the
// destination's dead-letter path.
func (w *Worker) deadLetter(ctx context.Context, d models.Delivery, dest *models.Destination, outcome *connector.Outcome) {
	payload, _ := json.Marshal(outcome)
	dl := &models.DeadLetter{
		ID:           models.NewID("dl"),
		Scope:        models.DeadLetterDelivery,
		Source:       dest.ID,
		TenantID:     d.TenantID,
		SubmissionID: d.SubmissionID,
		Reason:       "retries_exhausted",
		Detail:       outcome.Error,
		Attempts:     d.AttemptCount,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}
	if err := w.store.RecordDeadLetter(ctx, dl); err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to record dead letter")
		return
	}
	metrics.DeadLettersTotal.WithLabelValues(models.DeadLetterDelivery).Inc()
}

// finalize aggregates per-destination terminal states into the submission
// status: delivered iff all succeeded, failed iff none did, partially_failed
// otherwise. Runs after every terminal delivery; a no-op while any pair is
// still pending or retrying.
func (w *Worker) finalize(ctx context.Context, d models.Delivery) {
	deliveries, err := w.store.GetDeliveriesBySubmission(ctx, d.SubmissionID)
	if err != nil {
		w.log.Error().Err(err).Str("submission_id", d.SubmissionID).Msg("failed to load deliveries for finalize")
		return
	}

	succeeded, failed := 0, 0
	for _, dd := range deliveries {
		switch dd.Status {
		case models.DeliverySucceeded:
			succeeded++
		case models.DeliveryFailed:
			failed++
		default:
			return // still in flight
		}
	}

	var status models.SubmissionStatus
	switch {
	case failed == 0:
		status = models.SubmissionDelivered
	case succeeded == 0:
		status = models.SubmissionFailed
	default:
		status = models.SubmissionPartiallyFailed
	}

	if err := w.store.UpdateSubmissionStatus(ctx, d.TenantID, d.SubmissionID, status); err != nil {
		w.log.Error().Err(err).Str("submission_id", d.SubmissionID).Msg("failed to update submission status")
		return
	}
	w.log.Info().
		Str("submission_id", d.SubmissionID).
		Str("status", string(status)).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Msg("submission delivery finalized")
}
