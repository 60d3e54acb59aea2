// Package ingest implements the submission gateway: it authenticates,
// validates, and converts HTTP requests into envelope events. The gateway
// never writes to the store directly; acceptance is a confirmed publish.
package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/formsink/formsink/internal/blob"
	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/config"
	"github.com/formsink/formsink/internal/metrics"
	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/secrets"
	"github.com/formsink/formsink/internal/signing"
)

// Request headers.
const (
	HeaderTenantID       = "X-Tenant-Id"
	HeaderTimestamp      = "X-Timestamp"
	HeaderSignature      = "X-Signature"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderSource         = "X-Source"
)

type Handler struct {
	cfg     config.IngestConfig
	secrets secrets.Provider
	blobs   *blob.Store
	bus     bus.Bus
	log     zerolog.Logger

	// now is swappable for freshness-window tests.
	now func() time.Time
}

func NewHandler(cfg config.IngestConfig, provider secrets.Provider, blobs *blob.Store, b bus.Bus, log zerolog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		secrets: provider,
		blobs:   blobs,
		bus:     b,
		log:     log,
		now:     time.Now,
	}
}

type submitResponse struct {
	SubmissionID string `json:"submission_id"`
}

// Submit handles POST /submit. Checks run in a fixed order: size, timestamp
// freshness, tenant, signature, body shape. Client errors are terminal; the
// caller must resubmit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.reject(w, http.StatusRequestEntityTooLarge, "payload too large", "payload_too_large")
			return
		}
		h.reject(w, http.StatusBadRequest, "failed to read body", "read_error")
		return
	}

	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		h.reject(w, http.StatusUnauthorized, "missing or invalid timestamp", "stale_timestamp")
		return
	}
	if skew := h.now().Unix() - ts; skew > int64(h.cfg.FreshnessWindow.Seconds()) || -skew > int64(h.cfg.FreshnessWindow.Seconds()) {
		h.reject(w, http.StatusUnauthorized, "timestamp outside freshness window", "stale_timestamp")
		return
	}

	tenantID := r.Header.Get(HeaderTenantID)
	secret, err := h.secrets.GetSecret(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) || errors.Is(err, secrets.ErrSuspended) {
			h.reject(w, http.StatusUnauthorized, "unknown or suspended tenant", "unauthorized_tenant")
			return
		}
		h.log.Error().Err(err).Str("tenant_id", tenantID).Msg("secret lookup failed")
		h.reject(w, http.StatusInternalServerError, "internal error", "secret_error")
		return
	}

	if !signing.Verify(secret, ts, body, r.Header.Get(HeaderSignature)) {
		h.reject(w, http.StatusUnauthorized, "invalid signature", "invalid_signature")
		return
	}

	if !json.Valid(body) {
		h.reject(w, http.StatusBadRequest, "malformed payload", "malformed_payload")
		return
	}

	submissionID := models.NewID("sub")
	if token := r.Header.Get(HeaderIdempotencyKey); token != "" {
		if !validToken(token) {
			h.reject(w, http.StatusBadRequest, "invalid idempotency key", "invalid_token")
			return
		}
		// Client-supplied token becomes the submission id; the store's
		// conditional create makes the retry a no-op downstream.
		submissionID = token
	}

	payload, err := h.buildPayload(r, tenantID, submissionID, body)
	if err != nil {
		h.log.Error().Err(err).Str("tenant_id", tenantID).Msg("payload offload failed")
		h.reject(w, http.StatusInternalServerError, "internal error", "blob_error")
		return
	}

	env := bus.NewEnvelope(bus.EventSubmissionReceived, tenantID, submissionID, payload)
	env.Source = r.Header.Get(HeaderSource)

	if err := h.bus.Publish(r.Context(), env); err != nil {
		h.log.Error().Err(err).Str("tenant_id", tenantID).Str("submission_id", submissionID).Msg("publish failed")
		h.reject(w, http.StatusInternalServerError, "failed to accept submission", "publish_error")
		return
	}

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	metrics.SubmissionBytesTotal.Add(float64(len(body)))
	metrics.EventsPublishedTotal.WithLabelValues(env.EventType).Inc()

	h.log.Info().
		Str("tenant_id", tenantID).
		Str("submission_id", submissionID).
		Int("bytes", len(body)).
		Bool("offloaded", payload.Ref != nil).
		Msg("submission accepted")

	writeJSON(w, http.StatusOK, submitResponse{SubmissionID: submissionID})
}

// buildPayload inlines small bodies and offloads large ones to the blob store.
func (h *Handler) buildPayload(r *http.Request, tenantID, submissionID string, body []byte) (bus.Payload, error) {
	if len(body) <= h.cfg.InlineThresholdBytes {
		return bus.Payload{Inline: json.RawMessage(body)}, nil
	}
	key, err := h.blobs.Put(r.Context(), tenantID, submissionID, body)
	if err != nil {
		return bus.Payload{}, err
	}
	return bus.Payload{Ref: &bus.BlobRef{Store: blob.StoreName, Key: key}}, nil
}

func (h *Handler) reject(w http.ResponseWriter, status int, message, result string) {
	metrics.SubmissionsTotal.WithLabelValues(result).Inc()
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// validToken accepts client idempotency tokens of up to 64 URL-safe chars.
func validToken(token string) bool {
	if len(token) > 64 {
		return false
	}
	for _, c := range token {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
