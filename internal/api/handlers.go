package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/storage"
)

// Operator read plane. Submission state, attempt history, and dead letters
// are discoverable here; all mutation happens through ingestion or the CLI.

type SubmissionHandler struct {
	store storage.Storage
}

func NewSubmissionHandler(store storage.Storage) *SubmissionHandler {
	return &SubmissionHandler{store: store}
}

func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := h.store.GetSubmissionByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get submission")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}

	deliveries, err := h.store.GetDeliveriesBySubmission(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []models.Delivery{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submission": sub,
		"deliveries": deliveries,
	})
}

func (h *SubmissionHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deliveries, err := h.store.GetDeliveriesBySubmission(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get deliveries")
		return
	}

	type deliveryAttempts struct {
		Delivery models.Delivery  `json:"delivery"`
		Attempts []models.Attempt `json:"attempts"`
	}

	out := make([]deliveryAttempts, 0, len(deliveries))
	for _, d := range deliveries {
		attempts, err := h.store.GetAttemptsByDelivery(r.Context(), d.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get attempts")
			return
		}
		if attempts == nil {
			attempts = []models.Attempt{}
		}
		out = append(out, deliveryAttempts{Delivery: d, Attempts: attempts})
	}
	writeJSON(w, http.StatusOK, out)
}

type DeadLetterHandler struct {
	store storage.Storage
}

func NewDeadLetterHandler(store storage.Storage) *DeadLetterHandler {
	return &DeadLetterHandler{store: store}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	letters, err := h.store.ListDeadLetters(r.Context(), r.URL.Query().Get("tenant_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if letters == nil {
		letters = []models.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, letters)
}

type StatsHandler struct {
	store storage.Storage
}

func NewStatsHandler(store storage.Storage) *StatsHandler {
	return &StatsHandler{store: store}
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	stats, err := h.store.GetStats(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
