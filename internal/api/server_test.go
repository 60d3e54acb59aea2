package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formsink/formsink/internal/blob"
	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/config"
	"github.com/formsink/formsink/internal/ingest"
	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/orchestrator"
	"github.com/formsink/formsink/internal/persist"
	"github.com/formsink/formsink/internal/secrets"
	"github.com/formsink/formsink/internal/signing"
	"github.com/formsink/formsink/internal/storage"
)

// The server test wires the real pipeline end to end: ingestion through the
// in-process bus into persistence and fan-out, then reads the result back
// through the operator endpoints.

type pipeline struct {
	store  storage.Storage
	server *Server
	secret string
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	secret := "fsk_test_secret"
	require.NoError(t, store.CreateTenant(context.Background(), &models.Tenant{
		ID: "tnt_1", Name: "acme", Secret: secret, Status: models.TenantActive,
		CreatedAt: now, UpdatedAt: now,
	}))

	log := zerolog.Nop()
	eventBus := bus.NewMemory(bus.MemoryOptions{RedeliveryBackoff: time.Millisecond}, store, store, log)
	t.Cleanup(func() { eventBus.Close() })

	require.NoError(t, persist.NewWriter(store, log).Register(eventBus))
	require.NoError(t, orchestrator.New(store, 0, log).Register(eventBus))

	blobs := blob.NewStore(afero.NewMemMapFs(), "/blobs")
	provider := secrets.NewCache(secrets.NewStoreProvider(store), 30*time.Second)
	gw := ingest.NewHandler(config.IngestConfig{
		MaxBodyBytes:         1024,
		InlineThresholdBytes: 512,
		FreshnessWindow:      5 * time.Minute,
	}, provider, blobs, eventBus, log)

	return &pipeline{
		store:  store,
		server: NewServer(config.ServerConfig{}, store, gw, log),
		secret: secret,
	}
}

func (p *pipeline) submit(t *testing.T, body string) string {
	t.Helper()
	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, "/submit", bytes.NewReader([]byte(body)))
	req.Header.Set(ingest.HeaderTenantID, "tnt_1")
	req.Header.Set(ingest.HeaderTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(ingest.HeaderSignature, signing.Sign(p.secret, ts, []byte(body)))

	rec := httptest.NewRecorder()
	p.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		SubmissionID string `json:"submission_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.SubmissionID
}

func (p *pipeline) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	p.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	p := newPipeline(t)
	rec := p.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitFlowsThroughPipeline(t *testing.T) {
	p := newPipeline(t)
	id := p.submit(t, `{"name":"ada"}`)

	// With no destinations configured the submission settles as delivered
	// once both consumers have run.
	require.Eventually(t, func() bool {
		sub, err := p.store.GetSubmission(context.Background(), "tnt_1", id)
		return err == nil && sub != nil && sub.Status == models.SubmissionDelivered
	}, 2*time.Second, 10*time.Millisecond)

	rec := p.get(t, "/api/v1/submissions/"+id)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Submission models.Submission `json:"submission"`
		Deliveries []models.Delivery `json:"deliveries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.Submission.ID)
	assert.Equal(t, models.SubmissionDelivered, resp.Submission.Status)
	assert.Empty(t, resp.Deliveries)
}

func TestGetSubmissionNotFound(t *testing.T) {
	p := newPipeline(t)
	rec := p.get(t, "/api/v1/submissions/sub_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitUnsigned(t *testing.T) {
	p := newPipeline(t)
	req := httptest.NewRequest(http.MethodPost, "/submit", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	p.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	p := newPipeline(t)
	id := p.submit(t, `{"name":"ada"}`)
	require.Eventually(t, func() bool {
		sub, err := p.store.GetSubmission(context.Background(), "tnt_1", id)
		return err == nil && sub != nil
	}, 2*time.Second, 10*time.Millisecond)

	rec := p.get(t, "/api/v1/stats?tenant_id=tnt_1")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats storage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalSubmissions)

	rec = p.get(t, "/api/v1/stats")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeadLettersEndpoint(t *testing.T) {
	p := newPipeline(t)
	rec := p.get(t, "/api/v1/deadletters?tenant_id=tnt_1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
