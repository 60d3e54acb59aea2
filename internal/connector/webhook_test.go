package connector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/signing"
)

func testRequest() *Request {
	return &Request{
		TenantID:     "tnt_1",
		SubmissionID: "sub_1",
		Attempt:      1,
		Payload:      []byte(`{"name":"ada"}`),
	}
}

func TestWebhookSuccess(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWebhook(5 * time.Second)
	dest := &models.Destination{ID: "dst_1", TenantID: "tnt_1", URL: srv.URL, Secret: "fsk_dest"}

	out := c.Send(context.Background(), testRequest(), dest)
	assert.Equal(t, models.OutcomeSuccess, out.Outcome)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.True(t, out.Success())

	assert.Equal(t, `{"name":"ada"}`, string(gotBody))
	assert.Equal(t, "sub_1", gotHeaders.Get("X-FormSink-Submission-Id"))
	assert.Equal(t, "1", gotHeaders.Get("X-FormSink-Attempt"))

	ts, err := strconv.ParseInt(gotHeaders.Get("X-FormSink-Timestamp"), 10, 64)
	require.NoError(t, err)
	assert.True(t, signing.Verify("fsk_dest", ts, gotBody, gotHeaders.Get("X-FormSink-Signature")))
}

func TestWebhookNoSecretSkipsSignature(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewWebhook(5 * time.Second)
	out := c.Send(context.Background(), testRequest(), &models.Destination{ID: "dst_1", URL: srv.URL})
	assert.Equal(t, models.OutcomeSuccess, out.Outcome)
	assert.Empty(t, gotHeaders.Get("X-FormSink-Signature"))
}

func TestWebhookNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewWebhook(5 * time.Second)
	out := c.Send(context.Background(), testRequest(), &models.Destination{ID: "dst_1", URL: srv.URL})
	assert.Equal(t, models.OutcomeFailure, out.Outcome)
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode)
	assert.Contains(t, out.Error, "upstream exploded")
}

func TestWebhookTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewWebhook(5 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := c.Send(ctx, testRequest(), &models.Destination{ID: "dst_1", URL: srv.URL})
	assert.Equal(t, models.OutcomeTimeout, out.Outcome)
	assert.Zero(t, out.StatusCode)
}

func TestWebhookConnectionRefused(t *testing.T) {
	c := NewWebhook(time.Second)
	out := c.Send(context.Background(), testRequest(), &models.Destination{ID: "dst_1", URL: "http://127.0.0.1:1"})
	assert.Equal(t, models.OutcomeFailure, out.Outcome)
	assert.NotEmpty(t, out.Error)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(models.ProtocolWebhook)
	assert.False(t, ok)

	r.Register(models.ProtocolWebhook, NewWebhook(time.Second))
	c, ok := r.Get(models.ProtocolWebhook)
	assert.True(t, ok)
	assert.NotNil(t, c)
}
