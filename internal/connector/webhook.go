package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/signing"
)

// Webhook delivers submissions as HMAC-signed JSON POSTs.
type Webhook struct {
	client *http.Client
}

func NewWebhook(timeout time.Duration) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: timeout},
	}
}

func (c *Webhook) Send(ctx context.Context, req *Request, dest *models.Destination) *Outcome {
	start := time.Now()
	fail := func(outcome, detail string) *Outcome {
		return &Outcome{
			Outcome:   outcome,
			Error:     detail,
			Attempt:   req.Attempt,
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return fail(models.OutcomeFailure, fmt.Sprintf("failed to create request: %v", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "FormSink/1.0")
	httpReq.Header.Set("X-FormSink-Submission-Id", req.SubmissionID)
	httpReq.Header.Set("X-FormSink-Attempt", fmt.Sprintf("%d", req.Attempt))
	if dest.Secret != "" {
		ts := time.Now().Unix()
		httpReq.Header.Set("X-FormSink-Timestamp", fmt.Sprintf("%d", ts))
		httpReq.Header.Set("X-FormSink-Signature", signing.Sign(dest.Secret, ts, req.Payload))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return fail(models.OutcomeTimeout, fmt.Sprintf("request timed out: %v", err))
		}
		return fail(models.OutcomeFailure, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	out := &Outcome{
		StatusCode: resp.StatusCode,
		Attempt:    req.Attempt,
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Outcome = models.OutcomeSuccess
	} else {
		out.Outcome = models.OutcomeFailure
		out.Error = fmt.Sprintf("non-2xx response: %s", truncate(string(snippet), 256))
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
