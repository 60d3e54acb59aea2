// Package connector holds the pluggable per-protocol senders invoked by the
// delivery orchestrator. A connector performs exactly one attempt and
// normalizes every failure into an Outcome; nothing escapes the boundary.
package connector

import (
	"context"
	"sync"

	"github.com/formsink/formsink/internal/models"
)

// Outcome is the structured result of one delivery attempt.
type Outcome struct {
	Outcome    string `json:"outcome"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempt    int    `json:"attempt"`
	LatencyMs  int64  `json:"latency_ms"`
}

func (o *Outcome) Success() bool {
	return o.Outcome == models.OutcomeSuccess
}

// Request is the resolved delivery input handed to a connector.
type Request struct {
	TenantID     string
	SubmissionID string
	Attempt      int
	Payload      []byte
}

type Connector interface {
	Send(ctx context.Context, req *Request, dest *models.Destination) *Outcome
}

// Registry maps protocol names to connectors.
type Registry struct {
	mu         sync.RWMutex
	byProtocol map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{byProtocol: make(map[string]Connector)}
}

func (r *Registry) Register(protocol string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byProtocol[protocol] = c
}

func (r *Registry) Get(protocol string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byProtocol[protocol]
	return c, ok
}
