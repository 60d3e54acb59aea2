package models

import "time"

const ProtocolWebhook = "webhook"

// Destination is a configured external endpoint owned by exactly one tenant.
// Destinations are configured out-of-band (CLI) and read-only to the core.
type Destination struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Protocol string `json:"protocol"`
	URL      string `json:"url"`
	AuthMode string `json:"auth_mode,omitempty"`
	Secret   string `json:"secret,omitempty"`
	Enabled  bool   `json:"enabled"`

	// MaxAttempts overrides the global retry budget when > 0.
	MaxAttempts int `json:"max_attempts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
