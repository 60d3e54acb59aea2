package models

import "time"

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

// Tenant is an isolated customer account. Tenants are never deleted, only
// suspended, because historical submissions reference them.
type Tenant struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Secret    string       `json:"secret,omitempty"`
	Status    TenantStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
