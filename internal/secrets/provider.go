// Package secrets resolves per-tenant shared secrets for request
// authentication.
package secrets

import (
	"context"
	"errors"

	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/storage"
)

var (
	ErrNotFound  = errors.New("tenant not found")
	ErrSuspended = errors.New("tenant suspended")
)

// Provider resolves the signing secret for an active tenant.
type Provider interface {
	GetSecret(ctx context.Context, tenantID string) (string, error)
}

// StoreProvider reads secrets from the durable store.
type StoreProvider struct {
	store storage.Storage
}

func NewStoreProvider(store storage.Storage) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) GetSecret(ctx context.Context, tenantID string) (string, error) {
	t, err := p.store.GetTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", ErrNotFound
	}
	if t.Status != models.TenantActive {
		return "", ErrSuspended
	}
	return t.Secret, nil
}
