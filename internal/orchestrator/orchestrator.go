// Package orchestrator fans submissions out to their tenant's destinations
// and owns per-destination retry state. Retry scheduling is persisted as a
// next-retry timestamp on each delivery row and driven by a polling
// scheduler; no goroutine ever sleeps on a pending retry.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/storage"
)

// Group is the orchestrator's consumer group on the bus.
const Group = "delivery-orchestrator"

type destEntry struct {
	dests   []models.Destination
	expires time.Time
}

// destinationCache is a read-through cache for enabled destination lists.
// Destinations change rarely; a bounded staleness window is acceptable.
type destinationCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]destEntry
}

func (c *destinationCache) get(tenantID string) ([]models.Destination, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[tenantID]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.dests, true
}

func (c *destinationCache) put(tenantID string, dests []models.Destination) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = destEntry{dests: dests, expires: time.Now().Add(c.ttl)}
}

type Orchestrator struct {
	store storage.Storage
	cache *destinationCache
	log   zerolog.Logger
}

func New(store storage.Storage, cacheTTL time.Duration, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store: store,
		cache: &destinationCache{ttl: cacheTTL, entries: make(map[string]destEntry)},
		log:   log,
	}
}

// Register subscribes the orchestrator to submission.received events,
// independently from the persistence writer.
func (o *Orchestrator) Register(b bus.Bus) error {
	return b.Subscribe(Group, bus.EventSubmissionReceived, o.Handle)
}

// Handle resolves the tenant's enabled destinations and creates one delivery
// row per destination with a conditional create, so redelivery and replay of
// the same event never double the fan-out. An empty fan-out is a trivially
// delivered submission, not an error.
func (o *Orchestrator) Handle(ctx context.Context, ev *bus.Envelope) error {
	if ev.TenantID == "" || ev.SubmissionID == "" {
		return bus.Permanent(fmt.Errorf("envelope missing tenant or submission id"))
	}

	// The writer consumes the same event independently and may not have
	// inserted the row yet. Status updates against a missing row would be
	// lost, so wait for redelivery instead.
	sub, err := o.store.GetSubmission(ctx, ev.TenantID, ev.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission %s/%s: %w", ev.TenantID, ev.SubmissionID, err)
	}
	if sub == nil {
		return fmt.Errorf("submission %s/%s not yet persisted", ev.TenantID, ev.SubmissionID)
	}

	dests, err := o.destinations(ctx, ev.TenantID)
	if err != nil {
		return fmt.Errorf("resolve destinations for %s: %w", ev.TenantID, err)
	}

	if len(dests) == 0 {
		if err := o.store.UpdateSubmissionStatus(ctx, ev.TenantID, ev.SubmissionID, models.SubmissionDelivered); err != nil {
			return fmt.Errorf("mark submission delivered: %w", err)
		}
		o.log.Info().
			Str("tenant_id", ev.TenantID).
			Str("submission_id", ev.SubmissionID).
			Bool("replayed", ev.Replayed).
			Msg("no destinations configured, submission trivially delivered")
		return nil
	}

	now := time.Now().UTC()
	created := 0
	for _, dest := range dests {
		// A destination must belong to the envelope's tenant even if the
		// configuration plane let a mismatch through.
		if dest.TenantID != ev.TenantID {
			o.log.Error().
				Str("destination_id", dest.ID).
				Str("destination_tenant", dest.TenantID).
				Str("tenant_id", ev.TenantID).
				Msg("cross-tenant destination rejected")
			continue
		}

		d := &models.Delivery{
			ID:            models.NewID("dlv"),
			SubmissionID:  ev.SubmissionID,
			DestinationID: dest.ID,
			TenantID:      ev.TenantID,
			Status:        models.DeliveryPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		ok, err := o.store.CreateDeliveryIfAbsent(ctx, d)
		if err != nil {
			return fmt.Errorf("create delivery for %s: %w", dest.ID, err)
		}
		if ok {
			created++
		}
	}

	if created > 0 {
		// Guarded transition: a fast worker may already have finalized every
		// pair, and delivering must not overwrite a terminal status.
		if err := o.store.MarkSubmissionDelivering(ctx, ev.TenantID, ev.SubmissionID); err != nil {
			return fmt.Errorf("mark submission delivering: %w", err)
		}
	}

	o.log.Info().
		Str("tenant_id", ev.TenantID).
		Str("submission_id", ev.SubmissionID).
		Int("destinations", len(dests)).
		Int("created", created).
		Bool("replayed", ev.Replayed).
		Msg("delivery fan-out scheduled")
	return nil
}

func (o *Orchestrator) destinations(ctx context.Context, tenantID string) ([]models.Destination, error) {
	if dests, ok := o.cache.get(tenantID); ok {
		return dests, nil
	}
	dests, err := o.store.ListEnabledDestinations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	o.cache.put(tenantID, dests)
	return dests, nil
}
