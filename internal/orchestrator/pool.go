package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/formsink/formsink/internal/storage"
)

// Pool is the delivery scheduler: it polls the store for due deliveries and
// dispatches them to a bounded set of concurrent workers. The semaphore
// bounds fan-out resource usage; the in-flight set keeps a slow delivery
// from being picked up twice across ticks.
type Pool struct {
	store    storage.Storage
	worker   *Worker
	workers  int
	pollRate time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewPool(store storage.Storage, worker *Worker, workers int, pollRate time.Duration, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 50
	}
	if pollRate <= 0 {
		pollRate = 1 * time.Second
	}
	return &Pool{
		store:    store,
		worker:   worker,
		workers:  workers,
		pollRate: pollRate,
		log:      log,
		inflight: make(map[string]struct{}),
		stop:     make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("starting delivery scheduler")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollLoop(ctx)
	}()
}

func (p *Pool) Stop() {
	p.log.Info().Msg("stopping delivery scheduler")
	close(p.stop)
	p.wg.Wait()
	p.log.Info().Msg("delivery scheduler stopped")
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	sem := make(chan struct{}, p.workers)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			deliveries, err := p.store.GetDueDeliveries(ctx, p.workers)
			if err != nil {
				p.log.Error().Err(err).Msg("failed to fetch due deliveries")
				continue
			}

			for _, d := range deliveries {
				if !p.claim(d.ID) {
					continue
				}
				d := d
				sem <- struct{}{}
				p.wg.Add(1)
				go func() {
					defer p.wg.Done()
					defer func() { <-sem }()
					defer p.release(d.ID)
					p.worker.Process(ctx, d)
				}()
			}
		}
	}
}

func (p *Pool) claim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[id]; ok {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Pool) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, id)
}
