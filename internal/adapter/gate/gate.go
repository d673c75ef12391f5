// Package gate implements the Concurrency Gate (C3): a per-provider
// bounded admission semaphore, adapted from the buffered-channel
// semaphore pattern olla's unifier package uses for bounded concurrent
// dial-outs.
package gate

import (
	"context"
	"sync"

	"github.com/RawleySM/llm-shotgun/internal/config"
)

// Gate implements ports.Gate.
type Gate struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
	cfg  *config.Config
}

func New(cfg *config.Config) *Gate {
	return &Gate{
		sems: make(map[string]chan struct{}),
		cfg:  cfg,
	}
}

// Acquire blocks until a permit for provider is available or ctx is
// cancelled. The gate itself never times out; only the caller's context
// can abort acquisition (spec.md §4.3).
func (g *Gate) Acquire(ctx context.Context, provider string) (func(), error) {
	sem := g.semFor(provider)

	select {
	case sem <- struct{}{}:
		released := false
		return func() {
			if released {
				return
			}
			released = true
			<-sem
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Inflight reports the number of permits currently held for provider.
func (g *Gate) Inflight(provider string) int {
	sem := g.semFor(provider)
	return len(sem)
}

// Limit reports the configured permit limit for provider.
func (g *Gate) Limit(provider string) int {
	return g.cfg.ConcurrencyFor(provider)
}

func (g *Gate) semFor(provider string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sem, ok := g.sems[provider]; ok {
		return sem
	}
	sem := make(chan struct{}, g.cfg.ConcurrencyFor(provider))
	g.sems[provider] = sem
	return sem
}
