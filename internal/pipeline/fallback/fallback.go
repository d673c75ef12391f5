// Package fallback implements the Fallback Policy (C11): an ordered
// list of alternate models, consulted by the orchestrator after a
// ProviderDown or GenerationExhausted failure.
package fallback

import (
	"time"

	"github.com/RawleySM/llm-shotgun/internal/config"
	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/util"
)

var (
	DefaultJitterMin = time.Second
	DefaultJitterMax = 3 * time.Second
)

// Policy implements ports.FallbackPolicy.
type Policy struct {
	chain []domain.ModelChoice
}

func New(cfg *config.Config) *Policy {
	chain := make([]domain.ModelChoice, 0, len(cfg.Fallback.Models))
	for _, m := range cfg.Fallback.Models {
		chain = append(chain, domain.ModelChoice{Provider: m.Provider, Model: m.Model})
	}
	return &Policy{chain: chain}
}

// Next implements ports.FallbackPolicy.Next: the first chain entry not
// already in alreadyTried, keyed by "provider/model".
func (p *Policy) Next(alreadyTried map[string]struct{}) (domain.ModelChoice, bool) {
	for _, m := range p.chain {
		key := m.Provider + "/" + m.Model
		if _, tried := alreadyTried[key]; tried {
			continue
		}
		return m, true
	}
	return domain.ModelChoice{}, false
}

// Jitter implements ports.FallbackPolicy.Jitter: uniform in [1s, 3s)
// per spec.md §4.11.
func (p *Policy) Jitter() time.Duration {
	return util.JitterBetween(DefaultJitterMin, DefaultJitterMax)
}
