// Package breaker implements the per-provider Circuit Breaker (C2),
// adapted from olla's endpoint circuit breaker: a lock-free sync.Map of
// atomic per-provider counters, generalised from a binary open/closed
// gate into the three-state closed/open/half-open machine spec.md §4.2
// requires, with a single-inflight-probe rule for half-open.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
)

const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
)

// state is the mutable, atomics-only per-provider record. isOpen==0 means
// closed; isOpen==1 means open-or-half-open, distinguished by whether
// now has passed openUntil.
type state struct {
	consecutiveFails int64
	openUntil        int64 // UnixNano; 0 when closed
	probeInflight    int32
	isOpen           int32
}

// Breaker implements ports.Breaker.
type Breaker struct {
	providers sync.Map // string -> *state

	failureThreshold int
	cooldown         time.Duration
	probeTimeout     time.Duration
}

func New() *Breaker {
	return &Breaker{
		failureThreshold: DefaultFailureThreshold,
		cooldown:         DefaultCooldown,
		probeTimeout:     DefaultProbeTimeout,
	}
}

// ErrProviderDown is returned by Gate when the breaker will not admit a
// call for this provider right now.
type ErrProviderDown struct {
	Provider string
}

func (e *ErrProviderDown) Error() string {
	return "circuit breaker open for provider " + e.Provider
}

// Gate implements ports.Breaker.Gate: closed → (false, nil); open before
// cooldown → (false, ErrProviderDown); open past cooldown (half-open) →
// (true, nil) for exactly one caller, who must run its own probe
// completion rather than its ordinary request, and (false,
// ErrProviderDown) for any concurrent caller.
func (b *Breaker) Gate(provider string) (bool, error) {
	st := b.loadOrCreate(provider)

	if atomic.LoadInt32(&st.isOpen) == 0 {
		return false, nil
	}

	openUntil := atomic.LoadInt64(&st.openUntil)
	if time.Now().UnixNano() < openUntil {
		return false, &ErrProviderDown{Provider: provider}
	}

	// Cooldown elapsed: half-open. Admit exactly one probe.
	if atomic.CompareAndSwapInt32(&st.probeInflight, 0, 1) {
		return true, nil
	}
	return false, &ErrProviderDown{Provider: provider}
}

// ProbeTimeout implements ports.Breaker.ProbeTimeout: the bound the
// caller must place on the half-open probe's own minimal completion
// (spec.md §4.2).
func (b *Breaker) ProbeTimeout() time.Duration {
	return b.probeTimeout
}

// RecordSuccess implements ports.Breaker.RecordSuccess: resets the
// breaker to closed, whether the success came from a half-open probe or
// a normal closed-state call.
func (b *Breaker) RecordSuccess(provider string) {
	st := b.loadOrCreate(provider)
	atomic.StoreInt64(&st.consecutiveFails, 0)
	atomic.StoreInt32(&st.isOpen, 0)
	atomic.StoreInt64(&st.openUntil, 0)
	atomic.StoreInt32(&st.probeInflight, 0)
}

// RecordFailure implements ports.Breaker.RecordFailure. Non-qualifying
// classes (Fatal) do not count toward the threshold at all.
func (b *Breaker) RecordFailure(provider string, class domain.FailureClass) {
	st := b.loadOrCreate(provider)

	wasHalfOpen := atomic.LoadInt32(&st.probeInflight) == 1
	atomic.StoreInt32(&st.probeInflight, 0)

	if !class.Qualifying() {
		return
	}

	if wasHalfOpen {
		// Probe failed: reopen immediately with a fresh cooldown.
		atomic.StoreInt32(&st.isOpen, 1)
		atomic.StoreInt64(&st.openUntil, time.Now().Add(b.cooldown).UnixNano())
		return
	}

	fails := atomic.AddInt64(&st.consecutiveFails, 1)
	if fails >= int64(b.failureThreshold) {
		atomic.StoreInt32(&st.isOpen, 1)
		atomic.StoreInt64(&st.openUntil, time.Now().Add(b.cooldown).UnixNano())
	}
}

// Snapshot implements ports.Breaker.Snapshot for the admin status surface.
func (b *Breaker) Snapshot(provider string) domain.ProviderStatus {
	st := b.loadOrCreate(provider)
	return domain.ProviderStatus{
		Provider:         provider,
		State:            b.currentState(st),
		ConsecutiveFails: int(atomic.LoadInt64(&st.consecutiveFails)),
	}
}

// AllSnapshots implements ports.Breaker.AllSnapshots.
func (b *Breaker) AllSnapshots() []domain.ProviderStatus {
	var out []domain.ProviderStatus
	b.providers.Range(func(key, value any) bool {
		provider := key.(string)
		st := value.(*state)
		out = append(out, domain.ProviderStatus{
			Provider:         provider,
			State:            b.currentState(st),
			ConsecutiveFails: int(atomic.LoadInt64(&st.consecutiveFails)),
		})
		return true
	})
	return out
}

func (b *Breaker) currentState(st *state) domain.CircuitState {
	if atomic.LoadInt32(&st.isOpen) == 0 {
		return domain.CircuitClosed
	}
	if time.Now().UnixNano() < atomic.LoadInt64(&st.openUntil) {
		return domain.CircuitOpen
	}
	return domain.CircuitHalfOpen
}

func (b *Breaker) loadOrCreate(provider string) *state {
	actual, _ := b.providers.LoadOrStore(provider, &state{})
	return actual.(*state)
}
