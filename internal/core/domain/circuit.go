package domain

// CircuitState is the per-provider circuit-breaker state.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// FailureClass classifies a provider transport error for circuit-breaker
// and retry purposes.
type FailureClass int

const (
	ClassRateLimit FailureClass = iota
	ClassTimeout
	ClassProviderDown
	ClassFatal
)

func (c FailureClass) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassTimeout:
		return "timeout"
	case ClassProviderDown:
		return "provider_down"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Qualifying reports whether this class counts toward the circuit
// breaker's consecutive-failure threshold.
func (c FailureClass) Qualifying() bool {
	switch c {
	case ClassRateLimit, ClassTimeout, ClassProviderDown:
		return true
	default:
		return false
	}
}

// ProviderStatus is the in-memory, derived admin-status snapshot for one
// provider's concurrency gate and circuit breaker.
type ProviderStatus struct {
	Provider         string
	State            CircuitState
	ConsecutiveFails int
	InflightCount    int
	PermitLimit      int
}
