package domain

import (
	"fmt"
	"time"
)

// ProviderError wraps a transport-level failure from a concrete provider
// adaptor, already classified by FailureClass.
type ProviderError struct {
	Err      error
	Provider string
	Model    string
	Class    FailureClass
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (model %s) failed [%s]: %v", e.Provider, e.Model, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(provider, model string, class FailureClass, err error) *ProviderError {
	return &ProviderError{Provider: provider, Model: model, Class: class, Err: err}
}

// ErrProviderDown indicates the circuit is open, or the retry budget for
// a ProviderDown-classified failure was exhausted without a chance to
// retry — fallback to another model may be attempted.
type ErrProviderDown struct {
	Provider string
	Reason   string
}

func (e *ErrProviderDown) Error() string {
	return fmt.Sprintf("provider %s is down: %s", e.Provider, e.Reason)
}

// ErrGenerationExhausted indicates the in-call retry budget (C4) was
// exhausted on RateLimit/Timeout failures.
type ErrGenerationExhausted struct {
	Provider string
	Model    string
	Attempts int
}

func (e *ErrGenerationExhausted) Error() string {
	return fmt.Sprintf("model %s via %s exhausted retry budget after %d attempts", e.Model, e.Provider, e.Attempts)
}

// ErrFatal indicates a non-retryable provider response; fallback must not
// be attempted.
type ErrFatal struct {
	Provider string
	Model    string
	Err      error
}

func (e *ErrFatal) Error() string {
	return fmt.Sprintf("fatal error from %s (model %s): %v", e.Provider, e.Model, e.Err)
}

func (e *ErrFatal) Unwrap() error { return e.Err }

// PersistenceError records a failure of both the database and WAL paths —
// cancels the owning attempt and surfaces to the caller.
type PersistenceError struct {
	Err        error
	RequestID  string
	AttemptSeq int
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed for attempt %s/%d: %v", e.RequestID, e.AttemptSeq, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(requestID string, attemptSeq int, err error) *PersistenceError {
	return &PersistenceError{RequestID: requestID, AttemptSeq: attemptSeq, Err: err}
}

// GapFinding is one (prev, curr) discontinuity discovered by the
// boot-time gap-detection scan.
type GapFinding struct {
	RequestID    string
	AttemptSeq   int
	PrevIndex    int
	CurrIndex    int
	DiscoveredAt time.Time
}

func (f GapFinding) String() string {
	return fmt.Sprintf("gap in (%s, attempt %d): index %d followed by %d", f.RequestID, f.AttemptSeq, f.PrevIndex, f.CurrIndex)
}
