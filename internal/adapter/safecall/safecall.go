// Package safecall implements Safe Call (C4): the composition of the
// Provider Adaptor, Circuit Breaker and Concurrency Gate into a single
// call_model contract with bounded in-call retry, grounded on the
// gate/recover-then-retry shape of olla's health checker scheduler but
// specialised to spec.md §4.4's exact retry/backoff/classification
// rules.
package safecall

import (
	"context"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
)

const MaxAttempts = 3

// ProbePrompt is the minimal completion issued to test a half-open
// provider (spec.md §4.2). It carries no request context and is never
// surfaced to a caller.
const ProbePrompt = "ping"

// SleepFunc is overridable in tests to avoid real backoff delays.
type SleepFunc func(ctx context.Context, d time.Duration)

func realSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Caller implements ports.SafeCaller.
type Caller struct {
	adaptors map[string]ports.ProviderAdaptor
	breaker  ports.Breaker
	gate     ports.Gate
	backoff  func(n int) time.Duration
	sleep    SleepFunc
}

func New(adaptors map[string]ports.ProviderAdaptor, breaker ports.Breaker, gate ports.Gate, backoff func(n int) time.Duration) *Caller {
	return &Caller{
		adaptors: adaptors,
		breaker:  breaker,
		gate:     gate,
		backoff:  backoff,
		sleep:    realSleep,
	}
}

// CallModel implements ports.SafeCaller.CallModel per spec.md §4.4's
// algorithm: gate check, permit acquisition, up to MaxAttempts fresh raw
// streams, classification-driven retry/backoff/CB-recording.
func (c *Caller) CallModel(ctx context.Context, provider, model, prompt string) (ports.RawTokenStream, error) {
	adaptor, ok := c.adaptors[provider]
	if !ok {
		return nil, &domain.ErrFatal{Provider: provider, Model: model, Err: errUnknownProvider(provider)}
	}

	probe, err := c.breaker.Gate(provider)
	if err != nil {
		return nil, &domain.ErrProviderDown{Provider: provider, Reason: err.Error()}
	}

	if probe {
		if err := c.runProbe(ctx, adaptor, provider, model); err != nil {
			return nil, err
		}
	}

	release, err := c.gate.Acquire(ctx, provider)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		stream, err := adaptor.StreamRaw(ctx, model, prompt)
		if err != nil {
			class := adaptor.Classify(err)
			if done, outcome := c.handleFailure(ctx, provider, model, class, attempt); done {
				release()
				return nil, outcome
			}
			continue
		}

		// Success opening the stream: wrap it so that mid-stream errors
		// are classified (via the same adaptor.Classify used above) and
		// recorded on Close/Err, and the concurrency permit is released
		// exactly once when the wrapped stream ends.
		return &recordingStream{
			inner:    stream,
			caller:   c,
			adaptor:  adaptor,
			provider: provider,
			model:    model,
			release:  release,
		}, nil
	}

	release()
	return nil, &domain.ErrGenerationExhausted{Provider: provider, Model: model, Attempts: MaxAttempts}
}

// handleFailure applies spec.md §4.4 step 6's per-class rules for a
// failure to even open a raw stream. It returns done=true with a
// terminal outcome when no further attempt should be made.
func (c *Caller) handleFailure(ctx context.Context, provider, model string, class domain.FailureClass, attempt int) (bool, error) {
	switch class {
	case domain.ClassRateLimit, domain.ClassTimeout:
		if class.Qualifying() {
			c.breaker.RecordFailure(provider, class)
		}
		if attempt >= MaxAttempts {
			return true, &domain.ErrGenerationExhausted{Provider: provider, Model: model, Attempts: attempt}
		}
		c.sleep(ctx, c.backoff(attempt))
		return false, nil
	default:
		if class.Qualifying() {
			c.breaker.RecordFailure(provider, class)
		}
		return true, classifiedStreamError(provider, model, class, nil)
	}
}

// runProbe performs the half-open breaker's probe (spec.md §4.2): a
// minimal completion bounded by the breaker's own ProbeTimeout, issued
// without acquiring a concurrency permit from C3. A successful probe
// closes the circuit so the caller's ordinary request proceeds through
// the gate as usual; a failed probe records the failure (reopening the
// circuit on a qualifying class) and fails the call immediately.
func (c *Caller) runProbe(ctx context.Context, adaptor ports.ProviderAdaptor, provider, model string) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.breaker.ProbeTimeout())
	defer cancel()

	stream, err := adaptor.StreamRaw(probeCtx, model, ProbePrompt)
	if err != nil {
		return c.recordProbeFailure(adaptor, provider, model, err)
	}
	defer stream.Close()

	for {
		if _, ok := stream.Next(probeCtx); !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return c.recordProbeFailure(adaptor, provider, model, err)
	}

	c.breaker.RecordSuccess(provider)
	return nil
}

func (c *Caller) recordProbeFailure(adaptor ports.ProviderAdaptor, provider, model string, err error) error {
	class := adaptor.Classify(err)
	if class.Qualifying() {
		c.breaker.RecordFailure(provider, class)
	}
	return classifiedStreamError(provider, model, class, err)
}

// classifiedStreamError maps a classified failure to the same typed
// domain errors CallModel's open-time path produces, so that both the
// open-time and mid-stream paths feed classifyCallError a real class
// per spec.md §4.12's error-routing table. err, when non-nil, is
// wrapped for ErrFatal's diagnostic context.
func classifiedStreamError(provider, model string, class domain.FailureClass, err error) error {
	switch class {
	case domain.ClassProviderDown:
		reason := "transport failure"
		if err != nil {
			reason = err.Error()
		}
		return &domain.ErrProviderDown{Provider: provider, Reason: reason}
	case domain.ClassRateLimit, domain.ClassTimeout:
		return &domain.ErrGenerationExhausted{Provider: provider, Model: model, Attempts: MaxAttempts}
	default: // Fatal
		return &domain.ErrFatal{Provider: provider, Model: model, Err: err}
	}
}

// recordingStream wraps a raw stream opened successfully on some
// attempt so that end-of-stream outcomes are recorded on the breaker and
// the concurrency permit is released exactly once, regardless of
// whether the stream ends in EOF or a mid-stream error.
type recordingStream struct {
	inner    ports.RawTokenStream
	caller   *Caller
	adaptor  ports.ProviderAdaptor
	provider string
	model    string
	release  func()

	done       bool
	classified error
}

func (s *recordingStream) Next(ctx context.Context) (string, bool) {
	tok, ok := s.inner.Next(ctx)
	if !ok {
		s.finish()
	}
	return tok, ok
}

func (s *recordingStream) Err() error {
	if s.classified != nil {
		return s.classified
	}
	return s.inner.Err()
}

func (s *recordingStream) Close() error {
	s.finish()
	return s.inner.Close()
}

// finish runs once per stream: a mid-stream error is classified through
// the same adaptor.Classify CallModel uses for open-time failures, so
// the breaker records the real failure class and Err() hands the
// orchestrator a typed domain error instead of the raw transport error.
func (s *recordingStream) finish() {
	if s.done {
		return
	}
	s.done = true
	if err := s.inner.Err(); err != nil {
		class := s.adaptor.Classify(err)
		if class.Qualifying() {
			s.caller.breaker.RecordFailure(s.provider, class)
		}
		s.classified = classifiedStreamError(s.provider, s.model, class, err)
	} else {
		s.caller.breaker.RecordSuccess(s.provider)
	}
	s.release()
}

type unknownProviderError string

func (e unknownProviderError) Error() string { return "unknown provider: " + string(e) }

func errUnknownProvider(provider string) error { return unknownProviderError(provider) }
