// Package ports declares the narrow interfaces each pipeline component
// exposes to its neighbours, mirroring the component boundaries of the
// token pipeline (adaptor -> builder -> buffer -> persistence).
package ports

import (
	"context"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
)

// RawTokenStream is a single-shot, finite, lazy sequence of raw token
// strings. Next blocks until a token is available, an error occurs, or
// the stream ends. Once Err returns non-nil or Next returns false, the
// stream is exhausted and must not be reused.
type RawTokenStream interface {
	Next(ctx context.Context) (string, bool)
	Err() error
	Close() error
}

// ProviderAdaptor exposes a uniform lazy sequence of raw token strings
// per (model, prompt), and classifies vendor-specific transport errors
// into the shared FailureClass taxonomy (C1).
type ProviderAdaptor interface {
	Provider() string
	StreamRaw(ctx context.Context, model, prompt string) (RawTokenStream, error)
	Classify(err error) domain.FailureClass
}

// Breaker is the per-provider circuit breaker contract (C2). Gate
// returns a non-nil error (the breaker package's *ErrProviderDown) when
// the breaker will not admit a call. Every Gate call that returns a nil error must be matched by
// exactly one of RecordSuccess/RecordFailure. probe reports whether this
// admission is the single half-open probe call, which the caller must
// run as its own minimal completion bounded by ProbeTimeout rather than
// routing through the concurrency gate (spec.md §4.2).
type Breaker interface {
	Gate(provider string) (probe bool, err error)
	RecordSuccess(provider string)
	RecordFailure(provider string, class domain.FailureClass)
	ProbeTimeout() time.Duration
	Snapshot(provider string) domain.ProviderStatus
	AllSnapshots() []domain.ProviderStatus
}

// Gate is the per-provider bounded concurrency admission contract (C3).
// Release must be safe to call exactly once per successful Acquire, on
// every exit path.
type Gate interface {
	Acquire(ctx context.Context, provider string) (release func(), err error)
	Inflight(provider string) int
	Limit(provider string) int
}

// SafeCaller composes the adaptor, breaker and gate into a single
// "stream raw tokens from model M with safety" contract (C4).
type SafeCaller interface {
	CallModel(ctx context.Context, provider, model, prompt string) (RawTokenStream, error)
}

// Builder assigns a monotonically increasing per-attempt token index and
// stamps model id / wall time (C5). Not safe for concurrent use by more
// than one goroutine at a time (single owner per attempt).
type Builder interface {
	Build(raw string) domain.Token
	NextIndex() int
}

// Persister is the contract the Buffer Manager uses to hand off a frozen
// batch of tokens (C9). It never returns a transport-level error to the
// caller: DB failures are absorbed into the WAL, and only a
// PersistenceFatal outcome is surfaced as an error.
type Persister interface {
	Persist(ctx context.Context, batch []domain.Token) error
	DBIsUp(ctx context.Context) bool
	LastDBWriteTime() time.Time
}

// Buffer is the single-attempt bounded accumulator with back-pressure
// (C6). Add suspends while a drain is FLUSHING, except under
// cancellation.
type Buffer interface {
	Add(ctx context.Context, t domain.Token) error
	DrainAll(ctx context.Context) error
	Len() int
	FirstTokenAge() time.Duration
}

// WAL is the append-only on-disk fallback log (C7).
type WAL interface {
	Append(batch []domain.Token) error
	ReadLines() (WALReader, error)
	Truncate() error
	RotateIfNeeded(limit int64) error
	Size() int64
}

// WALReader is a restartable finite iterator over WAL lines.
type WALReader interface {
	Next() (domain.Token, bool)
	Err() error
	Close() error
}

// DatabaseWriter is the idempotent batch-insert contract (C8).
type DatabaseWriter interface {
	CopyBatch(ctx context.Context, batch []domain.Token) error
	Healthy(ctx context.Context) bool
	UpsertAttempt(ctx context.Context, a domain.Attempt) error
	GapScan(ctx context.Context, limit int) ([]domain.GapFinding, error)
	AttemptsTotal(ctx context.Context) (int64, error)
}

// ReplayLoop periodically drains the WAL into the database (C10).
type ReplayLoop interface {
	Start(ctx context.Context)
	Stop()
}

// FallbackPolicy selects the next alternate model after a provider-level
// failure (C11).
type FallbackPolicy interface {
	Next(alreadyTried map[string]struct{}) (domain.ModelChoice, bool)
	Jitter() time.Duration
}

// Orchestrator drives one request's attempts end-to-end (C12).
type Orchestrator interface {
	Run(ctx context.Context, req domain.Request) (<-chan domain.Token, <-chan domain.Outcome)
}
