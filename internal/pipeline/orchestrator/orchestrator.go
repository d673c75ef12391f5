// Package orchestrator implements the Pipeline Orchestrator (C12): the
// per-request driver that wires the Safe Caller, Token Builder and
// Buffer Manager together for each dispatched model, and applies the
// Fallback Policy when a chain-ending failure occurs.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
	"github.com/RawleySM/llm-shotgun/internal/pipeline/builder"
	"github.com/RawleySM/llm-shotgun/internal/pipeline/buffer"
)

// DefaultDrainDeadline bounds the best-effort final drain performed on
// cancellation (spec.md §4.12's "bounded by a short deadline").
const DefaultDrainDeadline = 3 * time.Second

// Orchestrator implements ports.Orchestrator.
type Orchestrator struct {
	caller    ports.SafeCaller
	persister ports.Persister
	database  ports.DatabaseWriter
	fallback  ports.FallbackPolicy

	drainDeadline time.Duration
}

func New(caller ports.SafeCaller, persister ports.Persister, database ports.DatabaseWriter, fallback ports.FallbackPolicy) *Orchestrator {
	return &Orchestrator{
		caller:        caller,
		persister:     persister,
		database:      database,
		fallback:      fallback,
		drainDeadline: DefaultDrainDeadline,
	}
}

// Run implements ports.Orchestrator.Run. One chain goroutine is spawned
// per dispatched model in req.Models; each chain may itself recurse
// through the fallback policy on ProviderDown/GenerationExhausted.
// Every chain emits exactly one terminal domain.Outcome.
func (o *Orchestrator) Run(ctx context.Context, req domain.Request) (<-chan domain.Token, <-chan domain.Outcome) {
	tokens := make(chan domain.Token, 64)
	outcomes := make(chan domain.Outcome, len(req.Models))

	var wg sync.WaitGroup
	var nextSeq int64
	var seqMu sync.Mutex

	allocSeq := func() int {
		seqMu.Lock()
		defer seqMu.Unlock()
		seq := int(nextSeq)
		nextSeq++
		return seq
	}

	for _, model := range req.Models {
		model := model
		wg.Add(1)
		go func() {
			defer wg.Done()
			tried := map[string]struct{}{}
			o.runChain(ctx, req.RequestID, req.Prompt, model, tried, allocSeq, tokens, outcomes)
		}()
	}

	go func() {
		wg.Wait()
		close(tokens)
		close(outcomes)
	}()

	return tokens, outcomes
}

// runChain drives one attempt and, on a fallback-eligible failure,
// recurses into the next model from the Fallback Policy with a fresh
// attempt_seq, per spec.md §4.12's error routing table.
func (o *Orchestrator) runChain(ctx context.Context, requestID, prompt string, model domain.ModelChoice, tried map[string]struct{}, allocSeq func() int, tokens chan<- domain.Token, outcomes chan<- domain.Outcome) {
	tried[model.Provider+"/"+model.Model] = struct{}{}
	seq := allocSeq()

	outcome := o.runAttempt(ctx, requestID, prompt, model, seq, tokens)

	switch outcome {
	case domain.OutcomeProviderDown, domain.OutcomeExhausted:
		next, ok := o.fallback.Next(tried)
		if !ok {
			outcomes <- outcome
			return
		}
		select {
		case <-ctx.Done():
			outcomes <- domain.OutcomeCancelled
			return
		case <-time.After(o.fallback.Jitter()):
		}
		o.runChain(ctx, requestID, prompt, next, tried, allocSeq, tokens, outcomes)
		return
	default:
		outcomes <- outcome
	}
}

// runAttempt drives a single streaming session end-to-end per
// spec.md §4.12's pseudocode and returns its terminal outcome.
func (o *Orchestrator) runAttempt(ctx context.Context, requestID, prompt string, model domain.ModelChoice, seq int, tokens chan<- domain.Token) domain.Outcome {
	startedAt := time.Now()
	attempt := domain.Attempt{
		RequestID:  requestID,
		ModelID:    model.Model,
		Provider:   model.Provider,
		Status:     domain.AttemptStreaming,
		AttemptSeq: seq,
		StartedAt:  startedAt,
	}
	_ = o.database.UpsertAttempt(ctx, attempt)

	b := builder.New(requestID, model.Model, seq)
	buf := buffer.New(o.persister.Persist)
	defer buf.Close()

	stream, err := o.caller.CallModel(ctx, model.Provider, model.Model, prompt)
	if err != nil {
		return o.finishAttempt(ctx, attempt, classifyCallError(err))
	}
	defer stream.Close()

	for {
		raw, ok := stream.Next(ctx)
		if !ok {
			break
		}
		tok := b.Build(raw)

		if addErr := buf.Add(ctx, tok); addErr != nil {
			_ = drainBestEffort(o, buf)
			return o.finishAttempt(ctx, attempt, domain.OutcomePersistenceFailed)
		}

		select {
		case tokens <- tok:
		case <-ctx.Done():
			_ = drainBestEffort(o, buf)
			return o.finishAttempt(ctx, attempt, domain.OutcomeCancelled)
		}
	}

	if ctx.Err() != nil {
		_ = drainBestEffort(o, buf)
		return o.finishAttempt(ctx, attempt, domain.OutcomeCancelled)
	}

	if streamErr := stream.Err(); streamErr != nil {
		_ = drainBestEffort(o, buf)
		return o.finishAttempt(ctx, attempt, classifyCallError(streamErr))
	}

	if err := buf.DrainAll(ctx); err != nil {
		return o.finishAttempt(ctx, attempt, domain.OutcomePersistenceFailed)
	}

	return o.finishAttempt(ctx, attempt, domain.OutcomeOK)
}

func drainBestEffort(o *Orchestrator, buf ports.Buffer) error {
	drainCtx, cancel := context.WithTimeout(context.Background(), o.drainDeadline)
	defer cancel()
	return buf.DrainAll(drainCtx)
}

func (o *Orchestrator) finishAttempt(ctx context.Context, attempt domain.Attempt, outcome domain.Outcome) domain.Outcome {
	endedAt := time.Now()
	attempt.EndedAt = &endedAt

	switch outcome {
	case domain.OutcomeOK:
		attempt.Status = domain.AttemptCompleted
	default:
		attempt.Status = domain.AttemptFailed
		kind := string(outcome)
		attempt.ErrorKind = &kind
	}
	_ = o.database.UpsertAttempt(ctx, attempt)
	return outcome
}

func classifyCallError(err error) domain.Outcome {
	switch err.(type) {
	case *domain.ErrProviderDown:
		return domain.OutcomeProviderDown
	case *domain.ErrGenerationExhausted:
		return domain.OutcomeExhausted
	case *domain.ErrFatal:
		return domain.OutcomeFatal
	default:
		return domain.OutcomeFatal
	}
}

var _ ports.Orchestrator = (*Orchestrator)(nil)
