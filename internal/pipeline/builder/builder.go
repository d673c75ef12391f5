// Package builder implements the Token Builder (C5): a per-attempt
// monotonic index stamped onto each raw string as it arrives.
package builder

import (
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
)

// Builder implements ports.Builder. It is owned by exactly one attempt
// and is not safe for concurrent use.
type Builder struct {
	requestID  string
	modelID    string
	attemptSeq int
	next       int
}

func New(requestID, modelID string, attemptSeq int) *Builder {
	return &Builder{requestID: requestID, modelID: modelID, attemptSeq: attemptSeq}
}

// Build implements ports.Builder.Build: never blocks, assigns exactly
// one index/timestamp/model stamp per call.
func (b *Builder) Build(raw string) domain.Token {
	t := domain.Token{
		RequestID:  b.requestID,
		ModelID:    b.modelID,
		Text:       raw,
		Ts:         time.Now(),
		AttemptSeq: b.attemptSeq,
		TokenIndex: b.next,
	}
	b.next++
	return t
}

// NextIndex implements ports.Builder.NextIndex: the index the next call
// to Build will assign.
func (b *Builder) NextIndex() int {
	return b.next
}
