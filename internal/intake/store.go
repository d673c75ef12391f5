package intake

import (
	"sync"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
)

// pollSnapshot is the JSON document returned by GET /v1/compare/{id}:
// every token produced so far, plus the terminal outcomes received to
// date (one per dispatched model chain).
type pollSnapshot struct {
	Tokens   []domain.Token   `json:"tokens"`
	Outcomes []domain.Outcome `json:"outcomes"`
	Done     bool             `json:"done"`
}

// resultStore accumulates tokens/outcomes from a running orchestrator
// Run call into a pollable in-memory snapshot, since this shim delivers
// results via polling rather than SSE (per SPEC_FULL.md's Non-goals).
type resultStore struct {
	mu      sync.Mutex
	results map[string]*pollSnapshot
}

func newResultStore() *resultStore {
	return &resultStore{results: make(map[string]*pollSnapshot)}
}

func (s *resultStore) start(requestID string, tokens <-chan domain.Token, outcomes <-chan domain.Outcome) {
	snap := &pollSnapshot{}
	s.mu.Lock()
	s.results[requestID] = snap
	s.mu.Unlock()

	go func() {
		tokensOpen, outcomesOpen := true, true
		for tokensOpen || outcomesOpen {
			select {
			case t, ok := <-tokens:
				if !ok {
					tokensOpen = false
					tokens = nil
					continue
				}
				s.mu.Lock()
				snap.Tokens = append(snap.Tokens, t)
				s.mu.Unlock()
			case oc, ok := <-outcomes:
				if !ok {
					outcomesOpen = false
					outcomes = nil
					continue
				}
				s.mu.Lock()
				snap.Outcomes = append(snap.Outcomes, oc)
				s.mu.Unlock()
			}
		}
		s.mu.Lock()
		snap.Done = true
		s.mu.Unlock()
	}()
}

func (s *resultStore) snapshot(requestID string) (pollSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.results[requestID]
	if !ok {
		return pollSnapshot{}, false
	}
	tokensCopy := make([]domain.Token, len(snap.Tokens))
	copy(tokensCopy, snap.Tokens)
	outcomesCopy := make([]domain.Outcome, len(snap.Outcomes))
	copy(outcomesCopy, snap.Outcomes)
	return pollSnapshot{Tokens: tokensCopy, Outcomes: outcomesCopy, Done: snap.Done}, true
}
