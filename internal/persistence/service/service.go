// Package service implements the Persistence Service (C9): the single
// entry point the Buffer Manager calls to durably land a batch, trying
// the database first and falling back to the WAL, absorbing DB
// unavailability so only a genuinely fatal outcome reaches the caller.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
	"github.com/RawleySM/llm-shotgun/internal/persistence/db"
)

// Service implements ports.Persister.
type Service struct {
	db  ports.DatabaseWriter
	wal ports.WAL

	mu            sync.Mutex
	lastDBWriteTs time.Time
}

func New(database ports.DatabaseWriter, wal ports.WAL) *Service {
	return &Service{db: database, wal: wal}
}

// Persist implements ports.Persister.Persist per spec.md §4.9's
// algorithm: DB first, WAL fallback on DbUnavailable/DbRetryable
// exhaustion. A DB FatalDisk error is returned as fatal without trying
// the WAL; otherwise the result is fatal only when both paths fail.
func (s *Service) Persist(ctx context.Context, batch []domain.Token) error {
	err := s.db.CopyBatch(ctx, batch)
	if err == nil {
		s.mu.Lock()
		s.lastDBWriteTs = time.Now()
		s.mu.Unlock()
		return nil
	}

	if errors.Is(err, db.ErrFatalDisk) {
		return fmt.Errorf("persistence: fatal disk error: %w", err)
	}

	// DbUnavailable (or DbRetryable exhausted, surfaced the same way):
	// fall back to the WAL.
	if walErr := s.wal.Append(batch); walErr != nil {
		return fmt.Errorf("persistence: both db and wal failed: db=%v wal=%w", err, walErr)
	}
	return nil
}

// DBIsUp implements ports.Persister.DBIsUp: a cheap health check used by
// the Replay Loop (C10) to decide whether to attempt a drain tick.
func (s *Service) DBIsUp(ctx context.Context) bool {
	return s.db.Healthy(ctx)
}

// LastDBWriteTime implements ports.Persister.LastDBWriteTime.
func (s *Service) LastDBWriteTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDBWriteTs
}

var _ ports.Persister = (*Service)(nil)
