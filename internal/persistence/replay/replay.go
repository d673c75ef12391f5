// Package replay implements the Replay Loop (C10): a fixed-period
// background ticker that drains the WAL into the database, grounded on
// the ticker-driven scheduler loop shape of olla's health scheduler.
package replay

import (
	"context"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
	"github.com/RawleySM/llm-shotgun/internal/logger"
	"github.com/RawleySM/llm-shotgun/internal/persistence/db"
)

const DefaultBatchSize = 16

// Loop implements ports.ReplayLoop.
type Loop struct {
	wal       ports.WAL
	database  ports.DatabaseWriter
	persister ports.Persister
	interval  time.Duration
	batchSize int
	walLimit  int64
	log       *logger.StyledLogger

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(wal ports.WAL, database ports.DatabaseWriter, persister ports.Persister, interval time.Duration, walLimit int64, log *logger.StyledLogger) *Loop {
	return &Loop{
		wal:       wal,
		database:  database,
		persister: persister,
		interval:  interval,
		batchSize: DefaultBatchSize,
		walLimit:  walLimit,
		log:       log,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start implements ports.ReplayLoop.Start: runs the ticker loop until
// ctx is cancelled or Stop is called; Stop blocks until the in-flight
// tick (if any) finishes its current batch.
func (l *Loop) Start(ctx context.Context) {
	go l.run(ctx)
}

// Stop implements ports.ReplayLoop.Stop.
func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick implements spec.md §4.10's per-tick algorithm.
func (l *Loop) tick(ctx context.Context) {
	if !l.persister.DBIsUp(ctx) {
		return
	}

	reader, err := l.wal.ReadLines()
	if err != nil {
		l.log.Warn("replay: failed to open wal for reading", "error", err)
		return
	}
	defer reader.Close()

	batch := make([]domain.Token, 0, l.batchSize)
	fullyDrained := true

	for {
		select {
		case <-l.stopCh:
			fullyDrained = false
		case <-ctx.Done():
			fullyDrained = false
		default:
		}
		if !fullyDrained {
			break
		}

		tok, ok := reader.Next()
		if !ok {
			if len(batch) > 0 {
				if !l.writeBatch(ctx, batch) {
					fullyDrained = false
				}
			}
			break
		}

		batch = append(batch, tok)
		if len(batch) >= l.batchSize {
			if !l.writeBatch(ctx, batch) {
				fullyDrained = false
				break
			}
			batch = batch[:0]
		}
	}

	if reader.Err() != nil {
		l.log.Warn("replay: wal read error mid-drain", "error", reader.Err())
		return
	}
	if !fullyDrained {
		return
	}

	if err := l.wal.Truncate(); err != nil {
		l.log.Warn("replay: truncate failed after drain", "error", err)
		return
	}
	if err := l.wal.RotateIfNeeded(l.walLimit); err != nil {
		l.log.Warn("replay: rotate failed after truncate", "error", err)
	}
}

// writeBatch returns false when the write failed in a way that should
// abort the tick, leaving the WAL intact (DbUnavailable/DbRetryable
// exhaustion per spec.md §4.10 step 3).
func (l *Loop) writeBatch(ctx context.Context, batch []domain.Token) bool {
	err := l.database.CopyBatch(ctx, batch)
	if err == nil {
		return true
	}
	if err == db.ErrFatalDisk {
		l.log.Error("replay: fatal disk error writing batch", "error", err)
		return false
	}
	l.log.Warn("replay: batch write failed, aborting tick", "error", err)
	return false
}

var _ ports.ReplayLoop = (*Loop)(nil)
