// Package buffer implements the Buffer Manager (C6): a single-attempt
// bounded accumulator with size/age flush triggers and back-pressure,
// grounded on the mutex-guarded-state-plus-ticker shape of olla's health
// scheduler, generalised from a heap-driven job queue to a size/age
// flush state machine.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
	"github.com/RawleySM/llm-shotgun/pkg/pool"
)

type state int

const (
	stateIdle state = iota
	stateBuffering
	stateFlushing
)

const (
	DefaultSizeTrigger = 16
	DefaultAgeTrigger  = time.Second

	// ageWatchInterval bounds how stale the background age check can be:
	// spec.md §292's "a buffer never holds a token older than 1 s once
	// the attempt is active and not cancelled" must hold even when no
	// further Add ever arrives, so a live goroutine polls independently
	// of Add instead of only evaluating the age trigger reactively.
	ageWatchInterval = 10 * time.Millisecond
)

// tokenBatch is the pooled unit backing Buffer.pending: reusing its
// backing array across flush cycles avoids a fresh slice allocation on
// every size/age trigger in the common case where batches stay within
// their initial capacity.
type tokenBatch struct {
	tokens []domain.Token
}

// Reset implements pool.Resettable: truncate to zero length but keep the
// underlying array so the next Get reuses its capacity.
func (t *tokenBatch) Reset() {
	t.tokens = t.tokens[:0]
}

// Buffer implements ports.Buffer.
type Buffer struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state state

	pending       []domain.Token
	currentBatch  *tokenBatch
	flushingBatch *tokenBatch
	firstAt       time.Time
	fatalErr      error
	ctx           context.Context

	sizeTrigger int
	ageTrigger  time.Duration
	persist     func(ctx context.Context, batch []domain.Token) error
	batchPool   *pool.Pool[*tokenBatch]

	stopCh    chan struct{}
	closeOnce sync.Once
}

func New(persist func(ctx context.Context, batch []domain.Token) error) *Buffer {
	b := &Buffer{
		sizeTrigger: DefaultSizeTrigger,
		ageTrigger:  DefaultAgeTrigger,
		persist:     persist,
		ctx:         context.Background(),
		stopCh:      make(chan struct{}),
	}
	b.batchPool = pool.NewLitePool(func() *tokenBatch {
		return &tokenBatch{tokens: make([]domain.Token, 0, b.sizeTrigger)}
	})
	b.cond = sync.NewCond(&b.mu)
	go b.watchAge()
	return b
}

// Add implements ports.Buffer.Add. It appends t in order and triggers a
// flush once the size or age threshold is reached. While FLUSHING, Add
// suspends on the readiness condition rather than rejecting, except when
// ctx is cancelled.
func (b *Buffer) Add(ctx context.Context, t domain.Token) error {
	b.mu.Lock()
	for b.state == stateFlushing {
		if b.fatalErr != nil {
			b.mu.Unlock()
			return b.fatalErr
		}
		if waitCancellable(ctx, b.cond, &b.mu) {
			b.mu.Unlock()
			return ctx.Err()
		}
	}

	var tb *tokenBatch
	if len(b.pending) == 0 {
		b.firstAt = time.Now()
		tb = b.batchPool.Get()
	} else {
		tb = b.currentBatch
	}
	tb.tokens = append(tb.tokens, t)
	b.pending = tb.tokens
	b.currentBatch = tb
	b.state = stateBuffering
	b.ctx = ctx

	shouldFlush := len(b.pending) >= b.sizeTrigger || time.Since(b.firstAt) >= b.ageTrigger
	var batch []domain.Token
	if shouldFlush {
		batch = b.freezeLocked()
	}
	b.mu.Unlock()

	if shouldFlush {
		return b.drain(ctx, batch)
	}
	return nil
}

// DrainAll implements ports.Buffer.DrainAll: used on graceful shutdown to
// flush any partially-filled buffer regardless of triggers.
func (b *Buffer) DrainAll(ctx context.Context) error {
	b.mu.Lock()
	if b.state != stateBuffering || len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.freezeLocked()
	b.mu.Unlock()

	return b.drain(ctx, batch)
}

// Len implements ports.Buffer.Len.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// FirstTokenAge implements ports.Buffer.FirstTokenAge.
func (b *Buffer) FirstTokenAge() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return 0
	}
	return time.Since(b.firstAt)
}

// watchAge polls independently of Add so a buffer that receives no
// further tokens still flushes once its oldest pending token crosses
// ageTrigger, rather than waiting indefinitely for another Add call to
// re-evaluate the trigger.
func (b *Buffer) watchAge() {
	ticker := time.NewTicker(ageWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.mu.Lock()
			if b.state != stateBuffering || len(b.pending) == 0 || time.Since(b.firstAt) < b.ageTrigger {
				b.mu.Unlock()
				continue
			}
			batch := b.freezeLocked()
			ctx := b.ctx
			b.mu.Unlock()
			_ = b.drain(ctx, batch)
		}
	}
}

// Close stops the background age watcher. Callers must call it once a
// Buffer is no longer needed (one per attempt) to avoid leaking its
// goroutine.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() {
		close(b.stopCh)
	})
}

// freezeLocked transitions BUFFERING -> FLUSHING and returns the frozen
// batch. The batch's pooled backing array travels with it to drain,
// which returns it to batchPool once persist has safely consumed it.
// Caller must hold b.mu.
func (b *Buffer) freezeLocked() []domain.Token {
	batch := b.pending
	b.pending = nil
	b.flushingBatch = b.currentBatch
	b.currentBatch = nil
	b.state = stateFlushing
	return batch
}

func (b *Buffer) drain(ctx context.Context, batch []domain.Token) error {
	err := b.persist(ctx, batch)

	b.mu.Lock()
	defer b.mu.Unlock()

	tb := b.flushingBatch
	b.flushingBatch = nil

	if err != nil {
		b.fatalErr = err
		b.cond.Broadcast()
		return err
	}

	if tb != nil {
		b.batchPool.Put(tb)
	}

	b.state = stateIdle
	b.cond.Broadcast()
	return nil
}

// waitCancellable blocks on cond.Wait but also observes ctx
// cancellation, returning true if ctx was cancelled first.
func waitCancellable(ctx context.Context, cond *sync.Cond, mu *sync.Mutex) bool {
	if ctx.Err() != nil {
		return true
	}

	done := make(chan struct{})
	cancelled := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			close(cancelled)
			cond.Broadcast()
			mu.Unlock()
		case <-done:
		}
	}()

	cond.Wait()
	close(done)

	select {
	case <-cancelled:
		return true
	default:
		return false
	}
}

var _ ports.Buffer = (*Buffer)(nil)
