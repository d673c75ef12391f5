package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
	"github.com/RawleySM/llm-shotgun/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWAL struct {
	mu        sync.Mutex
	tokens    []domain.Token
	truncated bool
	rotated   bool
}

func (f *fakeWAL) Append(batch []domain.Token) error { return nil }
func (f *fakeWAL) ReadLines() (ports.WALReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]domain.Token, len(f.tokens))
	copy(cp, f.tokens)
	return &fakeReader{tokens: cp}, nil
}
func (f *fakeWAL) Truncate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncated = true
	f.tokens = nil
	return nil
}
func (f *fakeWAL) RotateIfNeeded(limit int64) error {
	f.rotated = true
	return nil
}
func (f *fakeWAL) Size() int64 { return 0 }

type fakeReader struct {
	tokens []domain.Token
	idx    int
}

func (r *fakeReader) Next() (domain.Token, bool) {
	if r.idx >= len(r.tokens) {
		return domain.Token{}, false
	}
	t := r.tokens[r.idx]
	r.idx++
	return t, true
}
func (r *fakeReader) Err() error   { return nil }
func (r *fakeReader) Close() error { return nil }

type fakeDB struct {
	mu        sync.Mutex
	written   []domain.Token
	failNext  error
	healthy   bool
}

func (f *fakeDB) CopyBatch(ctx context.Context, batch []domain.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.written = append(f.written, batch...)
	return nil
}
func (f *fakeDB) Healthy(ctx context.Context) bool                         { return f.healthy }
func (f *fakeDB) UpsertAttempt(ctx context.Context, a domain.Attempt) error { return nil }
func (f *fakeDB) GapScan(ctx context.Context, limit int) ([]domain.GapFinding, error) {
	return nil, nil
}
func (f *fakeDB) AttemptsTotal(ctx context.Context) (int64, error) { return 0, nil }

type fakePersister struct {
	up bool
}

func (p *fakePersister) Persist(ctx context.Context, batch []domain.Token) error { return nil }
func (p *fakePersister) DBIsUp(ctx context.Context) bool                         { return p.up }
func (p *fakePersister) LastDBWriteTime() time.Time                             { return time.Time{} }

func testLogger(t *testing.T) *logger.StyledLogger {
	_, styled, cleanup, err := logger.NewWithTheme(&logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return styled
}

func tok(i int) domain.Token { return domain.Token{RequestID: "r1", TokenIndex: i} }

func TestTick_SkipsWhenDBDown(t *testing.T) {
	w := &fakeWAL{tokens: []domain.Token{tok(0)}}
	d := &fakeDB{healthy: true}
	p := &fakePersister{up: false}
	l := New(w, d, p, time.Hour, 100, testLogger(t))

	l.tick(context.Background())
	assert.False(t, w.truncated)
	assert.Empty(t, d.written)
}

func TestTick_DrainsAndTruncatesOnFullSuccess(t *testing.T) {
	tokens := make([]domain.Token, 20)
	for i := range tokens {
		tokens[i] = tok(i)
	}
	w := &fakeWAL{tokens: tokens}
	d := &fakeDB{healthy: true}
	p := &fakePersister{up: true}
	l := New(w, d, p, time.Hour, 100, testLogger(t))

	l.tick(context.Background())

	assert.Len(t, d.written, 20)
	assert.True(t, w.truncated)
	assert.True(t, w.rotated)
}

func TestTick_AbortsOnDbUnavailableLeavingWALIntact(t *testing.T) {
	tokens := make([]domain.Token, 20)
	for i := range tokens {
		tokens[i] = tok(i)
	}
	w := &fakeWAL{tokens: tokens}
	d := &fakeDB{healthy: true, failNext: errors.New("connection refused")}
	p := &fakePersister{up: true}
	l := New(w, d, p, time.Hour, 100, testLogger(t))

	l.tick(context.Background())

	assert.False(t, w.truncated)
}
