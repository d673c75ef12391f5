package status

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RawleySM/llm-shotgun/internal/adapter/breaker"
	"github.com/RawleySM/llm-shotgun/internal/adapter/gate"
	"github.com/RawleySM/llm-shotgun/internal/config"
	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
)

type fakeWAL struct{ size int64 }

func (f *fakeWAL) Append(batch []domain.Token) error { return nil }
func (f *fakeWAL) ReadLines() (ports.WALReader, error) {
	return &fakeWALReader{}, nil
}
func (f *fakeWAL) Truncate() error                  { return nil }
func (f *fakeWAL) RotateIfNeeded(limit int64) error { return nil }
func (f *fakeWAL) Size() int64                      { return f.size }

type fakeWALReader struct{}

func (r *fakeWALReader) Next() (domain.Token, bool) { return domain.Token{}, false }
func (r *fakeWALReader) Err() error                 { return nil }
func (r *fakeWALReader) Close() error               { return nil }

type fakePersister struct {
	up       bool
	lastSeen time.Time
}

func (p *fakePersister) Persist(ctx context.Context, batch []domain.Token) error { return nil }
func (p *fakePersister) DBIsUp(ctx context.Context) bool                        { return p.up }
func (p *fakePersister) LastDBWriteTime() time.Time                             { return p.lastSeen }

type fakeDatabase struct {
	attemptsTotal int64
}

func (f *fakeDatabase) CopyBatch(ctx context.Context, batch []domain.Token) error { return nil }
func (f *fakeDatabase) Healthy(ctx context.Context) bool                         { return true }
func (f *fakeDatabase) UpsertAttempt(ctx context.Context, a domain.Attempt) error { return nil }
func (f *fakeDatabase) GapScan(ctx context.Context, limit int) ([]domain.GapFinding, error) {
	return nil, nil
}
func (f *fakeDatabase) AttemptsTotal(ctx context.Context) (int64, error) {
	return f.attemptsTotal, nil
}

type fakeBoot struct{ gap bool }

func (f *fakeBoot) TokenGap() bool { return f.gap }

func TestSnapshot_AssemblesProviderAndAggregateState(t *testing.T) {
	br := breaker.New()
	gt := gate.New(config.DefaultConfig())
	w := &fakeWAL{size: 4096}
	p := &fakePersister{up: true, lastSeen: time.Now()}
	d := &fakeDatabase{attemptsTotal: 42}
	b := &fakeBoot{gap: true}

	reg := prometheus.NewRegistry()
	snapper := NewSnapshotter(br, gt, w, p, d, b, []string{"openai", "anthropic"}, reg)

	snap, err := snapper.Snapshot(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.DBIsUp)
	assert.True(t, snap.TokenGap)
	assert.EqualValues(t, 4096, snap.WalSizeBytes)
	assert.EqualValues(t, 42, snap.AttemptsTotal)
	require.Len(t, snap.Providers, 2)
	assert.Equal(t, "openai", snap.Providers[0].Provider)
	assert.Equal(t, domain.CircuitClosed, snap.Providers[0].State)
	assert.Equal(t, gt.Limit("openai"), snap.Providers[0].Limit)
}

func TestSnapshot_ReflectsCircuitOpenAfterFailures(t *testing.T) {
	br := breaker.New()
	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		br.RecordFailure("anthropic", domain.ClassProviderDown)
	}
	gt := gate.New(config.DefaultConfig())
	w := &fakeWAL{}
	p := &fakePersister{}
	d := &fakeDatabase{}
	b := &fakeBoot{}

	snapper := NewSnapshotter(br, gt, w, p, d, b, []string{"anthropic"}, nil)
	snap, err := snapper.Snapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Providers, 1)
	assert.Equal(t, domain.CircuitOpen, snap.Providers[0].State)
}
