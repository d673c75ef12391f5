package service

import (
	"context"
	"errors"
	"testing"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
	"github.com/RawleySM/llm-shotgun/internal/persistence/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	copyErr    error
	healthy    bool
	copyCalled int
}

func (f *fakeDB) CopyBatch(ctx context.Context, batch []domain.Token) error {
	f.copyCalled++
	return f.copyErr
}
func (f *fakeDB) Healthy(ctx context.Context) bool                         { return f.healthy }
func (f *fakeDB) UpsertAttempt(ctx context.Context, a domain.Attempt) error { return nil }
func (f *fakeDB) GapScan(ctx context.Context, limit int) ([]domain.GapFinding, error) {
	return nil, nil
}
func (f *fakeDB) AttemptsTotal(ctx context.Context) (int64, error) { return 0, nil }

type fakeWAL struct {
	appendErr    error
	appendCalled int
	appended     []domain.Token
}

func (f *fakeWAL) Append(batch []domain.Token) error {
	f.appendCalled++
	f.appended = append(f.appended, batch...)
	return f.appendErr
}
func (f *fakeWAL) ReadLines() (ports.WALReader, error) { return nil, nil }
func (f *fakeWAL) Truncate() error                     { return nil }
func (f *fakeWAL) RotateIfNeeded(limit int64) error    { return nil }
func (f *fakeWAL) Size() int64                         { return 0 }

func tok(i int) domain.Token {
	return domain.Token{RequestID: "r1", TokenIndex: i}
}

func TestPersist_DBSuccessUpdatesLastWriteTime(t *testing.T) {
	fdb := &fakeDB{healthy: true}
	fwal := &fakeWAL{}
	s := New(fdb, fwal)

	require.NoError(t, s.Persist(context.Background(), []domain.Token{tok(0)}))
	assert.Equal(t, 1, fdb.copyCalled)
	assert.Equal(t, 0, fwal.appendCalled)
	assert.False(t, s.LastDBWriteTime().IsZero())
}

func TestPersist_DBUnavailableFallsBackToWAL(t *testing.T) {
	fdb := &fakeDB{copyErr: errors.New("connection refused")}
	fwal := &fakeWAL{}
	s := New(fdb, fwal)

	err := s.Persist(context.Background(), []domain.Token{tok(0)})
	require.NoError(t, err)
	assert.Equal(t, 1, fwal.appendCalled)
	assert.True(t, s.LastDBWriteTime().IsZero())
}

func TestPersist_FatalDiskPropagatesError(t *testing.T) {
	fdb := &fakeDB{copyErr: db.ErrFatalDisk}
	fwal := &fakeWAL{}
	s := New(fdb, fwal)

	err := s.Persist(context.Background(), []domain.Token{tok(0)})
	require.Error(t, err)
	assert.Equal(t, 0, fwal.appendCalled)
}

func TestPersist_BothDBAndWALFailIsFatal(t *testing.T) {
	fdb := &fakeDB{copyErr: errors.New("connection refused")}
	fwal := &fakeWAL{appendErr: errors.New("disk full")}
	s := New(fdb, fwal)

	err := s.Persist(context.Background(), []domain.Token{tok(0)})
	require.Error(t, err)
}

func TestDBIsUp_DelegatesToHealthCheck(t *testing.T) {
	fdb := &fakeDB{healthy: true}
	s := New(fdb, &fakeWAL{})
	assert.True(t, s.DBIsUp(context.Background()))
}
