package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tok(i int, text string) domain.Token {
	return domain.Token{
		RequestID:  "req-1",
		ModelID:    "gpt-3.5-turbo",
		AttemptSeq: 0,
		TokenIndex: i,
		Text:       text,
		Ts:         time.Now(),
	}
}

func TestAppendThenReadLines_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.wal")
	w := New(path)

	require.NoError(t, w.Append([]domain.Token{tok(0, "Hel"), tok(1, "lo")}))

	reader, err := w.ReadLines()
	require.NoError(t, err)
	defer reader.Close()

	var got []domain.Token
	for {
		tkn, ok := reader.Next()
		if !ok {
			break
		}
		got = append(got, tkn)
	}
	require.NoError(t, reader.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "Hel", got[0].Text)
	assert.Equal(t, 1, got[1].TokenIndex)
}

func TestAppend_NormalisesEmbeddedNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.wal")
	w := New(path)

	require.NoError(t, w.Append([]domain.Token{tok(0, "line1\nline2\r\nline3")}))

	reader, err := w.ReadLines()
	require.NoError(t, err)
	defer reader.Close()

	tkn, ok := reader.Next()
	require.True(t, ok)
	assert.NotContains(t, tkn.Text, "\n")
	assert.NotContains(t, tkn.Text, "\r")
}

func TestReadLines_EmptyWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.wal")
	w := New(path)

	reader, err := w.ReadLines()
	require.NoError(t, err)
	_, ok := reader.Next()
	assert.False(t, ok)
	require.NoError(t, reader.Err())
}

func TestTruncate_RemovesAllContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.wal")
	w := New(path)
	require.NoError(t, w.Append([]domain.Token{tok(0, "a")}))
	require.NoError(t, w.Truncate())

	assert.Equal(t, int64(0), w.Size())
}

func TestRotateIfNeeded_RenamesPastLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.wal")
	w := New(path)
	require.NoError(t, w.Append([]domain.Token{tok(0, "0123456789")}))

	require.NoError(t, w.RotateIfNeeded(5))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "original file should have been renamed away")

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "wal-*.bak"))
	assert.Len(t, matches, 1)
}

func TestRotateIfNeeded_NoopBelowLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.wal")
	w := New(path)
	require.NoError(t, w.Append([]domain.Token{tok(0, "a")}))

	require.NoError(t, w.RotateIfNeeded(DefaultMaxSizeBytes))

	_, err := os.Stat(path)
	require.NoError(t, err)
}
