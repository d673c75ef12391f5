// Package wal implements the WAL Log (C7): an append-only, fsync-backed
// JSON-lines file used as the fallback write path when the database is
// unavailable, grounded on the lumberjack rotate-on-size-then-rename
// shape the teacher uses for log files, adapted here from a background
// rotation policy into an explicit rotate_if_needed operation the
// Replay Loop drives itself.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
)

// DefaultMaxSizeBytes is the spec.md §4.7 default rotation threshold.
const DefaultMaxSizeBytes int64 = 100 * 1024 * 1024

// line is the compact on-disk WAL record shape (spec.md §4.7).
type line struct {
	R  string `json:"r"`
	A  int    `json:"a"`
	I  int    `json:"i"`
	M  string `json:"m"`
	T  string `json:"t"`
	TS string `json:"ts"`
}

func tokenToLine(t domain.Token) line {
	return line{
		R:  t.RequestID,
		A:  t.AttemptSeq,
		I:  t.TokenIndex,
		M:  t.ModelID,
		T:  t.WalNormalisedText(),
		TS: t.TsRFC3339Milli(),
	}
}

func (l line) toToken() domain.Token {
	ts, _ := time.Parse("2006-01-02T15:04:05.000Z", l.TS)
	return domain.Token{
		RequestID:  l.R,
		AttemptSeq: l.A,
		TokenIndex: l.I,
		ModelID:    l.M,
		Text:       l.T,
		Ts:         ts,
	}
}

// WAL implements ports.WAL.
type WAL struct {
	mu   sync.Mutex
	path string
}

func New(path string) *WAL {
	return &WAL{path: path}
}

// Append implements ports.WAL.Append: writes every token as one line and
// fsyncs before returning, so a successful Append implies durability.
func (w *WAL) Append(batch []domain.Token) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open for append: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	for _, t := range batch {
		b, err := json.Marshal(tokenToLine(t))
		if err != nil {
			return fmt.Errorf("wal: marshal token: %w", err)
		}
		if _, err := bw.Write(b); err != nil {
			return fmt.Errorf("wal: write line: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("wal: write newline: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// ReadLines implements ports.WAL.ReadLines: a restartable finite
// iterator reading the file from the start.
func (w *WAL) ReadLines() (ports.WALReader, error) {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Reader{empty: true}, nil
		}
		return nil, fmt.Errorf("wal: open for read: %w", err)
	}
	return &Reader{file: f, scanner: bufio.NewScanner(f)}, nil
}

// Truncate implements ports.WAL.Truncate. Callers must only invoke this
// after ReadLines has been fully drained into the database.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	return f.Close()
}

// RotateIfNeeded implements ports.WAL.RotateIfNeeded: renames the
// current file to a wal-YYYYMMDDHHMM.bak backup once its size has
// reached limit, then lets the next Append recreate a fresh file.
func (w *WAL) RotateIfNeeded(limit int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("wal: stat: %w", err)
	}
	if info.Size() < limit {
		return nil
	}

	// spec.md §6's literal rotation filename pattern, alongside the
	// current WAL file rather than derived from its base name.
	name := fmt.Sprintf("wal-%s.bak", time.Now().Format("200601021504"))
	backup := filepath.Join(filepath.Dir(w.path), name)
	if err := os.Rename(w.path, backup); err != nil {
		return fmt.Errorf("wal: rotate rename: %w", err)
	}
	return nil
}

// Size implements ports.WAL.Size.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Reader implements ports.WALReader over a WAL file's lines.
type Reader struct {
	file    *os.File
	scanner *bufio.Scanner
	empty   bool
	err     error
}

func (r *Reader) Next() (domain.Token, bool) {
	if r.empty || r.scanner == nil {
		return domain.Token{}, false
	}
	if !r.scanner.Scan() {
		r.err = r.scanner.Err()
		return domain.Token{}, false
	}

	var l line
	raw := r.scanner.Bytes()
	if len(raw) == 0 {
		return r.Next()
	}
	if err := json.Unmarshal(raw, &l); err != nil {
		r.err = fmt.Errorf("wal: decode line: %w", err)
		return domain.Token{}, false
	}
	return l.toToken(), true
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

var _ ports.WAL = (*WAL)(nil)
var _ ports.WALReader = (*Reader)(nil)
