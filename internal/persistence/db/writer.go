// Package db implements the Database Writer (C8): a database/sql +
// jmoiron/sqlx data-access layer over Postgres reached through the
// jackc/pgx/v5/stdlib driver, grounded on the "sql.Open with the pgx
// driver name, wrap with sqlx" pattern from the kubernaut/jodo
// other_examples reference files.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
)

// Postgres error codes relevant to C8's classification table (spec.md
// §4.8): unique_violation is treated as success (idempotent replay);
// serialization_failure/deadlock_detected are DbRetryable;
// disk_full/out_of_disk_space is FatalDisk; everything unrecognised that
// still reached us as a *pgconn.PgError is treated conservatively as
// DbUnavailable.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgDiskFull             = "53100"
)

const maxRetryableAttempts = 3

// ErrFatalDisk indicates local I/O exhaustion; propagated up per
// spec.md §4.8/§4.9.
var ErrFatalDisk = errors.New("db: fatal disk error")

// Writer implements ports.DatabaseWriter.
type Writer struct {
	db *sqlx.DB
}

// Open connects to Postgres via the pgx stdlib driver and wraps the
// resulting *sql.DB with sqlx for named-parameter binds.
func Open(ctx context.Context, dsn string) (*Writer, error) {
	conn, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)
	return &Writer{db: conn}, nil
}

func (w *Writer) Close() error {
	return w.db.Close()
}

// Exec runs a schema-migration statement (C13 boot-time migrations); not
// part of ports.DatabaseWriter since it is a boot-only concern.
func (w *Writer) Exec(ctx context.Context, stmt string) error {
	_, err := w.db.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("db: exec migration: %w", err)
	}
	return nil
}

// CopyBatch implements ports.DatabaseWriter.CopyBatch: bulk
// insert-ignore-on-conflict into tokens, keyed by
// (request_id, attempt_seq, token_index), retrying DbRetryable failures
// up to maxRetryableAttempts times with immediate re-attempt.
func (w *Writer) CopyBatch(ctx context.Context, batch []domain.Token) error {
	if len(batch) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetryableAttempts; attempt++ {
		err := w.insertBatch(ctx, batch)
		if err == nil {
			return nil
		}
		lastErr = err

		class := classifyPgError(err)
		switch class {
		case classFatalDisk:
			return ErrFatalDisk
		case classRetryable:
			continue
		default: // classUnavailable
			return &dbUnavailableError{cause: err}
		}
	}
	return &dbUnavailableError{cause: lastErr}
}

func (w *Writer) insertBatch(ctx context.Context, batch []domain.Token) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := `
		INSERT INTO tokens (request_id, attempt_seq, token_index, model_id, text, ts)
		VALUES (:request_id, :attempt_seq, :token_index, :model_id, :text, :ts)
		ON CONFLICT (request_id, attempt_seq, token_index) DO NOTHING`

	rows := make([]map[string]any, 0, len(batch))
	for _, t := range batch {
		rows = append(rows, map[string]any{
			"request_id":  t.RequestID,
			"attempt_seq": t.AttemptSeq,
			"token_index": t.TokenIndex,
			"model_id":    t.ModelID,
			"text":        t.WalNormalisedText(),
			"ts":          t.Ts,
		})
	}

	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, stmt, row); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
	}

	return tx.Commit()
}

// Healthy implements ports.DatabaseWriter.Healthy: a cheap liveness
// check used by C9/C10.
func (w *Writer) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return w.db.PingContext(ctx) == nil
}

// UpsertAttempt implements ports.DatabaseWriter.UpsertAttempt.
func (w *Writer) UpsertAttempt(ctx context.Context, a domain.Attempt) error {
	stmt := `
		INSERT INTO attempts (request_id, attempt_seq, model_id, provider, status, started_at, ended_at, error_kind)
		VALUES (:request_id, :attempt_seq, :model_id, :provider, :status, :started_at, :ended_at, :error_kind)
		ON CONFLICT (request_id, attempt_seq) DO UPDATE SET
			status = EXCLUDED.status,
			ended_at = EXCLUDED.ended_at,
			error_kind = EXCLUDED.error_kind`

	_, err := w.db.NamedExecContext(ctx, stmt, map[string]any{
		"request_id":  a.RequestID,
		"attempt_seq": a.AttemptSeq,
		"model_id":    a.ModelID,
		"provider":    a.Provider,
		"status":      string(a.Status),
		"started_at":  a.StartedAt,
		"ended_at":    a.EndedAt,
		"error_kind":  a.ErrorKind,
	})
	if err != nil {
		return fmt.Errorf("db: upsert attempt: %w", err)
	}
	return nil
}

// GapScan implements ports.DatabaseWriter.GapScan: finds discontinuities
// in token_index per (request_id, attempt_seq), used by C13's boot-time
// gap detection.
func (w *Writer) GapScan(ctx context.Context, limit int) ([]domain.GapFinding, error) {
	query := `
		SELECT request_id, attempt_seq, prev_index, token_index AS curr_index
		FROM (
			SELECT request_id, attempt_seq, token_index,
			       LAG(token_index) OVER (PARTITION BY request_id, attempt_seq ORDER BY token_index) AS prev_index
			FROM tokens
		) gaps
		WHERE prev_index IS NOT NULL AND token_index <> prev_index + 1
		ORDER BY request_id, attempt_seq, token_index
		LIMIT $1`

	rows, err := w.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db: gap scan: %w", err)
	}
	defer rows.Close()

	var findings []domain.GapFinding
	for rows.Next() {
		var requestID string
		var attemptSeq, prevIndex, currIndex int
		if err := rows.Scan(&requestID, &attemptSeq, &prevIndex, &currIndex); err != nil {
			return nil, fmt.Errorf("db: gap scan row: %w", err)
		}
		findings = append(findings, domain.GapFinding{
			RequestID:    requestID,
			AttemptSeq:   attemptSeq,
			PrevIndex:    prevIndex,
			CurrIndex:    currIndex,
			DiscoveredAt: time.Now(),
		})
	}
	return findings, rows.Err()
}

// AttemptsTotal implements ports.DatabaseWriter.AttemptsTotal.
func (w *Writer) AttemptsTotal(ctx context.Context) (int64, error) {
	var count int64
	if err := w.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM attempts`); err != nil {
		return 0, fmt.Errorf("db: attempts total: %w", err)
	}
	return count, nil
}

type pgErrorClass int

const (
	classUnavailable pgErrorClass = iota
	classRetryable
	classFatalDisk
)

func classifyPgError(err error) pgErrorClass {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return classUnavailable
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return classRetryable
	case pgDiskFull:
		return classFatalDisk
	case pgUniqueViolation:
		return classUnavailable // unreachable: handled by ON CONFLICT DO NOTHING
	default:
		if strings.Contains(strings.ToLower(pgErr.Message), "no space left") {
			return classFatalDisk
		}
		return classUnavailable
	}
}

type dbUnavailableError struct {
	cause error
}

func (e *dbUnavailableError) Error() string { return fmt.Sprintf("db unavailable: %v", e.cause) }
func (e *dbUnavailableError) Unwrap() error { return e.cause }

// IsUnavailable reports whether err indicates the database path should
// be abandoned in favour of the WAL for this batch (spec.md §4.9 step 3).
// FatalDisk is excluded: that outcome propagates up instead.
func IsUnavailable(err error) bool {
	return err != nil && !errors.Is(err, ErrFatalDisk)
}

var _ ports.DatabaseWriter = (*Writer)(nil)
