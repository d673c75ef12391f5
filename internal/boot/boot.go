// Package boot implements Boot & Shutdown (C13): wires C1-C12 per
// configured provider, runs the boot-time gap-detection scan, starts the
// Replay Loop, and on stop drains in-flight attempts within a bounded
// grace window before stopping the replay loop and closing the database.
// Grounded on main.go + internal/app/app.go's signal-channel /
// context.WithCancel / bounded Stop(ctx) shape.
package boot

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/adapter/breaker"
	"github.com/RawleySM/llm-shotgun/internal/adapter/gate"
	"github.com/RawleySM/llm-shotgun/internal/adapter/provider"
	"github.com/RawleySM/llm-shotgun/internal/adapter/safecall"
	"github.com/RawleySM/llm-shotgun/internal/config"
	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
	"github.com/RawleySM/llm-shotgun/internal/logger"
	"github.com/RawleySM/llm-shotgun/internal/persistence/db"
	"github.com/RawleySM/llm-shotgun/internal/persistence/replay"
	"github.com/RawleySM/llm-shotgun/internal/persistence/service"
	"github.com/RawleySM/llm-shotgun/internal/persistence/wal"
	"github.com/RawleySM/llm-shotgun/internal/pipeline/fallback"
	"github.com/RawleySM/llm-shotgun/internal/pipeline/orchestrator"
	"github.com/RawleySM/llm-shotgun/internal/util"
)

// DefaultGapReportLimit is the number of gap findings logged at boot,
// per spec.md §4.13 ("report the first N findings, default 10").
const DefaultGapReportLimit = 10

const retryBackoffBase = 1.5

var schema = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		request_id  TEXT PRIMARY KEY,
		prompt      TEXT NOT NULL,
		models      JSONB NOT NULL,
		status      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		request_id  TEXT NOT NULL,
		attempt_seq INTEGER NOT NULL,
		model_id    TEXT NOT NULL,
		provider    TEXT NOT NULL,
		status      TEXT NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		ended_at    TIMESTAMPTZ,
		error_kind  TEXT,
		PRIMARY KEY (request_id, attempt_seq)
	)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		request_id  TEXT NOT NULL,
		attempt_seq INTEGER NOT NULL,
		token_index INTEGER NOT NULL,
		model_id    TEXT NOT NULL,
		text        TEXT NOT NULL,
		ts          TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (request_id, attempt_seq, token_index)
	)`,
	`CREATE INDEX IF NOT EXISTS tokens_ts_idx ON tokens (ts)`,
}

// databaseHandle is everything Service needs from the database beyond
// ports.DatabaseWriter's pipeline contract: schema migration and
// lifecycle close. *db.Writer satisfies it; tests supply a fake.
type databaseHandle interface {
	ports.DatabaseWriter
	Exec(ctx context.Context, stmt string) error
	Close() error
}

// Service wires the whole token pipeline together for one process
// lifetime: C1 adaptors, C2 breaker, C3 gate, C4 safe caller, C8 database
// writer, C7 WAL, C9 persistence service, C10 replay loop, C11 fallback
// policy and C12 orchestrator.
type Service struct {
	cfg *config.Config
	log *logger.StyledLogger

	breaker      *breaker.Breaker
	gate         *gate.Gate
	caller       ports.SafeCaller
	database     databaseHandle
	wal          ports.WAL
	persister    ports.Persister
	fallback     ports.FallbackPolicy
	orchestrator ports.Orchestrator
	replayLoop   *replay.Loop

	mu        sync.Mutex
	accepting bool
	wg        sync.WaitGroup

	tokenGap bool

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// New connects to the database, wires every pipeline component for each
// configured provider and returns a Service ready for Start.
func New(ctx context.Context, cfg *config.Config, log *logger.StyledLogger) (*Service, error) {
	database, err := db.Open(ctx, cfg.Persistence.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("boot: connecting to database: %w", err)
	}

	w := wal.New(cfg.Persistence.WalFilePath)
	br := breaker.New()
	gt := gate.New(cfg)

	adaptors := buildAdaptors(cfg)
	caller := safecall.New(adaptors, br, gt, func(n int) time.Duration {
		return util.PowBackoff(retryBackoffBase, n)
	})

	persister := service.New(database, w)
	fb := fallback.New(cfg)
	orch := orchestrator.New(caller, persister, database, fb)

	replayInterval := time.Duration(cfg.Replay.IntervalSeconds) * time.Second
	replayLoop := replay.New(w, database, persister, replayInterval, cfg.Persistence.WalMaxSizeBytes, log)

	return newService(cfg, log, database, w, br, gt, caller, persister, fb, orch, replayLoop), nil
}

// newService assembles a Service from already-constructed collaborators;
// New uses it with real infra, tests use it with fakes.
func newService(cfg *config.Config, log *logger.StyledLogger, database databaseHandle, w ports.WAL, br *breaker.Breaker, gt *gate.Gate, caller ports.SafeCaller, persister ports.Persister, fb ports.FallbackPolicy, orch ports.Orchestrator, replayLoop *replay.Loop) *Service {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	return &Service{
		cfg:            cfg,
		log:            log,
		breaker:        br,
		gate:           gt,
		caller:         caller,
		database:       database,
		wal:            w,
		persister:      persister,
		fallback:       fb,
		orchestrator:   orch,
		replayLoop:     replayLoop,
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
}

// buildAdaptors constructs one ports.ProviderAdaptor per configured
// provider, keyed by provider name, reading API keys from
// {PROVIDER}_API_KEY environment variables at wiring time.
func buildAdaptors(cfg *config.Config) map[string]ports.ProviderAdaptor {
	client := provider.DefaultHTTPClient()
	adaptors := make(map[string]ports.ProviderAdaptor, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		apiKey := os.Getenv(strings.ToUpper(name) + "_API_KEY")
		if name == "anthropic" {
			adaptors[name] = provider.NewAnthropicAdaptor(apiKey, pc.Endpoint, client)
		} else {
			adaptors[name] = provider.NewOpenAICompatAdaptor(name, pc.Endpoint, apiKey, client)
		}
	}
	return adaptors
}

// Start applies schema migrations, runs the boot-time gap-detection scan
// (spec.md §4.13) and starts the Replay Loop.
func (s *Service) Start(ctx context.Context) error {
	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("boot: migrating schema: %w", err)
	}

	findings, err := s.database.GapScan(ctx, DefaultGapReportLimit)
	if err != nil {
		s.log.Error("gap detection scan failed", "error", err)
	} else if len(findings) > 0 {
		s.mu.Lock()
		s.tokenGap = true
		s.mu.Unlock()
		for _, f := range findings {
			s.log.Warn("token gap detected", "request_id", f.RequestID, "attempt_seq", f.AttemptSeq, "prev_index", f.PrevIndex, "curr_index", f.CurrIndex)
		}
	}

	s.replayLoop.Start(ctx)

	s.mu.Lock()
	s.accepting = true
	s.mu.Unlock()

	s.log.Info("boot sequence complete", "gap_findings", len(findings))
	return nil
}

func (s *Service) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.database.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Submit drives one request through the orchestrator (C12), refusing new
// work once shutdown has begun. The context handed to the orchestrator
// is cancelled either when the caller's own context ends or when Stop
// begins, so that cancellation flows downward into C1 per spec.md §5
// ("Cancellation flows downward from the caller's context into C1").
func (s *Service) Submit(ctx context.Context, req domain.Request) (<-chan domain.Token, <-chan domain.Outcome, error) {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return nil, nil, errShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.shutdownCtx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	tokens, outcomes := s.orchestrator.Run(runCtx, req)

	done := make(chan struct{})
	wrappedOutcomes := make(chan domain.Outcome, cap(outcomes))
	go func() {
		defer close(done)
		defer close(wrappedOutcomes)
		for oc := range outcomes {
			wrappedOutcomes <- oc
		}
	}()
	go func() {
		<-done
		cancel()
		s.wg.Done()
	}()

	return tokens, wrappedOutcomes, nil
}

// TokenGap reports whether the boot-time gap scan found any
// discontinuity, per spec.md §4.13's "expose token_gap=true" rule.
func (s *Service) TokenGap() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenGap
}

// Breaker, Gate, Database, Wal and Persister expose the wired
// collaborators to the admin status surface (internal/status).
func (s *Service) Breaker() *breaker.Breaker       { return s.breaker }
func (s *Service) Gate() *gate.Gate                { return s.gate }
func (s *Service) Database() ports.DatabaseWriter  { return s.database }
func (s *Service) Wal() ports.WAL                  { return s.wal }
func (s *Service) Persister() ports.Persister      { return s.persister }

// Stop implements spec.md §4.13's shutdown sequence: stop accepting new
// requests, wait for in-flight attempts up to a bounded grace window
// (each attempt drains its own buffer internally on cancellation), stop
// the replay loop, then close the database.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()

	grace := s.cfg.Server.ShutdownGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}

	s.shutdownCancel()

	if !waitGroupTimeout(&s.wg, grace) {
		s.log.Warn("shutdown grace window elapsed with attempts still in flight")
	}

	s.replayLoop.Stop()

	if err := s.database.Close(); err != nil {
		return fmt.Errorf("boot: closing database: %w", err)
	}
	return nil
}

func waitGroupTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ErrShuttingDown is returned by Submit once Stop has begun.
var ErrShuttingDown error = shuttingDownError{}

type shuttingDownError struct{}

func (shuttingDownError) Error() string { return "boot: shutting down, not accepting new requests" }

// StatusCode lets the intake HTTP layer map this error to 503 without an
// import cycle back into net/http semantics living in this package.
func (shuttingDownError) StatusCode() int { return http.StatusServiceUnavailable }

var errShuttingDown = ErrShuttingDown
