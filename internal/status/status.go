// Package status implements the out-of-core admin status surface
// (SPEC_FULL.md §4's "Admin status surface" expansion): a read-only
// snapshot of every pipeline component's live state, exposed as JSON and
// as github.com/prometheus/client_golang gauges/counters.
package status

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/RawleySM/llm-shotgun/internal/adapter/breaker"
	"github.com/RawleySM/llm-shotgun/internal/adapter/gate"
	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
)

// ProviderSnapshot merges the circuit breaker's state with the
// concurrency gate's live inflight count for one provider.
type ProviderSnapshot struct {
	Provider         string              `json:"provider"`
	State            domain.CircuitState `json:"state"`
	ConsecutiveFails int                 `json:"consecutive_fails"`
	Inflight         int                 `json:"inflight"`
	Limit            int                 `json:"limit"`
}

// Snapshot is the full admin status surface document described in
// spec.md §6.
type Snapshot struct {
	Providers     []ProviderSnapshot `json:"providers"`
	WalSizeBytes  int64              `json:"wal_size_bytes"`
	LastDBWriteTs time.Time          `json:"last_db_write_ts"`
	DBIsUp        bool               `json:"db_is_up"`
	AttemptsTotal int64              `json:"attempts_total"`
	TokenGap      bool               `json:"token_gap"`
}

// bootHandle is the narrow slice of internal/boot.Service that the
// status surface needs; declared locally to avoid boot depending on
// status (status is a collaborator of boot, not the reverse).
type bootHandle interface {
	TokenGap() bool
}

// Snapshotter assembles Snapshot documents on demand and mirrors the
// same counters as Prometheus metrics (grounded on kowtom-GOModel's use
// of prometheus/client_golang).
type Snapshotter struct {
	breaker   *breaker.Breaker
	gate      *gate.Gate
	wal       ports.WAL
	persister ports.Persister
	database  ports.DatabaseWriter
	boot      bootHandle

	providers []string

	gaugeInflight   *prometheus.GaugeVec
	gaugeCircuit    *prometheus.GaugeVec
	gaugeWalBytes   prometheus.Gauge
	gaugeTokenGap   prometheus.Gauge
	counterAttempts prometheus.Gauge
}

// NewSnapshotter wires the admin status surface to its upstream
// collaborators and registers its Prometheus collectors against reg.
func NewSnapshotter(br *breaker.Breaker, gt *gate.Gate, w ports.WAL, persister ports.Persister, database ports.DatabaseWriter, bootSvc bootHandle, providers []string, reg prometheus.Registerer) *Snapshotter {
	s := &Snapshotter{
		breaker:   br,
		gate:      gt,
		wal:       w,
		persister: persister,
		database:  database,
		boot:      bootSvc,
		providers: providers,
		gaugeInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llm_shotgun_provider_inflight",
			Help: "Currently in-flight provider calls admitted by the concurrency gate.",
		}, []string{"provider"}),
		gaugeCircuit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llm_shotgun_provider_circuit_state",
			Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half-open).",
		}, []string{"provider"}),
		gaugeWalBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llm_shotgun_wal_size_bytes",
			Help: "Current size of the write-ahead log file.",
		}),
		gaugeTokenGap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llm_shotgun_token_gap",
			Help: "1 if the boot-time gap scan found a discontinuity, else 0.",
		}),
		counterAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llm_shotgun_attempts_total",
			Help: "Persisted count of attempt rows at last snapshot.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.gaugeInflight, s.gaugeCircuit, s.gaugeWalBytes, s.gaugeTokenGap, s.counterAttempts)
	}
	return s
}

// Snapshot assembles the current Snapshot document and updates the
// Prometheus collectors to match.
func (s *Snapshotter) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		WalSizeBytes:  s.wal.Size(),
		LastDBWriteTs: s.persister.LastDBWriteTime(),
		DBIsUp:        s.persister.DBIsUp(ctx),
		TokenGap:      s.boot.TokenGap(),
	}

	for _, provider := range s.providers {
		bs := s.breaker.Snapshot(provider)
		ps := ProviderSnapshot{
			Provider:         provider,
			State:            bs.State,
			ConsecutiveFails: bs.ConsecutiveFails,
			Inflight:         s.gate.Inflight(provider),
			Limit:            s.gate.Limit(provider),
		}
		snap.Providers = append(snap.Providers, ps)

		s.gaugeInflight.WithLabelValues(provider).Set(float64(ps.Inflight))
		s.gaugeCircuit.WithLabelValues(provider).Set(float64(ps.State))
	}

	total, err := s.database.AttemptsTotal(ctx)
	if err != nil {
		return snap, err
	}
	snap.AttemptsTotal = total

	s.gaugeWalBytes.Set(float64(snap.WalSizeBytes))
	s.counterAttempts.Set(float64(total))
	if snap.TokenGap {
		s.gaugeTokenGap.Set(1)
	} else {
		s.gaugeTokenGap.Set(0)
	}

	return snap, nil
}
