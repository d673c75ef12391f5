// Command tokenbench is the token-pipeline service entrypoint: it loads
// configuration, wires internal/boot.Service (C1-C13), and serves the
// out-of-core intake/status HTTP shim. Grounded on main.go + internal/app/
// app.go's version-splash / signal-channel / bounded Stop(ctx) shape.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RawleySM/llm-shotgun/internal/boot"
	"github.com/RawleySM/llm-shotgun/internal/config"
	"github.com/RawleySM/llm-shotgun/internal/intake"
	"github.com/RawleySM/llm-shotgun/internal/logger"
	"github.com/RawleySM/llm-shotgun/internal/status"
	"github.com/RawleySM/llm-shotgun/internal/version"
	"github.com/RawleySM/llm-shotgun/pkg/format"
	"github.com/RawleySM/llm-shotgun/pkg/nerdstats"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	} else {
		version.PrintVersionInfo(false, vlog)
	}

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(buildLoggerConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	svc, err := boot.New(ctx, cfg, styledLogger)
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to wire token pipeline", "error", err)
	}

	if err := svc.Start(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "Failed to start token pipeline", "error", err)
	}

	server := startWebServer(cfg, svc, styledLogger)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		styledLogger.Error("HTTP server shutdown error", "error", err)
	}
	shutdownCancel()

	if err := svc.Stop(context.Background()); err != nil {
		styledLogger.Error("Error during shutdown", "error", err)
	}

	reportProcessStats(styledLogger, startTime)

	styledLogger.Info("tokenbench has shutdown")
}

// startWebServer wires the intake shim and status surface onto one
// ServeMux and starts serving in the background, mirroring the
// teacher's startWebServer's fire-and-log-errors convention.
func startWebServer(cfg *config.Config, svc *boot.Service, log *logger.StyledLogger) *http.Server {
	providers := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		providers = append(providers, name)
	}

	reg := prometheus.NewRegistry()
	snapshotter := status.NewSnapshotter(svc.Breaker(), svc.Gate(), svc.Wal(), svc.Persister(), svc.Database(), svc, providers, reg)

	mux := http.NewServeMux()
	intake.NewHandler(svc, log).Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /internal/status", func(w http.ResponseWriter, r *http.Request) {
		snap, err := snapshotter.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Started WebServer", "bind", server.Addr)
	return server
}

// buildLoggerConfig adapts the loaded LoggingConfig section, overriding
// the level and theme from literal env vars in the same style as
// internal/config.applyLiteralEnvOverrides (this project carries no
// internal/env package, unlike the teacher).
func buildLoggerConfig(cfg *config.Config) *logger.Config {
	lcfg := &logger.Config{
		Level:      cfg.Logging.Level,
		LogDir:     cfg.Logging.LogDir,
		Theme:      cfg.Logging.Theme,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		FileOutput: cfg.Logging.FileOutput,
		PrettyLogs: cfg.Logging.PrettyLogs,
	}
	if v := os.Getenv("LLM_SHOTGUN_LOG_LEVEL"); v != "" {
		lcfg.Level = v
	}
	if v := os.Getenv("LLM_SHOTGUN_LOG_THEME"); v != "" {
		lcfg.Theme = v
	}
	return lcfg
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	log.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	log.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)

	log.Info("Goroutine Stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
	)
}
