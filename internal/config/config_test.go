package config

import (
	"os"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != DefaultHost {
		t.Errorf("Expected host %s, got %s", DefaultHost, cfg.Server.Host)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Persistence.WalMaxSizeBytes != DefaultWalMaxSizeBytes {
		t.Errorf("Expected wal max size %d, got %d", DefaultWalMaxSizeBytes, cfg.Persistence.WalMaxSizeBytes)
	}
	if cfg.Replay.IntervalSeconds != DefaultReplayInterval {
		t.Errorf("Expected replay interval %d, got %d", DefaultReplayInterval, cfg.Replay.IntervalSeconds)
	}
	if cfg.Retention.RetentionDays != DefaultRetentionDays {
		t.Errorf("Expected retention days %d, got %d", DefaultRetentionDays, cfg.Retention.RetentionDays)
	}
	if len(cfg.Fallback.Models) != 4 {
		t.Errorf("Expected 4 default fallback models, got %d", len(cfg.Fallback.Models))
	}
}

func TestConcurrencyForDefaults(t *testing.T) {
	cfg := &Config{Providers: map[string]ProviderConfig{}}

	if got := cfg.ConcurrencyFor("openai"); got != DefaultOpenAIConcurrency {
		t.Errorf("Expected openai default concurrency %d, got %d", DefaultOpenAIConcurrency, got)
	}
	if got := cfg.ConcurrencyFor("anthropic"); got != DefaultProviderConcurrency {
		t.Errorf("Expected anthropic default concurrency %d, got %d", DefaultProviderConcurrency, got)
	}
}

func TestApplyLiteralEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()

	os.Setenv("RETENTION_DAYS", "30")
	os.Setenv("WAL_FILE_PATH", "/tmp/custom.wal")
	os.Setenv("WAL_MAX_SIZE_BYTES", "1024")
	os.Setenv("REPLAY_INTERVAL_SECONDS", "5")
	os.Setenv("OPENAI_CONCURRENCY", "9")
	defer func() {
		os.Unsetenv("RETENTION_DAYS")
		os.Unsetenv("WAL_FILE_PATH")
		os.Unsetenv("WAL_MAX_SIZE_BYTES")
		os.Unsetenv("REPLAY_INTERVAL_SECONDS")
		os.Unsetenv("OPENAI_CONCURRENCY")
	}()

	applyLiteralEnvOverrides(cfg)

	if cfg.Retention.RetentionDays != 30 {
		t.Errorf("Expected retention days 30, got %d", cfg.Retention.RetentionDays)
	}
	if cfg.Persistence.WalFilePath != "/tmp/custom.wal" {
		t.Errorf("Expected wal file path override, got %s", cfg.Persistence.WalFilePath)
	}
	if cfg.Persistence.WalMaxSizeBytes != 1024 {
		t.Errorf("Expected wal max size override, got %d", cfg.Persistence.WalMaxSizeBytes)
	}
	if cfg.Replay.IntervalSeconds != 5 {
		t.Errorf("Expected replay interval override, got %d", cfg.Replay.IntervalSeconds)
	}
	if cfg.ConcurrencyFor("openai") != 9 {
		t.Errorf("Expected openai concurrency override 9, got %d", cfg.ConcurrencyFor("openai"))
	}
}
