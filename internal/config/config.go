package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 8421

	DefaultOpenAIConcurrency = 5
	DefaultProviderConcurrency = 3

	DefaultWalMaxSizeBytes = 100 * 1024 * 1024 // 100 MiB
	DefaultReplayInterval  = 10
	DefaultRetentionDays   = 180

	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults matching
// the literal defaults called out in spec.md §4 and §6.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			ShutdownGrace:   15 * time.Second,
		},
		Providers: map[string]ProviderConfig{
			"openai":    {Concurrency: DefaultOpenAIConcurrency, Endpoint: "https://api.openai.com/v1/chat/completions"},
			"anthropic": {Concurrency: DefaultProviderConcurrency, Endpoint: "https://api.anthropic.com/v1/messages"},
			"gemini":    {Concurrency: DefaultProviderConcurrency, Endpoint: "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"},
			"deepseek":  {Concurrency: DefaultProviderConcurrency, Endpoint: "https://api.deepseek.com/v1/chat/completions"},
		},
		Persistence: PersistenceConfig{
			DatabaseDSN:     "",
			WalFilePath:     "tokens.wal",
			WalMaxSizeBytes: DefaultWalMaxSizeBytes,
		},
		Replay: ReplayConfig{
			IntervalSeconds: DefaultReplayInterval,
		},
		Retention: RetentionConfig{
			RetentionDays: DefaultRetentionDays,
		},
		Fallback: FallbackConfig{
			Models: []FallbackModel{
				{Provider: "openai", Model: "gpt-3.5-turbo"},
				{Provider: "anthropic", Model: "claude-haiku"},
				{Provider: "gemini", Model: "gemini-flash"},
				{Provider: "deepseek", Model: "deepseek-chat"},
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			PrettyLogs: true,
		},
	}
}

// Load loads configuration from file and environment variables, matching
// the exact env var names named in spec.md §6 (RETENTION_DAYS,
// {PROVIDER}_CONCURRENCY, WAL_FILE_PATH, WAL_MAX_SIZE_BYTES,
// REPLAY_INTERVAL_SECONDS).
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("LLM_SHOTGUN_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyLiteralEnvOverrides(cfg)

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// applyLiteralEnvOverrides binds the exact env var names spec.md §6
// names, including the per-provider {PROVIDER}_CONCURRENCY pattern that
// viper's struct tags cannot express directly.
func applyLiteralEnvOverrides(cfg *Config) {
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.RetentionDays = n
		}
	}
	if v := os.Getenv("WAL_FILE_PATH"); v != "" {
		cfg.Persistence.WalFilePath = v
	}
	if v := os.Getenv("WAL_MAX_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Persistence.WalMaxSizeBytes = n
		}
	}
	if v := os.Getenv("REPLAY_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Replay.IntervalSeconds = n
		}
	}
	for name, pc := range cfg.Providers {
		envName := strings.ToUpper(name) + "_CONCURRENCY"
		if v := os.Getenv(envName); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				pc.Concurrency = n
				cfg.Providers[name] = pc
			}
		}
	}
}

// ConcurrencyFor returns the configured (or default) concurrency limit
// for a provider, applying the openai=5/others=3 default from spec.md
// §4.3 even if the provider has no explicit entry.
func (c *Config) ConcurrencyFor(provider string) int {
	if pc, ok := c.Providers[provider]; ok && pc.Concurrency > 0 {
		return pc.Concurrency
	}
	if provider == "openai" {
		return DefaultOpenAIConcurrency
	}
	return DefaultProviderConcurrency
}
