package config

import "time"

// Config holds all configuration for the token pipeline service.
type Config struct {
	Logging     LoggingConfig            `yaml:"logging"`
	Server      ServerConfig             `yaml:"server"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Persistence PersistenceConfig        `yaml:"persistence"`
	Replay      ReplayConfig             `yaml:"replay"`
	Retention   RetentionConfig          `yaml:"retention"`
	Fallback    FallbackConfig           `yaml:"fallback"`
}

// ServerConfig holds HTTP server configuration for the out-of-core
// intake/status shim.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
}

// ProviderConfig holds per-provider tunables. APIKey is read from the
// environment at wiring time ({PROVIDER}_API_KEY), never stored in the
// config file itself.
type ProviderConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Endpoint    string `yaml:"endpoint"`
}

// PersistenceConfig holds database and WAL configuration.
type PersistenceConfig struct {
	DatabaseDSN     string `yaml:"database_dsn"`
	WalFilePath     string `yaml:"wal_file_path"`
	WalMaxSizeBytes int64  `yaml:"wal_max_size_bytes"`
}

// ReplayConfig holds WAL-replay-loop configuration.
type ReplayConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// RetentionConfig holds pruning configuration consumed by an external
// cron wrapper, not by the core.
type RetentionConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// FallbackConfig holds the ordered alternate-model chain.
type FallbackConfig struct {
	Models []FallbackModel `yaml:"models"`
}

type FallbackModel struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	FileOutput bool   `yaml:"file_output"`
	PrettyLogs bool   `yaml:"pretty_logs"`
}
