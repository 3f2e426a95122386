// Package config loads tgfeed configuration from defaults, an optional
// config.yaml, and environment variables, in that order of precedence,
// using koanf/v2.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration for the daemon, the sync
// pipeline, the dedup engine, and the supervisor.
type Config struct {
	Upstream   UpstreamConfig   `koanf:"upstream"`
	Daemon     DaemonConfig     `koanf:"daemon"`
	Store      StoreConfig      `koanf:"store"`
	Sync       SyncConfig       `koanf:"sync"`
	Dedup      DedupConfig      `koanf:"dedup"`
	AI         AIConfig         `koanf:"ai"`
	Media       MediaConfig       `koanf:"media"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
	Supervisor  SupervisorConfig  `koanf:"supervisor"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// UpstreamConfig points at the file listing upstream account credentials.
// The credentials themselves are validated individually by LoadCredentials.
type UpstreamConfig struct {
	CredentialsFile string `koanf:"credentials_file"`
}

// DaemonConfig configures the session daemon's TCP listener (C2).
type DaemonConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	SessionsDir     string        `koanf:"sessions_dir"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxResponseSize int           `koanf:"max_response_size"`
}

// StoreConfig configures the SQLite-backed store (C1).
type StoreConfig struct {
	Path          string        `koanf:"path"`
	BusyTimeout   time.Duration `koanf:"busy_timeout"`
}

// SyncConfig configures the sync pipeline (C4).
type SyncConfig struct {
	BatchSize             int           `koanf:"batch_size"`
	BackfillConcurrency   int           `koanf:"backfill_concurrency"`
	MaxPendingRetriesPerRun int         `koanf:"max_pending_retries_per_run"`
	RPCTimeout            time.Duration `koanf:"rpc_timeout"`
	PauseCheckInterval    time.Duration `koanf:"pause_check_interval"`
}

// DedupConfig configures the dedup engine (C5).
type DedupConfig struct {
	MinMessageLength int `koanf:"min_message_length"`
	MessagesPerRun   int `koanf:"messages_per_run"`
	AIProvider       string `koanf:"ai_provider"`
}

// AIConfig configures whichever AI summary provider is selected.
type AIConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

// MediaConfig configures on-disk media layout (spec.md §6.3).
type MediaConfig struct {
	Root          string `koanf:"root"`
	TelegraphRoot string `koanf:"telegraph_root"`
	PhotosRoot    string `koanf:"photos_root"`
}

// MaintenanceConfig configures the maintenance workers (C7).
type MaintenanceConfig struct {
	ThumbnailBatchSize int           `koanf:"thumbnail_batch_size"`
	TelegraphBatchSize int           `koanf:"telegraph_batch_size"`
	RetentionMediaAge  time.Duration `koanf:"retention_media_age"`
	RetentionRowAge    time.Duration `koanf:"retention_row_age"`
	FTSBatchSize       int           `koanf:"fts_batch_size"`
}

// SupervisorConfig configures chain orchestration (C8).
type SupervisorConfig struct {
	PauseFilePath string `koanf:"pause_file_path"`
	CrashLogDir   string `koanf:"crash_log_dir"`
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks that required configuration is present and internally
// consistent. Each section is checked in turn and the first error found is
// returned.
func (c *Config) Validate() error {
	if err := c.validateUpstream(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	return c.validateDedup()
}

func (c *Config) validateUpstream() error {
	if c.Upstream.CredentialsFile == "" {
		return fmt.Errorf("upstream.credentials_file is required")
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port must be between 1 and 65535, got %d", c.Daemon.Port)
	}
	if c.Daemon.SessionsDir == "" {
		return fmt.Errorf("daemon.sessions_dir is required")
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.BackfillConcurrency <= 0 {
		return fmt.Errorf("sync.backfill_concurrency must be positive, got %d", c.Sync.BackfillConcurrency)
	}
	return nil
}

func (c *Config) validateDedup() error {
	if c.Dedup.MinMessageLength < 0 {
		return fmt.Errorf("dedup.min_message_length must not be negative")
	}
	if c.Dedup.MessagesPerRun <= 0 {
		return fmt.Errorf("dedup.messages_per_run must be positive")
	}
	return nil
}

// PauseFilePath and CrashLogDir are fixed derivations of the data root per
// spec.md §6.5 when not explicitly overridden.
func DerivePaths(dataRoot string) (pauseFile, crashLogDir, sessionsDir string) {
	return dataRoot + "/run/pause",
		dataRoot + "/run/crashes",
		dataRoot + "/sessions"
}
