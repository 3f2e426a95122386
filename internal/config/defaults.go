package config

import "time"

// defaultConfig returns sensible defaults applied before the config file and
// environment variables are layered on top (grounded on the teacher's
// defaultConfig in koanf.go).
func defaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Host:            "127.0.0.1",
			Port:            8765,
			SessionsDir:     "/data/sessions",
			ShutdownTimeout: 10 * time.Second,
			MaxResponseSize: 16 << 20, // 16 MiB, spec.md §6.1
		},
		Store: StoreConfig{
			Path:        "/data/tgfeed.db",
			BusyTimeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:               200,
			BackfillConcurrency:     5, // spec.md §5 default concurrency 5
			MaxPendingRetriesPerRun: 10,
			RPCTimeout:              30 * time.Second,
			PauseCheckInterval:      500 * time.Millisecond,
		},
		Dedup: DedupConfig{
			MinMessageLength: 20,
			MessagesPerRun:   50,
			AIProvider:       "openai",
		},
		Media: MediaConfig{
			Root:          "/data/media",
			TelegraphRoot: "/data/telegraph",
			PhotosRoot:    "/data/photos",
		},
		Maintenance: MaintenanceConfig{
			ThumbnailBatchSize: 50, // spec.md §4.7 "newest N (default 50)"
			TelegraphBatchSize: 20,
			RetentionMediaAge:  7 * 24 * time.Hour,  // spec.md §4.7 Phase A
			RetentionRowAge:    30 * 24 * time.Hour, // spec.md §4.7 Phase B
			FTSBatchSize:       500,                 // spec.md §4.7 "batch size 500"
		},
		Supervisor: SupervisorConfig{
			PauseFilePath: "/data/run/pause",
			CrashLogDir:   "/data/run/crashes",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
