// Command tgfeed runs the sync-and-dedup engine: the upstream-session
// daemon, the chained sync pipeline, the dedup engine, and the maintenance
// workers, all coordinated by a supervisor tree of looping chains.
//
// Initialization order:
//
//  1. Configuration (koanf, layered: defaults, config file, env)
//  2. Logging (zerolog, bridged to slog for the supervisor)
//  3. Store (SQLite, WAL mode)
//  4. Upstream credentials and sessions
//  5. Session daemon, started as the supervisor's daemon dependency
//  6. RPC client + pool, sync/dedup/maintenance managers
//  7. Supervisor tree: a sync chain and a maintenance chain, looping
//
// The reader's HTTP API, the upstream protocol client, and the
// process-supervisor TUI are external collaborators and are not started
// here.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/righttechsoft/tgfeed/internal/config"
	"github.com/righttechsoft/tgfeed/internal/daemon"
	"github.com/righttechsoft/tgfeed/internal/dedup"
	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/maintenance"
	"github.com/righttechsoft/tgfeed/internal/rpcclient"
	"github.com/righttechsoft/tgfeed/internal/store"
	"github.com/righttechsoft/tgfeed/internal/supervisor"
	"github.com/righttechsoft/tgfeed/internal/sync"
	"github.com/righttechsoft/tgfeed/internal/upstream"
)

const sessionDaemonScriptName = "session-daemon"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("starting tgfeed")

	st, err := store.Open(cfg.Store.Path, cfg.Store.BusyTimeout)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing store")
		}
	}()

	creds, err := config.LoadCredentials(cfg.Upstream.CredentialsFile)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load upstream credentials")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionDaemon := daemon.New(daemon.Config{
		Addr: fmt.Sprintf("%s:%d", cfg.Daemon.Host, cfg.Daemon.Port),
	})
	for _, cred := range creds {
		sess, err := upstream.NewGotdSession(cred.ID, cred.Phone, cred.APIID, cred.APIHash, cfg.Daemon.SessionsDir)
		if err != nil {
			logging.Fatal().Err(err).Int64("credential_id", cred.ID).Msg("failed to build upstream session")
		}
		if err := sessionDaemon.AddSession(ctx, sess, cred.Primary); err != nil {
			logging.Fatal().Err(err).Int64("credential_id", cred.ID).Msg("failed to add upstream session to daemon")
		}
	}

	registry := supervisor.NewRegistry()
	registry.Register(&supervisor.Script{
		Name: sessionDaemonScriptName,
		Type: supervisor.ScriptDaemon,
		Run:  sessionDaemon.Serve,
	})
	if err := registry.EnsureDaemon(ctx, sessionDaemonScriptName, time.Second); err != nil {
		logging.Fatal().Err(err).Msg("failed to start session daemon")
	}

	daemonAddr := fmt.Sprintf("%s:%d", cfg.Daemon.Host, cfg.Daemon.Port)
	rpcClient, err := rpcclient.Dial(ctx, daemonAddr)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to dial session daemon")
	}
	defer rpcClient.Close()

	downloadPool, err := rpcclient.DialPool(ctx, daemonAddr, max(len(creds), 1))
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to dial session daemon download pool")
	}
	defer downloadPool.Close()

	syncMgr := sync.NewManager(st, rpcClient, rpcclient.NewPoolDownloader(downloadPool), cfg.Sync, cfg.Media.Root, cfg.Supervisor.PauseFilePath)
	dedupMgr := dedup.NewManager(st, dedup.NewOpenAISummaryProvider(cfg.AI), cfg.Dedup, cfg.Media.Root)
	maintMgr := maintenance.NewManager(st, cfg.Maintenance, cfg.Media.Root, cfg.Media.TelegraphRoot, nil, nil)

	registerSyncScripts(registry, syncMgr)
	registerMaintenanceScripts(registry, dedupMgr, maintMgr)

	slogLogger := logging.NewSlogLogger()
	tree := supervisor.NewTree(slogLogger, supervisor.DefaultTreeConfig())

	tree.AddChain(&supervisor.Chain{
		Name:          "sync",
		Stages:        []string{"read-sync", "channels", "messages", "telegraph"},
		Registry:      registry,
		CrashLogDir:   cfg.Supervisor.CrashLogDir,
		PauseFilePath: cfg.Supervisor.PauseFilePath,
	})
	tree.AddChain(&supervisor.Chain{
		Name:          "maintenance",
		Stages:        []string{"thumbnails", "hashes", "search", "cleanup"},
		Registry:      registry,
		CrashLogDir:   cfg.Supervisor.CrashLogDir,
		PauseFilePath: cfg.Supervisor.PauseFilePath,
	})

	metricsServer := startMetricsServer(cfg.Daemon.Host)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	registry.StopAllDaemons()

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}

	logging.Info().Msg("tgfeed stopped")
}

// registerSyncScripts registers the C4 stages referenced by the "sync"
// chain (spec.md §4.8's `sync = read-sync -> channels -> messages ->
// telegraph` example). Each one depends on the session daemon; telegraph
// reads the store and the public web, so it does not.
func registerSyncScripts(registry *supervisor.Registry, syncMgr *sync.Manager) {
	registry.Register(&supervisor.Script{
		Name:         "read-sync",
		Type:         supervisor.ScriptSync,
		Dependencies: []string{sessionDaemonScriptName},
		Run:          syncMgr.RunReadAcknowledge,
	})
	registry.Register(&supervisor.Script{
		Name:         "channels",
		Type:         supervisor.ScriptSync,
		Dependencies: []string{sessionDaemonScriptName},
		Run:          syncMgr.RunDiscovery,
	})
	registry.Register(&supervisor.Script{
		Name:         "messages",
		Type:         supervisor.ScriptSync,
		Dependencies: []string{sessionDaemonScriptName},
		Run: func(ctx context.Context) error {
			if err := syncMgr.RunForwardSync(ctx); err != nil {
				return err
			}
			return syncMgr.RunBackfill(ctx)
		},
	})
}

// registerMaintenanceScripts registers the C5/C7 stages referenced by the
// "maintenance" chain (spec.md §4.8's `maintenance = thumbnails -> hashes
// -> search -> cleanup` example, plus telegraph archival which the same
// example folds into the sync chain).
func registerMaintenanceScripts(registry *supervisor.Registry, dedupMgr *dedup.Manager, maintMgr *maintenance.Manager) {
	registry.Register(&supervisor.Script{
		Name: "telegraph",
		Type: supervisor.ScriptMaintenance,
		Run:  maintMgr.RunTelegraphArchival,
	})
	registry.Register(&supervisor.Script{
		Name: "thumbnails",
		Type: supervisor.ScriptMaintenance,
		Run:  maintMgr.RunThumbnails,
	})
	registry.Register(&supervisor.Script{
		Name: "hashes",
		Type: supervisor.ScriptMaintenance,
		Run:  dedupMgr.RunAll,
	})
	registry.Register(&supervisor.Script{
		Name: "search",
		Type: supervisor.ScriptMaintenance,
		Run:  maintMgr.RunSearchIndex,
	})
	registry.Register(&supervisor.Script{
		Name: "cleanup",
		Type: supervisor.ScriptMaintenance,
		Run:  maintMgr.RunRetention,
	})
}

// startMetricsServer exposes the prometheus registry (internal/metrics) over
// HTTP, the one ambient surface this process keeps even though the reader's
// own API is out of scope.
func startMetricsServer(host string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf("%s:9090", host), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
	return srv
}
