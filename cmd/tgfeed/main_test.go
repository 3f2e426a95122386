package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/righttechsoft/tgfeed/internal/config"
	"github.com/righttechsoft/tgfeed/internal/dedup"
	"github.com/righttechsoft/tgfeed/internal/maintenance"
	"github.com/righttechsoft/tgfeed/internal/store"
	"github.com/righttechsoft/tgfeed/internal/sync"
	"github.com/righttechsoft/tgfeed/internal/supervisor"
)

// testStoreSemaphore bounds concurrent CGO sqlite3 database creation,
// mirroring the same pattern in internal/sync and internal/maintenance tests.
var testStoreSemaphore = make(chan struct{}, 4)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	testStoreSemaphore <- struct{}{}
	t.Cleanup(func() { <-testStoreSemaphore })

	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path, time.Second)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRegisterSyncScriptsRegistersExpectedStagesWithDaemonDependency(t *testing.T) {
	st := setupTestStore(t)
	syncMgr := sync.NewManager(st, nil, nil, config.SyncConfig{}, t.TempDir(), "")

	registry := supervisor.NewRegistry()
	registerSyncScripts(registry, syncMgr)

	for _, name := range []string{"read-sync", "channels", "messages"} {
		script, ok := registry.Get(name)
		if !ok {
			t.Fatalf("expected script %q to be registered", name)
		}
		if len(script.Dependencies) != 1 || script.Dependencies[0] != sessionDaemonScriptName {
			t.Errorf("script %q: expected dependency on %q, got %v", name, sessionDaemonScriptName, script.Dependencies)
		}
		if script.Type != supervisor.ScriptSync {
			t.Errorf("script %q: expected ScriptSync, got %v", name, script.Type)
		}
	}
}

func TestRegisterMaintenanceScriptsRegistersExpectedStages(t *testing.T) {
	st := setupTestStore(t)
	dedupMgr := dedup.NewManager(st, nil, config.DedupConfig{}, t.TempDir())
	maintMgr := maintenance.NewManager(st, config.MaintenanceConfig{}, t.TempDir(), t.TempDir(), nil, nil)

	registry := supervisor.NewRegistry()
	registerMaintenanceScripts(registry, dedupMgr, maintMgr)

	for _, name := range []string{"telegraph", "thumbnails", "hashes", "search", "cleanup"} {
		script, ok := registry.Get(name)
		if !ok {
			t.Fatalf("expected script %q to be registered", name)
		}
		if script.Type != supervisor.ScriptMaintenance {
			t.Errorf("script %q: expected ScriptMaintenance, got %v", name, script.Type)
		}
		if len(script.Dependencies) != 0 {
			t.Errorf("script %q: expected no dependencies, got %v", name, script.Dependencies)
		}
	}
}
