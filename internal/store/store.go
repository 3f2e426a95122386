package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/righttechsoft/tgfeed/internal/logging"
)

// Store wraps the SQLite connection and provides typed accessors for every
// table described in spec.md §3/§6.2.
type Store struct {
	conn *sql.DB
	path string

	// channelTableMu serializes per-channel table creation so two sync
	// stages racing to touch the same new channel don't both try to
	// CREATE TABLE at once (spec.md §5 "only one supervisor-run sync
	// stage mutates a given channel's table at a time" — this is the
	// belt-and-suspenders case of a channel appearing for the first time).
	channelTableMu sync.Mutex

	// knownChannelTables caches which channel_<id> tables have already
	// been verified to exist, avoiding a CREATE TABLE IF NOT EXISTS
	// round trip on every single insert.
	knownChannelTables   map[int64]bool
	knownChannelTablesMu sync.RWMutex
}

// Open connects to the SQLite database at path, applies WAL + busy_timeout
// pragmas, and runs schema migration. busyTimeout defaults to 10s when zero.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if busyTimeout <= 0 {
		busyTimeout = 10 * time.Second
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", path, busyTimeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// SQLite's driver does not support true concurrent writers regardless
	// of Go's connection pool; a single writer connection avoids
	// "database is locked" thrash under WAL, matching the teacher's
	// single-writer convention (database_connection.go).
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{conn: conn, path: path, knownChannelTables: make(map[int64]bool)}

	if err := s.migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the on-disk database file path.
func (s *Store) Path() string {
	return s.path
}

// closeRowsWithLog closes rows and logs any error, matching the teacher's
// closeWithLog convention (errors.go) for best-effort cleanup.
func closeRowsWithLog(rows *sql.Rows, context string) {
	if rows == nil {
		return
	}
	if err := rows.Close(); err != nil {
		logging.Warn().Err(err).Str("context", context).Msg("failed to close rows")
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"database is locked", "database is closed", "disk I/O error", "unable to open database file"} {
		if containsSubstring(msg, s) {
			return true
		}
	}
	return false
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
