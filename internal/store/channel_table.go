package store

import (
	"context"
	"fmt"
)

// ensureChannelTable creates channel_<id> and its backup-hash sibling if
// they do not yet exist, and brings an existing table's columns/indexes up
// to date. It is called on every write path that might be the first to
// touch a newly-discovered channel (spec.md §4.1, §5).
func (s *Store) ensureChannelTable(ctx context.Context, channelID int64) error {
	s.knownChannelTablesMu.RLock()
	known := s.knownChannelTables[channelID]
	s.knownChannelTablesMu.RUnlock()
	if known {
		return nil
	}

	s.channelTableMu.Lock()
	defer s.channelTableMu.Unlock()

	// Re-check after acquiring the lock: another goroutine may have just
	// finished creating this table while we were waiting.
	s.knownChannelTablesMu.RLock()
	known = s.knownChannelTables[channelID]
	s.knownChannelTablesMu.RUnlock()
	if known {
		return nil
	}

	if _, err := s.conn.ExecContext(ctx, channelTableDDL(channelID)); err != nil {
		return fmt.Errorf("create channel table for %d: %w", channelID, err)
	}
	if _, err := s.conn.ExecContext(ctx, backupHashTableDDL(channelID)); err != nil {
		return fmt.Errorf("create backup hash table for %d: %w", channelID, err)
	}

	for _, col := range channelOptionalColumns() {
		if err := s.ensureColumn(ctx, channelTableName(channelID), col.name, col.ddlClause); err != nil {
			return err
		}
	}
	for _, idx := range channelIndexSpecs(channelID) {
		if err := s.ensureIndex(ctx, idx); err != nil {
			return err
		}
	}

	s.knownChannelTablesMu.Lock()
	s.knownChannelTables[channelID] = true
	s.knownChannelTablesMu.Unlock()
	return nil
}

type optionalColumn struct {
	name      string
	ddlClause string
}

// channelOptionalColumns lists columns that may be missing on a channel
// table created by an older schema version. channelTableDDL already
// includes all of these for brand new tables; ensureColumn is a no-op in
// that case and only does real work against a table created before the
// column existed.
func channelOptionalColumns() []optionalColumn {
	return []optionalColumn{
		{"duplicate_of_channel", "INTEGER"},
		{"duplicate_of_message", "INTEGER"},
		{"html_downloaded", "INTEGER NOT NULL DEFAULT 0"},
		{"media_pending", "INTEGER NOT NULL DEFAULT 0"},
		{"bookmarked", "INTEGER NOT NULL DEFAULT 0"},
		{"anchored", "INTEGER NOT NULL DEFAULT 0"},
		{"hidden", "INTEGER NOT NULL DEFAULT 0"},
		{"video_thumbnail_path", "TEXT"},
	}
}
