package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/righttechsoft/tgfeed/internal/models"
)

// BackupIndexEntry looks up a channel's recorded size/hash for filePath, or
// returns nil if the path has never been indexed (spec.md §4.6).
func (s *Store) BackupIndexEntry(ctx context.Context, channelID int64, filePath string) (*models.BackupIndexEntry, error) {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT file_path, file_size, hash FROM %s WHERE file_path = ?", backupHashTableName(channelID))
	row := s.conn.QueryRowContext(ctx, stmt, filePath)
	var e models.BackupIndexEntry
	var hash sql.NullString
	if err := row.Scan(&e.FilePath, &e.FileSize, &hash); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("backup index entry %d/%s: %w", channelID, filePath, err)
	}
	e.Hash = hash.String
	return &e, nil
}

// UpsertBackupIndexEntry records or updates a file's size/hash, used both
// on initial indexing and when a rescan detects the file's size changed
// (spec.md §4.6 "incremental rescan-on-size-change").
func (s *Store) UpsertBackupIndexEntry(ctx context.Context, channelID int64, e models.BackupIndexEntry) error {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (file_path, file_size, hash) VALUES (?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET file_size=excluded.file_size, hash=excluded.hash`,
		backupHashTableName(channelID))
	var hash interface{}
	if e.Hash != "" {
		hash = e.Hash
	}
	if _, err := s.conn.ExecContext(ctx, stmt, e.FilePath, e.FileSize, hash); err != nil {
		return fmt.Errorf("upsert backup index entry %d/%s: %w", channelID, e.FilePath, err)
	}
	return nil
}

// BackupIndexEntriesByHash returns every indexed entry under channelID
// sharing hash, used to find a reuse candidate for a freshly-downloaded
// file before writing a new copy to disk.
func (s *Store) BackupIndexEntriesByHash(ctx context.Context, channelID int64, hash string) ([]models.BackupIndexEntry, error) {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT file_path, file_size, hash FROM %s WHERE hash = ?", backupHashTableName(channelID))
	rows, err := s.conn.QueryContext(ctx, stmt, hash)
	if err != nil {
		return nil, fmt.Errorf("backup index entries by hash in channel %d: %w", channelID, err)
	}
	defer closeRowsWithLog(rows, "BackupIndexEntriesByHash")

	var out []models.BackupIndexEntry
	for rows.Next() {
		var e models.BackupIndexEntry
		var h sql.NullString
		if err := rows.Scan(&e.FilePath, &e.FileSize, &h); err != nil {
			return nil, fmt.Errorf("scan backup index entry: %w", err)
		}
		e.Hash = h.String
		out = append(out, e)
	}
	return out, rows.Err()
}
