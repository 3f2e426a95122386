package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/righttechsoft/tgfeed/internal/models"
)

// TagExclusions returns every configured exclusion, used by the dedup
// engine to test a message's normalized tag set for a superset match
// (spec.md §4.5.2).
func (s *Store) TagExclusions(ctx context.Context) ([]models.TagExclusion, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT id, tags, created_at FROM tag_exclusions")
	if err != nil {
		return nil, fmt.Errorf("list tag exclusions: %w", err)
	}
	defer closeRowsWithLog(rows, "TagExclusions")

	var out []models.TagExclusion
	for rows.Next() {
		var e models.TagExclusion
		if err := rows.Scan(&e.ID, &e.Tags, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag exclusion: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddTagExclusion inserts a canonicalized exclusion, ignoring the call if it
// already exists (the `tags` column is UNIQUE).
func (s *Store) AddTagExclusion(ctx context.Context, canonicalTags string) error {
	_, err := s.conn.ExecContext(ctx, "INSERT OR IGNORE INTO tag_exclusions (tags) VALUES (?)", canonicalTags)
	if err != nil {
		return fmt.Errorf("add tag exclusion: %w", err)
	}
	return nil
}

// Channels returns every known channel row.
func (s *Store) Channels(ctx context.Context) ([]*models.Channel, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, access_hash, title, username, photo_id, broadcast, scam,
		verified, restricted, subscribed, active, group_id, download_all, download_photos,
		download_videos, download_documents, backup_path, created_at, updated_at FROM channels`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer closeRowsWithLog(rows, "Channels")

	var out []*models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertChannel creates or updates a discovered channel (spec.md §4.4.1
// "Channels are created on discovery and never deleted").
func (s *Store) UpsertChannel(ctx context.Context, c *models.Channel) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO channels
		(id, access_hash, title, username, photo_id, broadcast, scam, verified, restricted,
		 subscribed, active, group_id, download_all, download_photos, download_videos,
		 download_documents, backup_path, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			access_hash=excluded.access_hash, title=excluded.title, username=excluded.username,
			photo_id=excluded.photo_id, broadcast=excluded.broadcast, scam=excluded.scam,
			verified=excluded.verified, restricted=excluded.restricted,
			subscribed=excluded.subscribed, updated_at=CURRENT_TIMESTAMP`,
		c.ID, c.AccessHash, c.Title, c.Username, c.PhotoID, c.Broadcast, c.Scam, c.Verified,
		c.Restricted, c.Subscribed, c.Active, c.GroupID, c.DownloadAll, c.DownloadPhotos,
		c.DownloadVideos, c.DownloadDocuments, c.BackupPath)
	if err != nil {
		return fmt.Errorf("upsert channel %d: %w", c.ID, err)
	}
	return nil
}

func scanChannel(row rowScanner) (*models.Channel, error) {
	c := &models.Channel{}
	if err := row.Scan(&c.ID, &c.AccessHash, &c.Title, &c.Username, &c.PhotoID, &c.Broadcast,
		&c.Scam, &c.Verified, &c.Restricted, &c.Subscribed, &c.Active, &c.GroupID, &c.DownloadAll,
		&c.DownloadPhotos, &c.DownloadVideos, &c.DownloadDocuments, &c.BackupPath, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	return c, nil
}

// Groups returns every configured group.
func (s *Store) Groups(ctx context.Context) ([]*models.Group, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT id, name, dedup FROM groups")
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer closeRowsWithLog(rows, "Groups")

	var out []*models.Group
	for rows.Next() {
		g := &models.Group{}
		if err := rows.Scan(&g.ID, &g.Name, &g.Dedup); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpsertGroup creates or updates a user-defined group.
func (s *Store) UpsertGroup(ctx context.Context, g *models.Group) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO groups (id, name, dedup) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, dedup=excluded.dedup`, g.ID, g.Name, g.Dedup)
	if err != nil {
		return fmt.Errorf("upsert group %d: %w", g.ID, err)
	}
	return nil
}

// GroupDedupEnabled reports whether groupID has deduplication turned on
// (spec.md §2 "A group's dedup registries are isolated"; dedup itself is
// opt-in per group).
func (s *Store) GroupDedupEnabled(ctx context.Context, groupID int64) (bool, error) {
	var dedup bool
	err := s.conn.QueryRowContext(ctx, "SELECT dedup FROM groups WHERE id = ?", groupID).Scan(&dedup)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup flag for group %d: %w", groupID, err)
	}
	return dedup, nil
}

// Credentials returns every configured upstream credential.
func (s *Store) Credentials(ctx context.Context) ([]models.Credential, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT id, api_id, api_hash, phone, is_primary FROM tg_creds")
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer closeRowsWithLog(rows, "Credentials")

	var out []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ID, &c.APIID, &c.APIHash, &c.Phone, &c.Primary); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceCredentials atomically replaces the tg_creds table's contents,
// used at startup to sync the credentials file into the database of
// record.
func (s *Store) ReplaceCredentials(ctx context.Context, creds []models.Credential) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin credential replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tg_creds"); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	for _, c := range creds {
		if _, err := tx.ExecContext(ctx, "INSERT INTO tg_creds (id, api_id, api_hash, phone, is_primary) VALUES (?,?,?,?,?)",
			c.ID, c.APIID, c.APIHash, c.Phone, c.Primary); err != nil {
			return fmt.Errorf("insert credential %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}
