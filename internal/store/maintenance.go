package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/righttechsoft/tgfeed/internal/models"
)

// VideosNeedingThumbnail returns the newest limit video/animation messages in
// channelID with no thumbnail yet, the thumbnail generator's work queue
// (spec.md §4.7 "pick the newest N videos with video_thumbnail_path IS NULL").
func (s *Store) VideosNeedingThumbnail(ctx context.Context, channelID int64, limit int) ([]*models.Message, error) {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`SELECT %s FROM %s
		WHERE media_type IN ('video', 'animation') AND video_thumbnail_path IS NULL
		ORDER BY id DESC LIMIT ?`, messageColumns, channelTableName(channelID))
	rows, err := s.conn.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, fmt.Errorf("videos needing thumbnail in channel %d: %w", channelID, err)
	}
	defer closeRowsWithLog(rows, "VideosNeedingThumbnail")
	return scanMessages(rows, channelID)
}

// SetVideoThumbnailPath records the generated thumbnail's relative path.
func (s *Store) SetVideoThumbnailPath(ctx context.Context, channelID, messageID int64, path string) error {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET video_thumbnail_path = ? WHERE id = ?", channelTableName(channelID))
	if _, err := s.conn.ExecContext(ctx, stmt, path, messageID); err != nil {
		return fmt.Errorf("set video thumbnail path %d/%d: %w", channelID, messageID, err)
	}
	return nil
}

// TelegraphCandidates returns not-yet-archived messages whose text or
// entities mention telegra.ph, the telegraph archiver's work queue
// (spec.md §4.7 "messages with html_downloaded!=1 that reference
// telegra.ph URLs"). The LIKE filter is a cheap pre-filter; the caller still
// parses text/entities to find the actual URLs.
func (s *Store) TelegraphCandidates(ctx context.Context, channelID int64, limit int) ([]*models.Message, error) {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`SELECT %s FROM %s
		WHERE html_downloaded = 0 AND (text LIKE '%%telegra.ph%%' OR entities LIKE '%%telegra.ph%%')
		ORDER BY id ASC LIMIT ?`, messageColumns, channelTableName(channelID))
	rows, err := s.conn.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, fmt.Errorf("telegraph candidates in channel %d: %w", channelID, err)
	}
	defer closeRowsWithLog(rows, "TelegraphCandidates")
	return scanMessages(rows, channelID)
}

// SetHTMLDownloaded marks a message as having had every telegra.ph URL in it
// successfully archived (spec.md §4.7 "Mark the message only if all URLs
// succeeded").
func (s *Store) SetHTMLDownloaded(ctx context.Context, channelID, messageID int64) error {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET html_downloaded = 1 WHERE id = ?", channelTableName(channelID))
	if _, err := s.conn.ExecContext(ctx, stmt, messageID); err != nil {
		return fmt.Errorf("set html_downloaded %d/%d: %w", channelID, messageID, err)
	}
	return nil
}

// RetentionCandidate is a row surfaced by the retention sweeps, carrying
// enough of the message to let the caller clean up on-disk files before
// touching the database (spec.md §4.7 "Retention cleanup").
type RetentionCandidate struct {
	MessageID          int64
	MediaPath          *string
	VideoThumbnailPath *string
}

// RetentionPhaseACandidates returns non-bookmarked messages in channelID,
// excluding the latest row, with media older than cutoff (by read_at falling
// back to created_at) that still have a media_path to clear (spec.md §4.7
// Phase A).
func (s *Store) RetentionPhaseACandidates(ctx context.Context, channelID int64, cutoff time.Time) ([]RetentionCandidate, error) {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return nil, err
	}
	table := channelTableName(channelID)
	stmt := fmt.Sprintf(`SELECT id, media_path, video_thumbnail_path FROM %s
		WHERE bookmarked = 0 AND media_path IS NOT NULL
		AND id != (SELECT MAX(id) FROM %s)
		AND COALESCE(read_at, created_at) < ?`, table, table)
	return s.retentionQuery(ctx, channelID, stmt, cutoff)
}

// RetentionPhaseBCandidates returns non-bookmarked messages in channelID,
// excluding the latest row, older than cutoff, eligible for full row
// deletion (spec.md §4.7 Phase B).
func (s *Store) RetentionPhaseBCandidates(ctx context.Context, channelID int64, cutoff time.Time) ([]RetentionCandidate, error) {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return nil, err
	}
	table := channelTableName(channelID)
	stmt := fmt.Sprintf(`SELECT id, media_path, video_thumbnail_path FROM %s
		WHERE bookmarked = 0
		AND id != (SELECT MAX(id) FROM %s)
		AND COALESCE(read_at, created_at) < ?`, table, table)
	return s.retentionQuery(ctx, channelID, stmt, cutoff)
}

func (s *Store) retentionQuery(ctx context.Context, channelID int64, stmt string, cutoff time.Time) ([]RetentionCandidate, error) {
	rows, err := s.conn.QueryContext(ctx, stmt, cutoff)
	if err != nil {
		return nil, fmt.Errorf("retention candidates in channel %d: %w", channelID, err)
	}
	defer closeRowsWithLog(rows, "retentionQuery")

	var out []RetentionCandidate
	for rows.Next() {
		var c RetentionCandidate
		if err := rows.Scan(&c.MessageID, &c.MediaPath, &c.VideoThumbnailPath); err != nil {
			return nil, fmt.Errorf("scan retention candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClearMessageMedia nulls media_path and video_thumbnail_path, leaving the
// row itself in place (spec.md §4.7 Phase A).
func (s *Store) ClearMessageMedia(ctx context.Context, channelID, messageID int64) error {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET media_path = NULL, video_thumbnail_path = NULL WHERE id = ?", channelTableName(channelID))
	if _, err := s.conn.ExecContext(ctx, stmt, messageID); err != nil {
		return fmt.Errorf("clear media %d/%d: %w", channelID, messageID, err)
	}
	return nil
}

// DeleteMessage removes a message row and its FTS entry (spec.md §4.7
// Phase B "delete the row ... remove from FTS").
func (s *Store) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete message %d/%d: %w", channelID, messageID, err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = ?", channelTableName(channelID))
	if _, err := tx.ExecContext(ctx, stmt, messageID); err != nil {
		return fmt.Errorf("delete message row %d/%d: %w", channelID, messageID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages_fts WHERE channel_id = ? AND message_id = ?", channelID, messageID); err != nil {
		return fmt.Errorf("delete message fts row %d/%d: %w", channelID, messageID, err)
	}
	return tx.Commit()
}

// AllMessageIDs returns every message id stored for channelID, the "db.messages"
// side of the search indexer's set-difference (spec.md §4.7 "Search indexer").
func (s *Store) AllMessageIDs(ctx context.Context, channelID int64) ([]int64, error) {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT id FROM %s", channelTableName(channelID))
	rows, err := s.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("all message ids in channel %d: %w", channelID, err)
	}
	defer closeRowsWithLog(rows, "AllMessageIDs")
	return scanInt64s(rows)
}

// IndexedMessageIDs returns every message id already present in
// messages_fts for channelID, the "fts.messages" side of the set-difference.
func (s *Store) IndexedMessageIDs(ctx context.Context, channelID int64) ([]int64, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT message_id FROM messages_fts WHERE channel_id = ?", channelID)
	if err != nil {
		return nil, fmt.Errorf("indexed message ids for channel %d: %w", channelID, err)
	}
	defer closeRowsWithLog(rows, "IndexedMessageIDs")
	return scanInt64s(rows)
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FTSIndexMessages batch-inserts ids' (channel_id, message_id, text) triples
// into messages_fts, used to index the db∖fts diff the search indexer
// computes (spec.md §4.7 "batch-insert the diff, batch size 500").
func (s *Store) FTSIndexMessages(ctx context.Context, channelID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return err
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, channelID)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	stmt := fmt.Sprintf(`INSERT INTO messages_fts (channel_id, message_id, message)
		SELECT ?, id, text FROM %s WHERE id IN (%s)`, channelTableName(channelID), strings.Join(placeholders, ","))
	if _, err := s.conn.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("fts index batch in channel %d: %w", channelID, err)
	}
	return nil
}

// FTSOptimize runs fts5's optimize command, merging the index's internal
// b-tree segments (spec.md §4.7 "--optimize invokes the index's optimize
// command").
func (s *Store) FTSOptimize(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "INSERT INTO messages_fts(messages_fts) VALUES('optimize')"); err != nil {
		return fmt.Errorf("fts optimize: %w", err)
	}
	return nil
}

// FTSRebuild drops and recreates the messages_fts virtual table empty; the
// caller is expected to re-run the search indexer afterward to repopulate it
// (spec.md §4.7 "--rebuild drops and recreates the virtual table").
func (s *Store) FTSRebuild(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS messages_fts"); err != nil {
		return fmt.Errorf("drop messages_fts: %w", err)
	}
	return s.createFTS(ctx)
}
