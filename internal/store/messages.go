package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/righttechsoft/tgfeed/internal/models"
)

const messageColumns = `id, date, text, entities, out, mentioned, silent, post, from_id, fwd_from_id,
	fwd_from_name, fwd_date, reply_to_msg_id, media_type, media_path, video_thumbnail_path,
	view_count, forward_count, reply_count, grouped_id, read, read_at, read_in_tg, rating,
	bookmarked, anchored, hidden, ai_summary, content_hash, content_hash_pending, media_hash,
	media_hash_pending, duplicate_of_channel, duplicate_of_message, html_downloaded,
	media_pending, created_at`

// UpsertMessage inserts msg into its channel's table, creating the table if
// this is the first message ever seen for that channel, and replaces an
// existing row with the same id (spec.md §4.2 "forward sync re-fetches and
// overwrites edited messages").
func (s *Store) UpsertMessage(ctx context.Context, msg *models.Message) error {
	if err := s.ensureChannelTable(ctx, msg.ChannelID); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			date=excluded.date, text=excluded.text, entities=excluded.entities, out=excluded.out,
			mentioned=excluded.mentioned, silent=excluded.silent, post=excluded.post,
			from_id=excluded.from_id, fwd_from_id=excluded.fwd_from_id, fwd_from_name=excluded.fwd_from_name,
			fwd_date=excluded.fwd_date, reply_to_msg_id=excluded.reply_to_msg_id, media_type=excluded.media_type,
			media_path=excluded.media_path, video_thumbnail_path=excluded.video_thumbnail_path,
			view_count=excluded.view_count, forward_count=excluded.forward_count, reply_count=excluded.reply_count,
			grouped_id=excluded.grouped_id, read_in_tg=excluded.read_in_tg`,
		channelTableName(msg.ChannelID), messageColumns)

	_, err := s.conn.ExecContext(ctx, stmt,
		msg.ID, msg.Date, msg.Text, msg.Entities, msg.Out, msg.Mentioned, msg.Silent, msg.Post,
		msg.FromID, msg.FwdFromID, msg.FwdFromName, msg.FwdDate, msg.ReplyToMsgID,
		string(msg.MediaType), msg.MediaPath, msg.VideoThumbnailPath, msg.ViewCount, msg.ForwardCount,
		msg.ReplyCount, msg.GroupedID, msg.Read, msg.ReadAt, msg.ReadInTG, msg.Rating,
		msg.Bookmarked, msg.Anchored, msg.Hidden, msg.AISummary, msg.ContentHash, msg.ContentHashPending,
		msg.MediaHash, msg.MediaHashPending, msg.DuplicateOfChannel, msg.DuplicateOfMessage,
		msg.HTMLDownloaded, msg.MediaPending, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert message %d/%d: %w", msg.ChannelID, msg.ID, err)
	}

	if _, err := s.conn.ExecContext(ctx,
		`INSERT INTO messages_fts (channel_id, message_id, message) VALUES (?, ?, ?)`,
		msg.ChannelID, msg.ID, msg.Text); err != nil {
		return fmt.Errorf("index message %d/%d for search: %w", msg.ChannelID, msg.ID, err)
	}

	return nil
}

// GetMessage fetches a single message by channel and id. It returns
// (nil, nil) if no such row exists.
func (s *Store) GetMessage(ctx context.Context, channelID, messageID int64) (*models.Message, error) {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", messageColumns, channelTableName(channelID))
	row := s.conn.QueryRowContext(ctx, stmt, messageID)
	msg, err := scanMessage(row, channelID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d/%d: %w", channelID, messageID, err)
	}
	return msg, nil
}

// ChannelOldestMessageID returns the smallest message id stored for channel,
// the low-water mark historical backfill walks downward from (spec.md §4.3).
func (s *Store) ChannelOldestMessageID(ctx context.Context, channelID int64) (int64, bool, error) {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return 0, false, err
	}
	var id sql.NullInt64
	stmt := fmt.Sprintf("SELECT MIN(id) FROM %s", channelTableName(channelID))
	if err := s.conn.QueryRowContext(ctx, stmt).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("oldest message id for channel %d: %w", channelID, err)
	}
	if !id.Valid {
		return 0, false, nil
	}
	return id.Int64, true, nil
}

// ChannelMessagesNewerThan returns messages in channel strictly newer than
// afterID, ordered ascending, used by forward sync to catch up from a
// checkpoint (spec.md §4.2).
func (s *Store) ChannelMessagesNewerThan(ctx context.Context, channelID, afterID int64, limit int) ([]*models.Message, error) {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE id > ? ORDER BY id ASC LIMIT ?", messageColumns, channelTableName(channelID))
	rows, err := s.conn.QueryContext(ctx, stmt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages newer than %d in channel %d: %w", afterID, channelID, err)
	}
	defer closeRowsWithLog(rows, "ChannelMessagesNewerThan")
	return scanMessages(rows, channelID)
}

// MarkRead sets read=1, read_at=now on a message, and optionally read_in_tg
// when the acknowledgement was echoed back upstream (spec.md §4.5).
func (s *Store) MarkRead(ctx context.Context, channelID, messageID int64, readAt time.Time, readInTG bool) error {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET read = 1, read_at = ?, read_in_tg = ? WHERE id = ?", channelTableName(channelID))
	_, err := s.conn.ExecContext(ctx, stmt, readAt, readInTG, messageID)
	if err != nil {
		return fmt.Errorf("mark read %d/%d: %w", channelID, messageID, err)
	}
	return nil
}

// MediaHashStamp carries the media-hash pass's per-message writeback
// (spec.md §4.5.1 step 4): the computed hash, the pending marker, and,
// when the registry found an existing owner, the duplicate pointer.
type MediaHashStamp struct {
	MediaHash          *string
	MediaHashPending   models.HashPending
	DuplicateOfChannel *int64
	DuplicateOfMessage *int64
}

// ApplyMediaHashStamp writes a MediaHashStamp onto one message row, leaving
// every content-hash/text-pass column untouched so the two passes never
// clobber each other's writes (spec.md §4.5 "Order matters").
func (s *Store) ApplyMediaHashStamp(ctx context.Context, channelID, messageID int64, stamp MediaHashStamp) error {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`UPDATE %s SET media_hash = ?, media_hash_pending = ?,
		duplicate_of_channel = ?, duplicate_of_message = ? WHERE id = ?`, channelTableName(channelID))
	_, err := s.conn.ExecContext(ctx, stmt,
		stamp.MediaHash, stamp.MediaHashPending, stamp.DuplicateOfChannel, stamp.DuplicateOfMessage, messageID)
	if err != nil {
		return fmt.Errorf("apply media hash stamp %d/%d: %w", channelID, messageID, err)
	}
	return nil
}

// ContentHashStamp carries the text-hash pass's per-message writeback
// (spec.md §4.5.2 steps 3-6): the AI summary, the computed hash and its
// pending marker, an optional duplicate pointer, and an optional
// tag-exclusion auto-read stamp.
type ContentHashStamp struct {
	AISummary          *string
	ContentHash        *string
	ContentHashPending models.HashPending
	DuplicateOfChannel *int64
	DuplicateOfMessage *int64
	MarkRead           bool
	ReadAt             *time.Time
}

// ApplyContentHashStamp writes a ContentHashStamp onto one message row,
// touching only the text-pass columns.
func (s *Store) ApplyContentHashStamp(ctx context.Context, channelID, messageID int64, stamp ContentHashStamp) error {
	if err := s.ensureChannelTable(ctx, channelID); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`UPDATE %s SET ai_summary = ?, content_hash = ?, content_hash_pending = ?,
		duplicate_of_channel = ?, duplicate_of_message = ?,
		read = CASE WHEN ? THEN 1 ELSE read END, read_at = CASE WHEN ? THEN ? ELSE read_at END
		WHERE id = ?`, channelTableName(channelID))
	_, err := s.conn.ExecContext(ctx, stmt,
		stamp.AISummary, stamp.ContentHash, stamp.ContentHashPending,
		stamp.DuplicateOfChannel, stamp.DuplicateOfMessage,
		stamp.MarkRead, stamp.MarkRead, stamp.ReadAt, messageID)
	if err != nil {
		return fmt.Errorf("apply content hash stamp %d/%d: %w", channelID, messageID, err)
	}
	return nil
}

// UnreadByGroup returns unread, non-hidden, non-duplicate messages across
// every channel in group, album-regrouped (spec.md §4.1.1) with the
// keep-oldest trim policy and duplicate-variant expanded (spec.md §4.1.2),
// newest first, implementing the "unread by group" query contract of C9.
func (s *Store) UnreadByGroup(ctx context.Context, groupID int64, limit int) ([]*models.Album, error) {
	msgs, err := s.unreadMessagesByGroup(ctx, groupID, limit)
	if err != nil {
		return nil, err
	}
	albums := RegroupAlbums(msgs, KeepOldest)
	return s.ExpandDuplicateVariants(ctx, albums, groupID)
}

// UnreadMessagesByGroup returns the same rows UnreadByGroup draws from
// before album regrouping. The media-hash and text-hash passes (C5) need
// per-message hash/pending state rather than the reader's consolidated
// album view, so they call this instead of UnreadByGroup.
func (s *Store) UnreadMessagesByGroup(ctx context.Context, groupID int64, limit int) ([]*models.Message, error) {
	return s.unreadMessagesByGroup(ctx, groupID, limit)
}

func (s *Store) unreadMessagesByGroup(ctx context.Context, groupID int64, limit int) ([]*models.Message, error) {
	channelIDs, err := s.channelIDsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.unionQuery(ctx, channelIDs, "read = 0 AND hidden = 0 AND duplicate_of_message IS NULL", "date DESC", limit)
}

// EarlierByGroup returns unread, non-hidden, non-duplicate messages across
// every channel in group with a date strictly before beforeDate,
// album-regrouped with the keep-newest trim policy and duplicate-variant
// expanded, then re-sorted ascending for display — pagination support for
// the unread-by-group feed (spec.md §4.1 "Earlier by group").
func (s *Store) EarlierByGroup(ctx context.Context, groupID int64, beforeDate time.Time, limit int) ([]*models.Album, error) {
	channelIDs, err := s.channelIDsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.unionQueryArgs(ctx, channelIDs,
		"read = 0 AND hidden = 0 AND duplicate_of_message IS NULL AND date < ?", []interface{}{beforeDate},
		"date DESC", limit)
	if err != nil {
		return nil, err
	}
	albums := RegroupAlbums(msgs, KeepNewest)
	albums, err = s.ExpandDuplicateVariants(ctx, albums, groupID)
	if err != nil {
		return nil, err
	}
	sortAlbumsByDateAsc(albums)
	return albums, nil
}

// BookmarksByGroup returns bookmarked, non-hidden messages across every
// channel in group, album-regrouped and duplicate-variant expanded with
// newest-first order preserved (spec.md §4.1 "Bookmarks").
func (s *Store) BookmarksByGroup(ctx context.Context, groupID int64, limit int) ([]*models.Album, error) {
	channelIDs, err := s.channelIDsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.unionQuery(ctx, channelIDs, "bookmarked = 1 AND hidden = 0", "date DESC", limit)
	if err != nil {
		return nil, err
	}
	albums := RegroupAlbums(msgs, KeepNewest)
	return s.ExpandDuplicateVariants(ctx, albums, groupID)
}

// UnreadCountByGroup returns the number of albums UnreadByGroup would
// display for group, run unlimited through the same album-regroup and
// duplicate-expand pipeline as the feed so the displayed count always
// matches the displayed length (spec.md §4.1 "Unread counts per group").
func (s *Store) UnreadCountByGroup(ctx context.Context, groupID int64) (int, error) {
	albums, err := s.UnreadByGroup(ctx, groupID, 0)
	if err != nil {
		return 0, err
	}
	return len(albums), nil
}

// GroupTagCounts returns a histogram of AI-summary tags over every unread,
// non-hidden message across group's channels (spec.md §4.1 "Group tag
// counts"). ai_summary is stored as a comma-joined canonical tag list
// (spec.md §4.5.2); this walks it the same way the dedup engine's
// normalizer produces it.
func (s *Store) GroupTagCounts(ctx context.Context, groupID int64) (map[string]int, error) {
	channelIDs, err := s.channelIDsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, cid := range channelIDs {
		if err := s.ensureChannelTable(ctx, cid); err != nil {
			return nil, err
		}
		stmt := fmt.Sprintf("SELECT ai_summary FROM %s WHERE read = 0 AND hidden = 0 AND ai_summary IS NOT NULL AND ai_summary != ''", channelTableName(cid))
		rows, err := s.conn.QueryContext(ctx, stmt)
		if err != nil {
			return nil, fmt.Errorf("tag counts for channel %d: %w", cid, err)
		}
		for rows.Next() {
			var tags string
			if err := rows.Scan(&tags); err != nil {
				closeRowsWithLog(rows, "GroupTagCounts")
				return nil, fmt.Errorf("scan ai_summary: %w", err)
			}
			for _, tag := range splitCanonicalTags(tags) {
				counts[tag]++
			}
		}
		closeErr := rows.Err()
		closeRowsWithLog(rows, "GroupTagCounts")
		if closeErr != nil {
			return nil, closeErr
		}
	}
	return counts, nil
}

// SearchMessages runs a trigram full-text query against messages_fts scoped
// to group's channels, returning the best-ranked limit hits newest first
// (spec.md §4.1's SearchIndex and C9's
// "search"). The FTS table only carries channel_id/message_id/message, so
// each hit is re-fetched from its channel table for the full row; a hit
// whose row has since been deleted (retention phase B) is skipped rather
// than surfaced as an error.
func (s *Store) SearchMessages(ctx context.Context, groupID int64, query string, limit int) ([]*models.Message, error) {
	channelIDs, err := s.channelIDsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(channelIDs) == 0 || query == "" {
		return nil, nil
	}

	placeholders := make([]string, len(channelIDs))
	args := make([]interface{}, 0, len(channelIDs)+2)
	args = append(args, query)
	for i, cid := range channelIDs {
		placeholders[i] = "?"
		args = append(args, cid)
	}
	args = append(args, limit)

	stmt := fmt.Sprintf(
		`SELECT channel_id, message_id FROM messages_fts
		 WHERE messages_fts MATCH ? AND channel_id IN (%s)
		 ORDER BY rank LIMIT ?`,
		strings.Join(placeholders, ","),
	)
	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	type hit struct{ channelID, messageID int64 }
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.channelID, &h.messageID); err != nil {
			closeRowsWithLog(rows, "SearchMessages")
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	scanErr := rows.Err()
	closeRowsWithLog(rows, "SearchMessages")
	if scanErr != nil {
		return nil, scanErr
	}

	var out []*models.Message
	for _, h := range hits {
		msg, err := s.GetMessage(ctx, h.channelID, h.messageID)
		if err != nil {
			return nil, fmt.Errorf("load search hit channel %d message %d: %w", h.channelID, h.messageID, err)
		}
		if msg == nil {
			continue
		}
		out = append(out, msg)
	}
	sortMessagesByDateDesc(out)
	return out, nil
}

func splitCanonicalTags(tags string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(tags); i++ {
		if i == len(tags) || tags[i] == ',' {
			if i > start {
				out = append(out, tags[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func (s *Store) unionQuery(ctx context.Context, channelIDs []int64, where, orderBy string, limit int) ([]*models.Message, error) {
	return s.unionQueryArgs(ctx, channelIDs, where, nil, orderBy, limit)
}

// unionQueryArgs runs the same predicate against every channel table and
// merges results in Go, since SQLite has no cross-table UNION over
// dynamically named tables without building the statement per call. A
// non-positive limit means unlimited, since "LIMIT 0" in SQLite returns no
// rows at all.
func (s *Store) unionQueryArgs(ctx context.Context, channelIDs []int64, where string, whereArgs []interface{}, orderBy string, limit int) ([]*models.Message, error) {
	var all []*models.Message
	for _, cid := range channelIDs {
		if err := s.ensureChannelTable(ctx, cid); err != nil {
			return nil, err
		}
		perTableLimit := limit
		if perTableLimit <= 0 {
			perTableLimit = -1
		}
		stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT ?", messageColumns, channelTableName(cid), where, orderBy)
		args := append(append([]interface{}{}, whereArgs...), perTableLimit)
		rows, err := s.conn.QueryContext(ctx, stmt, args...)
		if err != nil {
			return nil, fmt.Errorf("query channel %d: %w", cid, err)
		}
		msgs, err := scanMessages(rows, cid)
		closeRowsWithLog(rows, "unionQueryArgs")
		if err != nil {
			return nil, err
		}
		all = append(all, msgs...)
	}

	sortMessagesByDateDesc(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func sortMessagesByDateDesc(msgs []*models.Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].Date.After(msgs[j-1].Date); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

// sortAlbumsByDateAsc re-sorts albums oldest-first in place, used by
// EarlierByGroup to flip RegroupAlbums' newest-first default for display
// (spec.md §4.1 "re-sorted ascending for display").
func sortAlbumsByDateAsc(albums []*models.Album) {
	for i := 1; i < len(albums); i++ {
		for j := i; j > 0 && albums[j].Date < albums[j-1].Date; j-- {
			albums[j], albums[j-1] = albums[j-1], albums[j]
		}
	}
}

func (s *Store) channelIDsInGroup(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT id FROM channels WHERE group_id = ? AND active = 1", groupID)
	if err != nil {
		return nil, fmt.Errorf("channels in group %d: %w", groupID, err)
	}
	defer closeRowsWithLog(rows, "channelIDsInGroup")

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan channel id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner, channelID int64) (*models.Message, error) {
	m := &models.Message{ChannelID: channelID}
	var mediaType string
	if err := row.Scan(
		&m.ID, &m.Date, &m.Text, &m.Entities, &m.Out, &m.Mentioned, &m.Silent, &m.Post,
		&m.FromID, &m.FwdFromID, &m.FwdFromName, &m.FwdDate, &m.ReplyToMsgID,
		&mediaType, &m.MediaPath, &m.VideoThumbnailPath, &m.ViewCount, &m.ForwardCount,
		&m.ReplyCount, &m.GroupedID, &m.Read, &m.ReadAt, &m.ReadInTG, &m.Rating,
		&m.Bookmarked, &m.Anchored, &m.Hidden, &m.AISummary, &m.ContentHash, &m.ContentHashPending,
		&m.MediaHash, &m.MediaHashPending, &m.DuplicateOfChannel, &m.DuplicateOfMessage,
		&m.HTMLDownloaded, &m.MediaPending, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	m.MediaType = models.MediaType(mediaType)
	return m, nil
}

func scanMessages(rows *sql.Rows, channelID int64) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows, channelID)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
