package store

import "fmt"

const globalSchema = `
CREATE TABLE IF NOT EXISTS channels (
	id                 INTEGER PRIMARY KEY,
	access_hash        INTEGER NOT NULL DEFAULT 0,
	title              TEXT NOT NULL DEFAULT '',
	username           TEXT NOT NULL DEFAULT '',
	photo_id           INTEGER NOT NULL DEFAULT 0,
	broadcast          INTEGER NOT NULL DEFAULT 0,
	scam               INTEGER NOT NULL DEFAULT 0,
	verified           INTEGER NOT NULL DEFAULT 0,
	restricted         INTEGER NOT NULL DEFAULT 0,
	subscribed         INTEGER NOT NULL DEFAULT 1,
	active             INTEGER NOT NULL DEFAULT 1,
	group_id           INTEGER,
	download_all       INTEGER NOT NULL DEFAULT 0,
	download_photos    INTEGER,
	download_videos    INTEGER,
	download_documents INTEGER,
	backup_path        TEXT,
	created_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS groups (
	id    INTEGER PRIMARY KEY,
	name  TEXT NOT NULL,
	dedup INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tg_creds (
	id         INTEGER PRIMARY KEY,
	api_id     INTEGER NOT NULL,
	api_hash   TEXT NOT NULL,
	phone      TEXT NOT NULL,
	is_primary INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tag_exclusions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	tags       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS content_hashes (
	hash         TEXT NOT NULL,
	group_id     INTEGER NOT NULL,
	channel_id   INTEGER NOT NULL,
	message_id   INTEGER NOT NULL,
	message_date TIMESTAMP NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (hash, group_id)
);

CREATE TABLE IF NOT EXISTS media_hashes (
	hash         TEXT NOT NULL,
	group_id     INTEGER NOT NULL,
	channel_id   INTEGER NOT NULL,
	message_id   INTEGER NOT NULL,
	message_date TIMESTAMP NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (hash, group_id)
);
`

// channelTableDDL returns the CREATE TABLE statement for a single channel's
// message table (spec.md §3 Message, §6.2).
func channelTableDDL(channelID int64) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS channel_%d (
	id                   INTEGER PRIMARY KEY,
	date                 TIMESTAMP NOT NULL,
	text                 TEXT NOT NULL DEFAULT '',
	entities             TEXT NOT NULL DEFAULT '',
	out                  INTEGER NOT NULL DEFAULT 0,
	mentioned            INTEGER NOT NULL DEFAULT 0,
	silent               INTEGER NOT NULL DEFAULT 0,
	post                 INTEGER NOT NULL DEFAULT 0,
	from_id              INTEGER,
	fwd_from_id          INTEGER,
	fwd_from_name        TEXT,
	fwd_date             TIMESTAMP,
	reply_to_msg_id      INTEGER,
	media_type           TEXT NOT NULL DEFAULT '',
	media_path           TEXT,
	video_thumbnail_path TEXT,
	view_count           INTEGER NOT NULL DEFAULT 0,
	forward_count        INTEGER NOT NULL DEFAULT 0,
	reply_count          INTEGER NOT NULL DEFAULT 0,
	grouped_id           INTEGER,
	read                 INTEGER NOT NULL DEFAULT 0,
	read_at              TIMESTAMP,
	read_in_tg           INTEGER NOT NULL DEFAULT 0,
	rating               INTEGER NOT NULL DEFAULT 0,
	bookmarked           INTEGER NOT NULL DEFAULT 0,
	anchored             INTEGER NOT NULL DEFAULT 0,
	hidden               INTEGER NOT NULL DEFAULT 0,
	ai_summary           TEXT,
	content_hash         TEXT,
	content_hash_pending INTEGER NOT NULL DEFAULT 1,
	media_hash           TEXT,
	media_hash_pending   INTEGER NOT NULL DEFAULT 1,
	duplicate_of_channel INTEGER,
	duplicate_of_message INTEGER,
	html_downloaded      INTEGER NOT NULL DEFAULT 0,
	media_pending        INTEGER NOT NULL DEFAULT 0,
	created_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`, channelID)
}

// channelIndexSpecs lists the indexes required on every channel table
// (spec.md §4.1 "All per-channel tables have indexes on ...").
func channelIndexSpecs(channelID int64) []indexSpec {
	t := channelTableName(channelID)
	return []indexSpec{
		{table: t, name: fmt.Sprintf("idx_%s_read_date", t), columns: []string{"read", "date"}},
		{table: t, name: fmt.Sprintf("idx_%s_date", t), columns: []string{"date"}},
		{table: t, name: fmt.Sprintf("idx_%s_bookmarked", t), columns: []string{"bookmarked"}},
		{table: t, name: fmt.Sprintf("idx_%s_anchored", t), columns: []string{"anchored"}},
		{table: t, name: fmt.Sprintf("idx_%s_hidden", t), columns: []string{"hidden"}},
		{table: t, name: fmt.Sprintf("idx_%s_content_hash", t), columns: []string{"content_hash"}},
		{table: t, name: fmt.Sprintf("idx_%s_content_hash_pending", t), columns: []string{"content_hash_pending"}},
		{table: t, name: fmt.Sprintf("idx_%s_media_hash", t), columns: []string{"media_hash"}},
		{table: t, name: fmt.Sprintf("idx_%s_media_hash_pending", t), columns: []string{"media_hash_pending"}},
		{table: t, name: fmt.Sprintf("idx_%s_grouped_id", t), columns: []string{"grouped_id"}},
	}
}

func backupHashTableDDL(channelID int64) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	file_path TEXT PRIMARY KEY,
	file_size INTEGER NOT NULL,
	hash      TEXT
);`, backupHashTableName(channelID))
}

func channelTableName(channelID int64) string {
	return fmt.Sprintf("channel_%d", channelID)
}

func backupHashTableName(channelID int64) string {
	return fmt.Sprintf("channel_backup_hash_%d", channelID)
}

type indexSpec struct {
	table   string
	name    string
	columns []string
}
