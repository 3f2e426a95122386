package models

import "time"

// HashRegistryEntry is a row of either the content-hash or media-hash
// registry (spec.md §3 ContentHashRegistry / MediaHashRegistry). Both share
// this shape; PK is (Hash, GroupID).
type HashRegistryEntry struct {
	Hash          string
	GroupID       int64
	ChannelID     int64
	MessageID     int64
	MessageDate   time.Time
	CreatedAt     time.Time
}

// HashOwner identifies the first-writer coordinates returned by a registry
// lookup/insert race (spec.md §4.5.3).
type HashOwner struct {
	ChannelID int64
	MessageID int64
}

// TagExclusion is a canonicalized (comma-sorted, lowercase) tag set; a
// message whose AI summary token set is a superset of an exclusion's tokens
// is auto-marked read and never registered (spec.md §4.5.2 step 4).
type TagExclusion struct {
	ID        int64
	Tags      string // canonical form: sorted, lowercase, comma-joined
	CreatedAt time.Time
}

// BackupIndexEntry is a row of a channel's backup-hash table
// (spec.md §3 BackupIndex). Hash is empty for files <= 64 KiB, which are
// never hash-matched (spec.md §4.6).
type BackupIndexEntry struct {
	FilePath string
	FileSize int64
	Hash     string // MD5 hex of the first 64 KiB; "" if FileSize <= 64*1024
}
