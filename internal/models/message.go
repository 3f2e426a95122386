package models

import "time"

// MediaType discriminates the tagged-variant shape a Message's media takes
// (spec.md §9 "Duck-typed media records -> tagged variant").
type MediaType string

const (
	MediaNone      MediaType = ""
	MediaPhoto     MediaType = "photo"
	MediaVideo     MediaType = "video"
	MediaAudio     MediaType = "audio"
	MediaVoice     MediaType = "voice"
	MediaDocument  MediaType = "document"
	MediaSticker   MediaType = "sticker"
	MediaAnimation MediaType = "animation"
	MediaPoll      MediaType = "poll"
)

// Downloadable reports whether this media kind is ever fetched by the sync
// pipeline (spec.md §4.4.2 step 4).
func (m MediaType) Downloadable() bool {
	switch m {
	case MediaPhoto, MediaVideo, MediaAudio, MediaVoice, MediaDocument, MediaSticker, MediaAnimation:
		return true
	default:
		return false
	}
}

// HashPending encodes the three-valued `*_hash_pending` state from spec.md §3:
// queued, completed, or intentionally skipped.
type HashPending int8

const (
	HashQueued    HashPending = 1
	HashDone      HashPending = 0
	HashSkipped   HashPending = -1
)

// Message is one row of a per-channel message table (`channel_<id>`).
type Message struct {
	ChannelID int64
	ID        int64
	Date      time.Time

	Text     string
	Entities string // raw JSON, opaque to the store

	Out       bool
	Mentioned bool
	Silent    bool
	Post      bool

	FromID       *int64
	FwdFromID    *int64
	FwdFromName  *string
	FwdDate      *time.Time
	ReplyToMsgID *int64

	MediaType           MediaType
	MediaPath           *string
	VideoThumbnailPath  *string
	ViewCount           int64
	ForwardCount        int64
	ReplyCount          int64
	GroupedID           *int64

	Read       bool
	ReadAt     *time.Time
	ReadInTG   bool
	Rating     int8 // -1, 0, 1
	Bookmarked bool
	Anchored   bool
	Hidden     bool

	AISummary           *string
	ContentHash         *string
	ContentHashPending  HashPending
	MediaHash           *string
	MediaHashPending    HashPending
	DuplicateOfChannel  *int64
	DuplicateOfMessage  *int64

	HTMLDownloaded bool
	MediaPending   bool

	CreatedAt time.Time
}

// IsAlbumMember reports whether this message participates in a multi-media
// album (spec.md §3 invariant: grouped_id partitions an album).
func (m *Message) IsAlbumMember() bool {
	return m.GroupedID != nil
}

// IsDuplicate reports whether this message has been marked as pointing at an
// original elsewhere in its dedup group.
func (m *Message) IsDuplicate() bool {
	return m.DuplicateOfChannel != nil && m.DuplicateOfMessage != nil
}
