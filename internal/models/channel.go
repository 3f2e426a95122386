package models

import "time"

// Channel is an upstream broadcast channel, upserted by discovery (C4.4.1)
// and never deleted — only its Subscribed flag is toggled when it drops out
// of a subsequent dialog listing.
type Channel struct {
	ID          int64
	AccessHash  int64
	Title       string
	Username    string
	PhotoID     int64
	Broadcast   bool
	Scam        bool
	Verified    bool
	Restricted  bool
	Subscribed  bool
	Active      bool
	GroupID     *int64
	DownloadAll bool

	// Per-media-kind download flags. A nil entry means "inherit DownloadAll".
	DownloadPhotos    *bool
	DownloadVideos    *bool
	DownloadDocuments *bool

	BackupPath *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WantsMedia reports whether messages of kind should be downloaded for this
// channel, applying the per-kind override over the channel-wide default.
func (c *Channel) WantsMedia(kind MediaType) bool {
	var override *bool
	switch kind {
	case MediaPhoto:
		override = c.DownloadPhotos
	case MediaVideo, MediaAnimation:
		override = c.DownloadVideos
	case MediaDocument:
		override = c.DownloadDocuments
	}
	if override != nil {
		return *override
	}
	return c.DownloadAll
}

// Group is a user-defined bucket of channels; Dedup scopes the dedup engine
// to this group (spec.md §4.5, §4.5.3).
type Group struct {
	ID    int64
	Name  string
	Dedup bool
}
