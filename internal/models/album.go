package models

// MediaItem is one entry of an Album's ordered media list
// (spec.md §4.1.1).
type MediaItem struct {
	Path      string
	Type      MediaType
	MessageID int64
	Thumbnail string
}

// Album is the query-time consolidation of messages sharing
// (channel_id, grouped_id) into a single presentable post
// (spec.md §9 "Album-as-list with one base -> first-class Album entity").
// Storage keeps members as separate rows; Album is constructed on read.
type Album struct {
	ChannelID      int64
	BaseMessageID  int64 // lowest id among members
	Date           int64 // unix seconds of the base message, for ordering
	Text           string
	Entities       string
	MediaItems     []MediaItem
	AlbumMessageIDs []int64 // every member id, ascending

	// Variants is populated by duplicate-variant expansion (spec.md §4.1.2):
	// the consolidated original (if any) followed by consolidated
	// duplicates. Empty for a message with no known relatives.
	Variants []*Album
}

// Singleton builds a trivial one-member Album from a single Message,
// used when a message has no grouped_id (spec.md §4.1.1: "singletons form
// trivial albums").
func Singleton(msg *Message) *Album {
	a := &Album{
		ChannelID:       msg.ChannelID,
		BaseMessageID:   msg.ID,
		Date:            msg.Date.Unix(),
		Text:            msg.Text,
		Entities:        msg.Entities,
		AlbumMessageIDs: []int64{msg.ID},
	}
	if msg.MediaType != MediaNone || msg.MediaPath != nil {
		thumb := ""
		if msg.VideoThumbnailPath != nil {
			thumb = *msg.VideoThumbnailPath
		}
		path := ""
		if msg.MediaPath != nil {
			path = *msg.MediaPath
		}
		a.MediaItems = append(a.MediaItems, MediaItem{
			Path:      path,
			Type:      msg.MediaType,
			MessageID: msg.ID,
			Thumbnail: thumb,
		})
	}
	return a
}
