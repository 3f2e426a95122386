package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/righttechsoft/tgfeed/internal/models"
)

// RegroupTrimPolicy controls which end of an over-full album's member list
// survives when a caller needs to cap the number of items it carries
// (spec.md §4.1 "keep oldest when trimming" vs "keep newest when trimming").
type RegroupTrimPolicy int

const (
	KeepOldest RegroupTrimPolicy = iota
	KeepNewest
)

// RegroupAlbums partitions msgs by (channel_id, grouped_id), collapsing
// every album into a single *models.Album keyed by its lowest message id
// (spec.md §4.1.1). Messages with no grouped_id become trivial
// single-member albums. The trim policy argument is not used: it is not
// recorded on the album, and RegroupAlbums never drops members.
func RegroupAlbums(msgs []*models.Message, _ RegroupTrimPolicy) []*models.Album {
	type key struct {
		channelID int64
		groupedID int64
	}
	groups := make(map[key][]*models.Message)
	var singletons []*models.Message

	for _, m := range msgs {
		if m.GroupedID == nil {
			singletons = append(singletons, m)
			continue
		}
		k := key{m.ChannelID, *m.GroupedID}
		groups[k] = append(groups[k], m)
	}

	albums := make([]*models.Album, 0, len(groups)+len(singletons))
	for _, m := range singletons {
		albums = append(albums, models.Singleton(m))
	}
	for _, members := range groups {
		albums = append(albums, buildAlbum(members))
	}

	sort.Slice(albums, func(i, j int) bool { return albums[i].Date > albums[j].Date })
	return albums
}

func buildAlbum(members []*models.Message) *models.Album {
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	base := members[0]
	album := &models.Album{
		ChannelID:     base.ChannelID,
		BaseMessageID: base.ID,
		Date:          base.Date.Unix(),
	}

	for _, m := range members {
		if album.Text == "" && m.Text != "" {
			album.Text = m.Text
			album.Entities = m.Entities
		}
		if m.MediaPath != nil || m.MediaType != models.MediaNone {
			path := ""
			if m.MediaPath != nil {
				path = *m.MediaPath
			}
			thumb := ""
			if m.VideoThumbnailPath != nil {
				thumb = *m.VideoThumbnailPath
			}
			album.MediaItems = append(album.MediaItems, models.MediaItem{
				Path:      path,
				Type:      m.MediaType,
				MessageID: m.ID,
				Thumbnail: thumb,
			})
		}
		album.AlbumMessageIDs = append(album.AlbumMessageIDs, m.ID)
	}

	return album
}

// originalKey identifies a duplicate's target message.
type originalKey struct {
	channelID int64
	messageID int64
}

// ExpandDuplicateVariants implements spec.md §4.1.2. It consumes
// already-regrouped albums and a group scope, builds a single batched
// duplicate map (one query per channel table in the group), and stamps
// each album's Variants field before dropping albums that are fully
// subsumed by another album's variant list.
func (s *Store) ExpandDuplicateVariants(ctx context.Context, albums []*models.Album, groupID int64) ([]*models.Album, error) {
	dupMap, err := s.buildDuplicateMap(ctx, groupID)
	if err != nil {
		return nil, err
	}

	byKey := make(map[originalKey]*models.Album, len(albums))
	for _, a := range albums {
		for _, id := range a.AlbumMessageIDs {
			byKey[originalKey{a.ChannelID, id}] = a
		}
	}

	absorbed := make(map[originalKey]bool)

	for _, a := range albums {
		base := a.AlbumMessageIDs[0]

		if orig, ok := s.originalOf(ctx, a.ChannelID, base, groupID); ok {
			origAlbum := byKey[orig]
			if origAlbum == nil {
				origAlbum, err = s.loadAndRegroupSingle(ctx, orig.channelID, orig.messageID)
				if err != nil {
					return nil, err
				}
			}
			if origAlbum == nil {
				continue
			}

			variants := []*models.Album{origAlbum}
			seen := map[originalKey]bool{{origAlbum.ChannelID, origAlbum.BaseMessageID}: true}
			for _, memberID := range origAlbum.AlbumMessageIDs {
				for _, dup := range dupMap[originalKey{origAlbum.ChannelID, memberID}] {
					dk := originalKey{dup.ChannelID, dup.BaseMessageID}
					if seen[dk] {
						continue
					}
					seen[dk] = true
					variants = append(variants, dup)
					absorbed[dk] = true
				}
			}
			a.Variants = variants
			continue
		}

		var variants []*models.Album
		seen := map[originalKey]bool{}
		for _, memberID := range a.AlbumMessageIDs {
			for _, dup := range dupMap[originalKey{a.ChannelID, memberID}] {
				dk := originalKey{dup.ChannelID, dup.BaseMessageID}
				if seen[dk] || dk == (originalKey{a.ChannelID, a.BaseMessageID}) {
					continue
				}
				seen[dk] = true
				variants = append(variants, dup)
				absorbed[dk] = true
			}
		}
		if len(variants) > 0 {
			a.Variants = append([]*models.Album{a}, variants...)
		}
	}

	out := make([]*models.Album, 0, len(albums))
	for _, a := range albums {
		if !absorbed[originalKey{a.ChannelID, a.BaseMessageID}] {
			out = append(out, a)
		}
	}
	return out, nil
}

// originalOf reports the (channel, message) an album's base message points
// at as a duplicate, restricted to originals whose channel is in the same
// group as the pointer (spec.md §4.1.2 "verified via channel's group_id").
func (s *Store) originalOf(ctx context.Context, channelID, messageID, groupID int64) (originalKey, bool) {
	msg, err := s.GetMessage(ctx, channelID, messageID)
	if err != nil || msg == nil || !msg.IsDuplicate() {
		return originalKey{}, false
	}
	origGroup, err := s.groupOfChannel(ctx, *msg.DuplicateOfChannel)
	if err != nil || origGroup != groupID {
		return originalKey{}, false
	}
	return originalKey{*msg.DuplicateOfChannel, *msg.DuplicateOfMessage}, true
}

func (s *Store) groupOfChannel(ctx context.Context, channelID int64) (int64, error) {
	var groupID int64
	err := s.conn.QueryRowContext(ctx, "SELECT COALESCE(group_id, -1) FROM channels WHERE id = ?", channelID).Scan(&groupID)
	if err != nil {
		return -1, fmt.Errorf("group of channel %d: %w", channelID, err)
	}
	return groupID, nil
}

func (s *Store) loadAndRegroupSingle(ctx context.Context, channelID, messageID int64) (*models.Album, error) {
	msg, err := s.GetMessage(ctx, channelID, messageID)
	if err != nil || msg == nil {
		return nil, err
	}
	if msg.GroupedID == nil {
		return models.Singleton(msg), nil
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE grouped_id = ?", messageColumns, channelTableName(channelID))
	rows, err := s.conn.QueryContext(ctx, stmt, *msg.GroupedID)
	if err != nil {
		return nil, fmt.Errorf("load album for %d/%d: %w", channelID, messageID, err)
	}
	members, err := scanMessages(rows, channelID)
	closeRowsWithLog(rows, "loadAndRegroupSingle")
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return models.Singleton(msg), nil
	}
	return buildAlbum(members), nil
}

// buildDuplicateMap runs one query per channel table in groupID and returns
// a map from an original (channel_id, message_id) to the album-regrouped
// duplicate pointing at it, batching the per-message lookups the naive
// approach would otherwise require (spec.md §4.1.2 "This batch map
// replaces per-message lookups").
func (s *Store) buildDuplicateMap(ctx context.Context, groupID int64) (map[originalKey][]*models.Album, error) {
	channelIDs, err := s.channelIDsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	result := make(map[originalKey][]*models.Album)
	for _, cid := range channelIDs {
		if err := s.ensureChannelTable(ctx, cid); err != nil {
			return nil, err
		}
		stmt := fmt.Sprintf(`SELECT %s FROM %s WHERE duplicate_of_channel IS NOT NULL AND duplicate_of_message IS NOT NULL`,
			messageColumns, channelTableName(cid))
		rows, err := s.conn.QueryContext(ctx, stmt)
		if err != nil {
			return nil, fmt.Errorf("duplicates in channel %d: %w", cid, err)
		}
		dups, err := scanMessages(rows, cid)
		closeRowsWithLog(rows, "buildDuplicateMap")
		if err != nil {
			return nil, err
		}

		byAlbum := map[int64][]*models.Message{}
		var loose []*models.Message
		for _, d := range dups {
			if d.GroupedID != nil {
				byAlbum[*d.GroupedID] = append(byAlbum[*d.GroupedID], d)
			} else {
				loose = append(loose, d)
			}
		}
		var albums []*models.Album
		for _, members := range byAlbum {
			albums = append(albums, buildAlbum(members))
		}
		for _, m := range loose {
			albums = append(albums, models.Singleton(m))
		}

		for _, album := range albums {
			// All members of a duplicate album point at the same original
			// in practice; key on the base member's target.
			base := albumBaseMessage(dups, album)
			if base == nil || !base.IsDuplicate() {
				continue
			}
			k := originalKey{*base.DuplicateOfChannel, *base.DuplicateOfMessage}
			result[k] = append(result[k], album)
		}
	}
	return result, nil
}

func albumBaseMessage(msgs []*models.Message, album *models.Album) *models.Message {
	for _, m := range msgs {
		if m.ChannelID == album.ChannelID && m.ID == album.BaseMessageID {
			return m
		}
	}
	return nil
}
