package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/righttechsoft/tgfeed/internal/models"
	"github.com/righttechsoft/tgfeed/internal/store"
)

const mediaPassBatchLimit = 200

// RunMediaHashPass implements spec.md §4.5.1: for every unread album in
// groupID, hash its local media files and register the combined hash,
// marking duplicates found by the registry.
func (m *Manager) RunMediaHashPass(ctx context.Context, groupID int64) error {
	msgs, err := m.store.UnreadMessagesByGroup(ctx, groupID, mediaPassBatchLimit)
	if err != nil {
		return fmt.Errorf("load unread messages: %w", err)
	}

	albums := store.RegroupAlbums(msgs, store.KeepOldest)
	membersByID := indexMessagesByID(msgs)

	for _, album := range albums {
		if albumAlreadyHashed(album, membersByID) {
			continue
		}
		if err := m.hashAlbum(ctx, groupID, album, membersByID); err != nil {
			return fmt.Errorf("hash album (channel %d, base %d): %w", album.ChannelID, album.BaseMessageID, err)
		}
	}
	return nil
}

// albumAlreadyHashed reports whether every member of album already carries a
// settled media_hash_pending state, meaning a previous run already resolved
// it — rerunning would re-insert the same hash and find itself as "the
// existing owner", wrongly flagging the message a duplicate of itself.
func albumAlreadyHashed(album *models.Album, membersByID map[int64]*models.Message) bool {
	for _, id := range album.AlbumMessageIDs {
		msg := membersByID[id]
		if msg == nil || msg.MediaHashPending == models.HashQueued {
			return false
		}
	}
	return true
}

func indexMessagesByID(msgs []*models.Message) map[int64]*models.Message {
	out := make(map[int64]*models.Message, len(msgs))
	for _, msg := range msgs {
		out[msg.ID] = msg
	}
	return out
}

func (m *Manager) hashAlbum(ctx context.Context, groupID int64, album *models.Album, membersByID map[int64]*models.Message) error {
	var hashes []string
	var baseDate time.Time
	for _, id := range album.AlbumMessageIDs {
		msg := membersByID[id]
		if msg == nil || msg.MediaPath == nil || *msg.MediaPath == "" {
			continue
		}
		if msg.Date.Before(baseDate) || baseDate.IsZero() {
			baseDate = msg.Date
		}
		h, err := hashFile(filepath.Join(m.mediaRoot, *msg.MediaPath))
		if err != nil {
			return fmt.Errorf("hash media file %s: %w", *msg.MediaPath, err)
		}
		hashes = append(hashes, h)
	}

	if len(hashes) == 0 {
		// spec.md §4.5.1 step 1: no member has local media; mark the
		// album's members as intentionally skipped rather than pending.
		return m.stampAlbumPending(ctx, album)
	}

	sort.Strings(hashes)
	combined := sha256.Sum256([]byte(joinHashes(hashes)))
	mediaHash := hex.EncodeToString(combined[:])

	owner, err := m.store.RegisterMediaHash(ctx, mediaHash, groupID, album.ChannelID, album.BaseMessageID, baseDate)
	if err != nil {
		return fmt.Errorf("register media hash: %w", err)
	}

	var dupChannel, dupMessage *int64
	if owner != nil {
		c, msgID := owner.ChannelID, owner.MessageID
		dupChannel, dupMessage = &c, &msgID
	}
	recordHashRegistration("media", owner != nil)

	for _, id := range album.AlbumMessageIDs {
		stamp := store.MediaHashStamp{
			MediaHash:          &mediaHash,
			MediaHashPending:   models.HashDone,
			DuplicateOfChannel: dupChannel,
			DuplicateOfMessage: dupMessage,
		}
		if err := m.store.ApplyMediaHashStamp(ctx, album.ChannelID, id, stamp); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) stampAlbumPending(ctx context.Context, album *models.Album) error {
	for _, id := range album.AlbumMessageIDs {
		stamp := store.MediaHashStamp{MediaHashPending: models.HashSkipped}
		if err := m.store.ApplyMediaHashStamp(ctx, album.ChannelID, id, stamp); err != nil {
			return err
		}
	}
	return nil
}

func joinHashes(hashes []string) string {
	out := ""
	for _, h := range hashes {
		out += h
	}
	return out
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
