package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/models"
	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

// RunDiscovery implements spec.md §4.4.1: list dialogs, keep broadcast
// channels, fetch a profile photo if missing, upsert with subscribed=1,
// and mark every previously-subscribed channel missing from this pass as
// subscribed=0.
func (m *Manager) RunDiscovery(ctx context.Context) error {
	dialogs, err := m.client.IterDialogs(ctx, rpcproto.IterDialogsParams{})
	if err != nil {
		return fmt.Errorf("iter_dialogs: %w", err)
	}

	existing, err := m.store.Channels(ctx)
	if err != nil {
		return fmt.Errorf("load existing channels: %w", err)
	}
	previouslySubscribed := make(map[int64]bool, len(existing))
	for _, c := range existing {
		if c.Subscribed {
			previouslySubscribed[c.ID] = true
		}
	}

	discovered := make(map[int64]bool, len(dialogs))
	for _, d := range dialogs {
		if !d.Broadcast {
			continue
		}
		m.accessHash[d.ID] = d.AccessHash
		discovered[d.ID] = true

		channel := &models.Channel{
			ID:         d.ID,
			AccessHash: d.AccessHash,
			Title:      d.Title,
			Username:   d.Username,
			PhotoID:    d.PhotoID,
			Broadcast:  d.Broadcast,
			Scam:       d.Scam,
			Verified:   d.Verified,
			Restricted: d.Restricted,
			Subscribed: true,
			Active:     true,
		}

		destPath := filepath.Join(m.mediaRoot, fmt.Sprint(d.ID), "profile.jpg")
		if _, statErr := os.Stat(destPath); d.PhotoID != 0 && statErr != nil {
			result, err := m.client.DownloadProfilePhoto(ctx, rpcproto.DownloadProfilePhotoParams{
				ChannelID:  d.ID,
				AccessHash: d.AccessHash,
				DestPath:   destPath,
			})
			if err != nil || result.Path == nil {
				logging.Ctx(ctx).Warn().Int64("channel_id", d.ID).Err(err).Msg("profile photo download failed")
			}
		}

		if err := m.store.UpsertChannel(ctx, channel); err != nil {
			return fmt.Errorf("upsert channel %d: %w", d.ID, err)
		}
	}

	for id := range previouslySubscribed {
		if discovered[id] {
			continue
		}
		c, err := m.channelByID(ctx, id)
		if err != nil || c == nil {
			continue
		}
		c.Subscribed = false
		if err := m.store.UpsertChannel(ctx, c); err != nil {
			return fmt.Errorf("unsubscribe channel %d: %w", id, err)
		}
	}

	return nil
}

func (m *Manager) channelByID(ctx context.Context, id int64) (*models.Channel, error) {
	channels, err := m.store.Channels(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range channels {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}
