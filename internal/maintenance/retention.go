package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/models"
)

// RunRetention applies the two-phase cleanup to every channel that isn't
// fully backfilled (spec.md §4.7 "Retention cleanup", "For channels with
// download_all != 1"): channels kept in full never have media or rows
// deleted by age.
func (m *Manager) RunRetention(ctx context.Context) error {
	channels, err := m.store.Channels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	now := time.Now().UTC()
	for _, channel := range channels {
		if channel.DownloadAll {
			continue
		}
		if err := m.retentionPhaseA(ctx, channel, now); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("channel_id", channel.ID).Msg("retention phase A failed")
		}
		if err := m.retentionPhaseB(ctx, channel, now); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("channel_id", channel.ID).Msg("retention phase B failed")
		}
		m.cleanupEmptyMediaDir(channel.ID)
	}
	return nil
}

func (m *Manager) retentionPhaseA(ctx context.Context, channel *models.Channel, now time.Time) error {
	cutoff := now.Add(-m.cfg.RetentionMediaAge)
	candidates, err := m.store.RetentionPhaseACandidates(ctx, channel.ID, cutoff)
	if err != nil {
		return fmt.Errorf("phase A candidates: %w", err)
	}

	for _, c := range candidates {
		m.removeIfSet(c.MediaPath)
		m.removeIfSet(c.VideoThumbnailPath)
		if err := m.store.ClearMessageMedia(ctx, channel.ID, c.MessageID); err != nil {
			logging.Ctx(ctx).Warn().Int64("channel_id", channel.ID).Int64("message_id", c.MessageID).Err(err).Msg("clear message media failed")
			continue
		}
		metrics.RetentionMessagesProcessed.WithLabelValues("media_cleared").Inc()
	}
	return nil
}

func (m *Manager) retentionPhaseB(ctx context.Context, channel *models.Channel, now time.Time) error {
	cutoff := now.Add(-m.cfg.RetentionRowAge)
	candidates, err := m.store.RetentionPhaseBCandidates(ctx, channel.ID, cutoff)
	if err != nil {
		return fmt.Errorf("phase B candidates: %w", err)
	}

	for _, c := range candidates {
		m.removeIfSet(c.MediaPath)
		m.removeIfSet(c.VideoThumbnailPath)
		if err := m.store.DeleteMessage(ctx, channel.ID, c.MessageID); err != nil {
			logging.Ctx(ctx).Warn().Int64("channel_id", channel.ID).Int64("message_id", c.MessageID).Err(err).Msg("delete message failed")
			continue
		}
		metrics.RetentionMessagesProcessed.WithLabelValues("row_deleted").Inc()
	}
	return nil
}

// removeIfSet unlinks path resolved against the channel media root;
// media_path/video_thumbnail_path are stored relative (spec.md §6.3),
// so a bare os.Remove would miss the file whenever the process's working
// directory isn't the media root.
func (m *Manager) removeIfSet(path *string) {
	if path == nil || *path == "" {
		return
	}
	_ = os.Remove(filepath.Join(m.mediaRoot, *path))
}

// cleanupEmptyMediaDir removes a channel's media directory once retention
// has cleared every file in it (spec.md §4.7 "remove empty channel media
// directories").
func (m *Manager) cleanupEmptyMediaDir(channelID int64) {
	dir := filepath.Join(m.mediaRoot, fmt.Sprint(channelID))
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(dir)
}
