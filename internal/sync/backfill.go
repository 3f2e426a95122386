package sync

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/models"
	"github.com/righttechsoft/tgfeed/internal/pauseflag"
	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

// RunBackfill implements spec.md §4.4.3: walk download_all=1 channels
// backwards from their oldest stored message, fetching older history in
// batches and, where a backup path is configured, reusing an already
// downloaded file instead of fetching it again.
func (m *Manager) RunBackfill(ctx context.Context) error {
	channels, err := m.store.Channels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	for _, channel := range channels {
		if !channel.Active || !channel.DownloadAll {
			continue
		}
		if err := pauseflag.Wait(ctx, m.pauseFilePath, m.cfg.PauseCheckInterval); err != nil {
			return err
		}
		if err := m.backfillChannel(ctx, channel); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("channel_id", channel.ID).Msg("backfill failed for channel")
		}
	}
	return nil
}

func (m *Manager) backfillChannel(ctx context.Context, channel *models.Channel) error {
	oldest, hasAny, err := m.store.ChannelOldestMessageID(ctx, channel.ID)
	if err != nil {
		return fmt.Errorf("oldest message id: %w", err)
	}
	if !hasAny || oldest <= 1 {
		return nil
	}

	if channel.BackupPath != nil && *channel.BackupPath != "" {
		if err := m.backups.IndexChannel(ctx, channel.ID, *channel.BackupPath); err != nil {
			logging.Ctx(ctx).Warn().Int64("channel_id", channel.ID).Err(err).Msg("backup index refresh failed")
		}
	}

	accessHash := m.resolveAccessHash(channel)
	batchSize := m.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	fetchLimit := batchSize * 2
	maxID := oldest
	records, err := m.client.IterMessages(ctx, rpcproto.IterMessagesParams{
		ChannelID:  channel.ID,
		AccessHash: accessHash,
		MaxID:      &maxID,
		Limit:      fetchLimit,
		Reverse:    false,
	})
	if err != nil {
		return fmt.Errorf("iter_messages: %w", err)
	}

	records = filterNonPoll(records)
	if len(records) > batchSize {
		records = records[:batchSize]
	}
	if len(records) == 0 {
		return nil
	}

	msgs := m.backfillMessages(ctx, channel, accessHash, records)

	for _, msg := range msgs {
		msg.Read = true
		if err := m.store.UpsertMessage(ctx, msg); err != nil {
			return fmt.Errorf("upsert message %d: %w", msg.ID, err)
		}
	}
	metrics.SyncMessagesProcessed.WithLabelValues("backfill").Add(float64(len(msgs)))
	return nil
}

const defaultBatchSize = 50

// backfillMessages resolves each record's media, preferring a reuse of an
// already-downloaded backup file (spec.md §4.4.3 step 4 / §4.6) over a full
// download whenever the channel has a backup_path, the media is larger than
// the hashable threshold, and a matching hash is already indexed.
func (m *Manager) backfillMessages(ctx context.Context, channel *models.Channel, accessHash int64, records []rpcproto.MessageRecord) []*models.Message {
	msgs := make([]*models.Message, len(records))
	for i, rec := range records {
		mediaType := models.MediaType(rec.MediaType)
		if !mediaType.Downloadable() || !channel.WantsMedia(mediaType) {
			msgs[i] = recordToMessage(channel.ID, rec, nil, false)
			continue
		}

		path, pending := m.resolveBackfillMedia(ctx, channel, accessHash, rec)
		msgs[i] = recordToMessage(channel.ID, rec, path, pending)
	}
	return msgs
}

func (m *Manager) resolveBackfillMedia(ctx context.Context, channel *models.Channel, accessHash int64, rec rpcproto.MessageRecord) (*string, bool) {
	if channel.BackupPath != nil && *channel.BackupPath != "" {
		if reused := m.tryReuseBackup(ctx, channel, accessHash, rec); reused != nil {
			return reused, false
		}
	}

	destDir := filepath.Join(m.mediaRoot, fmt.Sprint(channel.ID))
	result, err := m.downloads.DownloadMedia(ctx, rpcproto.DownloadMediaParams{
		ChannelID:  channel.ID,
		AccessHash: accessHash,
		MessageID:  rec.ID,
		DestDir:    destDir,
	})
	if err != nil || result.Path == nil {
		logging.Ctx(ctx).Warn().Int64("channel_id", channel.ID).Int64("message_id", rec.ID).Err(err).Msg("media download failed during backfill")
		return nil, true
	}
	return result.Path, false
}

// tryReuseBackup consults get_media_hash and the backup index to find an
// already-downloaded copy of this message's media, copying it into the
// channel's media directory instead of touching the network for the file
// bytes (spec.md §4.6).
func (m *Manager) tryReuseBackup(ctx context.Context, channel *models.Channel, accessHash int64, rec rpcproto.MessageRecord) *string {
	hashResult, err := m.downloads.GetMediaHash(ctx, rpcproto.GetMediaHashParams{
		ChannelID:  channel.ID,
		AccessHash: accessHash,
		MessageID:  rec.ID,
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Int64("channel_id", channel.ID).Int64("message_id", rec.ID).Err(err).Msg("get_media_hash failed")
		return nil
	}
	if !hashResult.NeedsHash {
		return nil
	}

	destDir := filepath.Join(m.mediaRoot, fmt.Sprint(channel.ID))
	path, err := m.backups.Reuse(ctx, channel.ID, destDir, hashResult.Hash, hashResult.Size)
	if err != nil {
		logging.Ctx(ctx).Warn().Int64("channel_id", channel.ID).Err(err).Msg("backup reuse lookup failed")
		return nil
	}
	return path
}
