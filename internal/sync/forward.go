package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/models"
	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

const defaultDownloadConcurrency = 5

// RunForwardSync implements spec.md §4.4.2.
func (m *Manager) RunForwardSync(ctx context.Context) error {
	channels, err := m.store.Channels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	for _, channel := range channels {
		if !channel.Active {
			continue
		}
		if err := m.syncChannelForward(ctx, channel); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("channel_id", channel.ID).Msg("forward sync failed for channel")
		}
	}
	return nil
}

func (m *Manager) syncChannelForward(ctx context.Context, channel *models.Channel) error {
	accessHash := m.resolveAccessHash(channel)

	oldest, hasAny, err := m.store.ChannelOldestMessageID(ctx, channel.ID)
	if err != nil {
		return fmt.Errorf("oldest message id: %w", err)
	}

	var records []rpcproto.MessageRecord
	if !hasAny {
		// Seed: fetch only the latest non-poll message. A short newest-first
		// page is fetched so that a poll at the head does not leave the seed
		// empty; everything but the newest non-poll record is dropped.
		records, err = m.client.IterMessages(ctx, rpcproto.IterMessagesParams{
			ChannelID:  channel.ID,
			AccessHash: accessHash,
			Limit:      10,
			Reverse:    false,
		})
		if err == nil {
			records = filterNonPoll(records)
			if len(records) > 1 {
				records = records[:1]
			}
		}
	} else {
		latest, _, lerr := m.latestMessageID(ctx, channel.ID)
		if lerr != nil {
			return fmt.Errorf("latest message id: %w", lerr)
		}
		afterID := latest
		if !hasAny {
			afterID = oldest
		}
		records, err = m.client.IterMessages(ctx, rpcproto.IterMessagesParams{
			ChannelID:  channel.ID,
			AccessHash: accessHash,
			MinID:      &afterID,
			Reverse:    true,
		})
	}
	if err != nil {
		return fmt.Errorf("iter_messages: %w", err)
	}

	records = filterNonPoll(records)
	if len(records) == 0 {
		return m.reconcileReadState(ctx, channel, accessHash)
	}

	msgs := m.downloadMediaConcurrently(ctx, channel, accessHash, records)

	for _, msg := range msgs {
		if err := m.store.UpsertMessage(ctx, msg); err != nil {
			return fmt.Errorf("upsert message %d: %w", msg.ID, err)
		}
	}
	metrics.SyncMessagesProcessed.WithLabelValues("forward").Add(float64(len(msgs)))

	return m.reconcileReadState(ctx, channel, accessHash)
}

func (m *Manager) resolveAccessHash(channel *models.Channel) int64 {
	if h, ok := m.accessHash[channel.ID]; ok {
		return h
	}
	return channel.AccessHash
}

func (m *Manager) latestMessageID(ctx context.Context, channelID int64) (int64, bool, error) {
	msgs, err := m.store.ChannelMessagesNewerThan(ctx, channelID, 0, 1<<30)
	if err != nil {
		return 0, false, err
	}
	var max int64
	for _, msg := range msgs {
		if msg.ID > max {
			max = msg.ID
		}
	}
	return max, max > 0, nil
}

func filterNonPoll(records []rpcproto.MessageRecord) []rpcproto.MessageRecord {
	out := records[:0:0]
	for _, r := range records {
		if r.MediaType == string(models.MediaPoll) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// downloadMediaConcurrently downloads every downloadable-media record's
// file using a bounded worker pool (spec.md §5 default concurrency 5),
// converting each record to a models.Message. A failed download still
// produces a row, stamped media_pending=1 with no path (spec.md §4.4.2
// step 5).
func (m *Manager) downloadMediaConcurrently(ctx context.Context, channel *models.Channel, accessHash int64, records []rpcproto.MessageRecord) []*models.Message {
	concurrency := m.cfg.BackfillConcurrency
	if concurrency <= 0 {
		concurrency = defaultDownloadConcurrency
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	msgs := make([]*models.Message, len(records))

	for i, rec := range records {
		mediaType := models.MediaType(rec.MediaType)
		if !mediaType.Downloadable() || !channel.WantsMedia(mediaType) {
			msgs[i] = recordToMessage(channel.ID, rec, nil, false)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rec rpcproto.MessageRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			destDir := filepath.Join(m.mediaRoot, fmt.Sprint(channel.ID))
			result, err := m.downloads.DownloadMedia(ctx, rpcproto.DownloadMediaParams{
				ChannelID:  channel.ID,
				AccessHash: accessHash,
				MessageID:  rec.ID,
				DestDir:    destDir,
			})
			if err != nil || result.Path == nil {
				logging.Ctx(ctx).Warn().Int64("channel_id", channel.ID).Int64("message_id", rec.ID).Err(err).Msg("media download failed")
				msgs[i] = recordToMessage(channel.ID, rec, nil, true)
				return
			}
			msgs[i] = recordToMessage(channel.ID, rec, result.Path, false)
		}(i, rec)
	}
	wg.Wait()
	return msgs
}

func recordToMessage(channelID int64, rec rpcproto.MessageRecord, mediaPath *string, pending bool) *models.Message {
	msg := &models.Message{
		ChannelID:          channelID,
		ID:                 rec.ID,
		Date:               time.Unix(rec.Date, 0).UTC(),
		Text:               rec.Text,
		Out:                rec.Out,
		Mentioned:          rec.Mentioned,
		Silent:             rec.Silent,
		Post:               rec.Post,
		FromID:             rec.FromID,
		FwdFromID:          rec.FwdFromID,
		FwdFromName:        rec.FwdFromName,
		ReplyToMsgID:       rec.ReplyToMsgID,
		MediaType:          models.MediaType(rec.MediaType),
		MediaPath:          mediaPath,
		ViewCount:          rec.ViewCount,
		ForwardCount:       rec.ForwardCount,
		ReplyCount:         rec.ReplyCount,
		GroupedID:          rec.GroupedID,
		MediaPending:       pending,
		ContentHashPending: models.HashQueued,
		MediaHashPending:   models.HashQueued,
		CreatedAt:          time.Now().UTC(),
	}
	if rec.FwdDate != nil {
		t := time.Unix(*rec.FwdDate, 0).UTC()
		msg.FwdDate = &t
	}
	if rec.Entities != nil {
		msg.Entities = string(rec.Entities)
	}
	return msg
}

// reconcileReadState implements spec.md §4.4.2 step 8.
func (m *Manager) reconcileReadState(ctx context.Context, channel *models.Channel, accessHash int64) error {
	state, err := m.client.GetReadState(ctx, rpcproto.ReadStateParams{ChannelID: channel.ID, AccessHash: accessHash})
	if err != nil {
		return fmt.Errorf("get_read_state: %w", err)
	}
	if state.ReadInboxMaxID <= 0 {
		return nil
	}

	msgs, err := m.store.ChannelMessagesNewerThan(ctx, channel.ID, 0, 1<<20)
	if err != nil {
		return fmt.Errorf("load messages for read reconciliation: %w", err)
	}
	now := time.Now().UTC()
	for _, msg := range msgs {
		if msg.ID <= state.ReadInboxMaxID && !msg.Read {
			if err := m.store.MarkRead(ctx, channel.ID, msg.ID, now, false); err != nil {
				return fmt.Errorf("mark read %d: %w", msg.ID, err)
			}
		}
	}
	return nil
}
