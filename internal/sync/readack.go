package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/models"
	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

// RunReadAcknowledge implements spec.md §4.4.4: for every active channel,
// find locally-read messages the upstream doesn't yet know are read, send
// one send_read_acknowledge for the highest such id, and on success stamp
// read_in_tg=1 up to that id.
func (m *Manager) RunReadAcknowledge(ctx context.Context) error {
	channels, err := m.store.Channels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	for _, channel := range channels {
		if !channel.Active {
			continue
		}
		if err := m.readAckChannel(ctx, channel); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("channel_id", channel.ID).Msg("read acknowledge failed for channel")
		}
	}
	return nil
}

func (m *Manager) readAckChannel(ctx context.Context, channel *models.Channel) error {
	pending, err := m.store.ChannelMessagesNewerThan(ctx, channel.ID, 0, 1<<20)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	var maxID int64
	for _, msg := range pending {
		if msg.Read && !msg.ReadInTG && msg.ID > maxID {
			maxID = msg.ID
		}
	}
	if maxID == 0 {
		return nil
	}

	accessHash := m.resolveAccessHash(channel)
	result, err := m.client.SendReadAcknowledge(ctx, rpcproto.ReadAcknowledgeParams{
		ChannelID:  channel.ID,
		AccessHash: accessHash,
		MaxID:      maxID,
	})
	if err != nil {
		return fmt.Errorf("send_read_acknowledge: %w", err)
	}
	if !result.Success {
		return nil
	}

	now := time.Now().UTC()
	for _, msg := range pending {
		if msg.Read && !msg.ReadInTG && msg.ID <= maxID {
			if err := m.store.MarkRead(ctx, channel.ID, msg.ID, now, true); err != nil {
				return fmt.Errorf("mark read_in_tg %d: %w", msg.ID, err)
			}
		}
	}
	return nil
}
