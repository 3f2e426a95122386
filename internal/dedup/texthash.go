package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/models"
	"github.com/righttechsoft/tgfeed/internal/store"
)

// aiCallPause is the "short pause between calls" spec.md §4.5.2 mandates to
// stay under the provider's rate limit.
const aiCallPause = 500 * time.Millisecond

const textHashMaxRetries = 3

// RunTextHashPass implements spec.md §4.5.2: AI-summarize and hash every
// unread, sufficiently-long, not-already-duplicate message in groupID.
func (m *Manager) RunTextHashPass(ctx context.Context, groupID int64) error {
	if !m.provider.IsConfigured() {
		return nil
	}

	limit := m.cfg.MessagesPerRun
	if limit <= 0 {
		limit = mediaPassBatchLimit
	}
	msgs, err := m.store.UnreadMessagesByGroup(ctx, groupID, limit)
	if err != nil {
		return fmt.Errorf("load unread messages: %w", err)
	}

	exclusions, err := m.store.TagExclusions(ctx)
	if err != nil {
		return fmt.Errorf("load tag exclusions: %w", err)
	}
	exclusionTokens := make([][]string, len(exclusions))
	for i, e := range exclusions {
		exclusionTokens[i] = canonicalizeTags(e.Tags)
	}

	first := true
	for _, msg := range msgs {
		if msg.ContentHashPending == models.HashDone {
			continue
		}
		if msg.IsDuplicate() {
			if err := m.stampContentPending(ctx, msg, models.HashSkipped); err != nil {
				return err
			}
			continue
		}
		if len(strings.TrimSpace(msg.Text)) < m.cfg.MinMessageLength {
			if err := m.stampContentPending(ctx, msg, models.HashSkipped); err != nil {
				return err
			}
			continue
		}

		if !first {
			time.Sleep(aiCallPause)
		}
		first = false

		if err := m.textHashMessage(ctx, groupID, msg, exclusionTokens); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("channel_id", msg.ChannelID).Int64("message_id", msg.ID).Msg("text hash failed for message")
		}
	}
	return nil
}

func (m *Manager) stampContentPending(ctx context.Context, msg *models.Message, pending models.HashPending) error {
	return m.store.ApplyContentHashStamp(ctx, msg.ChannelID, msg.ID, store.ContentHashStamp{
		ContentHashPending: pending,
	})
}

func (m *Manager) textHashMessage(ctx context.Context, groupID int64, msg *models.Message, exclusionTokens [][]string) error {
	start := time.Now()
	summary, err := m.provider.GenerateSummary(ctx, msg.Text, textHashMaxRetries)
	metrics.ObserveDuration(metrics.DedupAISummaryDuration, start)
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}

	tokens := canonicalizeTags(summary)
	if len(tokens) < 3 || (len(tokens) == 1 && tokens[0] == "ad") {
		return m.stampContentPending(ctx, msg, models.HashSkipped)
	}

	canonical := joinTags(tokens)
	for _, excl := range exclusionTokens {
		if isSupersetOf(tokens, excl) {
			now := time.Now().UTC()
			return m.store.ApplyContentHashStamp(ctx, msg.ChannelID, msg.ID, store.ContentHashStamp{
				AISummary:          &canonical,
				ContentHashPending: models.HashSkipped,
				MarkRead:           true,
				ReadAt:             &now,
			})
		}
	}

	sum := sha256.Sum256([]byte(canonical))
	contentHash := hex.EncodeToString(sum[:])

	owner, err := m.store.RegisterContentHash(ctx, contentHash, groupID, msg.ChannelID, msg.ID, msg.Date)
	if err != nil {
		return fmt.Errorf("register content hash: %w", err)
	}
	recordHashRegistration("content", owner != nil)

	stamp := store.ContentHashStamp{
		AISummary:          &canonical,
		ContentHash:         &contentHash,
		ContentHashPending: models.HashDone,
	}
	if owner != nil {
		c, id := owner.ChannelID, owner.MessageID
		stamp.DuplicateOfChannel, stamp.DuplicateOfMessage = &c, &id
	}
	return m.store.ApplyContentHashStamp(ctx, msg.ChannelID, msg.ID, stamp)
}
