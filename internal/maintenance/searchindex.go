package maintenance

import (
	"context"
	"fmt"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
)

// RunSearchIndex computes, per channel, the set difference between stored
// messages and what's already in the FTS index and batch-inserts the
// missing rows (spec.md §4.7 "Search indexer").
func (m *Manager) RunSearchIndex(ctx context.Context) error {
	channels, err := m.store.Channels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	batch := m.cfg.FTSBatchSize
	if batch <= 0 {
		batch = 500
	}

	for _, channel := range channels {
		if err := m.indexChannel(ctx, channel.ID, batch); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("channel_id", channel.ID).Msg("search index pass failed")
		}
	}
	return nil
}

func (m *Manager) indexChannel(ctx context.Context, channelID int64, batch int) error {
	all, err := m.store.AllMessageIDs(ctx, channelID)
	if err != nil {
		return fmt.Errorf("all message ids: %w", err)
	}
	indexed, err := m.store.IndexedMessageIDs(ctx, channelID)
	if err != nil {
		return fmt.Errorf("indexed message ids: %w", err)
	}

	indexedSet := make(map[int64]bool, len(indexed))
	for _, id := range indexed {
		indexedSet[id] = true
	}

	var missing []int64
	for _, id := range all {
		if !indexedSet[id] {
			missing = append(missing, id)
		}
	}
	metrics.SearchIndexBacklog.WithLabelValues(fmt.Sprint(channelID)).Set(float64(len(missing)))

	for start := 0; start < len(missing); start += batch {
		end := start + batch
		if end > len(missing) {
			end = len(missing)
		}
		if err := m.store.FTSIndexMessages(ctx, channelID, missing[start:end]); err != nil {
			return fmt.Errorf("index batch [%d:%d]: %w", start, end, err)
		}
	}
	metrics.SearchIndexBacklog.WithLabelValues(fmt.Sprint(channelID)).Set(0)
	return nil
}

// RunSearchOptimize invokes fts5's optimize command (spec.md §4.7
// "--optimize").
func (m *Manager) RunSearchOptimize(ctx context.Context) error {
	return m.store.FTSOptimize(ctx)
}

// RunSearchRebuild drops and recreates the FTS virtual table, then
// repopulates it from scratch (spec.md §4.7 "--rebuild drops and recreates
// the virtual table").
func (m *Manager) RunSearchRebuild(ctx context.Context) error {
	if err := m.store.FTSRebuild(ctx); err != nil {
		return fmt.Errorf("rebuild fts table: %w", err)
	}
	return m.RunSearchIndex(ctx)
}
