package dedup

import (
	"context"
	"fmt"

	"github.com/righttechsoft/tgfeed/internal/config"
	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/store"
)

// Manager runs the media-hash and text-hash dedup passes over every group
// with dedup=1 (spec.md §4.5).
type Manager struct {
	store     *store.Store
	provider  SummaryProvider
	cfg       config.DedupConfig
	mediaRoot string
}

func NewManager(st *store.Store, provider SummaryProvider, cfg config.DedupConfig, mediaRoot string) *Manager {
	return &Manager{store: st, provider: provider, cfg: cfg, mediaRoot: mediaRoot}
}

// RunAll runs the media pass then the text pass for every dedup-enabled
// group, in that order (spec.md §4.5 "Order matters").
func (m *Manager) RunAll(ctx context.Context) error {
	groups, err := m.store.Groups(ctx)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}

	var firstErr error
	for _, g := range groups {
		if !g.Dedup {
			continue
		}
		if err := m.RunMediaHashPass(ctx, g.ID); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("group_id", g.ID).Msg("media hash pass failed")
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := m.RunTextHashPass(ctx, g.ID); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("group_id", g.ID).Msg("text hash pass failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func recordHashRegistration(registry string, duplicate bool) {
	outcome := "first_writer"
	if duplicate {
		outcome = "duplicate"
	}
	metrics.DedupHashRegistrations.WithLabelValues(registry, outcome).Inc()
}
