package maintenance

import (
	"context"
	"fmt"

	"github.com/righttechsoft/tgfeed/internal/config"
	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/store"
)

// Manager runs the four maintenance workers (C7) against a store.
type Manager struct {
	store         *store.Store
	cfg           config.MaintenanceConfig
	mediaRoot     string
	telegraphRoot string
	probe         VideoProbe
	pages         PageFetcher
}

// NewManager builds a Manager. probe/pages default to the real ffmpeg/HTTP
// implementations when nil, letting tests substitute fakes.
func NewManager(st *store.Store, cfg config.MaintenanceConfig, mediaRoot, telegraphRoot string, probe VideoProbe, pages PageFetcher) *Manager {
	if probe == nil {
		probe = FFmpegProbe{}
	}
	if pages == nil {
		pages = HTTPPageFetcher{}
	}
	return &Manager{
		store:         st,
		cfg:           cfg,
		mediaRoot:     mediaRoot,
		telegraphRoot: telegraphRoot,
		probe:         probe,
		pages:         pages,
	}
}

// RunAll runs every maintenance worker once, in spec.md §4.7's listed order,
// logging and continuing past a worker's error so one broken worker doesn't
// block the others (mirrors internal/sync.Manager.RunAll's resilience
// posture).
func (m *Manager) RunAll(ctx context.Context) error {
	workers := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"thumbnails", m.RunThumbnails},
		{"telegraph", m.RunTelegraphArchival},
		{"retention", m.RunRetention},
		{"search_index", m.RunSearchIndex},
	}

	var firstErr error
	for _, w := range workers {
		err := w.fn(ctx)
		outcome := "success"
		if err != nil {
			outcome = "error"
			logging.Ctx(ctx).Error().Err(err).Str("worker", w.name).Msg("maintenance worker failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("worker %s: %w", w.name, err)
			}
		}
		metrics.MaintenanceRunsTotal.WithLabelValues(w.name, outcome).Inc()
	}
	return firstErr
}
