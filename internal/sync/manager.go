package sync

import (
	"context"
	"fmt"

	"github.com/righttechsoft/tgfeed/internal/backupreuse"
	"github.com/righttechsoft/tgfeed/internal/config"
	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/rpcproto"
	"github.com/righttechsoft/tgfeed/internal/store"
)

// RPCClient is the subset of rpcclient.Client/Pool the sync stages call
// through, kept as an interface so tests substitute a fake instead of a
// real TCP round trip.
type RPCClient interface {
	IterDialogs(ctx context.Context, p rpcproto.IterDialogsParams) ([]rpcproto.DialogChannel, error)
	DownloadProfilePhoto(ctx context.Context, p rpcproto.DownloadProfilePhotoParams) (rpcproto.PathResult, error)
	IterMessages(ctx context.Context, p rpcproto.IterMessagesParams) ([]rpcproto.MessageRecord, error)
	DownloadMedia(ctx context.Context, p rpcproto.DownloadMediaParams) (rpcproto.PathResult, error)
	GetMediaHash(ctx context.Context, p rpcproto.GetMediaHashParams) (rpcproto.MediaHashResult, error)
	SendReadAcknowledge(ctx context.Context, p rpcproto.ReadAcknowledgeParams) (rpcproto.SuccessResult, error)
	GetReadState(ctx context.Context, p rpcproto.ReadStateParams) (rpcproto.ReadStateResult, error)
}

// DownloadClient is the parallel-capable subset used for concurrent media
// downloads during forward sync and backfill; rpcclient.Pool satisfies
// this by round-robining over its connections.
type DownloadClient interface {
	DownloadMedia(ctx context.Context, p rpcproto.DownloadMediaParams) (rpcproto.PathResult, error)
	GetMediaHash(ctx context.Context, p rpcproto.GetMediaHashParams) (rpcproto.MediaHashResult, error)
}

// Manager runs the four sync stages against a store and an RPC client.
type Manager struct {
	store         *store.Store
	client        RPCClient
	downloads     DownloadClient
	cfg           config.SyncConfig
	mediaRoot     string
	accessHash    map[int64]int64 // channel_id -> access_hash, populated by discovery
	backups       *backupreuse.Reuser
	pauseFilePath string
}

// NewManager builds a Manager. pauseFilePath is the supervisor's pause
// sentinel path (config.SupervisorConfig.PauseFilePath); an empty string
// disables pause checking entirely, which is what existing tests expect.
func NewManager(st *store.Store, client RPCClient, downloads DownloadClient, cfg config.SyncConfig, mediaRoot, pauseFilePath string) *Manager {
	return &Manager{
		store:         st,
		client:        client,
		downloads:     downloads,
		cfg:           cfg,
		mediaRoot:     mediaRoot,
		accessHash:    make(map[int64]int64),
		backups:       backupreuse.New(st),
		pauseFilePath: pauseFilePath,
	}
}

// RunAll runs discovery, forward sync, backfill, and read acknowledgement
// once each, in that order, logging and continuing past a stage's error so
// one broken channel does not block the others (spec.md §4.8 "On
// non-zero exit ... the chain continues to the next iteration" — the same
// resilience posture applied within a single run here).
func (m *Manager) RunAll(ctx context.Context) error {
	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"discovery", m.RunDiscovery},
		{"forward", m.RunForwardSync},
		{"backfill", m.RunBackfill},
		{"read_ack", m.RunReadAcknowledge},
	}

	var firstErr error
	for _, s := range stages {
		err := s.fn(ctx)
		outcome := "success"
		if err != nil {
			outcome = "error"
			logging.Ctx(ctx).Error().Err(err).Str("stage", s.name).Msg("sync stage failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("stage %s: %w", s.name, err)
			}
		}
		metrics.SyncStageRuns.WithLabelValues(s.name, outcome).Inc()
	}
	return firstErr
}
