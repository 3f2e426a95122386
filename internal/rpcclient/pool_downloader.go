package rpcclient

import (
	"context"

	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

// PoolDownloader adapts a Pool to sync.DownloadClient, round-robining each
// call across the pool's connections so concurrent media downloads fan out
// over multiple sessions instead of serializing on one (spec.md §4.3's pool
// variant; spec.md §4.4.2 concurrent download fan-out).
type PoolDownloader struct {
	pool *Pool
}

// NewPoolDownloader wraps pool for concurrent download use.
func NewPoolDownloader(pool *Pool) *PoolDownloader {
	return &PoolDownloader{pool: pool}
}

func (d *PoolDownloader) DownloadMedia(ctx context.Context, p rpcproto.DownloadMediaParams) (rpcproto.PathResult, error) {
	return d.pool.Get().DownloadMedia(ctx, p)
}

func (d *PoolDownloader) GetMediaHash(ctx context.Context, p rpcproto.GetMediaHashParams) (rpcproto.MediaHashResult, error) {
	return d.pool.Get().GetMediaHash(ctx, p)
}
