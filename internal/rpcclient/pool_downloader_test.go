package rpcclient

import (
	"context"
	"testing"
	"time"

	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

func TestPoolDownloaderRoutesThroughPoolAndSurfacesFloodWait(t *testing.T) {
	addr := startEchoDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := DialPool(ctx, addr, 2)
	if err != nil {
		t.Fatalf("DialPool: %v", err)
	}
	defer pool.Close()

	downloader := NewPoolDownloader(pool)

	_, err = downloader.GetMediaHash(ctx, rpcproto.GetMediaHashParams{ChannelID: 1, MessageID: 2})
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := err.(*FloodWaitError); !ok {
		t.Fatalf("expected *FloodWaitError, got %T: %v", err, err)
	}

	_, err = downloader.DownloadMedia(ctx, rpcproto.DownloadMediaParams{ChannelID: 1, MessageID: 2, DestDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := err.(*FloodWaitError); !ok {
		t.Fatalf("expected *FloodWaitError, got %T: %v", err, err)
	}
}
