package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/righttechsoft/tgfeed/internal/config"
	"github.com/righttechsoft/tgfeed/internal/models"
	"github.com/righttechsoft/tgfeed/internal/store"
)

var testStoreSemaphore = make(chan struct{}, 4)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	testStoreSemaphore <- struct{}{}
	t.Cleanup(func() { <-testStoreSemaphore })

	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path, time.Second)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testConfig() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		ThumbnailBatchSize: 50,
		TelegraphBatchSize: 20,
		RetentionMediaAge:  7 * 24 * time.Hour,
		RetentionRowAge:    30 * 24 * time.Hour,
		FTSBatchSize:       500,
	}
}

// fakeProbe scripts a fixed duration and writes a small valid JPEG for every
// extracted frame, so the grid compositor has real image bytes to decode.
type fakeProbe struct {
	duration time.Duration
}

func (f fakeProbe) Duration(ctx context.Context, videoPath string) (time.Duration, error) {
	return f.duration, nil
}

func (f fakeProbe) ExtractFrame(ctx context.Context, videoPath string, at time.Duration, destPath string) error {
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	for y := 0; y < 36; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 7), B: 100, A: 255})
		}
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()
	return jpeg.Encode(out, img, nil)
}

type fakePageFetcher struct {
	pages  map[string]string
	assets map[string][]byte
}

func (f fakePageFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if body, ok := f.pages[url]; ok {
		return io.NopCloser(strings.NewReader(body)), nil
	}
	if data, ok := f.assets[url]; ok {
		return io.NopCloser(strings.NewReader(string(data))), nil
	}
	return nil, http.ErrMissingFile
}

func TestRunThumbnailsGeneratesGridForLongEnoughVideo(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	if err := st.UpsertChannel(ctx, &models.Channel{ID: 10, Active: true}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	mediaRoot := t.TempDir()
	videoPath := writeTempFile(t, mediaRoot, 10, "clip.mp4", "fake video bytes")
	msg := &models.Message{ChannelID: 10, ID: 1, Date: time.Now(), MediaType: models.MediaVideo, MediaPath: &videoPath}
	if err := st.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	mgr := NewManager(st, testConfig(), mediaRoot, t.TempDir(), fakeProbe{duration: 10 * time.Second}, nil)
	if err := mgr.RunThumbnails(ctx); err != nil {
		t.Fatalf("RunThumbnails: %v", err)
	}

	got, err := st.GetMessage(ctx, 10, 1)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.VideoThumbnailPath == nil {
		t.Fatal("expected a thumbnail path to be recorded")
	}
	if _, err := os.Stat(filepath.Join(mediaRoot, *got.VideoThumbnailPath)); err != nil {
		t.Fatalf("expected thumbnail file to exist: %v", err)
	}
}

func TestRunThumbnailsSkipsTooShortVideo(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	if err := st.UpsertChannel(ctx, &models.Channel{ID: 11, Active: true}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	mediaRoot := t.TempDir()
	videoPath := writeTempFile(t, mediaRoot, 11, "clip.mp4", "x")
	msg := &models.Message{ChannelID: 11, ID: 1, Date: time.Now(), MediaType: models.MediaVideo, MediaPath: &videoPath}
	if err := st.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	mgr := NewManager(st, testConfig(), mediaRoot, t.TempDir(), fakeProbe{duration: 200 * time.Millisecond}, nil)
	if err := mgr.RunThumbnails(ctx); err != nil {
		t.Fatalf("RunThumbnails: %v", err)
	}

	got, err := st.GetMessage(ctx, 11, 1)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.VideoThumbnailPath != nil {
		t.Error("expected no thumbnail for a sub-1s video")
	}
}

func TestRunTelegraphArchivalEmbedsImagesAndMarksDownloaded(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	if err := st.UpsertChannel(ctx, &models.Channel{ID: 20, Active: true}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	msg := &models.Message{ChannelID: 20, ID: 1, Date: time.Now(), Text: "see https://telegra.ph/Some-Page-01-01"}
	if err := st.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	page := `<html><head><link rel="stylesheet" href="/style.css"></head>
<body><img src="/image.jpg"><script>track()</script></body></html>`
	fetcher := fakePageFetcher{
		pages: map[string]string{"https://telegra.ph/Some-Page-01-01": page},
		assets: map[string][]byte{
			"https://telegra.ph/style.css": []byte("body{color:red}"),
			"https://telegra.ph/image.jpg": []byte("fake jpeg bytes"),
		},
	}

	mgr := NewManager(st, testConfig(), t.TempDir(), t.TempDir(), nil, fetcher)
	if err := mgr.RunTelegraphArchival(ctx); err != nil {
		t.Fatalf("RunTelegraphArchival: %v", err)
	}

	got, err := st.GetMessage(ctx, 20, 1)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !got.HTMLDownloaded {
		t.Fatal("expected html_downloaded to be set after a successful archive")
	}
}

func TestRunRetentionPhaseAClearsMediaKeepsLatestAndBookmarked(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	if err := st.UpsertChannel(ctx, &models.Channel{ID: 30, Active: true, DownloadAll: false}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	old := time.Now().Add(-10 * 24 * time.Hour)
	mediaRoot := t.TempDir()
	path1 := writeTempFile(t, mediaRoot, 30, "old.bin", "old media")
	path2 := writeTempFile(t, mediaRoot, 30, "bookmarked.bin", "bookmarked media")
	path3 := writeTempFile(t, mediaRoot, 30, "latest.bin", "latest media")

	msgOld := &models.Message{ChannelID: 30, ID: 1, Date: old, MediaPath: &path1, ReadAt: &old}
	msgBookmarked := &models.Message{ChannelID: 30, ID: 2, Date: old, MediaPath: &path2, ReadAt: &old, Bookmarked: true}
	msgLatest := &models.Message{ChannelID: 30, ID: 3, Date: old, MediaPath: &path3, ReadAt: &old}
	for _, m := range []*models.Message{msgOld, msgBookmarked, msgLatest} {
		if err := st.UpsertMessage(ctx, m); err != nil {
			t.Fatalf("UpsertMessage %d: %v", m.ID, err)
		}
	}

	mgr := NewManager(st, testConfig(), mediaRoot, t.TempDir(), nil, nil)
	if err := mgr.RunRetention(ctx); err != nil {
		t.Fatalf("RunRetention: %v", err)
	}

	cleared, err := st.GetMessage(ctx, 30, 1)
	if err != nil {
		t.Fatalf("GetMessage 1: %v", err)
	}
	if cleared.MediaPath != nil {
		t.Error("expected old non-bookmarked message's media to be cleared")
	}
	if _, err := os.Stat(filepath.Join(mediaRoot, path1)); !os.IsNotExist(err) {
		t.Errorf("expected phase A to unlink the on-disk file, stat err = %v", err)
	}

	bookmarked, err := st.GetMessage(ctx, 30, 2)
	if err != nil {
		t.Fatalf("GetMessage 2: %v", err)
	}
	if bookmarked.MediaPath == nil {
		t.Error("expected bookmarked message's media to survive phase A")
	}
	if _, err := os.Stat(filepath.Join(mediaRoot, path2)); err != nil {
		t.Errorf("expected bookmarked file to survive on disk: %v", err)
	}

	latest, err := st.GetMessage(ctx, 30, 3)
	if err != nil {
		t.Fatalf("GetMessage 3: %v", err)
	}
	if latest.MediaPath == nil {
		t.Error("expected the latest row's media to survive phase A")
	}
	if _, err := os.Stat(filepath.Join(mediaRoot, path3)); err != nil {
		t.Errorf("expected latest-row file to survive on disk: %v", err)
	}
}

func TestRunRetentionPhaseBDeletesVeryOldRows(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	if err := st.UpsertChannel(ctx, &models.Channel{ID: 31, Active: true}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	veryOld := time.Now().Add(-40 * 24 * time.Hour)
	mediaRoot := t.TempDir()
	oldPath := writeTempFile(t, mediaRoot, 31, "old.bin", "very old media")
	msgOld := &models.Message{ChannelID: 31, ID: 1, Date: veryOld, MediaPath: &oldPath, ReadAt: &veryOld}
	msgLatest := &models.Message{ChannelID: 31, ID: 2, Date: veryOld, ReadAt: &veryOld}
	for _, m := range []*models.Message{msgOld, msgLatest} {
		if err := st.UpsertMessage(ctx, m); err != nil {
			t.Fatalf("UpsertMessage %d: %v", m.ID, err)
		}
	}

	mgr := NewManager(st, testConfig(), mediaRoot, t.TempDir(), nil, nil)
	if err := mgr.RunRetention(ctx); err != nil {
		t.Fatalf("RunRetention: %v", err)
	}

	deleted, err := st.GetMessage(ctx, 31, 1)
	if err != nil {
		t.Fatalf("GetMessage 1: %v", err)
	}
	if deleted != nil {
		t.Error("expected the old non-latest row to be deleted")
	}
	if _, err := os.Stat(filepath.Join(mediaRoot, oldPath)); !os.IsNotExist(err) {
		t.Errorf("expected phase B to unlink the on-disk file, stat err = %v", err)
	}

	latest, err := st.GetMessage(ctx, 31, 2)
	if err != nil {
		t.Fatalf("GetMessage 2: %v", err)
	}
	if latest == nil {
		t.Error("expected the latest row to survive phase B")
	}
}

func TestRunSearchIndexIndexesMissingMessages(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	if err := st.UpsertChannel(ctx, &models.Channel{ID: 40, Active: true}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	for i := int64(1); i <= 3; i++ {
		msg := &models.Message{ChannelID: 40, ID: i, Date: time.Now(), Text: "hello world"}
		if err := st.UpsertMessage(ctx, msg); err != nil {
			t.Fatalf("UpsertMessage %d: %v", i, err)
		}
	}

	// Every UpsertMessage already indexes its own row; delete the FTS rows
	// directly to simulate a backlog the indexer needs to catch up on.
	raw, err := sql.Open("sqlite3", st.Path())
	if err != nil {
		t.Fatalf("open raw connection: %v", err)
	}
	if _, err := raw.Exec("DELETE FROM messages_fts WHERE channel_id = ?", int64(40)); err != nil {
		t.Fatalf("clear fts backlog: %v", err)
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw connection: %v", err)
	}

	all, err := st.AllMessageIDs(ctx, 40)
	if err != nil {
		t.Fatalf("AllMessageIDs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(all))
	}
	indexedBefore, err := st.IndexedMessageIDs(ctx, 40)
	if err != nil {
		t.Fatalf("IndexedMessageIDs before: %v", err)
	}
	if len(indexedBefore) != 0 {
		t.Fatalf("expected an empty fts backlog to start, got %d", len(indexedBefore))
	}

	mgr := NewManager(st, testConfig(), t.TempDir(), t.TempDir(), nil, nil)
	if err := mgr.RunSearchIndex(ctx); err != nil {
		t.Fatalf("RunSearchIndex: %v", err)
	}

	indexed, err := st.IndexedMessageIDs(ctx, 40)
	if err != nil {
		t.Fatalf("IndexedMessageIDs: %v", err)
	}
	if len(indexed) != 3 {
		t.Errorf("expected 3 indexed ids, got %d", len(indexed))
	}
}

// writeTempFile writes content under mediaRoot using the "<channel_id>/<name>"
// relative layout media_path is actually stored in (spec.md §6.3), and
// returns that relative path.
func writeTempFile(t *testing.T, mediaRoot string, channelID int64, name, content string) string {
	t.Helper()
	relPath := filepath.Join(fmt.Sprintf("%d", channelID), name)
	fullPath := filepath.Join(mediaRoot, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o700); err != nil {
		t.Fatalf("mkdir media dir: %v", err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return relPath
}
