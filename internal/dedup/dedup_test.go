package dedup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

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

// fakeProvider returns a scripted summary per call, so tests don't make a
// real network call to an AI provider.
type fakeProvider struct {
	summaries []string
	calls     int
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) IsConfigured() bool   { return true }
func (f *fakeProvider) GenerateSummary(ctx context.Context, text string, maxRetries int) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.summaries) {
		return f.summaries[i], nil
	}
	return f.summaries[len(f.summaries)-1], nil
}

func seedGroupAndChannel(t *testing.T, st *store.Store, groupID, channelID int64, dedup bool) {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertGroup(ctx, &models.Group{ID: groupID, Name: "g", Dedup: dedup}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	gid := groupID
	if err := st.UpsertChannel(ctx, &models.Channel{ID: channelID, Active: true, GroupID: &gid}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
}

// writeTempMediaFile writes content under mediaRoot using the same
// "<channel_id>/<file>" relative layout download_media produces (spec.md
// §6.3), and returns that relative path — the form stored in MediaPath.
func writeTempMediaFile(t *testing.T, mediaRoot string, channelID int64, name, content string) string {
	t.Helper()
	relPath := filepath.Join(fmt.Sprintf("%d", channelID), name)
	fullPath := filepath.Join(mediaRoot, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o700); err != nil {
		t.Fatalf("mkdir media dir: %v", err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp media file: %v", err)
	}
	return relPath
}

func TestRunMediaHashPassMarksFirstWriterThenDuplicate(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	seedGroupAndChannel(t, st, 1, 100, true)
	seedGroupAndChannel(t, st, 1, 200, true)

	mediaRoot := t.TempDir()
	pathA := writeTempMediaFile(t, mediaRoot, 100, "media.bin", "identical-bytes")
	pathB := writeTempMediaFile(t, mediaRoot, 200, "media.bin", "identical-bytes")

	// UnreadByGroup returns messages newest-first; msgA's later timestamp
	// makes it process (and claim first-writer status) before msgB.
	msgA := &models.Message{ChannelID: 100, ID: 1, Date: time.Now().Add(time.Second), MediaType: models.MediaPhoto, MediaPath: &pathA, MediaHashPending: models.HashQueued}
	msgB := &models.Message{ChannelID: 200, ID: 1, Date: time.Now(), MediaType: models.MediaPhoto, MediaPath: &pathB, MediaHashPending: models.HashQueued}
	if err := st.UpsertMessage(ctx, msgA); err != nil {
		t.Fatalf("UpsertMessage A: %v", err)
	}
	if err := st.UpsertMessage(ctx, msgB); err != nil {
		t.Fatalf("UpsertMessage B: %v", err)
	}

	mgr := NewManager(st, &fakeProvider{}, config.DedupConfig{MinMessageLength: 5, MessagesPerRun: 50}, mediaRoot)
	if err := mgr.RunMediaHashPass(ctx, 1); err != nil {
		t.Fatalf("RunMediaHashPass: %v", err)
	}

	a, err := st.GetMessage(ctx, 100, 1)
	if err != nil {
		t.Fatalf("GetMessage A: %v", err)
	}
	if a.MediaHash == nil || a.IsDuplicate() {
		t.Fatalf("expected channel 100's message to be the first writer, got %+v", a)
	}

	b, err := st.GetMessage(ctx, 200, 1)
	if err != nil {
		t.Fatalf("GetMessage B: %v", err)
	}
	if !b.IsDuplicate() || *b.DuplicateOfChannel != 100 {
		t.Fatalf("expected channel 200's message to be marked a duplicate of channel 100, got %+v", b)
	}
}

func TestRunMediaHashPassSkipsAlbumsWithNoLocalMedia(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	seedGroupAndChannel(t, st, 2, 300, true)

	msg := &models.Message{ChannelID: 300, ID: 1, Date: time.Now(), Text: "no media here", MediaHashPending: models.HashQueued}
	if err := st.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	mgr := NewManager(st, &fakeProvider{}, config.DedupConfig{MinMessageLength: 5, MessagesPerRun: 50}, "")
	if err := mgr.RunMediaHashPass(ctx, 2); err != nil {
		t.Fatalf("RunMediaHashPass: %v", err)
	}

	got, err := st.GetMessage(ctx, 300, 1)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.MediaHashPending != models.HashSkipped {
		t.Errorf("expected media_hash_pending=skipped, got %d", got.MediaHashPending)
	}
}

func TestRunTextHashPassRegistersFirstWriterAndFlagsDuplicate(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	seedGroupAndChannel(t, st, 3, 400, true)
	seedGroupAndChannel(t, st, 3, 500, true)

	// UnreadByGroup returns messages newest-first, so the registration
	// order below depends on which date sorts later, not channel id: msgA
	// carries the later timestamp so it is processed (and so claims
	// first-writer status) before msgB.
	text := "this is a long enough message about something interesting"
	msgA := &models.Message{ChannelID: 400, ID: 1, Date: time.Now().Add(time.Second), Text: text, ContentHashPending: models.HashQueued}
	msgB := &models.Message{ChannelID: 500, ID: 1, Date: time.Now(), Text: text, ContentHashPending: models.HashQueued}
	if err := st.UpsertMessage(ctx, msgA); err != nil {
		t.Fatalf("UpsertMessage A: %v", err)
	}
	if err := st.UpsertMessage(ctx, msgB); err != nil {
		t.Fatalf("UpsertMessage B: %v", err)
	}

	provider := &fakeProvider{summaries: []string{"news, weather, sports", "news, weather, sports"}}
	mgr := NewManager(st, provider, config.DedupConfig{MinMessageLength: 5, MessagesPerRun: 50}, "")
	if err := mgr.RunTextHashPass(ctx, 3); err != nil {
		t.Fatalf("RunTextHashPass: %v", err)
	}

	a, err := st.GetMessage(ctx, 400, 1)
	if err != nil {
		t.Fatalf("GetMessage A: %v", err)
	}
	if a.ContentHash == nil || a.IsDuplicate() {
		t.Fatalf("expected channel 400's message to be the first writer, got %+v", a)
	}

	b, err := st.GetMessage(ctx, 500, 1)
	if err != nil {
		t.Fatalf("GetMessage B: %v", err)
	}
	if !b.IsDuplicate() || *b.DuplicateOfChannel != 400 {
		t.Fatalf("expected channel 500's message to be marked a duplicate of channel 400, got %+v", b)
	}
}

func TestRunTextHashPassSkipsShortMessages(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	seedGroupAndChannel(t, st, 4, 600, true)

	msg := &models.Message{ChannelID: 600, ID: 1, Date: time.Now(), Text: "hi", ContentHashPending: models.HashQueued}
	if err := st.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	provider := &fakeProvider{}
	mgr := NewManager(st, provider, config.DedupConfig{MinMessageLength: 20, MessagesPerRun: 50}, "")
	if err := mgr.RunTextHashPass(ctx, 4); err != nil {
		t.Fatalf("RunTextHashPass: %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("expected no AI calls for a too-short message, got %d", provider.calls)
	}

	got, err := st.GetMessage(ctx, 600, 1)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.ContentHashPending != models.HashSkipped {
		t.Errorf("expected content_hash_pending=skipped, got %d", got.ContentHashPending)
	}
}

func TestRunTextHashPassAutoMarksReadOnTagExclusion(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	seedGroupAndChannel(t, st, 5, 700, true)
	if err := st.AddTagExclusion(ctx, "ad,promo"); err != nil {
		t.Fatalf("AddTagExclusion: %v", err)
	}

	msg := &models.Message{ChannelID: 700, ID: 1, Date: time.Now(), Text: "a message long enough to be summarized", ContentHashPending: models.HashQueued}
	if err := st.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	provider := &fakeProvider{summaries: []string{"ad, deal, promo, sale"}}
	mgr := NewManager(st, provider, config.DedupConfig{MinMessageLength: 5, MessagesPerRun: 50}, "")
	if err := mgr.RunTextHashPass(ctx, 5); err != nil {
		t.Fatalf("RunTextHashPass: %v", err)
	}

	got, err := st.GetMessage(ctx, 700, 1)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !got.Read {
		t.Error("expected message to be auto-marked read by the tag exclusion")
	}
	if got.ContentHash != nil {
		t.Error("expected an excluded message to never be registered in the content hash table")
	}
}

func TestCanonicalizeTagsSortsDedupesAndLowercases(t *testing.T) {
	got := joinTags(canonicalizeTags(" News, Weather, news ,Sports"))
	want := "news,sports,weather"
	if got != want {
		t.Errorf("canonicalizeTags = %q, want %q", got, want)
	}
}
