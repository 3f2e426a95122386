package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/righttechsoft/tgfeed/internal/models"
)

// testStoreSemaphore serializes store creation across parallel tests; the
// CGO sqlite3 driver can contend under CI resource pressure the same way
// the teacher's DuckDB semaphore guards against (database_test.go).
var testStoreSemaphore = make(chan struct{}, 4)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	testStoreSemaphore <- struct{}{}
	t.Cleanup(func() { <-testStoreSemaphore })

	path := filepath.Join(t.TempDir(), "tgfeed.db")
	s, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesGlobalSchema(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.Channels(context.Background()); err != nil {
		t.Fatalf("Channels: %v", err)
	}
	if _, err := s.Groups(context.Background()); err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if _, err := s.Credentials(context.Background()); err != nil {
		t.Fatalf("Credentials: %v", err)
	}
}

func TestUpsertMessageThenGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	msg := &models.Message{
		ChannelID: 100,
		ID:        1,
		Date:      time.Now().UTC().Truncate(time.Second),
		Text:      "hello",
	}
	if err := s.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	got, err := s.GetMessage(ctx, 100, 1)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got == nil {
		t.Fatal("expected message, got nil")
	}
	if got.Text != "hello" {
		t.Errorf("Text = %q, want %q", got.Text, "hello")
	}
}

func TestUpsertMessageOverwritesOnConflict(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := &models.Message{ChannelID: 1, ID: 5, Date: time.Now().UTC(), Text: "v1"}
	if err := s.UpsertMessage(ctx, base); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	base.Text = "v2"
	if err := s.UpsertMessage(ctx, base); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetMessage(ctx, 1, 5)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Text != "v2" {
		t.Errorf("Text = %q, want %q (edit should overwrite)", got.Text, "v2")
	}
}

func TestGetMessageMissingReturnsNilNotError(t *testing.T) {
	s := setupTestStore(t)
	got, err := s.GetMessage(context.Background(), 1, 999)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing message, got %+v", got)
	}
}

func TestChannelOldestMessageID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{30, 10, 20} {
		msg := &models.Message{ChannelID: 7, ID: id, Date: time.Now().UTC()}
		if err := s.UpsertMessage(ctx, msg); err != nil {
			t.Fatalf("upsert %d: %v", id, err)
		}
	}

	oldest, ok, err := s.ChannelOldestMessageID(ctx, 7)
	if err != nil {
		t.Fatalf("ChannelOldestMessageID: %v", err)
	}
	if !ok || oldest != 10 {
		t.Errorf("oldest = %d, ok=%v; want 10, true", oldest, ok)
	}
}

func TestRegisterContentHashFirstWriterWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	owner, err := s.RegisterContentHash(ctx, "abc", 1, 10, 100, now)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	if owner != nil {
		t.Fatalf("expected nil owner (first writer), got %+v", owner)
	}

	owner, err = s.RegisterContentHash(ctx, "abc", 1, 20, 200, now)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if owner == nil {
		t.Fatal("expected existing owner on second register, got nil")
	}
	if owner.ChannelID != 10 || owner.MessageID != 100 {
		t.Errorf("owner = %+v, want channel 10 message 100", owner)
	}
}

func TestRegisterContentHashIsolatedByGroup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.RegisterContentHash(ctx, "abc", 1, 10, 100, now); err != nil {
		t.Fatalf("register in group 1: %v", err)
	}

	owner, err := s.RegisterContentHash(ctx, "abc", 2, 20, 200, now)
	if err != nil {
		t.Fatalf("register in group 2: %v", err)
	}
	if owner != nil {
		t.Errorf("expected group 2 to be unaffected by group 1's registration, got owner %+v", owner)
	}
}

func TestRegroupAlbumsPartitionsByChannelAndGroupedID(t *testing.T) {
	gid := int64(55)
	now := time.Now().UTC()
	photo := "p1.jpg"
	msgs := []*models.Message{
		{ChannelID: 1, ID: 3, Date: now, GroupedID: &gid, MediaType: models.MediaPhoto, MediaPath: &photo},
		{ChannelID: 1, ID: 1, Date: now, GroupedID: &gid, Text: "caption"},
		{ChannelID: 1, ID: 2, Date: now, GroupedID: &gid, MediaType: models.MediaPhoto, MediaPath: &photo},
		{ChannelID: 1, ID: 10, Date: now, Text: "standalone"},
	}

	albums := RegroupAlbums(msgs, KeepOldest)
	if len(albums) != 2 {
		t.Fatalf("expected 2 albums (one grouped, one singleton), got %d", len(albums))
	}

	var grouped *models.Album
	for _, a := range albums {
		if a.BaseMessageID == 1 {
			grouped = a
		}
	}
	if grouped == nil {
		t.Fatal("expected an album based at message 1 (lowest id in the group)")
	}
	if grouped.Text != "caption" {
		t.Errorf("Text = %q, want %q (first non-empty text among members)", grouped.Text, "caption")
	}
	if len(grouped.MediaItems) != 2 {
		t.Errorf("MediaItems = %d, want 2", len(grouped.MediaItems))
	}
	if len(grouped.AlbumMessageIDs) != 3 {
		t.Errorf("AlbumMessageIDs = %v, want 3 members", grouped.AlbumMessageIDs)
	}
}

func TestEnsureChannelTableIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.ensureChannelTable(ctx, 42)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent ensureChannelTable: %v", err)
		}
	}
}

func TestSearchMessagesFindsByTrigramAndSkipsDeletedRows(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	groupID := int64(7)
	if err := s.UpsertGroup(ctx, &models.Group{ID: groupID, Name: "news"}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	if err := s.UpsertChannel(ctx, &models.Channel{ID: 100, Active: true, GroupID: &groupID}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	if err := s.UpsertChannel(ctx, &models.Channel{ID: 200, Active: true, GroupID: &groupID}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	msgs := []*models.Message{
		{ChannelID: 100, ID: 1, Date: now, Text: "breaking news about wildfires"},
		{ChannelID: 200, ID: 2, Date: now.Add(time.Second), Text: "quarterly earnings report"},
		{ChannelID: 100, ID: 3, Date: now.Add(2 * time.Second), Text: "another wildfire update"},
	}
	for _, m := range msgs {
		if err := s.UpsertMessage(ctx, m); err != nil {
			t.Fatalf("UpsertMessage: %v", err)
		}
	}

	got, err := s.SearchMessages(ctx, groupID, "wildfire", 10)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d: %+v", len(got), got)
	}
	if got[0].ID != 3 {
		t.Errorf("expected newest hit first (id 3), got id %d", got[0].ID)
	}

	if err := s.DeleteMessage(ctx, 100, 3); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	got, err = s.SearchMessages(ctx, groupID, "wildfire", 10)
	if err != nil {
		t.Fatalf("SearchMessages after delete: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected only message 1 to remain, got %+v", got)
	}
}

func TestSearchMessagesEmptyQueryReturnsNil(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	got, err := s.SearchMessages(ctx, 1, "", 10)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for empty query, got %+v", got)
	}
}

func TestUnreadByGroupReturnsAlbumsNotRawMessages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	groupID := int64(9)
	if err := s.UpsertGroup(ctx, &models.Group{ID: groupID, Name: "feed"}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	if err := s.UpsertChannel(ctx, &models.Channel{ID: 300, Active: true, GroupID: &groupID}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	gid := int64(77)
	now := time.Now().UTC().Truncate(time.Second)
	photo := "p.jpg"
	members := []*models.Message{
		{ChannelID: 300, ID: 2, Date: now, GroupedID: &gid, MediaType: models.MediaPhoto, MediaPath: &photo},
		{ChannelID: 300, ID: 1, Date: now, GroupedID: &gid, Text: "album caption"},
	}
	for _, m := range members {
		if err := s.UpsertMessage(ctx, m); err != nil {
			t.Fatalf("UpsertMessage: %v", err)
		}
	}
	standalone := &models.Message{ChannelID: 300, ID: 5, Date: now.Add(time.Minute), Text: "later standalone"}
	if err := s.UpsertMessage(ctx, standalone); err != nil {
		t.Fatalf("UpsertMessage standalone: %v", err)
	}

	albums, err := s.UnreadByGroup(ctx, groupID, 10)
	if err != nil {
		t.Fatalf("UnreadByGroup: %v", err)
	}
	if len(albums) != 2 {
		t.Fatalf("expected 2 albums (one grouped, one singleton), got %d: %+v", len(albums), albums)
	}
	if albums[0].BaseMessageID != 5 {
		t.Errorf("expected the later standalone message first (newest), got base %d", albums[0].BaseMessageID)
	}
	if albums[1].BaseMessageID != 1 || len(albums[1].AlbumMessageIDs) != 2 {
		t.Errorf("expected a regrouped album based at message 1 with 2 members, got %+v", albums[1])
	}
}

func TestUnreadCountByGroupMatchesUnreadByGroupLength(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	groupID := int64(11)
	if err := s.UpsertGroup(ctx, &models.Group{ID: groupID, Name: "feed"}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	if err := s.UpsertChannel(ctx, &models.Channel{ID: 400, Active: true, GroupID: &groupID}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	gid := int64(88)
	now := time.Now().UTC().Truncate(time.Second)
	for _, id := range []int64{1, 2} {
		m := &models.Message{ChannelID: 400, ID: id, Date: now, GroupedID: &gid}
		if err := s.UpsertMessage(ctx, m); err != nil {
			t.Fatalf("UpsertMessage %d: %v", id, err)
		}
	}
	if err := s.UpsertMessage(ctx, &models.Message{ChannelID: 400, ID: 3, Date: now.Add(time.Minute)}); err != nil {
		t.Fatalf("UpsertMessage 3: %v", err)
	}

	albums, err := s.UnreadByGroup(ctx, groupID, 0)
	if err != nil {
		t.Fatalf("UnreadByGroup: %v", err)
	}
	count, err := s.UnreadCountByGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("UnreadCountByGroup: %v", err)
	}
	if count != len(albums) {
		t.Errorf("UnreadCountByGroup = %d, want len(albums) = %d", count, len(albums))
	}
}

func TestExpandDuplicateVariantsDropsDuplicateAlreadyInInput(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	groupID := int64(13)
	if err := s.UpsertGroup(ctx, &models.Group{ID: groupID, Name: "feed"}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	if err := s.UpsertChannel(ctx, &models.Channel{ID: 500, Active: true, GroupID: &groupID}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	if err := s.UpsertChannel(ctx, &models.Channel{ID: 501, Active: true, GroupID: &groupID}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	original := &models.Message{ChannelID: 500, ID: 1, Date: now, Text: "original"}
	if err := s.UpsertMessage(ctx, original); err != nil {
		t.Fatalf("UpsertMessage original: %v", err)
	}
	dupChannel, dupMessage := int64(500), int64(1)
	duplicate := &models.Message{
		ChannelID: 501, ID: 2, Date: now.Add(time.Second), Text: "dup",
		DuplicateOfChannel: &dupChannel, DuplicateOfMessage: &dupMessage,
	}
	if err := s.UpsertMessage(ctx, duplicate); err != nil {
		t.Fatalf("UpsertMessage duplicate: %v", err)
	}

	// Both the original and its duplicate are present in the caller's input
	// album list — the input the pointer-identity bug used to mishandle,
	// since buildDuplicateMap re-queries its own *models.Album for "dup".
	albums := []*models.Album{models.Singleton(original), models.Singleton(duplicate)}

	out, err := s.ExpandDuplicateVariants(ctx, albums, groupID)
	if err != nil {
		t.Fatalf("ExpandDuplicateVariants: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected the duplicate to be absorbed, leaving 1 album, got %d: %+v", len(out), out)
	}
	if out[0].BaseMessageID != original.ID {
		t.Errorf("expected the surviving album to be the original, got base %d", out[0].BaseMessageID)
	}
	if len(out[0].Variants) != 2 {
		t.Errorf("expected the original's Variants to list both itself and the duplicate, got %d", len(out[0].Variants))
	}
}
