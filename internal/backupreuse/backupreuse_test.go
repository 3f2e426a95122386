package backupreuse

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestIndexChannelHashesLargeFilesOnly(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	backupRoot := t.TempDir()

	bigPath := writeFile(t, filepath.Join(backupRoot, "photos"), "big.jpg", minHashableMediaSize+1000)
	smallPath := writeFile(t, filepath.Join(backupRoot, "files"), "small.txt", 100)

	r := New(st)
	if err := r.IndexChannel(ctx, 1, backupRoot); err != nil {
		t.Fatalf("IndexChannel: %v", err)
	}

	big, err := st.BackupIndexEntry(ctx, 1, bigPath)
	if err != nil {
		t.Fatalf("BackupIndexEntry big: %v", err)
	}
	if big == nil || big.Hash == "" {
		t.Fatalf("expected a non-empty hash for the large file, got %+v", big)
	}

	small, err := st.BackupIndexEntry(ctx, 1, smallPath)
	if err != nil {
		t.Fatalf("BackupIndexEntry small: %v", err)
	}
	if small == nil || small.Hash != "" {
		t.Fatalf("expected an empty hash for the small file, got %+v", small)
	}
}

func TestIndexChannelSkipsUnchangedFiles(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	backupRoot := t.TempDir()
	path := writeFile(t, filepath.Join(backupRoot, "video_files"), "clip.mp4", minHashableMediaSize+500)

	r := New(st)
	if err := r.IndexChannel(ctx, 2, backupRoot); err != nil {
		t.Fatalf("IndexChannel: %v", err)
	}
	first, err := st.BackupIndexEntry(ctx, 2, path)
	if err != nil || first == nil {
		t.Fatalf("BackupIndexEntry: %v, %+v", err, first)
	}

	// A second pass over the unchanged file should leave its indexed hash
	// as it was.
	if err := r.IndexChannel(ctx, 2, backupRoot); err != nil {
		t.Fatalf("second IndexChannel: %v", err)
	}
	second, err := st.BackupIndexEntry(ctx, 2, path)
	if err != nil || second == nil {
		t.Fatalf("BackupIndexEntry after rescan: %v, %+v", err, second)
	}
	if second.Hash != first.Hash {
		t.Errorf("hash changed across an unchanged rescan: %q vs %q", first.Hash, second.Hash)
	}
}

func TestReuseCopiesMatchingFileIntoDestDir(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	backupRoot := t.TempDir()
	size := minHashableMediaSize + 2000
	srcPath := writeFile(t, filepath.Join(backupRoot, "photos"), "match.jpg", size)

	r := New(st)
	if err := r.IndexChannel(ctx, 3, backupRoot); err != nil {
		t.Fatalf("IndexChannel: %v", err)
	}
	entry, err := st.BackupIndexEntry(ctx, 3, srcPath)
	if err != nil || entry == nil {
		t.Fatalf("BackupIndexEntry: %v, %+v", err, entry)
	}

	mediaRoot := filepath.Join(t.TempDir(), "media")
	destDir := filepath.Join(mediaRoot, "3")
	got, err := r.Reuse(ctx, 3, destDir, entry.Hash, int64(size))
	if err != nil {
		t.Fatalf("Reuse: %v", err)
	}
	if got == nil {
		t.Fatal("expected a reused path, got nil")
	}
	if *got != filepath.Join("3", "match.jpg") {
		t.Errorf("expected a channel-relative path, got %q", *got)
	}
	if _, err := os.Stat(filepath.Join(mediaRoot, *got)); err != nil {
		t.Fatalf("expected copied file to exist at %s: %v", *got, err)
	}
}

func TestReuseSkipsSmallFiles(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	r := New(st)
	got, err := r.Reuse(ctx, 4, t.TempDir(), "deadbeef", 100)
	if err != nil {
		t.Fatalf("Reuse: %v", err)
	}
	if got != nil {
		t.Errorf("expected no reuse for a small file, got %v", *got)
	}
}

func TestReuseReturnsNilWhenFileMissingOnDisk(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	backupRoot := t.TempDir()
	size := minHashableMediaSize + 500
	srcPath := writeFile(t, filepath.Join(backupRoot, "files"), "gone.bin", size)

	r := New(st)
	if err := r.IndexChannel(ctx, 5, backupRoot); err != nil {
		t.Fatalf("IndexChannel: %v", err)
	}
	entry, err := st.BackupIndexEntry(ctx, 5, srcPath)
	if err != nil || entry == nil {
		t.Fatalf("BackupIndexEntry: %v, %+v", err, entry)
	}

	if err := os.Remove(srcPath); err != nil {
		t.Fatalf("remove source: %v", err)
	}

	got, err := r.Reuse(ctx, 5, t.TempDir(), entry.Hash, int64(size))
	if err != nil {
		t.Fatalf("Reuse: %v", err)
	}
	if got != nil {
		t.Errorf("expected no reuse once the source file is gone, got %v", *got)
	}
}
