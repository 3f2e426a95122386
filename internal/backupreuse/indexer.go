package backupreuse

import (
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/models"
)

// backupSubtrees lists the three directories a channel's backup_path is
// expected to contain (spec.md §4.6 "scan three subtrees").
var backupSubtrees = []string{"photos", "files", "video_files"}

// IndexChannel walks channelID's backup subtrees and records each file's
// (path, size, hash) in the channel's backup-hash table. A path whose
// indexed size already matches the file on disk is never rehashed — this
// is what makes repeated calls over the same backup tree cheap (spec.md
// §4.6 "incremental: never rehash already-indexed paths").
func (r *Reuser) IndexChannel(ctx context.Context, channelID int64, backupPath string) error {
	total := 0
	for _, sub := range backupSubtrees {
		root := filepath.Join(backupPath, sub)
		n, err := r.indexSubtree(ctx, channelID, root)
		if err != nil {
			logging.Ctx(ctx).Warn().Int64("channel_id", channelID).Str("subtree", sub).Err(err).Msg("backup subtree index failed")
		}
		total += n
	}
	metrics.BackupIndexSize.WithLabelValues(fmt.Sprint(channelID)).Set(float64(total))
	return nil
}

func (r *Reuser) indexSubtree(ctx context.Context, channelID int64, root string) (int, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read subtree %s: %w", root, err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := r.indexFile(ctx, channelID, path); err != nil {
			logging.Ctx(ctx).Warn().Int64("channel_id", channelID).Str("path", path).Err(err).Msg("backup file index failed")
			continue
		}
		count++
	}
	return count, nil
}

func (r *Reuser) indexFile(ctx context.Context, channelID int64, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	existing, err := r.store.BackupIndexEntry(ctx, channelID, path)
	if err != nil {
		return fmt.Errorf("lookup existing index entry: %w", err)
	}
	if existing != nil && existing.FileSize == info.Size() {
		return nil
	}

	hash := ""
	if info.Size() > minHashableMediaSize {
		hash, err = partialHash(path)
		if err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
		}
	}

	return r.store.UpsertBackupIndexEntry(ctx, channelID, models.BackupIndexEntry{
		FilePath: path,
		FileSize: info.Size(),
		Hash:     hash,
	})
}

// partialHash MD5-sums the first 64 KiB of path, matching the remote
// partial-chunk hash a not-yet-downloaded file would be compared against.
func partialHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // not a security boundary, just a fingerprint
	if _, err := io.CopyN(h, f, minHashableMediaSize); err != nil && err != io.EOF {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
