package backupreuse

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
)

// minHashableMediaSize is the spec.md §4.6 threshold below which a file is
// never hash-matched against the backup index — small remote files are
// always downloaded directly.
const minHashableMediaSize = 64 * 1024

// Reuse looks up a channel-scoped backup index entry by hash and, if the
// file still exists on disk, copies it into destDir. It returns the copy's
// path relative to destDir's parent (the "<channel_id>/<file>" form
// download_media itself stores, spec.md §6.3) rather than destDir's
// absolute path, so media_path stays in one convention regardless of which
// acquisition route populated it. It returns (nil, nil) when size is at or
// below the hashable threshold, or when no live on-disk match is found —
// both cases mean "the caller should fall back to a normal download"
// (spec.md §4.6 "Match").
func (r *Reuser) Reuse(ctx context.Context, channelID int64, destDir string, hash string, size int64) (*string, error) {
	if size <= minHashableMediaSize {
		return nil, nil
	}

	entries, err := r.store.BackupIndexEntriesByHash(ctx, channelID, hash)
	if err != nil {
		return nil, fmt.Errorf("backup index lookup: %w", err)
	}

	for _, e := range entries {
		if e.FileSize != size {
			continue
		}
		if _, err := os.Stat(e.FilePath); err != nil {
			continue
		}
		if _, err := r.copyIntoDir(e.FilePath, destDir); err != nil {
			logging.Ctx(ctx).Warn().Int64("channel_id", channelID).Str("source", e.FilePath).Err(err).Msg("backup reuse copy failed")
			continue
		}
		relPath := filepath.Join(fmt.Sprint(channelID), filepath.Base(e.FilePath))
		metrics.BackupReuseHits.Inc()
		return &relPath, nil
	}
	return nil, nil
}

// copyIntoDir copies src into destDir under its own base name, returning the
// new file's path. destDir is created if it does not yet exist.
func (r *Reuser) copyIntoDir(src, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir %s: %w", destDir, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	dest := filepath.Join(destDir, filepath.Base(src))
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create dest %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("copy %s -> %s: %w", src, dest, err)
	}
	return dest, nil
}
