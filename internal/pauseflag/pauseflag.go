package pauseflag

import (
	"context"
	"os"
	"time"
)

const defaultCheckInterval = 500 * time.Millisecond

// Wait blocks while the sentinel file at path exists, polling at interval
// (spec.md §5 "spin-wait in coarse intervals (~0.5s)"). An empty path
// disables the check entirely — callers that aren't configured with a
// pause file proceed immediately. Returns early if ctx is canceled.
func Wait(ctx context.Context, path string, interval time.Duration) error {
	if path == "" {
		return nil
	}
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	for {
		if !Set(path) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Set reports whether the pause sentinel currently exists.
func Set(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
