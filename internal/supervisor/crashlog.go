package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// persistCrashLog writes a timestamped crash-log file recording a script's
// non-zero exit (spec.md §4.8 step 3). Scripts run in-process rather than as
// external subprocesses, so there is no real stdout/stderr to capture; the
// log instead records the returned error and the run's duration, which is
// the in-process equivalent.
func persistCrashLog(dir, chainName, scriptName string, runErr error, start, end time.Time) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create crash log dir: %w", err)
	}

	filename := fmt.Sprintf("%d_%s_%s.log", start.UnixNano(), chainName, scriptName)
	path := filepath.Join(dir, filename)

	content := fmt.Sprintf("chain: %s\nscript: %s\nstarted: %s\nended: %s\nduration: %s\nerror: %v\n",
		chainName, scriptName, start.Format(time.RFC3339), end.Format(time.RFC3339), end.Sub(start), runErr)

	return os.WriteFile(path, []byte(content), 0o644)
}
