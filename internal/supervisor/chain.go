package supervisor

import (
	"context"
	"time"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/pauseflag"
)

const defaultDaemonStartupWait = 200 * time.Millisecond

// Chain is an ordered, looping sequence of script names (spec.md §4.8's
// `sync = read-sync -> channels -> messages -> telegraph` and
// `maintenance = thumbnails -> hashes -> search -> cleanup` examples). It
// implements suture.Service, so the root Tree restarts it on an unexpected
// panic/error the way it restarts any other supervised service.
type Chain struct {
	Name               string
	Stages             []string
	Registry           *Registry
	CrashLogDir        string
	PauseFilePath      string
	PauseCheckInterval time.Duration
	DaemonStartupWait  time.Duration
}

// Serve runs the chain's stages in order, looping indefinitely until ctx is
// canceled (spec.md §4.8: "runs indefinitely").
func (c *Chain) Serve(ctx context.Context) error {
	startupWait := c.DaemonStartupWait
	if startupWait == 0 {
		startupWait = defaultDaemonStartupWait
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, stageName := range c.Stages {
			if err := ctx.Err(); err != nil {
				return err
			}

			script, ok := c.Registry.Get(stageName)
			if !ok {
				logging.Ctx(ctx).Error().Str("chain", c.Name).Str("script", stageName).Msg("chain stage references an unregistered script")
				continue
			}

			for _, dep := range script.Dependencies {
				if c.Registry.IsRunning(dep) {
					continue
				}
				if err := c.Registry.EnsureDaemon(ctx, dep, startupWait); err != nil {
					logging.Ctx(ctx).Warn().Str("chain", c.Name).Str("script", stageName).Str("dependency", dep).Err(err).Msg("failed to auto-start daemon dependency")
				}
			}

			if err := pauseflag.Wait(ctx, c.PauseFilePath, c.PauseCheckInterval); err != nil {
				return err
			}

			start := time.Now()
			runErr := script.Run(ctx)
			end := time.Now()

			if runErr != nil {
				metrics.ChainStageRuns.WithLabelValues(c.Name, stageName, "error").Inc()
				logging.Ctx(ctx).Error().Str("chain", c.Name).Str("script", stageName).Err(runErr).Msg("chain stage exited with an error")
				if logErr := persistCrashLog(c.CrashLogDir, c.Name, stageName, runErr, start, end); logErr != nil {
					logging.Ctx(ctx).Error().Str("chain", c.Name).Str("script", stageName).Err(logErr).Msg("failed to persist crash log")
				} else {
					metrics.ChainCrashLogsWritten.WithLabelValues(c.Name, stageName).Inc()
				}
				break
			}
			metrics.ChainStageRuns.WithLabelValues(c.Name, stageName, "success").Inc()
		}
	}
}

// String implements fmt.Stringer, which suture uses to identify services in
// its own log messages.
func (c *Chain) String() string {
	return c.Name
}
