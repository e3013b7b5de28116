package cli

import (
	"context"

	"github.com/dl-alexandre/pdsync/internal/config"
	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/rclone"
	syncengine "github.com/dl-alexandre/pdsync/internal/sync"
	"github.com/dl-alexandre/pdsync/internal/sync/index"
	"github.com/dl-alexandre/pdsync/internal/sync/inventory"
	"github.com/dl-alexandre/pdsync/internal/sync/process"
)

var (
	_ syncengine.Checkpoints = (*index.DB)(nil)
	_ syncengine.Recorder    = (*index.DB)(nil)
	_ syncengine.Estimator   = (*inventory.Client)(nil)
	_ process.Launcher       = (*process.Supervisor)(nil)
)

// services holds the collaborators a command needs, built from the loaded config.
type services struct {
	runner     *rclone.Runner
	supervisor *process.Supervisor
	client     *inventory.Client
}

func newServices(c *config.Config, log logging.Logger) *services {
	runner := rclone.NewRunner(c.RclonePath, rclone.WithLogger(log))

	supOpts := []process.Option{
		process.WithGracePeriod(c.CancelGrace()),
		process.WithLogger(log),
	}
	if outputTap != nil {
		supOpts = append(supOpts, process.WithTap(outputTap))
	}
	supervisor := process.NewSupervisor(supOpts...)

	client := inventory.NewClient(runner, supervisor,
		inventory.WithListTimeout(c.ListTimeout()),
		inventory.WithEstimateTimeout(c.EstimateTimeout()),
		inventory.WithLogger(log))

	return &services{runner: runner, supervisor: supervisor, client: client}
}

// openIndex opens the run history next to the config file.
func openIndex() (*index.DB, error) {
	path, err := config.GetIndexPath()
	if err != nil {
		return nil, err
	}
	return index.Open(path)
}

// newEngine builds an engine that persists checkpoints and history in db.
func (s *services) newEngine(db *index.DB, log logging.Logger) *syncengine.Engine {
	return syncengine.NewEngine(s.client, s.supervisor,
		syncengine.WithRunner(s.runner),
		syncengine.WithCheckpoints(db),
		syncengine.WithRecorder(db),
		syncengine.WithLogger(log))
}

// resolveRemote fills an empty remoteName with the first ProtonDrive remote
// in rclone's config. The choice is not saved.
func resolveRemote(ctx context.Context, svc *services, out *config.OutputFormatter) error {
	if rclone.RemoteName(cfg.RemoteName) != "" {
		return nil
	}
	name, err := svc.client.DetectProtonRemote(ctx)
	if err != nil {
		return err
	}
	cfg.RemoteName = name
	logger.Info("using detected ProtonDrive remote", logging.F("remote", name))
	out.AddWarning("REMOTE_DETECTED", "no remote configured, using ProtonDrive remote "+rclone.RemotePath(name), "info")
	return nil
}
