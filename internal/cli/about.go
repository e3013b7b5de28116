package cli

import (
	"github.com/dl-alexandre/pdsync/internal/config"
	"github.com/dl-alexandre/pdsync/internal/rclone"
	"github.com/dl-alexandre/pdsync/pkg/version"
	"github.com/spf13/cobra"
)

var aboutCmd = &cobra.Command{
	Use:   "about",
	Short: "Display pdsync capabilities and where it keeps its state",
	Args:  cobra.NoArgs,
	RunE:  runAbout,
}

func init() {
	rootCmd.AddCommand(aboutCmd)
}

func runAbout(cmd *cobra.Command, args []string) error {
	out := newOutput()

	configFile, _ := configPath()
	indexFile, _ := config.GetIndexPath()

	rcloneVersion := "unavailable"
	if v, err := newServices(cfg, logger).client.Version(cmd.Context()); err == nil {
		rcloneVersion = v
	} else {
		out.AddWarning("RCLONE_UNAVAILABLE", err.Error(), "warning")
	}

	about := map[string]interface{}{
		"version": version.Get().Version,
		"rclone": map[string]interface{}{
			"binary":  cfg.RclonePath,
			"version": rcloneVersion,
		},
		"remote": rclone.RemotePath(cfg.RemoteName),
		"supported_operations": []string{
			"sync.run", "sync.estimate", "sync.filters", "sync.reset-checkpoints",
			"folders.list", "folders.mode", "folders.include", "folders.exclude",
			"remotes.list", "remotes.test",
			"history", "history.prune",
			"daemon",
			"config.show", "config.set", "config.keys", "config.reset", "config.path",
		},
		"sync_modes": []string{"full", "include", "exclude"},
		"features": []string{
			"size_estimate", "large_sync_confirmation", "dry_run_first_sync",
			"pause_resume", "cancel", "bandwidth_limit", "scheduled_sync", "run_history",
		},
		"output_formats": []string{"json", "table"},
		"configuration": map[string]interface{}{
			"config_file": configFile,
			"history_db":  indexFile,
		},
	}

	return out.WriteSuccess("about", about)
}
