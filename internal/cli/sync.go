package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dl-alexandre/pdsync/internal/config"
	"github.com/dl-alexandre/pdsync/internal/rclone"
	syncengine "github.com/dl-alexandre/pdsync/internal/sync"
	"github.com/dl-alexandre/pdsync/internal/sync/filter"
	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dl-alexandre/pdsync/internal/utils"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run and inspect remote to local syncs",
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Mirror the configured remote folders into the local folder",
	Long: `Run one sync with the configured folder policy.

The transfer size is estimated first. Syncs larger than the configured
threshold ask for confirmation (or proceed with --yes). The first sync of a
new folder selection is simulated with --dry-run before any data moves.
Press Ctrl-C to cancel; rclone is stopped before pdsync exits.`,
	Args: cobra.NoArgs,
	RunE: runSyncRun,
}

var syncEstimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate how much the configured policy would transfer",
	Args:  cobra.NoArgs,
	RunE:  runSyncEstimate,
}

var syncFiltersCmd = &cobra.Command{
	Use:   "filters",
	Short: "Print the rclone filter flags for the configured policy",
	Args:  cobra.NoArgs,
	RunE:  runSyncFilters,
}

var syncResetCmd = &cobra.Command{
	Use:   "reset-checkpoints",
	Short: "Forget completed syncs so the next one starts with a dry run",
	Args:  cobra.NoArgs,
	RunE:  runSyncReset,
}

var (
	syncBwlimit     int
	syncDryRunFirst bool
)

func init() {
	syncRunCmd.Flags().IntVar(&syncBwlimit, "bwlimit", 0, "Bandwidth limit in KiB/s (0 for unlimited, overrides config)")
	syncRunCmd.Flags().BoolVar(&syncDryRunFirst, "dry-run-first", true, "Simulate the first sync of a new folder selection (overrides config)")

	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncEstimateCmd)
	syncCmd.AddCommand(syncFiltersCmd)
	syncCmd.AddCommand(syncResetCmd)
	rootCmd.AddCommand(syncCmd)
}

// requireConfigured rejects commands that need a remote and local folder.
func requireConfigured(c *config.Config) error {
	if c.IsConfigured() {
		return nil
	}
	return utils.NewAppError(
		utils.NewCLIError(utils.ErrCodeConfigError,
			"no remote or local folder configured (run 'pdsync config set remoteName <name>' and 'pdsync config set localFolder <path>')").Build())
}

func runSyncRun(cmd *cobra.Command, args []string) error {
	out := newOutput()
	svc := newServices(cfg, logger)
	if err := resolveRemote(cmd.Context(), svc, out); err != nil {
		return fail(out, "sync.run", err)
	}
	if err := requireConfigured(cfg); err != nil {
		return fail(out, "sync.run", err)
	}

	settings := cfg.Settings()
	if cmd.Flags().Changed("bwlimit") {
		settings.BandwidthLimitKbps = syncBwlimit
	}
	if cmd.Flags().Changed("dry-run-first") {
		settings.DryRunBeforeFirstSync = syncDryRunFirst
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openIndex()
	if err != nil {
		return fail(out, "sync.run", utils.WrapAppError(
			utils.NewCLIError(utils.ErrCodeConfigError, "failed to open sync history").Build(), err))
	}
	defer db.Close()

	engine := svc.newEngine(db, logger)
	run, err := engine.RequestSync(ctx, cfg.Policy(), settings)
	if err != nil {
		return fail(out, "sync.run", err)
	}

	printer := newEventPrinter(out)
	// the run ends on its own once ctx is cancelled, so the subscription
	// must outlive ctx to see the Cancelled event
	for ev := range run.Events(context.WithoutCancel(ctx)) {
		if err := printer.Print(ev); err != nil {
			logger.Warn("failed to write event")
		}
		if _, ok := ev.(syncengine.ConfirmationRequired); ok {
			go answerConfirmation(run, out.ErrorWriter())
		}
	}

	snap := run.Wait()
	return runOutcome(snap, run)
}

// answerConfirmation approves with --yes, otherwise asks on the terminal.
func answerConfirmation(run *syncengine.Run, prompt io.Writer) {
	if globalFlags.Yes {
		_ = run.Confirm(true)
		return
	}
	_, _ = fmt.Fprint(prompt, "Continue? [y/N] ")
	proceed := readYes(os.Stdin)
	if err := run.Confirm(proceed); err != nil {
		logger.Debug("confirmation ignored, run already moved on")
	}
}

func readYes(r io.Reader) bool {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// runOutcome turns the terminal state into the command's error, already
// reported through the event stream.
func runOutcome(snap syncengine.RunSnapshot, run *syncengine.Run) error {
	switch snap.State {
	case syncengine.StateCompleted:
		return nil
	case syncengine.StateCancelled:
		return &reportedError{err: utils.Errorf(utils.ErrCodeCancelled, "%s", snap.Reason)}
	}
	code := utils.ErrCodeTransferFailed
	for ev := range run.Events(context.Background()) {
		if failed, ok := ev.(syncengine.Failed); ok && failed.Code != "" {
			code = failed.Code
		}
	}
	return &reportedError{err: utils.Errorf(code, "%s", snap.Reason)}
}

func runSyncEstimate(cmd *cobra.Command, args []string) error {
	out := newOutput()
	svc := newServices(cfg, logger)
	if err := resolveRemote(cmd.Context(), svc, out); err != nil {
		return fail(out, "sync.estimate", err)
	}
	policy := cfg.Policy()
	filters, err := filter.Build(policy)
	if err != nil {
		return fail(out, "sync.estimate", err)
	}

	est, err := svc.client.EstimateSize(cmd.Context(), cfg.RemoteName, filters)
	if err != nil {
		return fail(out, "sync.estimate", err)
	}

	threshold := cfg.Settings().LargeSyncThresholdBytes
	return out.WriteSuccess("sync.estimate", &types.SizeEstimateResponse{
		Remote:           rclone.RemotePath(cfg.RemoteName),
		Mode:             string(policy.Mode),
		TotalBytes:       est.TotalBytes,
		TotalFiles:       est.TotalFiles,
		EstimatedAt:      est.EstimatedAt,
		ThresholdBytes:   threshold,
		ExceedsThreshold: cfg.ConfirmLargeSync && est.TotalBytes > threshold,
	})
}

func runSyncFilters(cmd *cobra.Command, args []string) error {
	out := newOutput()
	policy := cfg.Policy()
	filters, err := filter.Build(policy)
	if err != nil {
		return fail(out, "sync.filters", err)
	}
	return out.WriteSuccess("sync.filters", &types.FilterResponse{
		Mode:  string(policy.Mode),
		Flags: filters.Flags(),
	})
}

func runSyncReset(cmd *cobra.Command, args []string) error {
	out := newOutput()
	if err := requireConfigured(cfg); err != nil {
		return fail(out, "sync.reset-checkpoints", err)
	}
	db, err := openIndex()
	if err != nil {
		return fail(out, "sync.reset-checkpoints", err)
	}
	defer db.Close()

	remote := rclone.RemoteName(cfg.RemoteName)
	if err := db.ResetCheckpoints(cmd.Context(), remote, filepath.Clean(cfg.LocalFolder)); err != nil {
		return fail(out, "sync.reset-checkpoints", err)
	}
	return out.WriteSuccess("sync.reset-checkpoints", map[string]string{
		"remote":    rclone.RemotePath(remote),
		"localRoot": cfg.LocalFolder,
		"status":    "reset",
	})
}
