package cli

import (
	"context"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"
	"time"

	"github.com/dl-alexandre/pdsync/internal/config"
	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/rclone"
	syncengine "github.com/dl-alexandre/pdsync/internal/sync"
	"github.com/dl-alexandre/pdsync/internal/sync/filter"
	"github.com/dl-alexandre/pdsync/internal/utils"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync on a schedule until interrupted",
	Long: `Run a sync now and then every syncIntervalMinutes.

Edits to the config file are picked up before the next scheduled sync.
Large syncs are declined unless --approve-large (or --yes) is given.
Ctrl-C cancels the running sync and waits for rclone to stop.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var daemonApproveLarge bool

func init() {
	daemonCmd.Flags().BoolVar(&daemonApproveLarge, "approve-large", false, "Proceed with syncs above the large sync threshold")
	rootCmd.AddCommand(daemonCmd)
}

// liveConfig is the config the scheduler reads, swapped on reload.
type liveConfig struct {
	mu  gosync.RWMutex
	cfg *config.Config
}

func (l *liveConfig) get() *config.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *liveConfig) set(c *config.Config) {
	l.mu.Lock()
	l.cfg = c
	l.mu.Unlock()
}

// source adapts the live config for the scheduler.
func (l *liveConfig) source() (filter.Policy, syncengine.Settings, error) {
	c := l.get()
	if err := requireConfigured(c); err != nil {
		return filter.Policy{}, syncengine.Settings{}, err
	}
	return c.Policy(), c.Settings(), nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	out := newOutput()
	svc := newServices(cfg, logger)
	if err := resolveRemote(cmd.Context(), svc, out); err != nil {
		return fail(out, "daemon", err)
	}
	if err := requireConfigured(cfg); err != nil {
		return fail(out, "daemon", err)
	}
	if !cfg.AutoSyncEnabled {
		out.Log("autoSyncEnabled is false in the config; syncing anyway because the daemon was started explicitly")
	}

	path, err := configPath()
	if err != nil {
		return fail(out, "daemon", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openIndex()
	if err != nil {
		return fail(out, "daemon", utils.WrapAppError(
			utils.NewCLIError(utils.ErrCodeConfigError, "failed to open sync history").Build(), err))
	}
	defer db.Close()

	live := &liveConfig{cfg: cfg}
	overrides := *cfg
	go func() {
		err := config.Watch(ctx, path, func(c *config.Config, err error) {
			if err != nil {
				logger.Warn("config reload failed, keeping previous settings", logging.F("error", err.Error()))
				return
			}
			keepFlagOverrides(c, &overrides)
			live.set(c)
			logger.Info("config reloaded", logging.F("path", path))
		})
		if err != nil {
			logger.Warn("config watch stopped", logging.F("error", err.Error()))
		}
	}()

	engine := svc.newEngine(db, logger)
	printer := newEventPrinter(out)
	auto := syncengine.NewAutoSyncer(engine, live.source, cfg.SyncInterval(),
		syncengine.WithAutoLogger(logger),
		syncengine.WithLargeSyncApproval(daemonApproveLarge || globalFlags.Yes),
		syncengine.WithRunObserver(func(run *syncengine.Run) {
			go func() {
				for ev := range run.Events(context.WithoutCancel(ctx)) {
					if err := printer.Print(ev); err != nil {
						logger.Warn("failed to write event")
					}
				}
			}()
		}))

	if err := auto.Run(ctx); err != nil {
		return fail(out, "daemon", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CancelGrace()+5*time.Second)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		return fail(out, "daemon", err)
	}
	return nil
}

// keepFlagOverrides reapplies command line flags, and a detected remote, to a
// reloaded config.
func keepFlagOverrides(c *config.Config, started *config.Config) {
	if globalFlags.RclonePath != "" {
		c.RclonePath = started.RclonePath
	}
	if globalFlags.Remote != "" || rclone.RemoteName(c.RemoteName) == "" {
		c.RemoteName = started.RemoteName
	}
}
