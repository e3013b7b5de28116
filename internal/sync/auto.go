package sync

import (
	"context"
	"errors"
	"time"

	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/sync/filter"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

// RequestSource supplies the policy and settings for each scheduled sync, so
// configuration changes are picked up between runs.
type RequestSource func() (filter.Policy, Settings, error)

// AutoSyncer requests a sync immediately and then every interval until its
// context ends. A tick is skipped while the pair is still busy.
type AutoSyncer struct {
	engine       *Engine
	source       RequestSource
	interval     time.Duration
	approveLarge bool
	logger       logging.Logger
	onRun        func(*Run)
}

// AutoOption configures an AutoSyncer.
type AutoOption func(*AutoSyncer)

// WithLargeSyncApproval answers large-sync confirmations with approve.
// Unattended syncs decline by default.
func WithLargeSyncApproval(approve bool) AutoOption {
	return func(a *AutoSyncer) { a.approveLarge = approve }
}

func WithAutoLogger(logger logging.Logger) AutoOption {
	return func(a *AutoSyncer) { a.logger = logger }
}

// WithRunObserver is called with every run the scheduler starts, before its
// events are consumed.
func WithRunObserver(fn func(*Run)) AutoOption {
	return func(a *AutoSyncer) { a.onRun = fn }
}

func NewAutoSyncer(engine *Engine, source RequestSource, interval time.Duration, opts ...AutoOption) *AutoSyncer {
	if interval <= 0 {
		interval = time.Duration(utils.DefaultSyncIntervalMinutes) * time.Minute
	}
	a := &AutoSyncer{
		engine:   engine,
		source:   source,
		interval: interval,
		logger:   logging.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run blocks until ctx is done. Each sync is waited for before the next
// interval starts.
func (a *AutoSyncer) Run(ctx context.Context) error {
	a.logger.Info("auto sync started", logging.F("interval", a.interval.String()))
	defer a.logger.Info("auto sync stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		a.once(ctx)
		timer.Reset(a.interval)
	}
}

func (a *AutoSyncer) once(ctx context.Context) {
	policy, settings, err := a.source()
	if err != nil {
		a.logger.Error("auto sync skipped: configuration unavailable", logging.F("error", err.Error()))
		return
	}

	run, err := a.engine.RequestSync(ctx, policy, settings)
	if err != nil {
		if errors.Is(err, utils.ErrSyncAlreadyInProgress) {
			a.logger.Info("auto sync skipped: a sync is already running")
			return
		}
		a.logger.Error("auto sync request rejected", logging.F("error", err.Error()), logging.F("code", utils.CodeOf(err)))
		return
	}
	if a.onRun != nil {
		a.onRun(run)
	}

	for ev := range run.Events(ctx) {
		if _, ok := ev.(ConfirmationRequired); ok {
			if !a.approveLarge {
				a.logger.Warn("large sync declined by auto sync; run it manually to confirm")
			}
			_ = run.Confirm(a.approveLarge)
		}
	}
	snap := run.Wait()
	a.logger.Info("auto sync finished",
		logging.F("runId", snap.ID),
		logging.F("state", snap.State.String()),
		logging.F("files", snap.FilesTransferred),
		logging.F("bytes", snap.BytesTransferred))
}
