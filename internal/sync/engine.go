// Package sync orchestrates one-way remote to local syncs: size estimation,
// large-sync confirmation, an optional first-time dry run and the supervised
// rclone transfer, reported as a stream of events per run.
package sync

import (
	"context"
	"fmt"
	"slices"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/rclone"
	"github.com/dl-alexandre/pdsync/internal/sync/filter"
	"github.com/dl-alexandre/pdsync/internal/sync/inventory"
	"github.com/dl-alexandre/pdsync/internal/sync/process"
	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

// Estimator sizes a filtered sync before it runs.
type Estimator interface {
	EstimateSize(ctx context.Context, remote string, filters filter.Args) (inventory.SizeEstimate, error)
}

// Checkpoints remembers which (remote, local root, policy) combinations have
// completed a real transfer, which decides whether a first-sync dry run is due.
type Checkpoints interface {
	HasCompleted(ctx context.Context, remote, localRoot, fingerprint string) (bool, error)
	MarkCompleted(ctx context.Context, remote, localRoot, fingerprint string, at time.Time) error
}

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, record types.RunRecord) error
}

// Engine accepts sync requests and tracks the active run per
// (remote, local root) pair.
type Engine struct {
	estimator   Estimator
	launcher    process.Launcher
	binary      string
	env         []string
	checkpoints Checkpoints
	recorder    Recorder
	logger      logging.Logger
	now         func() time.Time
	newID       func() string

	mu     gosync.Mutex
	active map[pairKey]*Run
	byID   map[string]*Run
	wg     gosync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithRclone sets the rclone binary and extra environment for transfers.
func WithRclone(binary string, env []string) Option {
	return func(e *Engine) {
		e.binary = binary
		e.env = env
	}
}

// WithRunner takes the binary and environment from an rclone.Runner so the
// transfer uses the same rclone as the inventory client.
func WithRunner(r *rclone.Runner) Option {
	return WithRclone(r.Binary(), r.Env())
}

func WithCheckpoints(c Checkpoints) Option {
	return func(e *Engine) { e.checkpoints = c }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the uuid run IDs.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine creates an Engine. Without WithCheckpoints, first-sync tracking
// lives in memory for the lifetime of the Engine.
func NewEngine(estimator Estimator, launcher process.Launcher, opts ...Option) *Engine {
	e := &Engine{
		estimator:   estimator,
		launcher:    launcher,
		binary:      utils.DefaultRcloneBinary,
		checkpoints: NewMemoryCheckpoints(),
		logger:      logging.NewNoOpLogger(),
		now:         time.Now,
		newID:       uuid.NewString,
		active:      make(map[pairKey]*Run),
		byID:        make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequestSync validates the request, registers a run for the settings'
// (remote, local root) pair and starts it in the background. It returns
// INVALID_POLICY or INVALID_SETTINGS before anything runs, and
// SYNC_ALREADY_IN_PROGRESS when the pair already has an active run.
// Cancelling ctx cancels the run.
func (e *Engine) RequestSync(ctx context.Context, policy filter.Policy, settings Settings) (*Run, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	filters, err := filter.Build(policy)
	if err != nil {
		return nil, err
	}

	key := settings.pair()
	e.mu.Lock()
	if existing, ok := e.active[key]; ok {
		e.mu.Unlock()
		return nil, utils.NewAppError(
			utils.NewCLIError(utils.ErrCodeSyncInProgress,
				fmt.Sprintf("a sync from %s to %s is already running", rclone.RemotePath(key.remote), key.localRoot)).
				WithRetryable(true).
				WithContext("runId", existing.id).Build())
	}

	id := e.newID()
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		id:        id,
		policy:    clonePolicy(policy),
		settings:  settings,
		filters:   filters,
		engine:    e,
		logger:    e.logger.WithRunID(id),
		ctx:       logging.ContextWithRunID(runCtx, id),
		cancel:    cancel,
		state:     StateIdle,
		startedAt: e.now(),
		confirmCh: make(chan bool, 1),
		notify:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.active[key] = run
	e.byID[id] = run
	e.wg.Add(1)
	e.mu.Unlock()

	run.logger.Info("sync requested",
		logging.F("remote", key.remote),
		logging.F("localRoot", key.localRoot),
		logging.F("mode", string(policy.Mode)),
		logging.F("filters", filters.Describe()))

	go func() {
		defer e.wg.Done()
		defer cancel()
		run.drive()
	}()
	return run, nil
}

// release drops a run from the registry so its pair can be requested again.
func (e *Engine) release(r *Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := r.settings.pair()
	if e.active[key] == r {
		delete(e.active, key)
	}
	delete(e.byID, r.id)
}

// Run returns the active run with the given ID.
func (e *Engine) Run(id string) (*Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.byID[id]; ok {
		return r, nil
	}
	return nil, utils.NewAppError(
		utils.NewCLIError(utils.ErrCodeRunNotFound, fmt.Sprintf("no active sync run %q", id)).Build())
}

// Active returns snapshots of every non-terminal run, oldest first.
func (e *Engine) Active() []RunSnapshot {
	e.mu.Lock()
	runs := make([]*Run, 0, len(e.byID))
	for _, r := range e.byID {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	snaps := make([]RunSnapshot, 0, len(runs))
	for _, r := range runs {
		snaps = append(snaps, r.Snapshot())
	}
	slices.SortFunc(snaps, func(a, b RunSnapshot) int { return a.StartedAt.Compare(b.StartedAt) })
	return snaps
}

func (e *Engine) Pause(id string) error {
	r, err := e.Run(id)
	if err != nil {
		return err
	}
	return r.Pause()
}

func (e *Engine) Resume(id string) error {
	r, err := e.Run(id)
	if err != nil {
		return err
	}
	return r.Resume()
}

func (e *Engine) Cancel(id string) error {
	r, err := e.Run(id)
	if err != nil {
		return err
	}
	return r.Cancel()
}

func (e *Engine) Confirm(id string, proceed bool) error {
	r, err := e.Run(id)
	if err != nil {
		return err
	}
	return r.Confirm(proceed)
}

// Shutdown cancels every active run and waits for them to finish or for ctx
// to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, r := range e.byID {
		_ = r.Cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clonePolicy(p filter.Policy) filter.Policy {
	return filter.Policy{
		Mode:          p.Mode,
		IncludedPaths: slices.Clone(p.IncludedPaths),
		ExcludedPaths: slices.Clone(p.ExcludedPaths),
	}
}
