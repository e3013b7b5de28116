package sync

import (
	"context"
	"iter"
	gosync "sync"
	"time"

	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/sync/filter"
	"github.com/dl-alexandre/pdsync/internal/sync/inventory"
	"github.com/dl-alexandre/pdsync/internal/sync/process"
	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

// FileError is a per-file (or per-attempt) problem reported during a run.
type FileError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// RunSnapshot is a point-in-time copy of a run.
type RunSnapshot struct {
	ID               string                  `json:"id"`
	Policy           filter.Policy           `json:"policy"`
	Settings         Settings                `json:"settings"`
	State            State                   `json:"state"`
	BytesTransferred int64                   `json:"bytesTransferred"`
	FilesTransferred int64                   `json:"filesTransferred"`
	Errors           []FileError             `json:"errors,omitempty"`
	Estimate         *inventory.SizeEstimate `json:"estimate,omitempty"`
	DryRun           bool                    `json:"dryRun"`
	Reason           string                  `json:"reason,omitempty"`
	StartedAt        time.Time               `json:"startedAt"`
	EndedAt          *time.Time              `json:"endedAt,omitempty"`
}

// Record converts the snapshot into its persisted form.
func (s RunSnapshot) Record() types.RunRecord {
	return types.RunRecord{
		ID:               s.ID,
		Remote:           s.Settings.RemoteName,
		LocalRoot:        s.Settings.LocalRoot,
		Mode:             string(s.Policy.Mode),
		State:            s.State.String(),
		DryRun:           s.DryRun,
		BytesTransferred: s.BytesTransferred,
		FilesTransferred: s.FilesTransferred,
		ErrorCount:       len(s.Errors),
		Reason:           s.Reason,
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
	}
}

// Run is one accepted sync request. It is driven by its own goroutine; the
// methods here are the caller's controls and observation points.
type Run struct {
	id       string
	policy   filter.Policy
	settings Settings
	filters  filter.Args
	engine   *Engine
	logger   logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        gosync.Mutex
	state     State
	bytes     int64
	files     int64
	errs      []FileError
	estimate  *inventory.SizeEstimate
	dryRan    bool
	reason    string
	startedAt time.Time
	endedAt   *time.Time
	proc      process.Process
	answered  bool
	confirmCh chan bool

	events   []Event
	notify   chan struct{}
	finished bool
	done     chan struct{}
}

// ID returns the run's unique identifier.
func (r *Run) ID() string { return r.id }

// Filters returns the rules used for both the estimate and the transfer.
func (r *Run) Filters() filter.Args { return r.filters }

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns a copy of the run's current data.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() RunSnapshot {
	s := RunSnapshot{
		ID:               r.id,
		Policy:           r.policy,
		Settings:         r.settings,
		State:            r.state,
		BytesTransferred: r.bytes,
		FilesTransferred: r.files,
		Errors:           append([]FileError(nil), r.errs...),
		DryRun:           r.dryRan,
		Reason:           r.reason,
		StartedAt:        r.startedAt,
	}
	if r.estimate != nil {
		est := *r.estimate
		s.Estimate = &est
	}
	if r.endedAt != nil {
		end := *r.endedAt
		s.EndedAt = &end
	}
	return s
}

// Done is closed once the terminal event has been published.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run is terminal and returns its final snapshot.
func (r *Run) Wait() RunSnapshot {
	<-r.done
	return r.Snapshot()
}

// Events yields every event of the run from the first one, blocking for new
// events until the terminal event has been yielded or ctx is done. Any number
// of subscribers may iterate concurrently; each sees the same order.
func (r *Run) Events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		next := 0
		for {
			r.mu.Lock()
			pending := r.events[next:]
			notify := r.notify
			finished := r.finished
			r.mu.Unlock()

			for _, e := range pending {
				next++
				if !yield(e) {
					return
				}
			}
			if finished {
				return
			}
			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Pause suspends the transfer. It is only valid while transferring; on
// platforms without process suspension it fails with PAUSE_UNSUPPORTED and
// the run keeps transferring.
func (r *Run) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateTransferring || r.proc == nil || r.ctx.Err() != nil {
		return r.invalidState("pause")
	}
	if err := r.proc.Pause(); err != nil {
		r.logger.Warn("pause failed", logging.F("error", err.Error()))
		return err
	}
	r.setStateLocked(StatePaused)
	r.publishLocked(Paused{})
	return nil
}

// Resume continues a paused transfer.
func (r *Run) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused || r.proc == nil || r.ctx.Err() != nil {
		return r.invalidState("resume")
	}
	if err := r.proc.Resume(); err != nil {
		return err
	}
	r.setStateLocked(StateTransferring)
	r.publishLocked(Resumed{})
	return nil
}

// Confirm answers a pending large-sync confirmation. proceed=false cancels
// the run.
func (r *Run) Confirm(proceed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateAwaitingConfirmation || r.answered || r.ctx.Err() != nil {
		return r.invalidState("confirm")
	}
	r.answered = true
	r.confirmCh <- proceed
	return nil
}

// Cancel stops the run from any non-terminal state. The rclone child, if
// any, is terminated before the Cancelled event is published. Cancelling a
// finished or already-cancelling run does nothing.
func (r *Run) Cancel() error {
	r.mu.Lock()
	terminal := r.state.IsTerminal()
	r.mu.Unlock()
	if !terminal {
		r.cancel()
	}
	return nil
}

func (r *Run) invalidState(op string) error {
	return utils.NewAppError(
		utils.NewCLIError(utils.ErrCodeInvalidState, op+" is not valid while "+r.state.String()).
			WithContext("runId", r.id).
			WithContext("state", r.state.String()).Build())
}

func (r *Run) publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishLocked(e)
}

func (r *Run) publishLocked(e Event) {
	if r.finished {
		return
	}
	e = stamp(e, r.engine.now())
	r.events = append(r.events, e)
	if IsTerminal(e) {
		r.finished = true
		close(r.done)
	}
	close(r.notify)
	r.notify = make(chan struct{})
}

// transition moves to the next state unless the run is being cancelled.
func (r *Run) transition(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil || r.state.IsTerminal() {
		return false
	}
	r.setStateLocked(to)
	return true
}

func (r *Run) setStateLocked(to State) {
	from := r.state
	if from == to {
		return
	}
	r.state = to
	r.logger.Debug("run state changed",
		logging.F("from", from.String()),
		logging.F("to", to.String()))
	r.publishLocked(StateChanged{From: from, To: to})
}

func (r *Run) setProcess(p process.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proc = p
}
