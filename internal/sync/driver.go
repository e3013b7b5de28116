package sync

import (
	"context"
	"fmt"
	"time"

	pderrors "github.com/dl-alexandre/pdsync/internal/errors"
	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/rclone"
	"github.com/dl-alexandre/pdsync/internal/sync/inventory"
	"github.com/dl-alexandre/pdsync/internal/sync/process"
	"github.com/dl-alexandre/pdsync/internal/sync/progress"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

// passResult is the outcome of one rclone sync invocation.
type passResult struct {
	status  process.ExitStatus
	stderr  []string
	summary progress.Summary
	spawn   error
}

// drive runs the state machine to a terminal state. It is the only writer of
// counters and the only publisher of terminal events.
func (r *Run) drive() {
	r.publish(Started{RunID: r.id, Remote: r.settings.RemoteName, LocalRoot: r.settings.LocalRoot})

	if !r.transition(StateEstimating) {
		r.finishCancelled("cancelled before estimation")
		return
	}
	estimate := r.runEstimate()
	if r.ctx.Err() != nil {
		r.finishCancelled("cancelled during estimation")
		return
	}

	if estimate.TotalBytes > r.settings.LargeSyncThresholdBytes {
		if !r.transition(StateAwaitingConfirmation) {
			r.finishCancelled("cancelled")
			return
		}
		r.publish(ConfirmationRequired{Estimate: estimate, ThresholdBytes: r.settings.LargeSyncThresholdBytes})
		r.logger.Info("waiting for large sync confirmation",
			logging.F("bytes", estimate.TotalBytes),
			logging.F("threshold", r.settings.LargeSyncThresholdBytes))

		select {
		case proceed := <-r.confirmCh:
			if !proceed {
				r.finishCancelled("large sync declined")
				return
			}
		case <-r.ctx.Done():
			r.finishCancelled("cancelled while awaiting confirmation")
			return
		}
	}

	if r.needsDryRun() {
		if !r.transition(StateDryRunning) {
			r.finishCancelled("cancelled")
			return
		}
		res := r.runPass(true)
		if r.ctx.Err() != nil {
			r.finishCancelled("cancelled during dry run")
			return
		}
		if res.spawn != nil {
			r.finishSpawnFailed(res.spawn)
			return
		}
		if !res.status.Success() {
			r.finishFailed(res)
			return
		}
		r.mu.Lock()
		r.dryRan = true
		r.mu.Unlock()
	}

	if !r.transition(StateTransferring) {
		r.finishCancelled("cancelled")
		return
	}
	started := r.engine.now()
	res := r.runPass(false)
	if r.ctx.Err() != nil {
		r.finishCancelled("cancelled during transfer")
		return
	}
	if res.spawn != nil {
		r.finishSpawnFailed(res.spawn)
		return
	}
	if !res.status.Success() {
		r.finishFailed(res)
		return
	}
	if res.summary.Elapsed == 0 {
		res.summary.Elapsed = r.engine.now().Sub(started)
	}
	r.finishCompleted(res.summary)
}

// runEstimate never fails: an estimation error becomes a warning and a zero
// estimate, since the transfer itself is authoritative.
func (r *Run) runEstimate() inventory.SizeEstimate {
	estimate, err := r.engine.estimator.EstimateSize(r.ctx, r.settings.RemoteName, r.filters)
	if r.ctx.Err() != nil {
		return inventory.SizeEstimate{}
	}
	failed := err != nil
	if failed {
		r.logger.Warn("size estimation failed, continuing without an estimate",
			logging.F("error", err.Error()),
			logging.F("code", utils.CodeOf(err)))
		r.publish(Warning{Message: fmt.Sprintf("size estimate unavailable: %v", err)})
		estimate = inventory.SizeEstimate{EstimatedAt: r.engine.now()}
	} else {
		r.logger.Info("size estimated",
			logging.F("bytes", estimate.TotalBytes),
			logging.F("files", estimate.TotalFiles))
	}

	r.mu.Lock()
	est := estimate
	r.estimate = &est
	r.mu.Unlock()
	r.publish(Estimated{Estimate: estimate, Failed: failed})
	return estimate
}

func (r *Run) checkpointKey() (string, string, string) {
	key := r.settings.pair()
	return key.remote, key.localRoot, r.policy.Fingerprint()
}

func (r *Run) needsDryRun() bool {
	if !r.settings.DryRunBeforeFirstSync {
		return false
	}
	remote, root, fp := r.checkpointKey()
	done, err := r.engine.checkpoints.HasCompleted(r.ctx, remote, root, fp)
	if err != nil {
		r.logger.Warn("could not read sync checkpoint, assuming first sync", logging.F("error", err.Error()))
		return true
	}
	return !done
}

// runPass launches one rclone sync and feeds its output through a fresh
// parser until the child exits.
func (r *Run) runPass(dryRun bool) passResult {
	args := rclone.SyncArgs(rclone.SyncOptions{
		Remote:             r.settings.RemoteName,
		LocalRoot:          r.settings.LocalRoot,
		DryRun:             dryRun,
		FilterFlags:        r.filters.Flags(),
		BandwidthLimitKbps: r.settings.BandwidthLimitKbps,
	})
	r.logger.Debug("launching rclone", logging.F("args", args), logging.F("dryRun", dryRun))

	proc, err := r.engine.launcher.Launch(process.Spec{
		Binary: r.engine.binary,
		Args:   args,
		Env:    r.engine.env,
	})
	if err != nil {
		return passResult{spawn: err}
	}
	r.setProcess(proc)
	defer r.setProcess(nil)
	stop := context.AfterFunc(r.ctx, func() { _ = proc.Cancel() })
	defer stop()

	parser := progress.NewParser()
	var summary *progress.Summary
	for line := range proc.Lines() {
		u, ok := parser.Parse(line.Text)
		if !ok {
			continue
		}
		switch u.Kind {
		case progress.KindProgress:
			r.applyProgress(u, dryRun)
		case progress.KindWarning:
			r.applyWarning(u)
		case progress.KindSummary:
			s := u.Summary
			summary = &s
			if !dryRun {
				r.applyCounters(s.BytesDone, s.FilesDone)
			}
		}
	}

	r.releaseProcess(proc)
	status := proc.Wait()
	if r.ctx.Err() != nil {
		// the Cancelled event must follow the child's exit
		_ = proc.Cancel()
	}
	// stdout and stderr are read concurrently, so per-file lines can land
	// after the stats block; the parser's final totals cover both.
	res := passResult{status: status, stderr: proc.StderrTail(), summary: parser.Snapshot()}
	if summary != nil {
		res.summary.Elapsed = summary.Elapsed
	}
	return res
}

// releaseProcess detaches the child once its output has ended, so Pause and
// Resume are refused until it is reaped. A run left paused at that point is
// resumed so the child can exit.
func (r *Run) releaseProcess(proc process.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proc = nil
	if r.state != StatePaused || r.ctx.Err() != nil {
		return
	}
	if err := proc.Resume(); err != nil {
		r.logger.Warn("resume after output ended failed", logging.F("error", err.Error()))
	}
	r.setStateLocked(StateTransferring)
	r.publishLocked(Resumed{})
}

func (r *Run) applyCounters(bytes, files int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes = bytes
	r.files = files
}

func (r *Run) applyProgress(u progress.Update, dryRun bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !dryRun {
		r.bytes = u.BytesDone
		r.files = u.FilesDone
	}
	r.publishLocked(Progress{
		BytesDone:   u.BytesDone,
		BytesTotal:  u.BytesTotal,
		FilesDone:   u.FilesDone,
		FilesTotal:  u.FilesTotal,
		CurrentFile: u.CurrentFile,
		Rate:        u.Rate,
		ETA:         u.ETA,
		Simulated:   dryRun || u.Simulated,
	})
}

func (r *Run) applyWarning(u progress.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, FileError{Path: u.Path, Message: u.Message})
	r.publishLocked(Warning{Path: u.Path, Message: u.Message})
}

func (r *Run) finishCompleted(summary progress.Summary) {
	remote, root, fp := r.checkpointKey()
	if err := r.engine.checkpoints.MarkCompleted(context.WithoutCancel(r.ctx), remote, root, fp, r.engine.now()); err != nil {
		r.logger.Warn("could not save sync checkpoint", logging.F("error", err.Error()))
	}
	r.logger.Info("sync completed",
		logging.F("bytes", summary.BytesDone),
		logging.F("files", summary.FilesDone),
		logging.F("errors", summary.Errors),
		logging.F("elapsed", summary.Elapsed.String()))
	r.finish(StateCompleted, "", Completed{Summary: summary})
}

func (r *Run) finishFailed(res passResult) {
	reason := pderrors.TransferFailureReason(res.status.Code, res.stderr)
	code := pderrors.TransferFailureCode(res.stderr)
	r.logger.Error("sync failed",
		logging.F("exitCode", res.status.Code),
		logging.F("code", code),
		logging.F("reason", reason))
	r.finish(StateFailed, reason, Failed{Reason: reason, Code: code, ExitCode: res.status.Code})
}

func (r *Run) finishSpawnFailed(err error) {
	reason := err.Error()
	if reason == "" {
		reason = "failed to start rclone"
	}
	r.logger.Error("could not start rclone", logging.F("error", reason))
	r.finish(StateFailed, reason, Failed{Reason: reason, Code: utils.ErrCodeSpawnFailed})
}

func (r *Run) finishCancelled(reason string) {
	r.logger.Info("sync cancelled", logging.F("reason", reason))
	r.finish(StateCancelled, reason, Cancelled{Reason: reason})
}

// finish moves to a terminal state, releases the pair, records the run and
// only then publishes the terminal event.
func (r *Run) finish(state State, reason string, terminal Event) {
	r.mu.Lock()
	if r.state.IsTerminal() {
		r.mu.Unlock()
		return
	}
	end := r.engine.now()
	r.endedAt = &end
	r.reason = reason
	r.setStateLocked(state)
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.engine.release(r)
	if r.engine.recorder != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 5*time.Second)
		if err := r.engine.recorder.RecordRun(ctx, snap.Record()); err != nil {
			r.logger.Warn("could not record sync run", logging.F("error", err.Error()))
		}
		cancel()
	}

	r.publish(terminal)
}
