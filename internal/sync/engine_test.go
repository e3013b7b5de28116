package sync

import (
	"context"
	"errors"
	"slices"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/dl-alexandre/pdsync/internal/sync/filter"
	"github.com/dl-alexandre/pdsync/internal/sync/inventory"
	"github.com/dl-alexandre/pdsync/internal/sync/process"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

const gb = 1_000_000_000

var photosOnly = filter.Policy{Mode: filter.ModeInclude, IncludedPaths: []string{"Photos"}}

func testSettings(root string) Settings {
	return Settings{
		RemoteName:              "proton",
		LocalRoot:               root,
		LargeSyncThresholdBytes: gb,
	}
}

func newTestEngine(est *fakeEstimator, l *fakeLauncher, opts ...Option) *Engine {
	return NewEngine(est, l, opts...)
}

func TestRequestSync_CompletesAndStreamsEvents(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{},
		"Transferred:   1 MiB / 2 MiB, 50%, 1 MiB/s, ETA 1s",
		"2024/03/01 10:00:00 INFO  : Photos/a.bin: Copied (new)",
		"some line rclone prints that nobody understands",
		"Transferred:   2 MiB / 2 MiB, 100%, 1 MiB/s, ETA 0s",
		"Elapsed time:  2.0s",
	)
	launcher := &fakeLauncher{procs: []*fakeProcess{proc}}
	rec := &fakeRecorder{}
	e := newTestEngine(&fakeEstimator{est: inventory.SizeEstimate{TotalBytes: 2 << 20, TotalFiles: 1}}, launcher, WithRecorder(rec))

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatalf("RequestSync() error = %v", err)
	}
	events := collect(t, run)

	want := []EventKind{
		KindStarted, KindStateChanged, KindEstimated, KindStateChanged,
		KindProgress, KindProgress, KindProgress, KindStateChanged, KindCompleted,
	}
	if !slices.Equal(kinds(events), want) {
		t.Fatalf("event kinds = %v, want %v", kinds(events), want)
	}
	wantStates := []State{StateIdle, StateEstimating, StateTransferring, StateCompleted}
	if !slices.Equal(states(events), wantStates) {
		t.Errorf("states = %v, want %v", states(events), wantStates)
	}

	done := events[len(events)-1].(Completed)
	if done.Summary.BytesDone != 2<<20 || done.Summary.FilesDone != 1 || done.Summary.Elapsed != 2*time.Second {
		t.Errorf("summary = %+v", done.Summary)
	}
	for _, e := range events {
		if p, ok := e.(Progress); ok && p.Simulated {
			t.Error("real transfer progress marked simulated")
		}
	}

	snap := run.Snapshot()
	if snap.State != StateCompleted || snap.BytesTransferred != 2<<20 || snap.FilesTransferred != 1 || snap.EndedAt == nil {
		t.Errorf("snapshot = %+v", snap)
	}

	records := rec.all()
	if len(records) != 1 || records[0].State != "completed" || records[0].ID != run.ID() {
		t.Errorf("records = %+v", records)
	}
	if len(e.Active()) != 0 {
		t.Error("completed run still active")
	}
}

func TestRequestSync_EventsReplayForLateSubscribers(t *testing.T) {
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{})
	run, err := e.RequestSync(context.Background(), filter.Policy{Mode: filter.ModeFull}, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	first := collect(t, run)
	second := collect(t, run)
	if !slices.Equal(kinds(first), kinds(second)) {
		t.Errorf("late subscriber saw %v, want %v", kinds(second), kinds(first))
	}
}

func TestRequestSync_RejectsSecondRequestForSamePair(t *testing.T) {
	held := newFakeProcess(process.ExitStatus{})
	held.hold = true
	launcher := &fakeLauncher{procs: []*fakeProcess{held}}
	e := newTestEngine(&fakeEstimator{}, launcher)

	root := t.TempDir()
	first, err := e.RequestSync(context.Background(), photosOnly, testSettings(root))
	if err != nil {
		t.Fatalf("first RequestSync() error = %v", err)
	}
	waitForState(t, first, StateTransferring)
	waitForProcess(t, first)

	// trailing separator and remote colon name the same pair
	dup := testSettings(root + "/")
	dup.RemoteName = "proton:"
	_, err = e.RequestSync(context.Background(), photosOnly, dup)
	if !errors.Is(err, utils.ErrSyncAlreadyInProgress) {
		t.Fatalf("second RequestSync() error = %v, want SyncAlreadyInProgress", err)
	}

	other, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatalf("RequestSync() for another root error = %v", err)
	}
	collect(t, other)
	if first.State() != StateTransferring {
		t.Errorf("first run state = %v, want transferring", first.State())
	}

	close(held.release)
	events := collect(t, first)
	if _, ok := events[len(events)-1].(Completed); !ok {
		t.Errorf("first run ended with %v", events[len(events)-1].Kind())
	}

	again, err := e.RequestSync(context.Background(), photosOnly, testSettings(root))
	if err != nil {
		t.Fatalf("RequestSync() after completion error = %v", err)
	}
	collect(t, again)
}

func TestRequestSync_PairReleasedBeforeTerminalEvent(t *testing.T) {
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{})
	root := t.TempDir()
	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(root))
	if err != nil {
		t.Fatal(err)
	}
	for ev := range run.Events(context.Background()) {
		if IsTerminal(ev) {
			next, err := e.RequestSync(context.Background(), photosOnly, testSettings(root))
			if err != nil {
				t.Fatalf("RequestSync() on terminal event error = %v", err)
			}
			collect(t, next)
		}
	}
}

func TestRequestSync_InvalidInputsRejectedUpFront(t *testing.T) {
	launcher := &fakeLauncher{}
	est := &fakeEstimator{}
	e := newTestEngine(est, launcher)

	_, err := e.RequestSync(context.Background(), filter.Policy{Mode: filter.ModeInclude}, testSettings(t.TempDir()))
	if !errors.Is(err, utils.ErrInvalidPolicy) {
		t.Errorf("empty include list error = %v", err)
	}

	bad := []Settings{
		{RemoteName: "proton", LocalRoot: "relative/dir", LargeSyncThresholdBytes: gb},
		{RemoteName: "", LocalRoot: t.TempDir(), LargeSyncThresholdBytes: gb},
		{RemoteName: "proton", LocalRoot: t.TempDir(), LargeSyncThresholdBytes: 0},
		{RemoteName: "proton", LocalRoot: t.TempDir(), LargeSyncThresholdBytes: gb, BandwidthLimitKbps: -1},
	}
	for _, s := range bad {
		if _, err := e.RequestSync(context.Background(), photosOnly, s); !errors.Is(err, utils.ErrInvalidSettings) {
			t.Errorf("RequestSync(%+v) error = %v, want InvalidSettings", s, err)
		}
	}

	if len(launcher.launched()) != 0 || len(est.filters) != 0 {
		t.Error("invalid request reached rclone")
	}
}

func TestLargeSync_ConfirmProceed(t *testing.T) {
	launcher := &fakeLauncher{}
	e := newTestEngine(&fakeEstimator{est: inventory.SizeEstimate{TotalBytes: 2 * gb}}, launcher)

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateAwaitingConfirmation)
	if len(launcher.launched()) != 0 {
		t.Fatal("rclone launched before confirmation")
	}
	if err := run.Pause(); !errors.Is(err, utils.ErrInvalidState) {
		t.Errorf("Pause() while awaiting confirmation error = %v", err)
	}

	if err := run.Confirm(true); err != nil {
		t.Fatalf("Confirm(true) error = %v", err)
	}
	if err := run.Confirm(true); !errors.Is(err, utils.ErrInvalidState) {
		t.Errorf("second Confirm() error = %v, want InvalidState", err)
	}
	events := collect(t, run)

	want := []State{StateIdle, StateEstimating, StateAwaitingConfirmation, StateTransferring, StateCompleted}
	if !slices.Equal(states(events), want) {
		t.Errorf("states = %v, want %v", states(events), want)
	}
	var confirm ConfirmationRequired
	for _, ev := range events {
		if c, ok := ev.(ConfirmationRequired); ok {
			confirm = c
		}
	}
	if confirm.Estimate.TotalBytes != 2*gb || confirm.ThresholdBytes != gb {
		t.Errorf("confirmation = %+v", confirm)
	}
	specs := launcher.launched()
	if len(specs) != 1 || slices.Contains(specs[0].Args, "--dry-run") {
		t.Errorf("launches = %+v", specs)
	}
}

func TestLargeSync_ConfirmAbort(t *testing.T) {
	launcher := &fakeLauncher{}
	e := newTestEngine(&fakeEstimator{est: inventory.SizeEstimate{TotalBytes: 2 * gb}}, launcher)

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateAwaitingConfirmation)
	if err := run.Confirm(false); err != nil {
		t.Fatalf("Confirm(false) error = %v", err)
	}
	events := collect(t, run)

	want := []State{StateIdle, StateEstimating, StateAwaitingConfirmation, StateCancelled}
	if !slices.Equal(states(events), want) {
		t.Errorf("states = %v, want %v", states(events), want)
	}
	if _, ok := events[len(events)-1].(Cancelled); !ok {
		t.Errorf("last event = %v", events[len(events)-1].Kind())
	}
	if snap := run.Snapshot(); snap.BytesTransferred != 0 || snap.FilesTransferred != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(launcher.launched()) != 0 {
		t.Error("rclone launched after abort")
	}
}

func TestCancel_WhileAwaitingConfirmation(t *testing.T) {
	launcher := &fakeLauncher{}
	e := newTestEngine(&fakeEstimator{est: inventory.SizeEstimate{TotalBytes: 5 * gb}}, launcher)

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateAwaitingConfirmation)
	_ = run.Cancel()
	events := collect(t, run)

	if _, ok := events[len(events)-1].(Cancelled); !ok {
		t.Errorf("last event = %v", events[len(events)-1].Kind())
	}
	if len(launcher.launched()) != 0 {
		t.Error("rclone launched after cancel")
	}
	if err := run.Confirm(true); !errors.Is(err, utils.ErrInvalidState) {
		t.Errorf("Confirm() after cancel error = %v", err)
	}
}

func TestCancel_DuringEstimation(t *testing.T) {
	est := &fakeEstimator{block: make(chan struct{})}
	launcher := &fakeLauncher{}
	e := newTestEngine(est, launcher)

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateEstimating)
	_ = run.Cancel()
	events := collect(t, run)
	if _, ok := events[len(events)-1].(Cancelled); !ok {
		t.Errorf("last event = %v", events[len(events)-1].Kind())
	}
	if len(launcher.launched()) != 0 {
		t.Error("rclone launched after cancel")
	}
}

func TestCancel_TwiceEmitsOneCancelled(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{}, "Transferred:   1 MiB / 8 MiB, 12%, 1 MiB/s, ETA 7s")
	proc.hold = true
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{proc}})

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateTransferring)
	waitFor(t, func() bool { return run.Snapshot().BytesTransferred == 1<<20 }, "first progress line")

	var wg gosync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = run.Cancel()
		}()
	}
	wg.Wait()
	events := collect(t, run)
	_ = run.Cancel()

	n := 0
	for _, ev := range events {
		if ev.Kind() == KindCancelled {
			n++
		}
	}
	if n != 1 {
		t.Errorf("got %d Cancelled events, want 1", n)
	}
	if _, ok := events[len(events)-1].(Cancelled); !ok {
		t.Errorf("last event = %v", events[len(events)-1].Kind())
	}
	if _, _, cancels := proc.counts(); cancels == 0 {
		t.Error("process was not cancelled")
	}
	select {
	case <-proc.finished:
	default:
		t.Error("Cancelled published before the process exited")
	}
	if got := run.Snapshot().BytesTransferred; got != 1<<20 {
		t.Errorf("BytesTransferred = %d", got)
	}
}

func TestCancel_AfterCompletionIsNoOp(t *testing.T) {
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{})
	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	before := collect(t, run)
	if err := run.Cancel(); err != nil {
		t.Errorf("Cancel() error = %v", err)
	}
	after := collect(t, run)
	if len(after) != len(before) || run.State() != StateCompleted {
		t.Errorf("cancel after completion changed the run: %v", kinds(after))
	}
}

func TestTransferFailure_ReasonFromStderr(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{Code: 1},
		"Transferred:   3 MiB / 10 MiB, 30%, 1 MiB/s, ETA 7s",
	)
	proc.stderr = []string{"auth error"}
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{proc}})

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, run)

	failed, ok := events[len(events)-1].(Failed)
	if !ok {
		t.Fatalf("last event = %v", events[len(events)-1].Kind())
	}
	if !strings.Contains(failed.Reason, "auth error") || failed.ExitCode != 1 {
		t.Errorf("failed = %+v", failed)
	}
	snap := run.Snapshot()
	if snap.State != StateFailed || snap.BytesTransferred != 3<<20 || snap.Reason != failed.Reason {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestTransferFailure_EmptyStderrStillHasReason(t *testing.T) {
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{newFakeProcess(process.ExitStatus{Code: 7})}})
	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, run)
	failed := events[len(events)-1].(Failed)
	if failed.Reason == "" || failed.Code != utils.ErrCodeTransferFailed {
		t.Errorf("failed = %+v", failed)
	}
}

func TestTransfer_WarningsDoNotAbort(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{},
		"2024/03/01 10:00:00 ERROR : Photos/bad.jpg: Failed to copy: permission denied",
		"2024/03/01 10:00:01 INFO  : Photos/good.jpg: Copied (new)",
	)
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{proc}})
	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, run)
	if _, ok := events[len(events)-1].(Completed); !ok {
		t.Fatalf("last event = %v", events[len(events)-1].Kind())
	}
	snap := run.Snapshot()
	if len(snap.Errors) != 1 || snap.Errors[0].Path != "Photos/bad.jpg" {
		t.Errorf("errors = %+v", snap.Errors)
	}
}

func TestSpawnFailure_IsFatal(t *testing.T) {
	spawnErr := utils.WrapAppError(utils.NewCLIError(utils.ErrCodeSpawnFailed, "failed to start rclone").Build(), errors.New("exec: not found"))
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{err: spawnErr})

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, run)
	failed, ok := events[len(events)-1].(Failed)
	if !ok {
		t.Fatalf("last event = %v", events[len(events)-1].Kind())
	}
	if failed.Code != utils.ErrCodeSpawnFailed || failed.Reason == "" {
		t.Errorf("failed = %+v", failed)
	}
}

func TestEstimationFailure_IsNonFatal(t *testing.T) {
	launcher := &fakeLauncher{}
	est := &fakeEstimator{err: utils.WrapAppError(utils.NewCLIError(utils.ErrCodeEstimationFailed, "could not estimate").Build(), errors.New("boom"))}
	e := newTestEngine(est, launcher)

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, run)

	var sawWarning, sawEstimate bool
	for _, ev := range events {
		switch v := ev.(type) {
		case Warning:
			sawWarning = strings.Contains(v.Message, "could not estimate")
		case Estimated:
			sawEstimate = v.Failed && v.Estimate.TotalBytes == 0
		}
	}
	if !sawWarning || !sawEstimate {
		t.Errorf("events = %v", kinds(events))
	}
	if _, ok := events[len(events)-1].(Completed); !ok {
		t.Errorf("last event = %v", events[len(events)-1].Kind())
	}
	if len(launcher.launched()) != 1 {
		t.Error("transfer not attempted after estimation failure")
	}
}

func TestEstimateAndTransferUseSameFilters(t *testing.T) {
	est := &fakeEstimator{}
	launcher := &fakeLauncher{}
	e := newTestEngine(est, launcher, WithRclone("/opt/rclone", []string{"RCLONE_CONFIG=/tmp/x"}))

	run, err := e.RequestSync(context.Background(), photosOnly, Settings{
		RemoteName:              "proton",
		LocalRoot:               t.TempDir(),
		LargeSyncThresholdBytes: gb,
		BandwidthLimitKbps:      512,
	})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, run)

	flags := est.filters[0].Flags()
	spec := launcher.launched()[0]
	if spec.Binary != "/opt/rclone" || !slices.Equal(spec.Env, []string{"RCLONE_CONFIG=/tmp/x"}) {
		t.Errorf("spec = %+v", spec)
	}
	idx := slices.Index(spec.Args, "--filter")
	if idx < 0 || !slices.Equal(spec.Args[idx:idx+len(flags)], flags) {
		t.Errorf("transfer args %v do not carry estimate filters %v", spec.Args, flags)
	}
	if !est.filters[0].Equal(run.Filters()) {
		t.Error("run filters differ from estimate filters")
	}
	if est.filters[0].Allows("Documents/report.pdf") || !est.filters[0].Allows("Photos/2024/a.jpg") {
		t.Error("filters do not restrict the transfer to Photos")
	}
	if !slices.Contains(spec.Args, "--bwlimit") || !slices.Contains(spec.Args, "512k") {
		t.Errorf("bandwidth limit missing from %v", spec.Args)
	}
}

func TestDryRunBeforeFirstSync(t *testing.T) {
	dry := newFakeProcess(process.ExitStatus{},
		"2024/03/01 10:00:00 NOTICE: Photos/a.jpg: Skipped copy as --dry-run is set (size 1Mi)",
		"Transferred:   1 MiB / 1 MiB, 100%, 0 B/s, ETA -",
	)
	live := newFakeProcess(process.ExitStatus{},
		"2024/03/01 10:00:00 INFO  : Photos/a.jpg: Copied (new)",
		"Transferred:   1 MiB / 1 MiB, 100%, 1 MiB/s, ETA 0s",
	)
	launcher := &fakeLauncher{procs: []*fakeProcess{dry, live}}
	e := newTestEngine(&fakeEstimator{}, launcher)

	settings := testSettings(t.TempDir())
	settings.DryRunBeforeFirstSync = true

	run, err := e.RequestSync(context.Background(), photosOnly, settings)
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, run)

	want := []State{StateIdle, StateEstimating, StateDryRunning, StateTransferring, StateCompleted}
	if !slices.Equal(states(events), want) {
		t.Errorf("states = %v, want %v", states(events), want)
	}

	var phase State
	for _, ev := range events {
		switch v := ev.(type) {
		case StateChanged:
			phase = v.To
		case Progress:
			if (phase == StateDryRunning) != v.Simulated {
				t.Errorf("progress in %v has Simulated=%v", phase, v.Simulated)
			}
		}
	}

	specs := launcher.launched()
	if len(specs) != 2 || !slices.Contains(specs[0].Args, "--dry-run") || slices.Contains(specs[1].Args, "--dry-run") {
		t.Fatalf("launches = %+v", specs)
	}
	snap := run.Snapshot()
	if !snap.DryRun || snap.FilesTransferred != 1 || snap.BytesTransferred != 1<<20 {
		t.Errorf("snapshot = %+v", snap)
	}

	// the policy has completed once, so no second dry run
	again, err := e.RequestSync(context.Background(), photosOnly, settings)
	if err != nil {
		t.Fatal(err)
	}
	collect(t, again)
	specs = launcher.launched()
	if len(specs) != 3 || slices.Contains(specs[2].Args, "--dry-run") {
		t.Errorf("second run launches = %+v", specs[2:])
	}
}

func TestDryRunFailure_SkipsTransfer(t *testing.T) {
	dry := newFakeProcess(process.ExitStatus{Code: 3})
	dry.stderr = []string{"2024/03/01 10:00:00 ERROR : : error reading source root directory: directory not found"}
	launcher := &fakeLauncher{procs: []*fakeProcess{dry}}
	e := newTestEngine(&fakeEstimator{}, launcher)

	settings := testSettings(t.TempDir())
	settings.DryRunBeforeFirstSync = true
	run, err := e.RequestSync(context.Background(), photosOnly, settings)
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, run)
	failed, ok := events[len(events)-1].(Failed)
	if !ok || !strings.Contains(failed.Reason, "directory not found") {
		t.Fatalf("last event = %+v", events[len(events)-1])
	}
	if len(launcher.launched()) != 1 {
		t.Error("transfer ran after a failed dry run")
	}
}

func TestPauseResume(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{})
	proc.hold = true
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{proc}})

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateTransferring)
	waitForProcess(t, run)

	if err := run.Resume(); !errors.Is(err, utils.ErrInvalidState) {
		t.Errorf("Resume() while transferring error = %v", err)
	}
	if err := e.Pause(run.ID()); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if run.State() != StatePaused {
		t.Fatalf("state = %v", run.State())
	}
	if err := run.Pause(); !errors.Is(err, utils.ErrInvalidState) {
		t.Errorf("second Pause() error = %v", err)
	}
	if err := e.Resume(run.ID()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	close(proc.release)
	events := collect(t, run)

	want := []State{StateIdle, StateEstimating, StateTransferring, StatePaused, StateTransferring, StateCompleted}
	if !slices.Equal(states(events), want) {
		t.Errorf("states = %v, want %v", states(events), want)
	}
	var sawPaused, sawResumed bool
	for _, ev := range events {
		sawPaused = sawPaused || ev.Kind() == KindPaused
		sawResumed = sawResumed || ev.Kind() == KindResumed
	}
	if !sawPaused || !sawResumed {
		t.Errorf("events = %v", kinds(events))
	}
	if p, r, _ := proc.counts(); p != 1 || r != 1 {
		t.Errorf("pauses=%d resumes=%d", p, r)
	}
}

func TestPause_RefusedAfterOutputEnds(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{})
	proc.waiting = make(chan struct{})
	proc.waitGate = make(chan struct{})
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{proc}})

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-proc.waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("driver never waited for the child")
	}

	if err := run.Pause(); !errors.Is(err, utils.ErrInvalidState) {
		t.Errorf("Pause() after output ended error = %v, want InvalidState", err)
	}
	close(proc.waitGate)
	events := collect(t, run)

	want := []State{StateIdle, StateEstimating, StateTransferring, StateCompleted}
	if !slices.Equal(states(events), want) {
		t.Errorf("states = %v, want %v", states(events), want)
	}
	if p, _, _ := proc.counts(); p != 0 {
		t.Errorf("child paused %d times after its output ended", p)
	}
}

func TestPause_ResumedWhenOutputEndsWhilePaused(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{})
	proc.hold = true
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{proc}})

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateTransferring)
	waitForProcess(t, run)
	if err := run.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	close(proc.release)
	events := collect(t, run)

	want := []State{StateIdle, StateEstimating, StateTransferring, StatePaused, StateTransferring, StateCompleted}
	if !slices.Equal(states(events), want) {
		t.Errorf("states = %v, want %v", states(events), want)
	}
	if _, r, _ := proc.counts(); r != 1 {
		t.Errorf("resumes = %d, want 1", r)
	}
}

func TestPauseUnsupported_KeepsTransferring(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{})
	proc.hold = true
	proc.pauseErr = utils.ErrPauseUnsupported
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{proc}})

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateTransferring)
	waitForProcess(t, run)

	if err := run.Pause(); !errors.Is(err, utils.ErrPauseUnsupported) {
		t.Errorf("Pause() error = %v, want PauseUnsupported", err)
	}
	if run.State() != StateTransferring {
		t.Errorf("state = %v, want transferring", run.State())
	}
	close(proc.release)
	collect(t, run)
}

func TestCancel_WhilePaused(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{})
	proc.hold = true
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{proc}})

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateTransferring)
	waitForProcess(t, run)
	if err := run.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := e.Cancel(run.ID()); err != nil {
		t.Fatal(err)
	}
	events := collect(t, run)
	if _, ok := events[len(events)-1].(Cancelled); !ok {
		t.Errorf("last event = %v", events[len(events)-1].Kind())
	}
}

func TestEngine_LookupAndShutdown(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{})
	proc.hold = true
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{proc}})

	if _, err := e.Run("missing"); !errors.Is(err, utils.ErrRunNotFound) {
		t.Errorf("Run(missing) error = %v", err)
	}
	if err := e.Confirm("missing", true); !errors.Is(err, utils.ErrRunNotFound) {
		t.Errorf("Confirm(missing) error = %v", err)
	}

	run, err := e.RequestSync(context.Background(), photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateTransferring)
	if active := e.Active(); len(active) != 1 || active[0].ID != run.ID() {
		t.Errorf("Active() = %+v", active)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if run.State() != StateCancelled {
		t.Errorf("state after shutdown = %v", run.State())
	}
	if len(e.Active()) != 0 {
		t.Error("runs still active after shutdown")
	}
}

func TestRequestSync_ParentContextCancels(t *testing.T) {
	proc := newFakeProcess(process.ExitStatus{})
	proc.hold = true
	e := newTestEngine(&fakeEstimator{}, &fakeLauncher{procs: []*fakeProcess{proc}})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := e.RequestSync(ctx, photosOnly, testSettings(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, run, StateTransferring)
	cancel()
	if snap := run.Wait(); snap.State != StateCancelled {
		t.Errorf("state = %v", snap.State)
	}
}

func TestState_Properties(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed, StateCancelled} {
		if !s.IsTerminal() || s.HasProcess() {
			t.Errorf("%v: terminal=%v process=%v", s, s.IsTerminal(), s.HasProcess())
		}
	}
	for _, s := range []State{StateDryRunning, StateTransferring, StatePaused} {
		if s.IsTerminal() || !s.HasProcess() {
			t.Errorf("%v: terminal=%v process=%v", s, s.IsTerminal(), s.HasProcess())
		}
	}
	if StateIdle.HasProcess() || StateAwaitingConfirmation.HasProcess() {
		t.Error("idle and awaiting confirmation have no process")
	}
	if State(99).String() != "unknown" {
		t.Error("out of range state should be unknown")
	}
}
