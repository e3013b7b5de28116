package sync

import (
	"context"
	"iter"
	"slices"
	gosync "sync"
	"testing"
	"time"

	"github.com/dl-alexandre/pdsync/internal/sync/filter"
	"github.com/dl-alexandre/pdsync/internal/sync/inventory"
	"github.com/dl-alexandre/pdsync/internal/sync/process"
	"github.com/dl-alexandre/pdsync/internal/types"
)

type fakeEstimator struct {
	mu      gosync.Mutex
	est     inventory.SizeEstimate
	err     error
	block   chan struct{}
	filters []filter.Args
}

func (f *fakeEstimator) EstimateSize(ctx context.Context, _ string, filters filter.Args) (inventory.SizeEstimate, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filters)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return inventory.SizeEstimate{}, ctx.Err()
		}
	}
	return f.est, f.err
}

// fakeProcess replays script, then either exits with status or, when hold
// is set, stays running until released or cancelled.
type fakeProcess struct {
	script   []process.Line
	status   process.ExitStatus
	stderr   []string
	hold     bool
	pauseErr error

	release    chan struct{}
	cancelled  chan struct{}
	finished   chan struct{}
	cancelOnce gosync.Once
	finishOnce gosync.Once

	// waiting is closed on the first Wait call; waitGate, when set, keeps
	// Wait blocked after the output has ended.
	waiting  chan struct{}
	waitGate chan struct{}
	waitOnce gosync.Once

	mu      gosync.Mutex
	final   process.ExitStatus
	pauses  int
	resumes int
	cancels int
}

func newFakeProcess(status process.ExitStatus, lines ...string) *fakeProcess {
	p := &fakeProcess{
		status:    status,
		release:   make(chan struct{}),
		cancelled: make(chan struct{}),
		finished:  make(chan struct{}),
	}
	for _, l := range lines {
		p.script = append(p.script, process.Line{Stream: process.Stdout, Text: l})
	}
	return p
}

func (p *fakeProcess) finish() {
	p.finishOnce.Do(func() {
		p.mu.Lock()
		select {
		case <-p.cancelled:
			p.final = process.ExitStatus{Code: -1, Signalled: true}
		default:
			p.final = p.status
		}
		p.mu.Unlock()
		close(p.finished)
	})
}

func (p *fakeProcess) Lines() iter.Seq[process.Line] {
	return func(yield func(process.Line) bool) {
		defer p.finish()
		for _, l := range p.script {
			select {
			case <-p.cancelled:
				return
			default:
			}
			if !yield(l) {
				return
			}
		}
		if p.hold {
			select {
			case <-p.release:
			case <-p.cancelled:
			}
		}
	}
}

func (p *fakeProcess) Wait() process.ExitStatus {
	if p.waiting != nil {
		p.waitOnce.Do(func() { close(p.waiting) })
	}
	<-p.finished
	if p.waitGate != nil {
		<-p.waitGate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.final
}

func (p *fakeProcess) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pauseErr != nil {
		return p.pauseErr
	}
	p.pauses++
	return nil
}

func (p *fakeProcess) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
	return nil
}

func (p *fakeProcess) Cancel() error {
	p.mu.Lock()
	p.cancels++
	p.mu.Unlock()
	p.cancelOnce.Do(func() { close(p.cancelled) })
	<-p.finished
	return nil
}

func (p *fakeProcess) StderrTail() []string { return slices.Clone(p.stderr) }

func (p *fakeProcess) counts() (pauses, resumes, cancels int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauses, p.resumes, p.cancels
}

type fakeLauncher struct {
	mu    gosync.Mutex
	procs []*fakeProcess
	specs []process.Spec
	err   error
}

func (l *fakeLauncher) Launch(spec process.Spec) (process.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	if l.err != nil {
		return nil, l.err
	}
	if len(l.procs) == 0 {
		return newFakeProcess(process.ExitStatus{}), nil
	}
	p := l.procs[0]
	l.procs = l.procs[1:]
	return p, nil
}

func (l *fakeLauncher) launched() []process.Spec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.specs)
}

type fakeRecorder struct {
	mu      gosync.Mutex
	records []types.RunRecord
}

func (f *fakeRecorder) RecordRun(_ context.Context, rec types.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecorder) all() []types.RunRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.records)
}

// collect drains every event of run, failing the test if the run does not
// reach a terminal event in time.
func collect(t *testing.T, run *Run) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var events []Event
	for e := range run.Events(ctx) {
		events = append(events, e)
	}
	if len(events) == 0 || !IsTerminal(events[len(events)-1]) {
		t.Fatalf("run did not finish, events: %v", kinds(events))
	}
	return events
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind()
	}
	return out
}

func states(events []Event) []State {
	out := []State{StateIdle}
	for _, e := range events {
		if sc, ok := e.(StateChanged); ok {
			out = append(out, sc.To)
		}
	}
	return out
}

func waitForState(t *testing.T, run *Run, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if run.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("run state = %v, want %v", run.State(), want)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitForProcess waits until the driver has attached the launched child.
func waitForProcess(t *testing.T, run *Run) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run.mu.Lock()
		attached := run.proc != nil
		run.mu.Unlock()
		if attached {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no process attached to run")
}
