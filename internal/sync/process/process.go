// Package process supervises a single long-running rclone child: output
// streaming, exit status, suspend/resume and graceful termination.
package process

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

// Stream identifies which pipe a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stdout {
		return "stdout"
	}
	return "stderr"
}

// Line is one line of child output, without its terminator.
type Line struct {
	Stream Stream
	Text   string
}

// Spec describes the child to run.
type Spec struct {
	Binary string
	Args   []string
	Env    []string // appended to the current environment
	Dir    string
}

// ExitStatus is the result of a finished child.
type ExitStatus struct {
	Code      int
	Signalled bool
}

func (s ExitStatus) Success() bool { return s.Code == 0 && !s.Signalled }

// Tap observes every line read from a child.
type Tap interface {
	Observe(stream, text string)
}

// Process is the control surface of a running child.
type Process interface {
	Lines() iter.Seq[Line]
	Wait() ExitStatus
	Pause() error
	Resume() error
	Cancel() error
	StderrTail() []string
}

// Launcher starts children.
type Launcher interface {
	Launch(spec Spec) (Process, error)
}

// Supervisor starts children with a shared configuration.
type Supervisor struct {
	logger      logging.Logger
	gracePeriod time.Duration
	tailLines   int
	tap         Tap
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithGracePeriod sets how long Cancel waits between SIGTERM and SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.gracePeriod = d }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithStderrTail sets how many trailing stderr lines are kept for error reports.
func WithStderrTail(n int) Option {
	return func(s *Supervisor) { s.tailLines = n }
}

// WithTap mirrors every output line to tap.
func WithTap(tap Tap) Option {
	return func(s *Supervisor) { s.tap = tap }
}

// NewSupervisor creates a Supervisor with the default grace period and tail size.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:      logging.NewNoOpLogger(),
		gracePeriod: utils.DefaultCancelGrace,
		tailLines:   utils.DefaultStderrTailLines,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Launch implements Launcher.
func (s *Supervisor) Launch(spec Spec) (Process, error) {
	h, err := s.Start(spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Start spawns the child without waiting for it. Both output streams are
// drained in the background whether or not anyone consumes Lines.
func (s *Supervisor) Start(spec Spec) (*Handle, error) {
	if spec.Binary == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeSpawnFailed, "no binary given").Build())
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, spawnError(spec, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, spawnError(spec, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, spawnError(spec, err)
	}

	h := &Handle{
		cmd:         cmd,
		logger:      s.logger,
		gracePeriod: s.gracePeriod,
		tailLimit:   s.tailLines,
		tap:         s.tap,
		openStreams: 2,
		done:        make(chan struct{}),
	}
	h.cond = sync.NewCond(&h.mu)

	s.logger.Debug("process started",
		logging.F("binary", spec.Binary),
		logging.F("args", spec.Args),
		logging.F("pid", cmd.Process.Pid))

	var readers sync.WaitGroup
	readers.Add(2)
	go h.read(stdout, Stdout, &readers)
	go h.read(stderr, Stderr, &readers)
	go h.wait(&readers)

	return h, nil
}

func spawnError(spec Spec, err error) error {
	return utils.WrapAppError(
		utils.NewCLIError(utils.ErrCodeSpawnFailed, fmt.Sprintf("failed to start %s", spec.Binary)).
			WithContext("binary", spec.Binary).Build(), err)
}

// Handle is a running (or finished) child.
type Handle struct {
	cmd         *exec.Cmd
	logger      logging.Logger
	gracePeriod time.Duration
	tailLimit   int
	tap         Tap

	mu          sync.Mutex
	cond        *sync.Cond
	queue       []Line
	openStreams int
	consumed    bool
	discard     bool
	tail        []string
	paused      bool
	exited      bool
	status      ExitStatus

	done       chan struct{}
	cancelOnce sync.Once
}

// Pid returns the child's process ID.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

func (h *Handle) read(r io.Reader, stream Stream, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		text := string(bytes.TrimRight(scanner.Bytes(), "\r"))
		if text == "" {
			continue
		}
		if h.tap != nil {
			h.tap.Observe(stream.String(), text)
		}
		h.mu.Lock()
		if stream == Stderr && h.tailLimit > 0 {
			h.tail = append(h.tail, text)
			if len(h.tail) > h.tailLimit {
				h.tail = h.tail[len(h.tail)-h.tailLimit:]
			}
		}
		if !h.discard {
			h.queue = append(h.queue, Line{Stream: stream, Text: text})
		}
		h.cond.Broadcast()
		h.mu.Unlock()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		h.logger.Debug("output stream closed with error", logging.F("stream", stream.String()), logging.F("error", err.Error()))
		// drain whatever is left so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, r)
	}

	h.mu.Lock()
	h.openStreams--
	h.cond.Broadcast()
	h.mu.Unlock()
}

// scanLines splits on \n and on bare \r, which rclone uses to redraw its
// progress block.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance = i + 2
		} else if data[i] == '\r' && i+1 == len(data) && !atEOF {
			return 0, nil, nil
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// wait reaps the child once both pipes are drained, as os/exec requires.
func (h *Handle) wait(readers *sync.WaitGroup) {
	readers.Wait()
	err := h.cmd.Wait()

	status := ExitStatus{}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
			if status.Code < 0 {
				status.Signalled = true
			}
		} else {
			status.Code = -1
		}
	}

	h.mu.Lock()
	h.exited = true
	h.paused = false
	h.status = status
	h.mu.Unlock()

	h.logger.Debug("process exited",
		logging.F("pid", h.cmd.Process.Pid),
		logging.F("code", status.Code),
		logging.F("signalled", status.Signalled))
	close(h.done)
}

// Lines yields output lines in arrival order until both streams close.
// The sequence is single-pass: a second iteration yields nothing.
// Stopping early discards further output.
func (h *Handle) Lines() iter.Seq[Line] {
	return func(yield func(Line) bool) {
		h.mu.Lock()
		if h.consumed {
			h.mu.Unlock()
			return
		}
		h.consumed = true
		h.mu.Unlock()

		for {
			h.mu.Lock()
			for len(h.queue) == 0 && h.openStreams > 0 {
				h.cond.Wait()
			}
			if len(h.queue) == 0 {
				h.mu.Unlock()
				return
			}
			line := h.queue[0]
			h.queue[0] = Line{}
			h.queue = h.queue[1:]
			h.mu.Unlock()

			if !yield(line) {
				h.mu.Lock()
				h.discard = true
				h.queue = nil
				h.mu.Unlock()
				return
			}
		}
	}
}

// Wait blocks until the child has exited and both streams are drained.
func (h *Handle) Wait() ExitStatus {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done is closed when the child has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// StderrTail returns the most recent stderr lines, oldest first.
func (h *Handle) StderrTail() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.tail...)
}

// Pause suspends the child's process group. Pausing an exited child is a no-op.
func (h *Handle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited || h.paused {
		return nil
	}
	if err := suspend(h.cmd); err != nil {
		return err
	}
	h.paused = true
	h.logger.Debug("process paused", logging.F("pid", h.cmd.Process.Pid))
	return nil
}

// Resume continues a paused child. Resuming a running or exited child is a no-op.
func (h *Handle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited || !h.paused {
		return nil
	}
	if err := resume(h.cmd); err != nil {
		return err
	}
	h.paused = false
	h.logger.Debug("process resumed", logging.F("pid", h.cmd.Process.Pid))
	return nil
}

// Cancel asks the child to stop, escalates to a kill after the grace period,
// and returns once the child is gone. Repeated calls only wait.
func (h *Handle) Cancel() error {
	h.cancelOnce.Do(func() {
		if h.Exited() {
			return
		}
		h.mu.Lock()
		wasPaused := h.paused
		h.mu.Unlock()

		h.logger.Debug("terminating process", logging.F("pid", h.cmd.Process.Pid))
		if wasPaused {
			_ = resume(h.cmd)
		}
		if err := terminate(h.cmd); err != nil {
			_ = kill(h.cmd)
			return
		}

		timer := time.NewTimer(h.gracePeriod)
		defer timer.Stop()
		select {
		case <-h.done:
		case <-timer.C:
			h.logger.Warn("process ignored termination, killing",
				logging.F("pid", h.cmd.Process.Pid),
				logging.F("grace", h.gracePeriod.String()))
			_ = kill(h.cmd)
		}
	})
	<-h.done
	return nil
}
