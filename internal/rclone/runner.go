package rclone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes short-lived rclone commands and captures their output.
type Runner struct {
	binary  string
	env     map[string]string
	timeout time.Duration
	logger  logging.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithEnv adds environment variables on top of the current environment.
func WithEnv(env map[string]string) Option {
	return func(r *Runner) {
		for k, v := range env {
			r.env[k] = v
		}
	}
}

// WithTimeout bounds every Run call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithLogger sets the logger used for command tracing.
func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a Runner for binary (default "rclone").
func NewRunner(binary string, opts ...Option) *Runner {
	if binary == "" {
		binary = utils.DefaultRcloneBinary
	}
	r := &Runner{
		binary: binary,
		env:    make(map[string]string),
		logger: logging.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Binary returns the executable the runner invokes.
func (r *Runner) Binary() string { return r.binary }

// Env returns the extra environment as KEY=VALUE pairs.
func (r *Runner) Env() []string {
	env := make([]string, 0, len(r.env))
	for k, v := range r.env {
		env = append(env, k+"="+v)
	}
	return env
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("rclone %v exited with code %d", e.Args, e.ExitCode)
}

// Run executes rclone with args. The returned Result is populated whenever the
// process started. A non-zero exit returns *ExitError; a start failure returns
// a SPAWN_FAILED AppError; an expired deadline returns a TIMEOUT AppError.
func (r *Runner) Run(ctx context.Context, args ...string) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.WaitDelay = 2 * time.Second
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.Env()...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running rclone", logging.F("binary", r.binary), logging.F("args", args))
	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, utils.WrapAppError(
				utils.NewCLIError(utils.ErrCodeTimeout, fmt.Sprintf("rclone %s timed out", firstArg(args))).
					WithRetryable(true).Build(), ctxErr)
		}
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{Args: args, ExitCode: result.ExitCode, Stderr: result.Stderr}
	}

	result.ExitCode = -1
	return result, utils.WrapAppError(
		utils.NewCLIError(utils.ErrCodeSpawnFailed, fmt.Sprintf("failed to start %s", r.binary)).Build(), err)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
