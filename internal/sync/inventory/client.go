// Package inventory answers read-only questions about a remote: which folders
// exist and how much a filtered sync would transfer.
package inventory

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	pderrors "github.com/dl-alexandre/pdsync/internal/errors"
	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/rclone"
	"github.com/dl-alexandre/pdsync/internal/sync/filter"
	"github.com/dl-alexandre/pdsync/internal/sync/process"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

// ErrSequenceConsumed is yielded when a folder listing is iterated twice.
var ErrSequenceConsumed = stderrors.New("folder listing already consumed")

// SizeEstimate is the result of one "rclone size" call. It is never cached.
type SizeEstimate struct {
	TotalBytes  int64     `json:"totalBytes"`
	TotalFiles  int64     `json:"totalFiles"`
	EstimatedAt time.Time `json:"estimatedAt"`
}

// sizeOutput mirrors `rclone size --json`.
type sizeOutput struct {
	Count    int64 `json:"count"`
	Bytes    int64 `json:"bytes"`
	Sizeless int64 `json:"sizeless,omitempty"`
}

// Remote is one entry from "rclone listremotes --long".
type Remote struct {
	Name string
	Type string
}

// Client queries a remote through rclone.
type Client struct {
	runner          *rclone.Runner
	launcher        process.Launcher
	logger          logging.Logger
	listTimeout     time.Duration
	estimateTimeout time.Duration
	now             func() time.Time
}

// Option configures a Client.
type Option func(*Client)

func WithListTimeout(d time.Duration) Option {
	return func(c *Client) { c.listTimeout = d }
}

func WithEstimateTimeout(d time.Duration) Option {
	return func(c *Client) { c.estimateTimeout = d }
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock replaces time.Now for EstimatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client. runner handles one-shot commands; launcher is
// used for the streamed folder listing.
func NewClient(runner *rclone.Runner, launcher process.Launcher, opts ...Option) *Client {
	c := &Client{
		runner:          runner,
		launcher:        launcher,
		logger:          logging.NewNoOpLogger(),
		listTimeout:     utils.DefaultListTimeout,
		estimateTimeout: utils.DefaultEstimateTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListFolders streams the remote's directory paths, relative to its root,
// down to maxDepth levels. Nothing runs until the sequence is iterated, and it
// can be iterated once. Breaking out early stops the listing process.
// A failed or timed-out listing yields a final REMOTE_UNREACHABLE (or
// REMOTE_UNAUTHENTICATED) error.
func (c *Client) ListFolders(ctx context.Context, remote string, maxDepth int) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield("", ErrSequenceConsumed)
			return
		}

		listCtx := ctx
		if c.listTimeout > 0 {
			var cancel context.CancelFunc
			listCtx, cancel = context.WithTimeout(ctx, c.listTimeout)
			defer cancel()
		}

		args := rclone.ListFoldersArgs(remote, maxDepth)
		proc, err := c.launcher.Launch(process.Spec{
			Binary: c.runner.Binary(),
			Args:   args,
			Env:    c.runner.Env(),
		})
		if err != nil {
			yield("", err)
			return
		}
		stop := context.AfterFunc(listCtx, func() { _ = proc.Cancel() })
		defer stop()

		for line := range proc.Lines() {
			if line.Stream != process.Stdout {
				continue
			}
			folder := strings.TrimSuffix(strings.TrimSpace(line.Text), "/")
			if folder == "" {
				continue
			}
			if !yield(folder, nil) {
				_ = proc.Cancel()
				return
			}
		}

		status := proc.Wait()
		if ctxErr := listCtx.Err(); ctxErr != nil {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			yield("", utils.WrapAppError(
				utils.NewCLIError(utils.ErrCodeRemoteUnreachable,
					fmt.Sprintf("listing %s timed out after %s", rclone.RemotePath(remote), c.listTimeout)).
					WithRetryable(true).
					WithContext("remote", remote).Build(),
				ctxErr))
			return
		}
		if !status.Success() {
			yield("", pderrors.ClassifyRcloneFailure("lsf", remote, status.Code, proc.StderrTail(), c.logger))
		}
	}
}

// CollectFolders drains ListFolders into a slice.
func (c *Client) CollectFolders(ctx context.Context, remote string, maxDepth int) ([]string, error) {
	var folders []string
	for folder, err := range c.ListFolders(ctx, remote, maxDepth) {
		if err != nil {
			return folders, err
		}
		folders = append(folders, folder)
	}
	return folders, nil
}

// EstimateSize asks rclone how many files and bytes filters select on remote.
// Any failure is reported as ESTIMATION_FAILED wrapping the cause.
func (c *Client) EstimateSize(ctx context.Context, remote string, filters filter.Args) (SizeEstimate, error) {
	if c.estimateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.estimateTimeout)
		defer cancel()
	}

	result, err := c.runner.Run(ctx, rclone.SizeArgs(remote, filters.Flags())...)
	if err != nil {
		var cause error = err
		var exitErr *rclone.ExitError
		if stderrors.As(err, &exitErr) {
			cause = pderrors.ClassifyRcloneFailure("size", remote, exitErr.ExitCode, splitLines(exitErr.Stderr), c.logger)
		}
		return SizeEstimate{}, estimationFailed(remote, cause)
	}

	var out sizeOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Stdout)), &out); err != nil {
		return SizeEstimate{}, estimationFailed(remote, fmt.Errorf("unexpected rclone size output: %w", err))
	}
	if out.Count < 0 || out.Bytes < 0 {
		return SizeEstimate{}, estimationFailed(remote, fmt.Errorf("negative totals in rclone size output"))
	}

	c.logger.Debug("size estimated",
		logging.F("remote", remote),
		logging.F("files", out.Count),
		logging.F("bytes", out.Bytes),
		logging.F("filters", filters.Describe()))

	return SizeEstimate{
		TotalBytes:  out.Bytes,
		TotalFiles:  out.Count,
		EstimatedAt: c.now(),
	}, nil
}

func estimationFailed(remote string, cause error) error {
	return utils.WrapAppError(
		utils.NewCLIError(utils.ErrCodeEstimationFailed, fmt.Sprintf("could not estimate size of %s", rclone.RemotePath(remote))).
			WithContext("remote", remote).Build(),
		cause)
}

// Version returns rclone's version string, e.g. "v1.66.0".
func (c *Client) Version(ctx context.Context) (string, error) {
	result, err := c.runner.Run(ctx, rclone.VersionArgs()...)
	if err != nil {
		return "", err
	}
	first := strings.TrimSpace(strings.SplitN(result.Stdout, "\n", 2)[0])
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty rclone version output")
	}
	return fields[len(fields)-1], nil
}

// ListRemotes returns the configured remotes.
func (c *Client) ListRemotes(ctx context.Context) ([]Remote, error) {
	result, err := c.runner.Run(ctx, rclone.ListRemotesArgs()...)
	if err != nil {
		return nil, err
	}
	var remotes []Remote
	for _, line := range splitLines(result.Stdout) {
		name, typ, _ := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		remotes = append(remotes, Remote{Name: name, Type: strings.TrimSpace(typ)})
	}
	return remotes, nil
}

// CheckRemote verifies the remote answers a shallow listing.
func (c *Client) CheckRemote(ctx context.Context, remote string) error {
	if c.listTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.listTimeout)
		defer cancel()
	}
	_, err := c.runner.Run(ctx, rclone.CheckRemoteArgs(remote)...)
	if err == nil {
		return nil
	}
	var exitErr *rclone.ExitError
	if stderrors.As(err, &exitErr) {
		return pderrors.ClassifyRcloneFailure("lsd", remote, exitErr.ExitCode, splitLines(exitErr.Stderr), c.logger)
	}
	if stderrors.Is(err, utils.ErrSpawnFailed) {
		return err
	}
	return utils.WrapAppError(
		utils.NewCLIError(utils.ErrCodeRemoteUnreachable, fmt.Sprintf("could not reach %s", rclone.RemotePath(remote))).
			WithRetryable(true).Build(),
		err)
}

// RemoteType reads the backend type ("protondrive", "drive", ...) from the
// remote's config section. Secrets in that section are never logged.
func (c *Client) RemoteType(ctx context.Context, remote string) (string, error) {
	result, err := c.runner.Run(ctx, rclone.ConfigShowArgs(remote)...)
	if err != nil {
		return "", err
	}
	for _, line := range splitLines(result.Stdout) {
		key, value, ok := strings.Cut(line, "=")
		if ok && strings.TrimSpace(key) == "type" {
			return strings.TrimSpace(value), nil
		}
	}
	return "", utils.NewAppError(
		utils.NewCLIError(utils.ErrCodeConfigError, fmt.Sprintf("remote %s has no type in rclone config", rclone.RemotePath(remote))).
			WithContext("remote", rclone.RemoteName(remote)).Build())
}

// IsProton reports whether an rclone backend type is ProtonDrive.
func IsProton(backend string) bool {
	return strings.Contains(strings.ToLower(backend), "proton")
}

// DetectProtonRemote returns the first configured remote backed by
// ProtonDrive. Remotes listed without a type are looked up with config show.
func (c *Client) DetectProtonRemote(ctx context.Context) (string, error) {
	remotes, err := c.ListRemotes(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range remotes {
		backend := r.Type
		if backend == "" {
			backend, err = c.RemoteType(ctx, r.Name)
			if err != nil {
				c.logger.Debug("skipping remote without a readable type", logging.F("remote", r.Name), logging.F("error", err.Error()))
				continue
			}
		}
		if IsProton(backend) {
			return r.Name, nil
		}
	}
	return "", utils.NewAppError(
		utils.NewCLIError(utils.ErrCodeConfigError, "no ProtonDrive remote found in rclone config (run 'rclone config')").Build())
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
