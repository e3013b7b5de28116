// Package rclone builds argument vectors for every rclone invocation pdsync
// makes and runs short-lived rclone commands.
package rclone

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dl-alexandre/pdsync/internal/utils"
)

// RemotePath turns a remote name into rclone's "name:" form.
func RemotePath(remote string) string {
	remote = strings.TrimSpace(remote)
	if strings.HasSuffix(remote, ":") {
		return remote
	}
	return remote + ":"
}

// RemoteName strips a trailing colon.
func RemoteName(remote string) string {
	return strings.TrimSuffix(strings.TrimSpace(remote), ":")
}

// ListFoldersArgs lists directory paths, one per line, relative to the remote root.
func ListFoldersArgs(remote string, maxDepth int) []string {
	args := []string{"lsf", RemotePath(remote), "--dirs-only", "-R", "--format", "p"}
	if maxDepth > 0 {
		args = append(args, "--max-depth", strconv.Itoa(maxDepth))
	}
	return args
}

// SizeArgs reports {"count":N,"bytes":N} for the files selected by filterFlags.
func SizeArgs(remote string, filterFlags []string) []string {
	args := []string{"size", RemotePath(remote), "--json"}
	return append(args, filterFlags...)
}

// SyncOptions describes one "rclone sync" invocation.
type SyncOptions struct {
	Remote             string
	LocalRoot          string
	DryRun             bool
	FilterFlags        []string
	BandwidthLimitKbps int
}

// SyncArgs builds a one-way remote to local sync with one-second stats.
func SyncArgs(opts SyncOptions) []string {
	args := []string{
		"sync", RemotePath(opts.Remote), opts.LocalRoot,
		"--progress",
		"--stats", utils.StatsInterval,
		"-v",
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, opts.FilterFlags...)
	if opts.BandwidthLimitKbps > 0 {
		args = append(args, "--bwlimit", fmt.Sprintf("%dk", opts.BandwidthLimitKbps))
	}
	return args
}

func VersionArgs() []string { return []string{"version"} }

// ListRemotesArgs prints "name: type" per configured remote.
func ListRemotesArgs() []string { return []string{"listremotes", "--long"} }

// CheckRemoteArgs lists the top-level directories, which fails fast on bad credentials.
func CheckRemoteArgs(remote string) []string {
	return []string{"lsd", RemotePath(remote), "--max-depth", "1"}
}

// ConfigShowArgs prints the INI section for one remote.
func ConfigShowArgs(remote string) []string {
	return []string{"config", "show", RemoteName(remote)}
}
