package errors

import (
	"fmt"
	"strings"

	"github.com/dl-alexandre/pdsync/internal/logging"
	"github.com/dl-alexandre/pdsync/internal/sync/progress"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

// rclone exit codes, see "rclone help flags" / docs/content/docs.md.
const (
	RcloneExitUsage            = 1
	RcloneExitUncategorised    = 2
	RcloneExitDirNotFound      = 3
	RcloneExitFileNotFound     = 4
	RcloneExitTemporary        = 5
	RcloneExitLessSerious      = 6
	RcloneExitFatal            = 7
	RcloneExitTransferExceeded = 8
	RcloneExitNoFilesMoved     = 9
)

// authMarkers are stderr fragments rclone backends emit when credentials are
// missing, expired or rejected. Matching is best effort.
var authMarkers = []string{
	"unauthorized",
	"unauthenticated",
	"authentication failed",
	"auth error",
	"invalid credentials",
	"invalid password",
	"incorrect login credentials",
	"token expired",
	"couldn't login",
	"failed to login",
	"2fa",
	"login required",
	"didn't find section in config file",
}

// IsAuthFailure reports whether stderr looks like a credential failure.
func IsAuthFailure(stderr []string) bool {
	for _, line := range stderr {
		lower := strings.ToLower(line)
		for _, marker := range authMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

// LastMeaningfulLine returns the last non-empty stderr line with rclone's
// timestamp and level prefix removed.
func LastMeaningfulLine(stderr []string) string {
	for i := len(stderr) - 1; i >= 0; i-- {
		line := progress.Clean(stderr[i])
		if line == "" {
			continue
		}
		if idx := strings.Index(line, " : "); idx >= 0 && idx < 40 {
			line = strings.TrimSpace(line[idx+3:])
		}
		if line != "" {
			return line
		}
	}
	return ""
}

// ClassifyRcloneFailure maps a failed remote query (list, size, check) to
// REMOTE_UNAUTHENTICATED or REMOTE_UNREACHABLE.
func ClassifyRcloneFailure(op, remote string, exitCode int, stderr []string, logger logging.Logger) *utils.AppError {
	code := utils.ErrCodeRemoteUnreachable
	retryable := false
	if IsAuthFailure(stderr) {
		code = utils.ErrCodeRemoteUnauthenticated
	} else if exitCode == RcloneExitTemporary {
		retryable = true
	}

	detail := LastMeaningfulLine(stderr)
	message := fmt.Sprintf("rclone %s on %s failed with exit code %d", op, remote, exitCode)
	if detail != "" {
		message = fmt.Sprintf("%s: %s", message, detail)
	}

	if logger != nil {
		logger.Error("rclone failure classified",
			logging.F("op", op),
			logging.F("remote", remote),
			logging.F("exitCode", exitCode),
			logging.F("errorCode", code),
			logging.F("retryable", retryable),
		)
	}

	builder := utils.NewCLIError(code, message).
		WithExitStatus(exitCode).
		WithRetryable(retryable).
		WithContext("remote", remote).
		WithContext("op", op)

	switch {
	case code == utils.ErrCodeRemoteUnauthenticated:
		builder.WithContext("suggestedAction", fmt.Sprintf("run 'rclone config reconnect %s:' or re-enter credentials with 'rclone config'", remote))
	case exitCode == RcloneExitDirNotFound:
		builder.WithContext("suggestedAction", "check the remote name and path exist")
	case retryable:
		builder.WithContext("suggestedAction", "temporary error, retry later")
	}

	return utils.NewAppError(builder.Build())
}

// TransferFailureReason builds the human-readable reason for a sync that
// exited non-zero. It is never empty.
func TransferFailureReason(exitCode int, stderr []string) string {
	reason := fmt.Sprintf("rclone exited with code %d", exitCode)
	if exitCode < 0 {
		reason = "rclone was terminated by a signal"
	}
	if detail := LastMeaningfulLine(stderr); detail != "" {
		reason = fmt.Sprintf("%s: %s", reason, detail)
	}
	return reason
}

// TransferFailureCode picks the error code reported with a failed transfer.
func TransferFailureCode(stderr []string) string {
	if IsAuthFailure(stderr) {
		return utils.ErrCodeRemoteUnauthenticated
	}
	return utils.ErrCodeTransferFailed
}
