package sync

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dl-alexandre/pdsync/internal/rclone"
	"github.com/dl-alexandre/pdsync/internal/utils"
)

// Settings are the per-request knobs of a sync. They are copied into the run
// and never modified by the engine.
type Settings struct {
	RemoteName              string `json:"remoteName"`
	LocalRoot               string `json:"localRoot"`
	BandwidthLimitKbps      int    `json:"bandwidthLimitKbps"`
	LargeSyncThresholdBytes int64  `json:"largeSyncThresholdBytes"`
	DryRunBeforeFirstSync   bool   `json:"dryRunBeforeFirstSync"`
}

// Validate rejects settings that cannot describe a sync.
func (s Settings) Validate() error {
	var problems []string
	if strings.TrimSpace(rclone.RemoteName(s.RemoteName)) == "" {
		problems = append(problems, "remote name is required")
	}
	if s.LocalRoot == "" {
		problems = append(problems, "local root is required")
	} else if !filepath.IsAbs(s.LocalRoot) {
		problems = append(problems, fmt.Sprintf("local root %q must be absolute", s.LocalRoot))
	}
	if s.BandwidthLimitKbps < 0 {
		problems = append(problems, "bandwidth limit cannot be negative")
	}
	if s.LargeSyncThresholdBytes <= 0 {
		problems = append(problems, "large sync threshold must be positive")
	}
	if len(problems) == 0 {
		return nil
	}
	return utils.NewAppError(
		utils.NewCLIError(utils.ErrCodeInvalidSettings, strings.Join(problems, "; ")).
			WithContext("problems", problems).Build())
}

// pairKey identifies the (remote, local root) pair that may have at most one
// active run.
type pairKey struct {
	remote    string
	localRoot string
}

func (s Settings) pair() pairKey {
	return pairKey{
		remote:    rclone.RemoteName(s.RemoteName),
		localRoot: filepath.Clean(s.LocalRoot),
	}
}
