//go:build !unix

package process

import (
	"os/exec"

	"github.com/dl-alexandre/pdsync/internal/utils"
)

func configureProcAttr(cmd *exec.Cmd) {}

func suspend(cmd *exec.Cmd) error { return utils.ErrPauseUnsupported }
func resume(cmd *exec.Cmd) error { return utils.ErrPauseUnsupported }

// terminate has no graceful variant without process groups.
func terminate(cmd *exec.Cmd) error { return kill(cmd) }

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// PauseSupported reports whether Pause can suspend a child on this platform.
func PauseSupported() bool { return false }
