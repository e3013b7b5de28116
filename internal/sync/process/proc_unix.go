//go:build unix

package process

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcAttr puts the child in its own process group so signals reach
// rclone and anything it spawns.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func suspend(cmd *exec.Cmd) error { return signalGroup(cmd, unix.SIGSTOP) }
func resume(cmd *exec.Cmd) error { return signalGroup(cmd, unix.SIGCONT) }
func terminate(cmd *exec.Cmd) error { return signalGroup(cmd, unix.SIGTERM) }
func kill(cmd *exec.Cmd) error { return signalGroup(cmd, unix.SIGKILL) }

// PauseSupported reports whether Pause can suspend a child on this platform.
func PauseSupported() bool { return true }
