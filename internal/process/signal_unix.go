//go:build !windows

package process

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

func prepareCommand(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}

func softStop(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGTERM)
}

func hardStop(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	// Fall back to the leader when the group is already gone or not ours.
	return cmd.Process.Signal(sig)
}
