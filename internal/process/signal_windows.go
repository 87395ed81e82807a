//go:build windows

package process

import (
	"errors"
	"os/exec"
)

var errNoSoftStop = errors.New("soft termination unsupported on windows")

func prepareCommand(*exec.Cmd) {}

// Windows has no SIGTERM equivalent for console children; the caller
// escalates straight to Kill.
func softStop(*exec.Cmd) error {
	return errNoSoftStop
}

func hardStop(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
