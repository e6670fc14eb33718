// SPDX-License-Identifier: MIT

//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
)

func set(cmd *exec.Cmd) {
	// Process groups are not used on Windows in this context.
}

// Kill terminates the process on Windows. Signals are not fully supported,
// so SIGKILL maps to Process.Kill() and SIGTERM is a no-op; callers rely on
// the escalation to SIGKILL in Terminate.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return nil
}
