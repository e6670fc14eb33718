// SPDX-License-Identifier: MIT

// Package procgroup starts capture processes in their own process group and
// terminates the whole group, so that helper children (demuxers, shells)
// never outlive the recording that spawned them.
package procgroup

import (
	"errors"
	"os/exec"
)

var ErrKillFailed = errors.New("kill operation failed")

// Set configures the command to start in a new process group.
// Mandatory for Kill and Terminate to reap the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}
