// SPDX-License-Identifier: MIT

// Package procgroup spawns child processes in their own process group and
// reaps the entire group on kill, so ffmpeg helpers cannot leave orphans.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

// ErrKillFailed is returned when a process group survives SIGKILL past the timeout.
var ErrKillFailed = errors.New("kill operation failed")

// Set configures the command to start in a new process group.
// Required for KillGroup to act as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates an entire process group tree: SIGTERM, wait for the
// grace period, then SIGKILL. A process that already exited is not an error.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}
