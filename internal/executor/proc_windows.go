//go:build windows

package executor

import (
	"os"
	"os/exec"
)

// setProcAttr is a no-op on Windows, which uses job objects rather than
// POSIX process groups. Agent child processes may be orphaned on stop.
func setProcAttr(cmd *exec.Cmd) {
}

// killProcessGroup has no process group to signal on Windows; only the
// direct child is terminated on this platform.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
