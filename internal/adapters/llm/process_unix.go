//go:build !windows

package llm

import (
	"os/exec"
	"syscall"
)

// configureProcAttr puts the child in its own process group and makes
// context cancellation kill the whole group.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
