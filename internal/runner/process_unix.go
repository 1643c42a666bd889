//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the hook command in its own process group so the whole
// tree can be killed on timeout
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcGroup kills the command's entire process group
func killProcGroup(cmd *exec.Cmd) error {
	if cmd.Process != nil {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return nil
}
