//go:build !windows

package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// setDetached starts the child in its own session so it survives the parent
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}

// probeProcess checks liveness without affecting the target
func probeProcess(p *os.Process) error {
	return p.Signal(syscall.Signal(0))
}

// terminateProcess asks the daemon to shut down gracefully
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
