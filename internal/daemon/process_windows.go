//go:build windows

package daemon

import (
	"os"
	"os/exec"
)

// setDetached is a no-op on Windows (Setsid not available)
func setDetached(_ *exec.Cmd) {}

// probeProcess has no cheap liveness signal on Windows; the health endpoint
// is the real probe there
func probeProcess(_ *os.Process) error {
	return nil
}

// terminateProcess kills outright, Windows has no graceful signal
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
