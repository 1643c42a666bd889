//go:build windows

package runner

import "os/exec"

// setProcGroup is a no-op on Windows (Setpgid not available)
func setProcGroup(_ *exec.Cmd) {}

// killProcGroup kills the command process. Windows has no process groups in
// the Unix sense, so children spawned by the hook may survive.
func killProcGroup(cmd *exec.Cmd) error {
	if cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}
