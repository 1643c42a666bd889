package daemon

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/loopworks/hookgate/internal/config"
)

// Lifecycle manages the daemon process from outside: start, stop, liveness
type Lifecycle struct {
	settings config.DaemonSettings
	pidFile  string
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle(settings config.DaemonSettings) *Lifecycle {
	homeDir, _ := os.UserHomeDir()
	pidFile := filepath.Join(homeDir, ".hookgate", "daemon.pid")

	return &Lifecycle{
		settings: settings,
		pidFile:  pidFile,
	}
}

// PIDFile returns the path to the PID file
func (l *Lifecycle) PIDFile() string {
	return l.pidFile
}

// IsRunning checks whether the daemon is alive: a signal-0 probe on the
// recorded PID, then the health endpoint. Stale PID files are removed.
func (l *Lifecycle) IsRunning() bool {
	pid, err := l.readPID()
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	if err := probeProcess(process); err != nil {
		_ = os.Remove(l.pidFile)
		return false
	}

	return l.healthCheck()
}

// GetPID returns the daemon's PID if running
func (l *Lifecycle) GetPID() (int, error) {
	if !l.IsRunning() {
		return 0, fmt.Errorf("daemon is not running")
	}
	return l.readPID()
}

// StartInBackground re-executes the current binary as a detached daemon
// process and waits for it to come up
func (l *Lifecycle) StartInBackground() error {
	if l.IsRunning() {
		return fmt.Errorf("daemon is already running")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable: %w", err)
	}

	cmd := exec.Command(executable, "daemon", "start", "--background-child")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Give the child a moment to bind and write its PID
	time.Sleep(500 * time.Millisecond)

	if !l.IsRunning() {
		return fmt.Errorf("daemon failed to start")
	}

	return nil
}

// Stop terminates the running daemon: graceful signal first, escalating to a
// kill when it does not exit in time
func (l *Lifecycle) Stop() error {
	pid, err := l.readPID()
	if err != nil {
		return fmt.Errorf("daemon is not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := terminateProcess(process); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for range 30 {
		time.Sleep(100 * time.Millisecond)
		if err := probeProcess(process); err != nil {
			_ = os.Remove(l.pidFile)
			return nil
		}
	}

	_ = process.Kill()
	_ = os.Remove(l.pidFile)
	return nil
}

// WritePID writes the current process PID to the PID file
func (l *Lifecycle) WritePID() error {
	dir := filepath.Dir(l.pidFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	pid := os.Getpid()
	return os.WriteFile(l.pidFile, []byte(strconv.Itoa(pid)), 0644)
}

// RemovePID removes the PID file
func (l *Lifecycle) RemovePID() error {
	return os.Remove(l.pidFile)
}

// Port returns the configured port
func (l *Lifecycle) Port() int {
	return l.settings.Port
}

func (l *Lifecycle) readPID() (int, error) {
	data, err := os.ReadFile(l.pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}

	return pid, nil
}

func (l *Lifecycle) healthCheck() bool {
	url := fmt.Sprintf("http://127.0.0.1:%d/health", l.settings.Port)
	client := &http.Client{
		Timeout: 2 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}
