package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/daemon"
)

var (
	backgroundFlag      bool
	backgroundChildFlag bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the observation daemon",
	Long: `Manage the hookgate observation daemon.

The daemon serves the recorded invocation history over a local HTTP API,
streams new invocations over SSE, and accepts dispatches on a socket for
hosts that prefer that over spawning a process per event. It applies the
global config merged with the project config of the directory it starts in,
and reloads both when they change.

Enable it in your config:
  daemon:
    enabled: true
    port: 7733

Commands:
  start  - Start the daemon (foreground or background)
  stop   - Stop the running daemon
  status - Check if the daemon is running`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the observation daemon",
	Long: `Start the hookgate observation daemon.

By default, runs in the foreground. Use --background to run as a background process.

Example:
  hookgate daemon start              # Run in foreground
  hookgate daemon start --background # Run in background`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE:  runDaemonStatus,
}

func init() {
	daemonStartCmd.Flags().BoolVarP(&backgroundFlag, "background", "b", false, "Run daemon in background")
	daemonStartCmd.Flags().BoolVar(&backgroundChildFlag, "background-child", false, "Internal flag for background process")
	_ = daemonStartCmd.Flags().MarkHidden("background-child")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	initLogging(cfg)

	lifecycle := daemon.NewLifecycle(cfg.Daemon)

	// With --background, respawn detached and report; the child comes back
	// through here with --background-child set.
	if backgroundFlag && !backgroundChildFlag {
		if lifecycle.IsRunning() {
			fmt.Println("Daemon is already running")
			return nil
		}

		if err := lifecycle.StartInBackground(); err != nil {
			return fmt.Errorf("failed to start daemon in background: %w", err)
		}

		fmt.Printf("Daemon started on http://127.0.0.1:%d\n", lifecycle.Port())
		return nil
	}

	if !backgroundChildFlag && lifecycle.IsRunning() {
		return fmt.Errorf("daemon is already running (PID file: %s)", lifecycle.PIDFile())
	}

	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return fmt.Errorf("failed to create config loader: %w", err)
	}

	d, err := daemon.New(loader, Version)
	if err != nil {
		return fmt.Errorf("failed to assemble daemon: %w", err)
	}
	defer func() { _ = d.Close() }()

	srv := daemon.NewServer(d)

	if !backgroundChildFlag {
		fmt.Printf("Daemon listening on http://127.0.0.1:%d\n", srv.Port())
		fmt.Println("Press Ctrl+C to stop")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	initLogging(cfg)

	lifecycle := daemon.NewLifecycle(cfg.Daemon)

	if !lifecycle.IsRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}

	pid, _ := lifecycle.GetPID()
	if err := lifecycle.Stop(); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	fmt.Printf("Daemon stopped (was PID %d)\n", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	initLogging(cfg)

	lifecycle := daemon.NewLifecycle(cfg.Daemon)

	if lifecycle.IsRunning() {
		pid, _ := lifecycle.GetPID()
		fmt.Printf("Daemon is running (PID %d)\n", pid)
		fmt.Printf("API: http://127.0.0.1:%d\n", lifecycle.Port())
	} else {
		fmt.Println("Daemon is not running")
	}

	return nil
}
