package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/logger"
)

// Version information set via ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	verbose    bool
	configFile string
	projectDir string
)

var rootCmd = &cobra.Command{
	Use:   "hookgate",
	Short: "Lifecycle gate for agent hook events",
	Long: `Hookgate sits between an agent session host and its tools.

It reads one lifecycle event as JSON from stdin, validates it against the
wire contract and the configured rules, and writes exactly one decision as
JSON to stdout. The exit status is zero when the decision came from
evaluation and non-zero when it had to be synthesized from a dispatch
failure.

Configure rules in:
  - ~/.hookgate/config.yaml (global)
  - .hookgate/config.yaml (project-specific)`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hookgate %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", Date)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Override config file path")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "Override project directory")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the merged configuration, honoring the --config override.
// A missing or unreadable config is not fatal: defaults apply, because a
// dispatch must produce a decision even on a half-broken install.
func loadConfig() *config.Config {
	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return config.DefaultConfig()
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = loader.LoadFromFile(configFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

// initLogging sets the log level from flags and config. Diagnostics go to
// stderr only; stdout belongs to the decision.
func initLogging(cfg *config.Config) {
	if verbose {
		_ = logger.Init("debug", cfg.Settings.LogFile)
	} else if cfg.Settings.LogLevel != "" {
		_ = logger.Init(cfg.Settings.LogLevel, cfg.Settings.LogFile)
	} else {
		logger.InitQuiet()
	}
}
