package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/loopworks/hookgate/internal/config"
)

var (
	initGlobal bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize hookgate configuration",
	Long: `Initialize a hookgate configuration file.

By default, creates a .hookgate/config.yaml in the current directory.
Use --global to create ~/.hookgate/config.yaml instead.

The written file is the full default configuration, so it doubles as a
reference for every available setting.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initGlobal, "global", "g", false, "Create global config in ~/.hookgate/")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return fmt.Errorf("failed to create config loader: %w", err)
	}

	configPath := loader.ProjectConfigPath()
	if initGlobal {
		configPath = loader.GlobalConfigPath()
	}

	if config.Exists(configPath) {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created config file: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the config file to customize the rules")
	fmt.Println("2. Run 'hookgate generate-hooks' to get the host hook configuration")
	fmt.Println("3. Add the generated hooks to your agent settings")

	return nil
}
