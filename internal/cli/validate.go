package cli

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/loopworks/hookgate/internal/config"
)

// Template tokens are expanded with this shape; a key that deviates from it
// can never match in a prompt, so validate flags it.
var templateKeyPattern = regexp.MustCompile(`^@[a-zA-Z][a-zA-Z0-9_-]*$`)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration files",
	Long: `Validate hookgate configuration files.

Checks that the configuration files are valid YAML, that settings carry
recognized values, and that every rule pattern and sensitive marker compiles.
Patterns are otherwise compiled lazily at match time, so this is the place a
typo surfaces before it silently disables a rule.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return fmt.Errorf("failed to create config loader: %w", err)
	}

	if configFile != "" {
		cfg, err := loader.LoadFromFile(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config from %s: %w", configFile, err)
		}
		if err := validateConfig(cfg); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Printf("Configuration is valid: %s\n", configFile)
		return nil
	}

	// Check both global and project configs
	globalPath := loader.GlobalConfigPath()
	projectPath := loader.ProjectConfigPath()

	if config.Exists(globalPath) {
		fmt.Printf("Validating global config: %s\n", globalPath)
		if err := validateConfigFile(loader, globalPath); err != nil {
			return err
		}
		fmt.Println("  Valid!")
	}

	if config.Exists(projectPath) {
		fmt.Printf("Validating project config: %s\n", projectPath)
		if err := validateConfigFile(loader, projectPath); err != nil {
			return err
		}
		fmt.Println("  Valid!")
	}

	if !config.Exists(globalPath) && !config.Exists(projectPath) {
		fmt.Println("No configuration files found.")
		fmt.Println("Run 'hookgate init' to create one.")
		return nil
	}

	// The files parse individually; now validate what they merge into,
	// since a project override can corrupt a valid global config.
	merged, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to merge configs: %w", err)
	}
	if err := validateConfig(merged); err != nil {
		return fmt.Errorf("merged configuration invalid: %w", err)
	}

	fmt.Printf("Effective config: %d rules, %d prompt rules, %d stop guards (fail mode %s)\n",
		len(merged.Rules), len(merged.PromptRules), len(merged.StopGuards), merged.Settings.FailMode)
	return nil
}

func validateConfigFile(loader *config.Loader, path string) error {
	cfg, err := loader.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("  Failed to parse: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("  Invalid: %w", err)
	}

	return nil
}

func validateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	for _, rules := range [][]config.Rule{cfg.Rules, cfg.PromptRules, cfg.StopGuards} {
		for _, rule := range rules {
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				return fmt.Errorf("rule %q: invalid pattern %q: %w", rule.Name, rule.Pattern, err)
			}
		}
	}

	for _, marker := range cfg.SensitiveMarkers {
		if _, err := regexp.Compile(marker); err != nil {
			return fmt.Errorf("invalid sensitive marker %q: %w", marker, err)
		}
	}

	for key := range cfg.PromptTemplates {
		if !templateKeyPattern.MatchString(key) {
			fmt.Printf("  Warning: template key %q will never expand (expected @name)\n", key)
		}
	}

	return nil
}
