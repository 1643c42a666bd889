package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loopworks/hookgate/internal/hook"
)

var (
	events string
)

var generateCmd = &cobra.Command{
	Use:   "generate-hooks",
	Short: "Generate host hook configuration",
	Long: `Generate the hook configuration to add to the agent host settings.

This outputs JSON that wires 'hookgate dispatch' into the host's hook
points. The host sends each event on stdin and treats the stdout JSON as
the decision.

Example:
  hookgate generate-hooks --events PreToolUse,PostToolUse,UserPromptSubmit
  hookgate generate-hooks --events all`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&events, "events", "e", "PreToolUse,PostToolUse,UserPromptSubmit", "Comma-separated list of events to hook, or 'all'")
	rootCmd.AddCommand(generateCmd)
}

// HookConfig is the host's hooks configuration structure
type HookConfig struct {
	Hooks map[string][]EventConfig `json:"hooks"`
}

// EventConfig configures the hooks for one event kind
type EventConfig struct {
	Matcher string          `json:"matcher,omitempty"`
	Hooks   []CommandConfig `json:"hooks"`
}

// CommandConfig is a single hook command the host executes
type CommandConfig struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	timeout := cfg.Settings.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	var kinds []hook.EventKind
	if strings.TrimSpace(events) == "all" {
		kinds = hook.Kinds()
	} else {
		for _, name := range strings.Split(events, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			kind := hook.EventKind(name)
			if !kind.Valid() {
				return fmt.Errorf("unrecognized event kind %q", name)
			}
			kinds = append(kinds, kind)
		}
	}

	hookConfig := HookConfig{
		Hooks: make(map[string][]EventConfig),
	}

	for _, kind := range kinds {
		eventConfig := EventConfig{
			Hooks: []CommandConfig{
				{
					Type:    "command",
					Command: "hookgate dispatch",
					Timeout: timeout,
				},
			},
		}

		// Tool events carry a matcher so the host fires them for every tool
		switch kind {
		case hook.PreToolUse, hook.PostToolUse:
			eventConfig.Matcher = ".*"
		}

		hookConfig.Hooks[string(kind)] = []EventConfig{eventConfig}
	}

	output, err := json.MarshalIndent(hookConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal hook config: %w", err)
	}

	fmt.Println("Add the following to your agent settings file:")
	fmt.Println()
	fmt.Println(string(output))
	fmt.Println()
	fmt.Println("Settings file locations:")
	fmt.Println("  - Global: ~/.claude/settings.json")
	fmt.Println("  - Project: .claude/settings.json")
	fmt.Println()
	fmt.Println("Note: Merge with existing settings if present.")

	return nil
}
