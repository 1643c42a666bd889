package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/dispatch"
	"github.com/loopworks/hookgate/internal/logger"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage policy rules",
	Long:  "Commands for listing and testing the configured policy rules.",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all effective rules",
	RunE:  runRulesList,
}

var (
	testInputFile string
	testEventKind string
)

var rulesTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Evaluate a sample event against the rules",
	Long: `Evaluate a sample event against the configured rules without touching
audit history or external hooks. The input file holds the event as the host
would send it on stdin.

Example:
  hookgate rules test --input sample.json
  hookgate rules test --input sample.json --event UserPromptSubmit`,
	RunE: runRulesTest,
}

func init() {
	rulesTestCmd.Flags().StringVarP(&testInputFile, "input", "i", "", "JSON file with the sample event (required)")
	rulesTestCmd.Flags().StringVarP(&testEventKind, "event", "e", "", "Override the event kind in the sample")
	_ = rulesTestCmd.MarkFlagRequired("input")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesTestCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	printRules := func(name string, rules []config.Rule) {
		if len(rules) == 0 {
			return
		}
		fmt.Printf("\n%s:\n", name)
		for _, r := range rules {
			status := "enabled"
			if !r.Enabled {
				status = "disabled"
			}
			severity := config.SeverityBlock
			if !r.Blocking() {
				severity = config.SeverityWarn
			}
			fmt.Printf("  - %s [%s] (priority: %d, severity: %s)\n", r.Name, status, r.Priority, severity)
			if r.Description != "" {
				fmt.Printf("    %s\n", r.Description)
			}
		}
	}

	fmt.Println("Effective Policy Rules")
	fmt.Println("======================")

	printRules("PreToolUse", cfg.Rules)
	printRules("UserPromptSubmit", cfg.PromptRules)
	printRules("Stop / SubagentStop", cfg.StopGuards)

	if len(cfg.ProtectedNames) > 0 {
		fmt.Printf("\nProtected names: %d\n", len(cfg.ProtectedNames))
	}
	if len(cfg.SensitiveMarkers) > 0 {
		fmt.Printf("Sensitive markers: %d\n", len(cfg.SensitiveMarkers))
	}

	fmt.Printf("\nFail mode: %s\n", cfg.Settings.FailMode)

	return nil
}

func runRulesTest(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	// Rule testing always logs at debug so the match trail is visible
	_ = logger.Init("debug", cfg.Settings.LogFile)

	raw, err := os.ReadFile(testInputFile)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	if testEventKind != "" {
		raw, err = sjson.SetBytes(raw, "event_kind", testEventKind)
		if err != nil {
			return fmt.Errorf("failed to set event kind: %w", err)
		}
	}

	d := dispatch.New(cfg)
	dec, derr := d.DispatchRaw(raw)

	fmt.Println("\nTest Result:")
	fmt.Println("============")

	out, err := json.MarshalIndent(dec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	fmt.Println(string(out))

	if derr != nil {
		fmt.Printf("\nDispatch failed (%v); the decision above is synthesized.\n", derr)
	}

	return nil
}
