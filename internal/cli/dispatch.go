package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/loopworks/hookgate/internal/audit"
	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/dispatch"
	"github.com/loopworks/hookgate/internal/hook"
	"github.com/loopworks/hookgate/internal/logger"
	"github.com/loopworks/hookgate/internal/runner"
)

var (
	dispatchFailMode string
	dispatchDryRun   bool
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Read one event from stdin, write one decision to stdout",
	Long: `Dispatch reads a single lifecycle event as JSON from stdin, evaluates it,
and writes exactly one decision as JSON to stdout.

Exit status 0 means the decision came from evaluation. A non-zero exit means
dispatch itself failed and the printed decision was synthesized from the
fail mode. Hosts wire this command into their hook configuration:

  echo '{"event_kind":"PreToolUse",...}' | hookgate dispatch`,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchFailMode, "fail-mode", "", "Override fail mode (closed or open)")
	dispatchCmd.Flags().BoolVar(&dispatchDryRun, "dry-run", false, "Evaluate but downgrade blocks to allows")

	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	initLogging(cfg)

	if dispatchFailMode != "" {
		if !config.ValidFailMode(dispatchFailMode) {
			return fmt.Errorf("--fail-mode must be %q or %q, got %q",
				config.FailModeClosed, config.FailModeOpen, dispatchFailMode)
		}
		cfg.Settings.FailMode = dispatchFailMode
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading event from stdin: %w", err)
	}

	var sinks []audit.Sink
	var store *audit.Store
	if cfg.Audit.Enabled {
		store, err = audit.NewStore(cfg.Audit.StoragePath)
		if err != nil {
			logger.Warn().Err(err).Msg("Audit store unavailable, continuing without it")
			store = nil
		} else {
			defer store.Close()
			sinks = append(sinks, store)
		}
	}
	if cfg.Audit.JSONLPath != "" {
		jsonl, jerr := audit.NewJSONLSink(cfg.Audit.JSONLPath)
		if jerr != nil {
			logger.Warn().Err(jerr).Msg("JSONL sink unavailable, continuing without it")
		} else {
			defer jsonl.Close()
			sinks = append(sinks, jsonl)
		}
	}

	d := dispatch.NewWithObservers(cfg, audit.NewMulti(sinks...), nil)
	var run *runner.Runner
	if store != nil {
		run = runner.NewWithHistory(cfg, d, store)
	} else {
		run = runner.New(cfg, d)
	}

	dec, runErr := run.RunRaw(cmd.Context(), raw)

	if dispatchDryRun && dec.Action == hook.ActionBlock {
		logger.Info().
			Str("rule", dec.Rule).
			Msg("Dry run, block downgraded to allow")
		dec = hook.Allow("[dry run] would block: " + dec.Message)
		runErr = nil
	}

	out, merr := json.Marshal(dec)
	if merr != nil {
		return fmt.Errorf("encoding decision: %w", merr)
	}
	fmt.Println(string(out))

	// After the decision is out the door; the host is no longer waiting.
	audit.MaybeCleanup(store, cfg.Audit, gjson.GetBytes(raw, "session_id").String())

	return runErr
}
