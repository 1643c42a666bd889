package runner

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/hook"
	"github.com/loopworks/hookgate/internal/logger"
)

const stderrExcerptLen = 200

// execute runs the hook command with the event JSON on stdin and resolves
// stdout into a decision. The command runs in its own process group and the
// whole group is killed when the deadline passes, so a hook that spawns
// children cannot outlive its timeout.
func (r *Runner) execute(ctx context.Context, kind hook.EventKind, hc config.HookCommand, input []byte) (*hook.Decision, *hook.DispatchError) {
	timeout := r.timeoutFor(hc)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug().
		Str("kind", string(kind)).
		Dur("timeout", timeout).
		Msg("Running external hook")

	cmd := exec.CommandContext(ctx, "sh", "-c", hc.Command)
	cmd.Stdin = bytes.NewReader(input)
	setProcGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Cancel = func() error {
		return killProcGroup(cmd)
	}

	runErr := cmd.Run()

	if ctx.Err() != nil {
		return nil, hook.Failf(hook.FailureHookTimeout,
			"hook command for %s timed out after %s", kind, timeout)
	}

	if runErr != nil {
		// A hook that follows the contract exits non-zero when its own
		// decision was synthesized from a failure; keep that classification
		// so the fail policy applies to the real cause.
		if dec, verr := decodeDecision(stdout.Bytes(), kind); verr == nil && dec.Synthesized() {
			return nil, &hook.DispatchError{Failure: dec.Failure, Detail: dec.Message}
		}
		return nil, hook.Failf(hook.FailureMalformedDecision,
			"hook command exited with error: %v%s", runErr, stderrExcerpt(&stderr))
	}

	return decodeDecision(stdout.Bytes(), kind)
}

// stderrExcerpt formats a bounded slice of the command's stderr for the
// failure detail, or nothing when the command was silent
func stderrExcerpt(stderr *bytes.Buffer) string {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return ""
	}
	if len(msg) > stderrExcerptLen {
		msg = msg[:stderrExcerptLen] + "..."
	}
	return " (stderr: " + msg + ")"
}
