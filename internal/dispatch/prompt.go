package dispatch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/hook"
	"github.com/loopworks/hookgate/internal/logger"
)

const checkPromptTransform = "prompt-transform"

// tokenPattern matches expansion tokens such as @security or @tests
var tokenPattern = regexp.MustCompile(`@[a-zA-Z][a-zA-Z0-9_-]*`)

// evalUserPrompt scans the submitted prompt against the prompt rules, then
// rewrites it: template tokens are expanded and the configured context prefix
// is applied. A changed prompt continues with the rewrite in modified_payload,
// an untouched one continues empty-handed.
func (d *Dispatcher) evalUserPrompt(ev *hook.Event) (*hook.Decision, *hook.DispatchError) {
	for i := range d.cfg.PromptRules {
		rule := &d.cfg.PromptRules[i]
		if !rule.Enabled {
			continue
		}
		matched, err := d.matcher.MatchString(rule.Pattern, ev.Prompt)
		if err != nil {
			return nil, hook.Failf(hook.FailureRuleEvaluation, "prompt rule %q: %v", rule.Name, err)
		}
		if !matched {
			continue
		}
		if rule.Blocking() {
			logger.Info().Str("rule", rule.Name).Msg("Prompt blocked by rule")
			return hook.Block(rule.Name, promptRuleMessage(rule)), nil
		}
		logger.Warn().Str("rule", rule.Name).Str("severity", rule.Severity).
			Msg("Prompt rule matched")
	}

	rewritten := d.expandTemplates(ev.Prompt)
	rewritten = d.applyContextPrefix(rewritten)

	if rewritten == ev.Prompt {
		return hook.Continue(""), nil
	}

	logger.Debug().Int("original_len", len(ev.Prompt)).Int("rewritten_len", len(rewritten)).
		Msg("Prompt rewritten")
	return hook.ContinueWith(checkPromptTransform, "prompt rewritten before submission",
		map[string]interface{}{"prompt": rewritten}), nil
}

// expandTemplates replaces known @tokens in a single pass over the prompt.
// Expansion text is inserted literally, so a token appearing inside an
// expansion is never expanded again.
func (d *Dispatcher) expandTemplates(prompt string) string {
	if len(d.cfg.PromptTemplates) == 0 {
		return prompt
	}
	return tokenPattern.ReplaceAllStringFunc(prompt, func(token string) string {
		if expansion, ok := d.cfg.PromptTemplates[token]; ok {
			return expansion
		}
		return token
	})
}

// applyContextPrefix prepends the configured context prefix unless the prompt
// already starts with it, which keeps the transform idempotent
func (d *Dispatcher) applyContextPrefix(prompt string) string {
	prefix := d.cfg.Settings.ContextPrefix
	if prefix == "" || strings.HasPrefix(prompt, prefix) {
		return prompt
	}
	return prefix + "\n\n" + prompt
}

func promptRuleMessage(rule *config.Rule) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fmt.Sprintf("prompt blocked by rule %q", rule.Name)
}
