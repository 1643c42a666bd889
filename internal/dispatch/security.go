package dispatch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/hook"
	"github.com/loopworks/hookgate/internal/logger"
)

// Built-in check tags. They appear in the decision's rule field so audit
// output can tell which check fired without parsing messages.
const (
	checkParamsRequired = "params-required"
	checkPathTraversal  = "path-traversal"
	checkPathScope      = "path-scope"
	checkProtectedName  = "protected-name"
)

// evalPreToolUse applies the security checks in fixed order: deny rules in
// declaration order (first blocking match wins), then path traversal and
// scope, then protected names. Order is part of the contract: an explicit
// rule always beats a built-in check.
func (d *Dispatcher) evalPreToolUse(ev *hook.Event) (*hook.Decision, *hook.DispatchError) {
	profile := d.profileFor(ev.ToolName)

	if profile.RequiresParams && len(ev.Params) == 0 {
		logger.Info().Str("tool", ev.ToolName).Msg("Tool invoked without required params")
		return hook.Block(checkParamsRequired,
			fmt.Sprintf("tool %q requires params but none were provided", ev.ToolName)), nil
	}

	for i := range d.cfg.Rules {
		rule := &d.cfg.Rules[i]
		if !rule.Enabled {
			logger.Debug().Str("rule", rule.Name).Msg("Rule disabled, skipping")
			continue
		}
		if !rule.AppliesTo(ev.ToolName) {
			continue
		}

		result, err := d.matcher.MatchRule(rule, ev.Params)
		if err != nil {
			return nil, hook.Failf(hook.FailureRuleEvaluation, "rule %q: %v", rule.Name, err)
		}
		if !result.Matched {
			continue
		}

		if rule.Blocking() {
			logger.Info().
				Str("rule", rule.Name).
				Str("field", result.Field).
				Str("value", truncate(result.Value, 100)).
				Msg("Deny rule matched")
			return hook.Block(rule.Name, ruleMessage(rule, result)), nil
		}

		logger.Warn().
			Str("rule", rule.Name).
			Str("field", result.Field).
			Str("value", truncate(result.Value, 100)).
			Msg(ruleMessage(rule, result))
	}

	fields := pathFields(profile, ev.Params)

	for _, field := range fields {
		raw, ok := ev.Params[field].(string)
		if !ok || raw == "" {
			continue
		}
		if containsTraversal(raw) {
			logger.Info().Str("field", field).Str("path", raw).Msg("Path traversal blocked")
			return hook.Block(checkPathTraversal,
				fmt.Sprintf("path %q in %s contains parent-directory traversal", raw, field)), nil
		}
		if root := d.cfg.Settings.AllowedRoot; root != "" && escapesRoot(raw, root) {
			logger.Info().Str("field", field).Str("path", raw).Str("root", root).Msg("Path outside allowed root blocked")
			return hook.Block(checkPathScope,
				fmt.Sprintf("path %q in %s resolves outside the allowed root %q", raw, field, root)), nil
		}
	}

	for _, field := range fields {
		raw, ok := ev.Params[field].(string)
		if !ok || raw == "" {
			continue
		}
		if name := matchProtectedName(raw, d.cfg.ProtectedNames); name != "" {
			logger.Info().Str("field", field).Str("path", raw).Str("protected", name).Msg("Protected name blocked")
			return hook.Block(checkProtectedName,
				fmt.Sprintf("path %q touches protected name %q", raw, name)), nil
		}
	}

	return hook.Allow("no security rule matched"), nil
}

func ruleMessage(rule *config.Rule, result *MatchResult) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fmt.Sprintf("rule %q matched on %s", rule.Name, result.Field)
}

// containsTraversal reports whether any path segment is a parent-directory
// reference. Both separators are checked so a Windows-style payload cannot
// sneak past on a Unix host.
func containsTraversal(path string) bool {
	segments := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	for _, seg := range segments {
		if seg == ".." {
			return true
		}
	}
	return false
}

// escapesRoot reports whether the path resolves outside the allowed root.
// Relative paths are resolved against the root itself.
func escapesRoot(path, root string) bool {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rootClean := filepath.Clean(root)
	if resolved == rootClean {
		return false
	}
	return !strings.HasPrefix(resolved, rootClean+string(filepath.Separator))
}

// matchProtectedName checks the final path segment against the protected
// name list, case-insensitively and by substring, and returns the first
// configured name that matches
func matchProtectedName(path string, protected []string) string {
	base := strings.ToLower(filepath.Base(path))
	for _, name := range protected {
		if name == "" {
			continue
		}
		if strings.Contains(base, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}
