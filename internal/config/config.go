package config

import (
	"fmt"

	"github.com/loopworks/hookgate/internal/hook"
)

// Fail modes. The mode is always an explicit value: the shipped default is
// closed, and fail-open only ever applies because a config file, environment
// variable or flag said so.
const (
	FailModeClosed = "closed"
	FailModeOpen   = "open"
)

// ValidFailMode reports whether mode is a recognized fail mode
func ValidFailMode(mode string) bool {
	return mode == FailModeClosed || mode == FailModeOpen
}

// Config represents the complete hookgate configuration
type Config struct {
	Version          string                 `yaml:"version"`
	Settings         Settings               `yaml:"settings"`
	Rules            []Rule                 `yaml:"rules,omitempty"`
	PromptRules      []Rule                 `yaml:"prompt_rules,omitempty"`
	StopGuards       []Rule                 `yaml:"stop_guards,omitempty"`
	ProtectedNames   []string               `yaml:"protected_names,omitempty"`
	SensitiveMarkers []string               `yaml:"sensitive_markers,omitempty"`
	PromptTemplates  map[string]string      `yaml:"prompt_templates,omitempty"`
	Tools            map[string]ToolProfile `yaml:"tools,omitempty"`
	Hooks            map[string]HookCommand `yaml:"hooks,omitempty"`
	Audit            AuditSettings          `yaml:"audit,omitempty"`
	Cache            CacheSettings          `yaml:"cache,omitempty"`
	Daemon           DaemonSettings         `yaml:"daemon,omitempty"`
}

// Settings contains global configuration settings
type Settings struct {
	FailMode       string `yaml:"fail_mode" env:"HOOKGATE_FAIL_MODE"`
	LogLevel       string `yaml:"log_level" env:"HOOKGATE_LOG_LEVEL"`
	LogFile        string `yaml:"log_file,omitempty" env:"HOOKGATE_LOG_FILE"`
	AllowedRoot    string `yaml:"allowed_root,omitempty" env:"HOOKGATE_ALLOWED_ROOT"`
	MaxRetries     int    `yaml:"max_retries" env:"HOOKGATE_MAX_RETRIES"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"HOOKGATE_TIMEOUT_SECONDS"`
	ContextPrefix  string `yaml:"context_prefix,omitempty"`
	SessionContext string `yaml:"session_context,omitempty"`
}

// FailOpen reports whether the fail-open policy is in effect
func (c *Config) FailOpen() bool {
	return c.Settings.FailMode == FailModeOpen
}

// RulesFor returns the rule list evaluated for a given event kind
func (c *Config) RulesFor(kind hook.EventKind) []Rule {
	switch kind {
	case hook.PreToolUse:
		return c.Rules
	case hook.UserPromptSubmit:
		return c.PromptRules
	case hook.Stop, hook.SubagentStop:
		return c.StopGuards
	default:
		return nil
	}
}

// Rule severities
const (
	SeverityBlock = "block"
	SeverityWarn  = "warn"
)

// Rule is a single deny rule: a regex over one params field (or every string
// field when Field is empty), optionally scoped to a set of tools. Rules are
// evaluated in declaration order and the first blocking match wins.
type Rule struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Enabled     bool     `yaml:"enabled"`
	Priority    int      `yaml:"priority,omitempty"`
	Tools       []string `yaml:"tools,omitempty"`
	Field       string   `yaml:"field,omitempty"`
	Pattern     string   `yaml:"pattern"`
	Severity    string   `yaml:"severity,omitempty"`
	Message     string   `yaml:"message,omitempty"`
}

// AppliesTo reports whether the rule is scoped to the given tool. An empty
// Tools list applies to every tool.
func (r *Rule) AppliesTo(toolName string) bool {
	if len(r.Tools) == 0 {
		return true
	}
	for _, t := range r.Tools {
		if t == toolName {
			return true
		}
	}
	return false
}

// Blocking reports whether a match on this rule blocks (severity block or
// unset) rather than just logging (severity warn)
func (r *Rule) Blocking() bool {
	return r.Severity == "" || r.Severity == SeverityBlock
}

// ToolProfile describes what the dispatcher knows about a tool: whether it
// must carry params and which params fields hold filesystem paths
type ToolProfile struct {
	RequiresParams bool     `yaml:"requires_params,omitempty"`
	PathFields     []string `yaml:"path_fields,omitempty"`
	Cacheable      bool     `yaml:"cacheable,omitempty"`
}

// HookCommand configures an external hook executable for one event kind
type HookCommand struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

// AuditSettings configures the invocation history store
type AuditSettings struct {
	Enabled            bool    `yaml:"enabled"`
	StoragePath        string  `yaml:"storage_path,omitempty" env:"HOOKGATE_AUDIT_PATH"`
	JSONLPath          string  `yaml:"jsonl_path,omitempty"`
	RetentionDays      int     `yaml:"retention_days,omitempty"`
	MaxPerSession      int     `yaml:"max_per_session,omitempty"`
	CleanupProbability float64 `yaml:"cleanup_probability,omitempty"`
}

// CacheSettings configures the decision cache. Off by default: only
// PreToolUse decisions are cacheable and most hosts re-send identical events
// rarely enough that the cache is not worth the memory.
type CacheSettings struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries,omitempty"`
	TTLSeconds int  `yaml:"ttl_seconds,omitempty"`
}

// DaemonSettings configures the local observation daemon
type DaemonSettings struct {
	Enabled           bool   `yaml:"enabled"`
	Port              int    `yaml:"port,omitempty" env:"HOOKGATE_DAEMON_PORT"`
	RetentionSchedule string `yaml:"retention_schedule,omitempty"`
	WatchConfig       bool   `yaml:"watch_config"`
}

// Validate checks the values a typo would most likely corrupt. Regex
// patterns are compiled lazily at match time; `hookgate validate` compiles
// them eagerly.
func (c *Config) Validate() error {
	if !ValidFailMode(c.Settings.FailMode) {
		return fmt.Errorf("settings.fail_mode must be %q or %q, got %q",
			FailModeClosed, FailModeOpen, c.Settings.FailMode)
	}
	if c.Settings.MaxRetries < 0 {
		return fmt.Errorf("settings.max_retries must not be negative")
	}
	if c.Settings.TimeoutSeconds < 0 {
		return fmt.Errorf("settings.timeout_seconds must not be negative")
	}
	for _, list := range [][]Rule{c.Rules, c.PromptRules, c.StopGuards} {
		for _, r := range list {
			if r.Name == "" {
				return fmt.Errorf("every rule needs a name")
			}
			if r.Pattern == "" {
				return fmt.Errorf("rule %q has no pattern", r.Name)
			}
			if r.Severity != "" && r.Severity != SeverityBlock && r.Severity != SeverityWarn {
				return fmt.Errorf("rule %q: severity must be %q or %q, got %q",
					r.Name, SeverityBlock, SeverityWarn, r.Severity)
			}
		}
	}
	for kindName := range c.Hooks {
		if !hook.EventKind(kindName).Valid() {
			return fmt.Errorf("hooks: %q is not a recognized event kind", kindName)
		}
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}
	if c.Audit.CleanupProbability < 0 || c.Audit.CleanupProbability > 1 {
		return fmt.Errorf("audit.cleanup_probability must be between 0 and 1")
	}
	return nil
}

// DefaultConfig returns the default configuration. This is also what
// `hookgate init` writes, so the defaults double as documentation.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Settings: Settings{
			FailMode:       FailModeClosed,
			LogLevel:       "info",
			MaxRetries:     2,
			TimeoutSeconds: 30,
		},
		Rules: []Rule{
			{
				Name:        "block-root-delete",
				Description: "Recursive deletes aimed at the filesystem root",
				Enabled:     true,
				Priority:    100,
				Tools:       []string{"Bash"},
				Field:       "command",
				Pattern:     `rm\s+-(rf|fr)\s+/`,
				Message:     "Recursive delete targeting the filesystem root (rm -rf /) is blocked",
			},
			{
				Name:        "block-fork-bomb",
				Description: "Classic shell fork bomb",
				Enabled:     true,
				Priority:    95,
				Tools:       []string{"Bash"},
				Field:       "command",
				Pattern:     `:\(\)\s*\{.*\}\s*;\s*:`,
				Message:     "Shell fork bombs are not allowed",
			},
			{
				Name:        "block-curl-pipe-shell",
				Description: "Remote scripts piped straight into a shell",
				Enabled:     true,
				Priority:    90,
				Tools:       []string{"Bash"},
				Field:       "command",
				Pattern:     `curl\s[^|]*\|\s*(ba|z|da)?sh`,
				Message:     "Piping a curl download into a shell is blocked",
			},
			{
				Name:        "block-wget-pipe-shell",
				Description: "Remote scripts piped straight into a shell",
				Enabled:     true,
				Priority:    90,
				Tools:       []string{"Bash"},
				Field:       "command",
				Pattern:     `wget\s[^|]*\|\s*(ba|z|da)?sh`,
				Message:     "Piping a wget download into a shell is blocked",
			},
			{
				Name:        "block-raw-disk-write",
				Description: "Writes to raw block devices",
				Enabled:     true,
				Priority:    85,
				Tools:       []string{"Bash"},
				Field:       "command",
				Pattern:     `(>|dd\s[^|]*of=)\s*/dev/(sd|nvme|hd)`,
				Message:     "Writing to raw block devices is blocked",
			},
			{
				Name:        "warn-sudo",
				Description: "Commands run with elevated privileges",
				Enabled:     true,
				Priority:    10,
				Tools:       []string{"Bash"},
				Field:       "command",
				Pattern:     `^\s*sudo\s`,
				Severity:    SeverityWarn,
				Message:     "Command runs with elevated privileges",
			},
		},
		PromptRules: []Rule{
			{
				Name:        "block-prompt-credentials",
				Description: "Prompts that appear to paste a credential",
				Enabled:     true,
				Priority:    100,
				Pattern:     `(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*\S+`,
				Message:     "Prompt appears to contain a credential; remove it and resubmit",
			},
		},
		ProtectedNames: []string{
			".env", ".envrc", ".netrc", ".npmrc",
			".pem", ".key",
			"id_rsa", "id_ed25519", "id_ecdsa",
			"credentials", "secrets",
			"authorized_keys",
			".aws", ".kube", ".gnupg", ".ssh",
		},
		SensitiveMarkers: []string{
			`(?i)api[_-]?key\s*[=:]`,
			`AKIA[0-9A-Z]{16}`,
			`-----BEGIN\s+(RSA\s+|EC\s+|DSA\s+|OPENSSH\s+)?PRIVATE KEY-----`,
			`ghp_[A-Za-z0-9]{36}`,
			`github_pat_[A-Za-z0-9_]{22,}`,
			`sk-[A-Za-z0-9]{20,}`,
			`(?i)bearer\s+[a-z0-9._\-]{16,}`,
		},
		PromptTemplates: map[string]string{
			"@security": "Apply secure coding practice: input validation and sanitization on every external input, least-privilege file access, and no secrets in code or logs.",
			"@tests":    "Add table-driven tests alongside the change, covering failure paths as well as the happy path.",
			"@concise":  "Keep the answer short. Code first, prose only where the code is not self-evident.",
		},
		Tools: map[string]ToolProfile{
			"Bash":     {RequiresParams: true, Cacheable: true},
			"Write":    {RequiresParams: true, PathFields: []string{"file_path"}, Cacheable: true},
			"Edit":     {RequiresParams: true, PathFields: []string{"file_path"}, Cacheable: true},
			"Read":     {PathFields: []string{"file_path"}, Cacheable: true},
			"Glob":     {PathFields: []string{"path"}, Cacheable: true},
			"Grep":     {PathFields: []string{"path"}, Cacheable: true},
			"WebFetch": {RequiresParams: true},
		},
		Audit: AuditSettings{
			Enabled:            false,
			RetentionDays:      30,
			MaxPerSession:      1000,
			CleanupProbability: 0.05,
		},
		Cache: CacheSettings{
			Enabled:    false,
			MaxEntries: 256,
			TTLSeconds: 300,
		},
		Daemon: DaemonSettings{
			Enabled:           false,
			Port:              7733,
			RetentionSchedule: "@hourly",
			WatchConfig:       true,
		},
	}
}
