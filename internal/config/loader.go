package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	globalConfigDir  = ".hookgate"
	projectConfigDir = ".hookgate"
	configFileName   = "config.yaml"
)

// Loader handles loading and merging configuration files
type Loader struct {
	globalPath  string
	projectPath string
}

// NewLoader creates a new configuration loader
func NewLoader(projectDir string) (*Loader, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	if projectDir == "" {
		projectDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &Loader{
		globalPath:  filepath.Join(homeDir, globalConfigDir, configFileName),
		projectPath: filepath.Join(projectDir, projectConfigDir, configFileName),
	}, nil
}

// Load merges defaults, the global config, the project config and environment
// overrides, in that order of increasing precedence
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	globalCfg, err := l.loadFile(l.globalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	if globalCfg != nil {
		cfg = mergeConfigs(cfg, globalCfg)
	}

	projectCfg, err := l.loadFile(l.projectPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load project config: %w", err)
	}
	if projectCfg != nil {
		cfg = mergeConfigs(cfg, projectCfg)
	}

	return finalize(cfg)
}

// LoadGlobalOnly loads defaults plus the global config, ignoring project
// config. Used by daemon commands where project-specific rules should not
// apply.
func (l *Loader) LoadGlobalOnly() (*Config, error) {
	cfg := DefaultConfig()

	globalCfg, err := l.loadFile(l.globalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	if globalCfg != nil {
		cfg = mergeConfigs(cfg, globalCfg)
	}

	return finalize(cfg)
}

// LoadFromFile loads a specific config file layered over the defaults
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	fileCfg, err := l.loadFile(path)
	if err != nil {
		return nil, err
	}
	return finalize(mergeConfigs(DefaultConfig(), fileCfg))
}

func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// finalize applies environment overrides and validates the merged result
func finalize(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeConfigs merges two configurations, with override taking precedence
func mergeConfigs(base, override *Config) *Config {
	result := &Config{
		Version: coalesce(override.Version, base.Version),
		Settings: Settings{
			FailMode:       coalesce(override.Settings.FailMode, base.Settings.FailMode),
			LogLevel:       coalesce(override.Settings.LogLevel, base.Settings.LogLevel),
			LogFile:        coalesce(override.Settings.LogFile, base.Settings.LogFile),
			AllowedRoot:    coalesce(override.Settings.AllowedRoot, base.Settings.AllowedRoot),
			MaxRetries:     coalesceInt(override.Settings.MaxRetries, base.Settings.MaxRetries),
			TimeoutSeconds: coalesceInt(override.Settings.TimeoutSeconds, base.Settings.TimeoutSeconds),
			ContextPrefix:  coalesce(override.Settings.ContextPrefix, base.Settings.ContextPrefix),
			SessionContext: coalesce(override.Settings.SessionContext, base.Settings.SessionContext),
		},
		Rules:            mergeRuleList(base.Rules, override.Rules),
		PromptRules:      mergeRuleList(base.PromptRules, override.PromptRules),
		StopGuards:       mergeRuleList(base.StopGuards, override.StopGuards),
		ProtectedNames:   mergeStringList(base.ProtectedNames, override.ProtectedNames),
		SensitiveMarkers: mergeStringList(base.SensitiveMarkers, override.SensitiveMarkers),
		PromptTemplates:  mergeStringMap(base.PromptTemplates, override.PromptTemplates),
		Tools:            mergeToolMap(base.Tools, override.Tools),
		Hooks:            mergeHookMap(base.Hooks, override.Hooks),
		Audit:            mergeAuditSettings(base.Audit, override.Audit),
		Cache:            mergeCacheSettings(base.Cache, override.Cache),
		Daemon:           mergeDaemonSettings(base.Daemon, override.Daemon),
	}

	return result
}

// mergeRuleList combines rules from base and override. Rules with the same
// name are replaced in place, new rules are appended in their declaration
// order, then the list is stably sorted by priority (higher first) so that
// evaluation order is reproducible: priority, then declaration order.
func mergeRuleList(base, override []Rule) []Rule {
	if len(override) == 0 {
		return sortRules(base)
	}
	if len(base) == 0 {
		return sortRules(override)
	}

	index := make(map[string]int, len(base))
	result := make([]Rule, len(base))
	copy(result, base)
	for i, r := range result {
		index[r.Name] = i
	}

	for _, r := range override {
		if i, ok := index[r.Name]; ok {
			result[i] = r
			continue
		}
		index[r.Name] = len(result)
		result = append(result, r)
	}

	return sortRules(result)
}

func sortRules(rules []Rule) []Rule {
	if len(rules) < 2 {
		return rules
	}
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}

// mergeStringList replaces the whole list when the override sets one.
// Name lists are small enough that replace-not-union is the less surprising
// behavior: what you wrote is what matches.
func mergeStringList(base, override []string) []string {
	if len(override) > 0 {
		return override
	}
	return base
}

func mergeStringMap(base, override map[string]string) map[string]string {
	if len(override) == 0 {
		return base
	}
	result := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		result[k] = v
	}
	return result
}

func mergeToolMap(base, override map[string]ToolProfile) map[string]ToolProfile {
	if len(override) == 0 {
		return base
	}
	result := make(map[string]ToolProfile, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		result[k] = v
	}
	return result
}

func mergeHookMap(base, override map[string]HookCommand) map[string]HookCommand {
	if len(override) == 0 {
		return base
	}
	result := make(map[string]HookCommand, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		result[k] = v
	}
	return result
}

// mergeAuditSettings merges audit settings, with override taking precedence
// for set values. Since "not set" and "set to false" are indistinguishable
// for a bool, Enabled is only taken from the override when some audit field
// is configured there.
func mergeAuditSettings(base, override AuditSettings) AuditSettings {
	result := base

	if override.Enabled || override.StoragePath != "" || override.JSONLPath != "" ||
		override.RetentionDays != 0 || override.MaxPerSession != 0 ||
		override.CleanupProbability != 0 {
		result.Enabled = override.Enabled
	}

	if override.StoragePath != "" {
		result.StoragePath = override.StoragePath
	}
	if override.JSONLPath != "" {
		result.JSONLPath = override.JSONLPath
	}
	if override.RetentionDays != 0 {
		result.RetentionDays = override.RetentionDays
	}
	if override.MaxPerSession != 0 {
		result.MaxPerSession = override.MaxPerSession
	}
	if override.CleanupProbability != 0 {
		result.CleanupProbability = override.CleanupProbability
	}

	return result
}

// mergeCacheSettings merges cache settings with the same bool caveat as
// mergeAuditSettings
func mergeCacheSettings(base, override CacheSettings) CacheSettings {
	result := base

	if override.Enabled || override.MaxEntries != 0 || override.TTLSeconds != 0 {
		result.Enabled = override.Enabled
	}

	if override.MaxEntries != 0 {
		result.MaxEntries = override.MaxEntries
	}
	if override.TTLSeconds != 0 {
		result.TTLSeconds = override.TTLSeconds
	}

	return result
}

// mergeDaemonSettings merges daemon settings with the same bool caveat as
// mergeAuditSettings
func mergeDaemonSettings(base, override DaemonSettings) DaemonSettings {
	result := base

	if override.Enabled || override.Port != 0 || override.RetentionSchedule != "" {
		result.Enabled = override.Enabled
		result.WatchConfig = override.WatchConfig
	}

	if override.Port != 0 {
		result.Port = override.Port
	}
	if override.RetentionSchedule != "" {
		result.RetentionSchedule = override.RetentionSchedule
	}

	return result
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func coalesceInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// GlobalConfigPath returns the path to the global config file
func (l *Loader) GlobalConfigPath() string {
	return l.globalPath
}

// ProjectConfigPath returns the path to the project config file
func (l *Loader) ProjectConfigPath() string {
	return l.projectPath
}

// Exists checks if a config file exists at the given path
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
