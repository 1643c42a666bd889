// Package daemon runs the local observation server: an HTTP JSON API over
// the audit store, an SSE stream of new invocations, and a dispatch endpoint
// for hosts that prefer a socket to a process spawn.
package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/loopworks/hookgate/internal/audit"
	"github.com/loopworks/hookgate/internal/cache"
	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/dispatch"
	"github.com/loopworks/hookgate/internal/logger"
	"github.com/loopworks/hookgate/internal/runner"
)

// Daemon holds the dispatch pipeline shared by the HTTP handlers. The config
// watcher swaps cfg and runner on reload; the store and cache survive reloads
// and keep their original paths until restart.
type Daemon struct {
	loader  *config.Loader
	store   *audit.Store
	cache   *cache.Cache
	version string

	mu  sync.RWMutex
	cfg *config.Config
	run *runner.Runner
}

// New loads the configuration and assembles the pipeline
func New(loader *config.Loader, version string) (*Daemon, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		loader:  loader,
		version: version,
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(cfg.Audit.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		d.store = store
	}

	if cfg.Cache.Enabled {
		ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
		d.cache = cache.New(cfg.Cache.MaxEntries, ttl)
	}

	d.install(cfg)
	return d, nil
}

// Config returns the currently loaded configuration
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Runner returns the dispatch pipeline built from the current configuration
func (d *Daemon) Runner() *runner.Runner {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.run
}

// Store returns the audit store, or nil when auditing is disabled
func (d *Daemon) Store() *audit.Store {
	return d.store
}

// Reload re-reads the configuration, rebuilds the runner from it and clears
// the decision cache. In-flight requests keep the runner they started with.
func (d *Daemon) Reload() error {
	cfg, err := d.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	d.install(cfg)

	if d.cache != nil {
		d.cache.Clear()
	}

	logger.Info().
		Int("rules", len(cfg.Rules)).
		Int("prompt_rules", len(cfg.PromptRules)).
		Int("stop_guards", len(cfg.StopGuards)).
		Msg("Configuration reloaded")

	return nil
}

// Close releases the audit store
func (d *Daemon) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}

func (d *Daemon) install(cfg *config.Config) {
	var sink audit.Sink
	if d.store != nil {
		sink = d.store
	}

	disp := dispatch.NewWithObservers(cfg, sink, d.cache)

	var run *runner.Runner
	if d.store != nil {
		run = runner.NewWithHistory(cfg, disp, d.store)
	} else {
		run = runner.New(cfg, disp)
	}

	d.mu.Lock()
	d.cfg = cfg
	d.run = run
	d.mu.Unlock()
}
