// Package router implements the pool manager (spec.md §4.8, component
// C8) and the ambient configuration/metrics/logging layers around it.
package router

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config is the on-disk runtime configuration, loaded once at startup
// (spec.md §6 lists these as the tunables consumed from the server/
// service abstraction). YAML is used for the same reason the teacher's
// pack reaches for it elsewhere in this corpus: a flat, human-editable
// settings file with no schema-registry machinery.
type Config struct {
	ThreadCount     int   `yaml:"threadcount"`
	ConnIdleTimeout int64 `yaml:"conn_idle_timeout"`
	NetWriteTimeout int64 `yaml:"net_write_timeout"`
	PersistPoolMax  int   `yaml:"persist_pool_max"`
	PersistMaxTime  int64 `yaml:"persist_max_time"`
}

// DefaultConfig mirrors the routing runtime's built-in defaults.
// LoadConfig starts from these values, so keys absent from the file keep
// them; a missing file is still reported by LoadConfig as an error.
func DefaultConfig() Config {
	return Config{
		ThreadCount:     4,
		ConnIdleTimeout: 0,
		NetWriteTimeout: 0,
		PersistPoolMax:  0,
		PersistMaxTime:  3600,
	}
}

// LoadConfig reads and parses a YAML config file at path.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("router: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("router: parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ConfigStore is a thread-safe, hot-reloadable settings map layered on
// top of the typed Config above — used for the handful of values (pool
// caps, timeouts) that operators expect to tune without a restart.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore builds a store seeded from cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{
		config: map[string]any{
			"threadcount":       cfg.ThreadCount,
			"conn_idle_timeout": cfg.ConnIdleTimeout,
			"net_write_timeout": cfg.NetWriteTimeout,
			"persist_pool_max":  cfg.PersistPoolMax,
			"persist_max_time":  cfg.PersistMaxTime,
		},
	}
}

// GetSnapshot returns a copy of every configured value.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Set merges newValues into the store and fires reload listeners.
func (cs *ConfigStore) Set(newValues map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range newValues {
		cs.config[k] = v
	}
	for _, fn := range cs.listeners {
		go fn()
	}
}

// OnReload registers fn to run (in its own goroutine) whenever Set is
// called. Nothing in this module registers a listener; workers and
// pools do not read the store.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	cs.listeners = append(cs.listeners, fn)
	cs.mu.Unlock()
}
