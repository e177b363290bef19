package storage

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Config selects a storage backend.
type Config struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"` // memory, file, bolt, sqlite; empty disables persistence.
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`       // Directory (file) or database file (bolt, sqlite).
}

// DefaultConfig returns the default storage configuration (disabled).
func DefaultConfig() Config {
	return Config{}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Backend != "" {
		c.Backend = source.Backend
	}
	if source.Path != "" {
		c.Path = source.Path
	}
}

// Factory creates a Store from configuration.
type Factory func(cfg *Config) (Store, error)

var (
	backends = map[string]Factory{
		"memory": func(*Config) (Store, error) {
			return NewMemoryStore(), nil
		},
		"file": func(cfg *Config) (Store, error) {
			if cfg.Path == "" {
				return nil, fmt.Errorf("%w: file backend", ErrPathRequired)
			}
			return NewFileStore(cfg.Path), nil
		},
		"bolt": func(cfg *Config) (Store, error) {
			if cfg.Path == "" {
				return nil, fmt.Errorf("%w: bolt backend", ErrPathRequired)
			}
			return NewBoltStore(cfg.Path)
		},
		"sqlite": func(cfg *Config) (Store, error) {
			if cfg.Path == "" {
				return nil, fmt.Errorf("%w: sqlite backend", ErrPathRequired)
			}
			return NewSQLiteStore(cfg.Path)
		},
	}
	mutex sync.RWMutex
)

// RegisterBackend adds or replaces a named backend factory.
func RegisterBackend(name string, factory Factory) {
	mutex.Lock()
	defer mutex.Unlock()

	backends[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	mutex.RLock()
	defer mutex.RUnlock()

	return slices.Sorted(maps.Keys(backends))
}

// NewStore creates a Store from configuration. Returns a nil Store when
// Backend is empty, indicating persistence is disabled.
func NewStore(cfg *Config) (Store, error) {
	if cfg.Backend == "" {
		return nil, nil
	}

	mutex.RLock()
	factory, exists := backends[cfg.Backend]
	mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
	return factory(cfg)
}
