package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tailored-agentic-units/appstate/storage"
)

const (
	defaultName     = "appstate"
	defaultElement  = "body"
	defaultObserver = "slog"
)

// Config holds the scalar construction inputs of a Machine. Function-valued
// inputs (routes, view, hooks) and ports are supplied through Options.
type Config struct {
	Name                  string         `json:"name,omitempty" yaml:"name,omitempty"`
	LocalStorageKey       string         `json:"local_storage_key,omitempty" yaml:"local_storage_key,omitempty"`
	LocalStorageBlackList string         `json:"local_storage_black_list,omitempty" yaml:"local_storage_black_list,omitempty"`
	Debug                 bool           `json:"debug,omitempty" yaml:"debug,omitempty"`
	Element               string         `json:"element,omitempty" yaml:"element,omitempty"`
	Observer              string         `json:"observer,omitempty" yaml:"observer,omitempty"`
	Storage               storage.Config `json:"storage" yaml:"storage"`
}

// DefaultConfig returns a Config mounting into "body" with slog events and
// persistence disabled.
func DefaultConfig() Config {
	return Config{
		Name:     defaultName,
		Element:  defaultElement,
		Observer: defaultObserver,
		Storage:  storage.DefaultConfig(),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	c.Storage.Merge(&source.Storage)

	if source.Name != "" {
		c.Name = source.Name
	}
	if source.LocalStorageKey != "" {
		c.LocalStorageKey = source.LocalStorageKey
	}
	if source.LocalStorageBlackList != "" {
		c.LocalStorageBlackList = source.LocalStorageBlackList
	}
	if source.Debug {
		c.Debug = true
	}
	if source.Element != "" {
		c.Element = source.Element
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// LoadConfig reads a JSON or YAML config file (chosen by extension), merges it
// with defaults, and returns the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	loaded, err := ReadConfig(filename)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Merge(loaded)
	return &cfg, nil
}

// ReadConfig parses a JSON or YAML config file without applying defaults.
// Fields the file leaves out stay zero, so the result can be merged over a
// caller's own defaults.
func ReadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &loaded)
	default:
		err = json.Unmarshal(data, &loaded)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &loaded, nil
}
