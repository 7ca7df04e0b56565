// Package config provides configuration management for cloudscope.
//
// A config file selects the storage backend and tunes logging and metrics.
// YAML and TOML are both accepted, chosen by file extension. Environment
// variables prefixed with CLOUDSCOPE_ override file values.
//
// Config file locations (priority order):
//  1. $CLOUDSCOPE_CONFIG
//  2. ./cloudscope.yaml or ./cloudscope.toml
//  3. ~/.config/cloudscope/config.yaml
//  4. /etc/cloudscope/config.yaml
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Load finds and loads the config file, or returns defaults if none found.
// Environment overrides apply in both cases.
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		cfg := DefaultConfig()
		if err := cfg.finish(); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, path, fmt.Errorf("parse config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, path, fmt.Errorf("parse config: %w", err)
		}
	default:
		return nil, path, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := cfg.finish(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

// finish applies environment overrides and defaults, then validates
func (c *Config) finish() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes config to the specified path in the format its extension names
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(c); err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	s := &c.Storage
	if s.Type == "" {
		s.Type = StorageFile
	}
	if strings.EqualFold(s.Type, StorageRelational) {
		s.Type = StorageSQLite
	}
	s.Type = strings.ToLower(s.Type)
	if s.Path == "" {
		s.Path = "./data"
	}

	if s.SQLite.Path == "" {
		s.SQLite.Path = filepath.Join(s.Path, "cloudscope.db")
	}
	if s.SQLite.JournalMode == "" {
		s.SQLite.JournalMode = "WAL"
	}
	if s.SQLite.Synchronous == "" {
		s.SQLite.Synchronous = "NORMAL"
	}
	if s.SQLite.CacheSize == 0 {
		s.SQLite.CacheSize = -64000
	}
	if s.SQLite.TempStore == "" {
		s.SQLite.TempStore = "MEMORY"
	}
	if s.SQLite.BusyTimeout == 0 {
		s.SQLite.BusyTimeout = 5000
	}

	if s.Graph.Dialect == "" {
		s.Graph.Dialect = "neo4j"
	}
	if s.Graph.ConnectTimeout == 0 {
		s.Graph.ConnectTimeout = Duration(5 * time.Second)
	}
	if s.Fallback.Enabled() && s.Fallback.Path == "" {
		s.Fallback.Path = filepath.Join(s.Path, "fallback")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations no backend can be built from
func (c *Config) Validate() error {
	s := c.Storage
	switch s.Type {
	case StorageFile, StorageSQLite:
		if s.Fallback.Enabled() {
			return fmt.Errorf("storage.fallback is only supported with the %s backend", StorageGraph)
		}
	case StorageGraph:
		if strings.TrimSpace(s.Graph.URI) == "" {
			return fmt.Errorf("storage.graph.uri is required for the %s backend", StorageGraph)
		}
		switch s.Graph.Dialect {
		case "neo4j", "memgraph":
		default:
			return fmt.Errorf("unknown storage.graph.dialect %q", s.Graph.Dialect)
		}
		if s.Fallback.Enabled() && s.Fallback.Type != StorageFile {
			return fmt.Errorf("unsupported storage.fallback.type %q, only %s is supported", s.Fallback.Type, StorageFile)
		}
	default:
		return fmt.Errorf("unknown storage.type %q", s.Type)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
