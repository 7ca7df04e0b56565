package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath is the environment variable for explicit config path
	EnvConfigPath = "CLOUDSCOPE_CONFIG"
	// ConfigDirName is the config directory name under XDG
	ConfigDirName = "cloudscope"
)

// ConfigFileNames are the file names searched in the working directory
var ConfigFileNames = []string{"cloudscope.yaml", "cloudscope.yml", "cloudscope.toml"}

// FindConfigPath searches for config file in priority order:
// 1. $CLOUDSCOPE_CONFIG (explicit path)
// 2. ./cloudscope.yaml, ./cloudscope.yml, ./cloudscope.toml (working directory)
// 3. $XDG_CONFIG_HOME/cloudscope/config.yaml
// 4. ~/.config/cloudscope/config.yaml
// 5. /etc/cloudscope/config.yaml
//
// Returns empty string if no config file found
func FindConfigPath() string {
	// 1. Explicit environment variable
	if path := os.Getenv(EnvConfigPath); path != "" {
		if fileExists(path) {
			return path
		}
	}

	// 2. Working directory
	for _, name := range ConfigFileNames {
		if fileExists(name) {
			if abs, err := filepath.Abs(name); err == nil {
				return abs
			}
			return name
		}
	}

	// 3. XDG config home
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		path := filepath.Join(xdgHome, ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}

	// 4. Default XDG location (~/.config)
	if home := os.Getenv("HOME"); home != "" {
		path := filepath.Join(home, ".config", ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}

	// 5. System-wide
	systemPath := filepath.Join("/etc", ConfigDirName, "config.yaml")
	if fileExists(systemPath) {
		return systemPath
	}

	// No config found
	return ""
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
