package config

import (
	"time"
)

// Storage backend names
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageGraph  = "graph"
	// StorageRelational is accepted as an alias of StorageSQLite
	StorageRelational = "relational"
)

// Config is the root configuration structure
type Config struct {
	Storage StorageConfig `yaml:"storage" toml:"storage"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// StorageConfig selects and configures the repository backend
type StorageConfig struct {
	Type string `yaml:"type" toml:"type" env:"CLOUDSCOPE_STORAGE_TYPE"`
	// Path is the base directory of the file backend
	Path     string `yaml:"path" toml:"path" env:"CLOUDSCOPE_STORAGE_PATH"`
	Compress *bool  `yaml:"compress,omitempty" toml:"compress,omitempty" env:"CLOUDSCOPE_STORAGE_COMPRESS"`

	SQLite   SQLiteConfig   `yaml:"sqlite" toml:"sqlite"`
	Graph    GraphConfig    `yaml:"graph" toml:"graph"`
	Fallback FallbackConfig `yaml:"fallback,omitempty" toml:"fallback,omitempty"`
}

// CompressEnabled reports whether file entities are gzip-compressed
func (s StorageConfig) CompressEnabled() bool {
	return s.Compress == nil || *s.Compress
}

// SQLiteConfig holds the database path and connection pragmas
type SQLiteConfig struct {
	Path        string `yaml:"path" toml:"path" env:"CLOUDSCOPE_SQLITE_PATH"`
	JournalMode string `yaml:"journal_mode" toml:"journal_mode" env:"CLOUDSCOPE_SQLITE_JOURNAL_MODE"`
	Synchronous string `yaml:"synchronous" toml:"synchronous" env:"CLOUDSCOPE_SQLITE_SYNCHRONOUS"`
	CacheSize   int    `yaml:"cache_size" toml:"cache_size" env:"CLOUDSCOPE_SQLITE_CACHE_SIZE"`
	TempStore   string `yaml:"temp_store" toml:"temp_store" env:"CLOUDSCOPE_SQLITE_TEMP_STORE"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout" env:"CLOUDSCOPE_SQLITE_BUSY_TIMEOUT"`
}

// GraphConfig holds the Bolt connection settings
type GraphConfig struct {
	URI            string   `yaml:"uri" toml:"uri" env:"CLOUDSCOPE_GRAPH_URI"`
	Username       string   `yaml:"username" toml:"username" env:"CLOUDSCOPE_GRAPH_USERNAME"`
	Password       string   `yaml:"password" toml:"password" env:"CLOUDSCOPE_GRAPH_PASSWORD"`
	Database       string   `yaml:"database" toml:"database" env:"CLOUDSCOPE_GRAPH_DATABASE"`
	Dialect        string   `yaml:"dialect" toml:"dialect" env:"CLOUDSCOPE_GRAPH_DIALECT"`
	ConnectTimeout Duration `yaml:"connect_timeout,omitempty" toml:"connect_timeout,omitempty" env:"CLOUDSCOPE_GRAPH_CONNECT_TIMEOUT"`
}

// FallbackConfig names the backend served when the graph server is
// unreachable. An empty Type disables fallback.
type FallbackConfig struct {
	Type string `yaml:"type" toml:"type" env:"CLOUDSCOPE_FALLBACK_TYPE"`
	Path string `yaml:"path" toml:"path" env:"CLOUDSCOPE_FALLBACK_PATH"`
}

// Enabled reports whether a fallback backend is configured
func (f FallbackConfig) Enabled() bool {
	return f.Type != ""
}

// LoggingConfig controls the slog handler
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"CLOUDSCOPE_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" env:"CLOUDSCOPE_LOG_FORMAT"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint
	Addr string `yaml:"addr" toml:"addr" env:"CLOUDSCOPE_METRICS_ADDR"`
}

// Duration wraps time.Duration for YAML, TOML and environment decoding
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
