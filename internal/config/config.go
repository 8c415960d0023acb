// Package config handles configuration loading, validation, and management for imebridge.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"imebridge/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete bridge configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Bridge configures the editable bridge itself.
	Bridge BridgeConfig `toml:"bridge" json:"bridge" yaml:"bridge"`

	// Engine configures the connection to the engine.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Journal configures the protocol traffic journal.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// DBus configures the D-Bus export of the focused editable.
	DBus DBusConfig `toml:"dbus" json:"dbus" yaml:"dbus"`
}

// BridgeConfig holds the bridge policy.
type BridgeConfig struct {
	// AutoUpdate makes every write re-send composition ranges and selection
	// once the engine has applied it.
	AutoUpdate bool `toml:"auto_update" json:"auto_update" yaml:"auto_update"`

	// MaxTextLength truncates insertions that would grow a field beyond this
	// many characters. Zero means unlimited.
	MaxTextLength int `toml:"max_text_length" json:"max_text_length" yaml:"max_text_length"`
}

// EngineConfig holds the engine connection settings.
type EngineConfig struct {
	// Socket is the path of the engine's Unix socket.
	Socket string `toml:"socket" json:"socket" yaml:"socket"`

	// DialTimeoutSec bounds the initial connection attempt.
	DialTimeoutSec int `toml:"dial_timeout_sec" json:"dial_timeout_sec" yaml:"dial_timeout_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// RedactText keeps editable contents out of log entries.
	RedactText bool `toml:"redact_text" json:"redact_text" yaml:"redact_text"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Listen is the address the /metrics endpoint binds to.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`
}

// JournalConfig holds the traffic journal settings.
type JournalConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`

	// RedactText stores a digest instead of the text of each message.
	RedactText bool `toml:"redact_text" json:"redact_text" yaml:"redact_text"`
}

// DBusConfig holds the D-Bus export settings.
type DBusConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Bus is "session" or "system".
	Bus  string `toml:"bus" json:"bus" yaml:"bus"`
	Name string `toml:"name" json:"name" yaml:"name"`
	Path string `toml:"path" json:"path" yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := logging.StateDir()

	return &Config{
		Version: Version,
		Bridge: BridgeConfig{
			AutoUpdate: true,
		},
		Engine: EngineConfig{
			Socket:         defaultSocketPath(),
			DialTimeoutSec: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "imebridge.log"),
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 14,
			RedactText: true,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
		Journal: JournalConfig{
			Path:       filepath.Join(dir, "journal.db"),
			RedactText: true,
		},
		DBus: DBusConfig{
			Enabled: true,
			Bus:     "session",
			Name:    "org.imebridge.Bridge",
			Path:    "/org/imebridge/Editable",
		},
	}
}

func defaultSocketPath() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "imebridge", "engine.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("imebridge-%d", os.Getuid()), "engine.sock")
}

// ConfigDir returns the directory holding the configuration file.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "imebridge")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "imebridge")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
// Environment overrides are applied; the result is not validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, nil
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("decode TOML: unknown keys %v", undecoded)
		}
	}
	return nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML, or as JSON or YAML for those extensions.
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	}
	var buf bytes.Buffer
	buf.WriteString("# imebridge configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables are prefixed with IMEBRIDGE_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("IMEBRIDGE_ENGINE_SOCKET"); v != "" {
		c.Engine.Socket = v
	}
	if v := os.Getenv("IMEBRIDGE_AUTO_UPDATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Bridge.AutoUpdate = b
		}
	}
	if v := os.Getenv("IMEBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IMEBRIDGE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("IMEBRIDGE_METRICS_LISTEN"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.Listen = v
	}
	if v := os.Getenv("IMEBRIDGE_JOURNAL_PATH"); v != "" {
		c.Journal.Enabled = true
		c.Journal.Path = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// LoggingOptions converts the logging section for the logging package.
func (c *Config) LoggingOptions() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	out := logging.DefaultConfig()
	out.Level = level
	out.Format = format
	out.Output = c.Logging.Output
	out.FilePath = c.Logging.FilePath
	out.MaxSize = int64(c.Logging.MaxSizeMB)
	out.MaxBackups = c.Logging.MaxBackups
	out.MaxAge = c.Logging.MaxAgeDays
	out.RedactText = c.Logging.RedactText
	return out, nil
}
