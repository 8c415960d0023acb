package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"IMEBRIDGE_ENGINE_SOCKET", "IMEBRIDGE_AUTO_UPDATE", "IMEBRIDGE_LOG_LEVEL",
		"IMEBRIDGE_LOG_PATH", "IMEBRIDGE_METRICS_LISTEN", "IMEBRIDGE_JOURNAL_PATH",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	t.Setenv("IMEBRIDGE_STATE_DIR", t.TempDir())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !cfg.Bridge.AutoUpdate {
		t.Error("auto update should default on")
	}
	if cfg.Engine.Socket != "/run/user/1000/imebridge/engine.sock" {
		t.Errorf("unexpected socket path %s", cfg.Engine.Socket)
	}
	if cfg.Journal.Enabled || cfg.Metrics.Enabled {
		t.Error("journal and metrics should be off by default")
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := ConfigPath(); got != "/tmp/xdg/imebridge/config.toml" {
		t.Errorf("ConfigPath() = %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default level, got %s", cfg.Logging.Level)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
version = 1

[bridge]
auto_update = false
max_text_length = 64

[engine]
socket = "/tmp/engine.sock"

[logging]
level = "debug"
`,
		},
		{
			name: "json",
			file: "config.json",
			content: `{
  "bridge": {"auto_update": false, "max_text_length": 64},
  "engine": {"socket": "/tmp/engine.sock"},
  "logging": {"level": "debug"}
}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
bridge:
  auto_update: false
  max_text_length: 64
engine:
  socket: /tmp/engine.sock
logging:
  level: debug
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load(writeFile(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Bridge.AutoUpdate {
				t.Error("auto_update should be false")
			}
			if cfg.Bridge.MaxTextLength != 64 {
				t.Errorf("max_text_length = %d", cfg.Bridge.MaxTextLength)
			}
			if cfg.Engine.Socket != "/tmp/engine.sock" {
				t.Errorf("socket = %s", cfg.Engine.Socket)
			}
			if cfg.Logging.Level != "debug" {
				t.Errorf("level = %s", cfg.Logging.Level)
			}
			// Unset fields keep their defaults.
			if cfg.Engine.DialTimeoutSec != 5 {
				t.Errorf("dial timeout = %d", cfg.Engine.DialTimeoutSec)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("config should validate: %v", err)
			}
		})
	}
}

func TestLoadRejectsUnknownTOMLKeys(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "config.toml", "[bridge]\nauto_updaet = true\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Errorf("expected unknown keys error, got %v", err)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	clearEnv(t)
	if _, err := Load(writeFile(t, "config.toml", "[bridge\n")); err == nil {
		t.Error("expected decode error")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMEBRIDGE_ENGINE_SOCKET", "/tmp/other.sock")
	t.Setenv("IMEBRIDGE_AUTO_UPDATE", "false")
	t.Setenv("IMEBRIDGE_LOG_LEVEL", "warn")
	t.Setenv("IMEBRIDGE_METRICS_LISTEN", "127.0.0.1:9999")
	t.Setenv("IMEBRIDGE_JOURNAL_PATH", "/tmp/journal.db")

	cfg, err := Load(writeFile(t, "config.toml", "[engine]\nsocket = \"/tmp/file.sock\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Socket != "/tmp/other.sock" {
		t.Errorf("env should win over file, got %s", cfg.Engine.Socket)
	}
	if cfg.Bridge.AutoUpdate {
		t.Error("auto update should be overridden")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9999" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Path != "/tmp/journal.db" {
		t.Errorf("journal = %+v", cfg.Journal)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.Engine.Socket = "relative.sock"
	cfg.Logging.Level = "verbose"
	cfg.Bridge.MaxTextLength = -1
	cfg.DBus.Name = "nodots"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "nope"

	err := cfg.Validate()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}

	want := []string{"bridge.max_text_length", "engine.socket", "logging.level", "metrics.listen", "dbus.name"}
	got := verrs.Fields()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("fields = %v, want %v", got, want)
	}
	if !strings.Contains(err.Error(), "config: logging.level: invalid log level") {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestValidateDisabledSectionsSkipped(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.DBus.Enabled = false
	cfg.DBus.Name = ""
	cfg.Journal.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled sections should not be validated: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnv(t)
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Bridge.MaxTextLength = 12
			cfg.Journal.Enabled = true
			cfg.DBus.Bus = "system"

			path := filepath.Join(t.TempDir(), "nested", "config"+ext)
			if err := Save(cfg, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if *loaded != *cfg {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
			}
		})
	}
}

func TestLoggingOptions(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 3

	opts, err := cfg.LoggingOptions()
	if err != nil {
		t.Fatalf("LoggingOptions failed: %v", err)
	}
	if opts.Level.String() != "DEBUG" || opts.MaxSize != 3 || !opts.RedactText {
		t.Errorf("unexpected options %+v", opts)
	}

	cfg.Logging.Format = "xml"
	if _, err := cfg.LoggingOptions(); err == nil {
		t.Error("expected format error")
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", "[logging]\nlevel = \"info\"\n")

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan [2]string, 1)
	loader.OnChange(func(old, new *Config) {
		changed <- [2]string{old.Logging.Level, new.Logging.Level}
	})
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer loader.Close()

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case levels := <-changed:
		if levels != [2]string{"info", "debug"} {
			t.Errorf("change = %v", levels)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if loader.Config().Logging.Level != "debug" {
		t.Errorf("loader config not swapped")
	}
}

func TestLoaderInvalidReloadKeepsConfig(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", "[logging]\nlevel = \"info\"\n")

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	loader.OnChange(func(old, new *Config) {
		t.Error("OnChange should not fire for an invalid file")
	})
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer loader.Close()

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"loud\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-loader.Errors():
		var verrs ValidationErrors
		if !errors.As(err, &verrs) {
			t.Errorf("expected validation error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
	if loader.Config().Logging.Level != "info" {
		t.Error("previous config should be kept")
	}
}

func TestChanged(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		want   []string
	}{
		{"nothing", func(*Config) {}, nil},
		{"level", func(c *Config) { c.Logging.Level = "debug" }, []string{"logging.level"}},
		{"auto update and socket", func(c *Config) {
			c.Bridge.AutoUpdate = !c.Bridge.AutoUpdate
			c.Engine.Socket = "/tmp/other.sock"
		}, []string{"bridge.auto_update", "engine.socket"}},
		{"dbus name", func(c *Config) { c.DBus.Name = "org.example.Other" }, []string{"dbus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := DefaultConfig()
			new := old.Clone()
			tt.modify(new)
			got := Changed(old, new)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Changed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoaderReportsRestartOnlyChanges(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", "[engine]\nsocket = \"/tmp/a.sock\"\n")

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	changed := make(chan struct{}, 1)
	loader.OnChange(func(old, new *Config) { changed <- struct{}{} })
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer loader.Close()

	if err := os.WriteFile(path, []byte("[engine]\nsocket = \"/tmp/b.sock\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-loader.Errors():
		if !errors.Is(err, ErrRestartRequired) || !strings.Contains(err.Error(), "engine.socket") {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for restart notice")
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("OnChange not called")
	}
	if loader.Config().Engine.Socket != "/tmp/b.sock" {
		t.Error("new socket should be recorded for the next start")
	}
}

func TestLoaderCloseWithoutWatch(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "config.toml"))
	if err := loader.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
