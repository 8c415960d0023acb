package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, err := ParseLevel(LevelString(level))
		if err != nil || parsed != level {
			t.Errorf("LevelString(%v) does not parse back: %v, %v", level, parsed, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.MaxSize <= 0 || cfg.MaxAge <= 0 || cfg.MaxBackups <= 0 {
		t.Errorf("expected positive rotation limits, got %+v", cfg)
	}
	if !strings.HasSuffix(cfg.FilePath, "imebridge.log") {
		t.Errorf("unexpected default log path %q", cfg.FilePath)
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"password", true},
		{"PASSWORD", true},
		{"secret", true},
		{"token", true},
		{"payload", true},
		{"typed_text", true},
		{"session", false},
		{"key", false},
		{"start", false},
		{"kind", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			if got := shouldRedact(test.key); got != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, got, test.expected)
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Component: "test",
		Writer:    &buf,
	})
	if err != nil {
		t.Fatalf("failed to create JSON logger: %v", err)
	}
	defer logger.Close()

	logger.WithRun("run-1").Info("sent", "session", 3, "payload", "abc")
	logger.Debug("dropped")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not a single JSON entry: %v\n%s", err, buf.String())
	}
	if entry["component"] != "test" || entry["run"] != "run-1" {
		t.Errorf("missing attributes: %v", entry)
	}
	if entry["session"] != float64(3) {
		t.Errorf("session should not be redacted: %v", entry["session"])
	}
	if entry["payload"] != "[REDACTED]" {
		t.Errorf("payload should be redacted: %v", entry["payload"])
	}
}

func TestRedactText(t *testing.T) {
	for _, redact := range []bool{true, false} {
		var buf bytes.Buffer
		logger, err := New(&Config{Level: LevelInfo, Writer: &buf, RedactText: redact})
		if err != nil {
			t.Fatalf("failed to create logger: %v", err)
		}
		logger.Info("text change", "text", "hunter2", "start", 4)

		out := buf.String()
		if strings.Contains(out, "hunter2") == redact {
			t.Errorf("RedactText=%v: unexpected output %q", redact, out)
		}
		if !strings.Contains(out, "start=4") {
			t.Errorf("offsets should be logged: %q", out)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelInfo, Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	logger.WithComponent("dbus").Warn("hello")
	if !strings.Contains(buf.String(), "component=dbus") {
		t.Errorf("expected component attribute, got %q", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelWarn, Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	derived := logger.WithComponent("bridge")

	derived.Info("dropped")
	logger.SetLevel(LevelDebug)
	derived.Debug("kept")

	if strings.Contains(buf.String(), "dropped") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("derived logger should follow the new level, got %q", buf.String())
	}
	if logger.Level() != LevelDebug {
		t.Errorf("Level() = %v", logger.Level())
	}
}

func TestFileRotator(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxAge: 7, MaxBackups: 3})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	testData := []byte("test log line\n")
	n, err := rotator.Write(testData)
	if err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if n != len(testData) {
		t.Errorf("expected to write %d bytes, wrote %d", len(testData), n)
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("log file was not created")
	}
	if err := rotator.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
}

func TestFileRotatorRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rotator.now = func() time.Time { return clock }
	rotator.opened = clock

	line := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Second)
		if _, err := rotator.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := rotator.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := rotator.Files()
	if err != nil {
		t.Fatalf("failed to list log files: %v", err)
	}
	// The current file plus at most MaxBackups rotated ones.
	if len(files) != 3 {
		t.Errorf("expected 3 log files, got %v", files)
	}
}

func TestCrashHandler(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(&Config{Level: LevelInfo, Writer: &buf})
	handler := NewCrashHandler(t.TempDir(), "1.0.0", "run-7", logger.Logger)

	handler.Recover("ui", func() { panic("intentional test panic") })
	handler.HandlePanic("engine", "second", map[string]any{"session": 3})

	reports, err := handler.Reports()
	if err != nil {
		t.Fatalf("failed to get crash reports: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 crash reports, got %d", len(reports))
	}
	if reports[0].PanicValue != "intentional test panic" || reports[0].Where != "ui" {
		t.Errorf("unexpected first report: %+v", reports[0])
	}
	if reports[1].Run != "run-7" || reports[1].Version != "1.0.0" {
		t.Errorf("unexpected second report: %+v", reports[1])
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("panic was not logged: %q", buf.String())
	}

	if err := handler.Prune(-time.Second); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if reports, _ := handler.Reports(); len(reports) != 0 {
		t.Errorf("expected no reports after prune, got %d", len(reports))
	}
}
