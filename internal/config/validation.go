package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the offending fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

// ValidateConfig performs validation of the whole configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateBridge(&c.Bridge)...)
	errs = append(errs, validateEngine(&c.Engine)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateDBus(&c.DBus)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateBridge(b *BridgeConfig) ValidationErrors {
	var errs ValidationErrors
	if b.MaxTextLength < 0 {
		errs = append(errs, ValidationError{
			Field:   "bridge.max_text_length",
			Message: "cannot be negative",
		})
	}
	return errs
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors
	if e.Socket == "" {
		errs = append(errs, ValidationError{Field: "engine.socket", Message: "socket path is required"})
	} else if !filepath.IsAbs(e.Socket) {
		errs = append(errs, ValidationError{Field: "engine.socket", Message: "socket path must be absolute"})
	}
	if e.DialTimeoutSec < 1 || e.DialTimeoutSec > 300 {
		errs = append(errs, ValidationError{
			Field:   "engine.dial_timeout_sec",
			Message: "must be between 1 and 300",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output includes a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %q (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if !m.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		return ValidationErrors{{Field: "metrics.listen", Message: fmt.Sprintf("invalid address %q: %v", m.Listen, err)}}
	}
	return nil
}

func validateJournal(j *JournalConfig) ValidationErrors {
	if j.Enabled && j.Path == "" {
		return ValidationErrors{{Field: "journal.path", Message: "path is required when the journal is enabled"}}
	}
	return nil
}

var (
	busNamePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*(\.[A-Za-z_][A-Za-z0-9_-]*)+$`)
	objectPathPattern = regexp.MustCompile(`^/([A-Za-z0-9_]+(/[A-Za-z0-9_]+)*)?$`)
)

func validateDBus(d *DBusConfig) ValidationErrors {
	if !d.Enabled {
		return nil
	}
	var errs ValidationErrors
	if d.Bus != "session" && d.Bus != "system" {
		errs = append(errs, ValidationError{Field: "dbus.bus", Message: fmt.Sprintf("invalid bus %q (valid: session, system)", d.Bus)})
	}
	if !busNamePattern.MatchString(d.Name) {
		errs = append(errs, ValidationError{Field: "dbus.name", Message: fmt.Sprintf("invalid bus name %q", d.Name)})
	}
	if !objectPathPattern.MatchString(d.Path) {
		errs = append(errs, ValidationError{Field: "dbus.path", Message: fmt.Sprintf("invalid object path %q", d.Path)})
	}
	return errs
}
