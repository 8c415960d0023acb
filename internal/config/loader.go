package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is how long the loader waits for a burst of file events to
// settle before reloading.
const DebounceDelay = 100 * time.Millisecond

// ErrRestartRequired is reported when a reload changed settings the running
// bridge only reads at startup. The new values are kept but take effect on
// the next start.
var ErrRestartRequired = errors.New("restart required")

// hotKeys are the settings the bridge applies while running.
var hotKeys = []string{"logging.level", "bridge.auto_update"}

// Changed returns the dotted keys whose values differ between old and new.
func Changed(old, new *Config) []string {
	var keys []string
	diff := func(key string, a, b any) {
		if a != b {
			keys = append(keys, key)
		}
	}
	diff("bridge.auto_update", old.Bridge.AutoUpdate, new.Bridge.AutoUpdate)
	diff("bridge.max_text_length", old.Bridge.MaxTextLength, new.Bridge.MaxTextLength)
	diff("engine.socket", old.Engine.Socket, new.Engine.Socket)
	diff("engine.dial_timeout_sec", old.Engine.DialTimeoutSec, new.Engine.DialTimeoutSec)
	diff("logging.level", old.Logging.Level, new.Logging.Level)
	diff("logging.format", old.Logging.Format, new.Logging.Format)
	diff("logging.output", old.Logging.Output, new.Logging.Output)
	diff("logging.file_path", old.Logging.FilePath, new.Logging.FilePath)
	diff("logging.redact_text", old.Logging.RedactText, new.Logging.RedactText)
	diff("metrics", old.Metrics, new.Metrics)
	diff("journal", old.Journal, new.Journal)
	diff("dbus", old.DBus, new.DBus)
	return keys
}

// Loader reads the configuration file and, once Watch is called, reloads it
// when it changes on disk. Reloads run on the watch goroutine.
type Loader struct {
	path    string
	current atomic.Pointer[Config]

	onChange []func(old, new *Config)
	errs     chan error

	watcher *fsnotify.Watcher
	stop    chan struct{}
	stopped sync.Once
	done    chan struct{}
}

// NewLoader returns a loader for path, or for ConfigPath when path is empty.
func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	return &Loader{
		path: path,
		errs: make(chan error, 4),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string { return l.path }

// Load reads and validates the file and makes it the current configuration.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}
	l.current.Store(cfg)
	return cfg, nil
}

func (l *Loader) read() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Config returns the current configuration, or nil before Load.
func (l *Loader) Config() *Config { return l.current.Load() }

// OnChange registers cb to run after a reload that changed something.
// Register callbacks before calling Watch.
func (l *Loader) OnChange(cb func(old, new *Config)) {
	l.onChange = append(l.onChange, cb)
}

// Errors delivers rejected reloads, restart-only changes and watcher
// failures. Errors are dropped while the channel is full.
func (l *Loader) Errors() <-chan error { return l.errs }

// Watch starts watching the file. Its directory is watched so that editors
// replacing the file are noticed.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = watcher
	go l.watch()
	return nil
}

func (l *Loader) watch() {
	defer close(l.done)

	settle := time.NewTimer(DebounceDelay)
	settle.Stop()
	defer settle.Stop()

	name := filepath.Base(l.path)
	for {
		select {
		case <-l.stop:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				settle.Reset(DebounceDelay)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		case <-settle.C:
			l.reload()
		}
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// reload swaps in the file if it is valid and differs from the current
// configuration. An invalid file keeps the current one.
func (l *Loader) reload() {
	cfg, err := l.read()
	if err != nil {
		l.report(fmt.Errorf("reload config: %w", err))
		return
	}
	old := l.current.Swap(cfg)
	if old == nil {
		return
	}
	keys := Changed(old, cfg)
	if len(keys) == 0 {
		return
	}

	var cold []string
	for _, k := range keys {
		if !slices.Contains(hotKeys, k) {
			cold = append(cold, k)
		}
	}
	if len(cold) > 0 {
		l.report(fmt.Errorf("%w: %s", ErrRestartRequired, strings.Join(cold, ", ")))
	}
	for _, cb := range l.onChange {
		cb(old, cfg)
	}
}

// Close stops watching. It is safe to call without Watch.
func (l *Loader) Close() error {
	l.stopped.Do(func() { close(l.stop) })
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	<-l.done
	return err
}
