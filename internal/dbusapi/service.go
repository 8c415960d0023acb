// Package dbusapi exports the focused editable over D-Bus so that an input
// method running out of process can read and edit it.
package dbusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"imebridge/internal/bridge"
	"imebridge/internal/protocol"
)

// D-Bus names.
const (
	Interface = "org.imebridge.Editable1"

	ErrNotFocused   = "org.imebridge.Error.NotFocused"
	ErrInvalidRange = "org.imebridge.Error.InvalidRange"
	ErrUnsupported  = "org.imebridge.Error.Unsupported"
	ErrTimeout      = "org.imebridge.Error.Timeout"
	ErrFailed       = "org.imebridge.Error.Failed"
)

// DefaultTimeout bounds how long a method call waits for the UI loop.
const DefaultTimeout = 5 * time.Second

// Caller runs functions on the UI loop. *bridge.Looper implements it.
type Caller interface {
	Call(ctx context.Context, fn func()) error
}

// Emitter sends signals. *dbus.Conn implements it.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Options configures a Service.
type Options struct {
	Looper  Caller
	Path    dbus.ObjectPath
	Logger  *slog.Logger
	Timeout time.Duration
	// Emitter overrides the bus connection for signals.
	Emitter Emitter
}

// Service is a bridge.Listener that tracks the focused editable, exposes it
// as Interface and re-emits listener notifications as signals.
type Service struct {
	opts   Options
	logger *slog.Logger
	conn   *dbus.Conn
	obj    *editable1

	// UI loop only.
	current *bridge.Editable
}

var _ bridge.Listener = (*Service)(nil)

// New creates a service that is not yet on a bus.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Path == "" {
		opts.Path = "/org/imebridge/Editable"
	}
	s := &Service{opts: opts, logger: opts.Logger.With("component", "dbus")}
	s.obj = &editable1{s: s}
	return s
}

// Connect joins the session or system bus, claims name and exports the
// editable object with its introspection data.
func (s *Service) Connect(bus, name string) error {
	var conn *dbus.Conn
	var err error
	switch bus {
	case "system":
		conn, err = dbus.ConnectSystemBus()
	default:
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s bus: %w", bus, err)
	}

	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("bus name %s already taken", name)
	}

	if err := conn.Export(s.obj, s.opts.Path, Interface); err != nil {
		conn.Close()
		return fmt.Errorf("export editable: %w", err)
	}
	node := &introspect.Node{
		Name: string(s.opts.Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			interfaceData,
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), s.opts.Path, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return fmt.Errorf("export introspection: %w", err)
	}

	s.conn = conn
	if s.opts.Emitter == nil {
		s.opts.Emitter = conn
	}
	s.logger.Info("exported editable", "bus", bus, "name", name, "path", s.opts.Path)
	return nil
}

// Close releases the bus connection.
func (s *Service) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Listener side. These run on the UI loop.

func (s *Service) OnFocusChange(e *bridge.Editable, focused bool) {
	if focused {
		s.current = e
	} else if s.current == e {
		s.current = nil
	}
	s.emit("FocusChanged", focused)
}

func (s *Service) OnTextChange(e *bridge.Editable, start, oldEnd, newEnd int) {
	s.emit("TextChanged", int32(start), int32(oldEnd), int32(newEnd))
}

func (s *Service) OnSelectionChange(e *bridge.Editable, start, end int) {
	s.emit("SelectionChanged", int32(start), int32(end))
}

func (s *Service) OnEnabledStateChange(e *bridge.Editable, state protocol.EnabledStateChanged) {
	s.emit("EnabledStateChanged", state.State.String(), state.TypeHint, state.ModeHint, state.ActionHint)
}

func (s *Service) OnResetInputState(e *bridge.Editable) {
	s.emit("ResetInputState")
}

func (s *Service) OnCancelComposition(e *bridge.Editable) {
	s.emit("CancelComposition")
}

func (s *Service) emit(signal string, values ...interface{}) {
	if s.opts.Emitter == nil {
		return
	}
	if err := s.opts.Emitter.Emit(s.opts.Path, Interface+"."+signal, values...); err != nil {
		s.logger.Debug("emit failed", "signal", signal, "error", err)
	}
}

// onEditable runs fn with the focused editable on the UI loop and maps the
// outcome to a D-Bus error.
func (s *Service) onEditable(fn func(e *bridge.Editable) error) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	// result is only read once the loop has finished with it.
	var result error
	if err := s.opts.Looper.Call(ctx, func() {
		if s.current == nil {
			result = bridge.ErrNotFocused
			return
		}
		result = fn(s.current)
	}); err != nil {
		return toDBusError(err)
	}
	return toDBusError(result)
}

func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	name := ErrFailed
	switch {
	case errors.Is(err, bridge.ErrNotFocused), errors.Is(err, bridge.ErrQueueClosed):
		name = ErrNotFocused
	case errors.Is(err, bridge.ErrInvalidRange):
		name = ErrInvalidRange
	case errors.Is(err, bridge.ErrUnsupported):
		name = ErrUnsupported
	case errors.Is(err, context.DeadlineExceeded):
		name = ErrTimeout
	}
	return dbus.NewError(name, []interface{}{err.Error()})
}
