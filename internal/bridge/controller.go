// Package bridge keeps an input method's view of a focused editable field in
// step with the engine that owns the field's text.
//
// Two goroutines take part. The UI loop (a Looper) runs the input method's
// calls against an Editable: writes are queued as actions and sent to the
// engine at once, reads first wait until the engine has replied to every
// queued action. The engine goroutine delivers notifications to the
// Controller, which applies them to the session's text store and posts
// listener callbacks back to the UI loop. Sequence counters drop callbacks
// that were superseded before they ran.
package bridge

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"imebridge/internal/metrics"
	"imebridge/internal/protocol"
)

// Options configures a Controller.
type Options struct {
	// Sender delivers outbound messages to the engine. Required.
	Sender protocol.Sender
	// Looper is the UI loop. Required and must be started.
	Looper *Looper
	// Listener receives UI-side notifications. Defaults to NopListener.
	Listener Listener
	Logger   *slog.Logger
	Metrics  *metrics.BridgeMetrics
	// AutoUpdate is the initial auto-update policy of new sessions.
	AutoUpdate bool
	// Filters are installed on the editable of every new session.
	Filters []InputFilter
}

// Controller owns the focus sessions and routes engine notifications to them.
// It implements protocol.Handler and must be driven by a single engine
// goroutine.
type Controller struct {
	opts   Options
	logger *slog.Logger

	autoUpdate atomic.Bool

	mu       sync.Mutex
	sessions map[uint32]*Session
	current  *Session
}

var _ protocol.Handler = (*Controller)(nil)

// NewController creates a controller with no focused field.
func NewController(opts Options) *Controller {
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Controller{
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[uint32]*Session),
	}
	c.autoUpdate.Store(opts.AutoUpdate)
	return c
}

// SetAutoUpdate changes the auto-update policy given to sessions focused
// from now on.
func (c *Controller) SetAutoUpdate(on bool) {
	c.autoUpdate.Store(on)
}

// Current returns the editable of the focused field, or nil.
func (c *Controller) Current() *Editable {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.ed
}

// Backlog returns the number of actions of the focused field that await an
// engine reply. It is safe to call from any goroutine.
func (c *Controller) Backlog() int {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil || s.closed() {
		return 0
	}
	return s.queue.Len()
}

// Session returns the live session with the given id, or nil.
func (c *Controller) Session(id uint32) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id]
}

// HandleNotification routes an engine notification. Errors wrapping
// ErrProtocolViolation mean the notification was dropped.
func (c *Controller) HandleNotification(id uint32, m protocol.Message) error {
	switch msg := m.(type) {
	case protocol.FocusChange:
		if msg.State == protocol.Blur {
			c.blur(id)
		} else {
			c.focus(id)
		}
		return nil

	case protocol.ReplyToEvent:
		s := c.Session(id)
		if s == nil {
			c.logger.Debug("reply for unknown session dropped", "session", id)
			return nil
		}
		return s.OnReply()

	case protocol.TextChanged:
		s := c.Session(id)
		if s == nil {
			c.logger.Debug("text change for unknown session dropped", "session", id)
			return nil
		}
		return c.checked(s.OnTextChange(msg.Text, msg.Start, msg.OldEnd, msg.NewEnd))

	case protocol.SelectionChanged:
		s := c.Session(id)
		if s == nil {
			c.logger.Debug("selection change for unknown session dropped", "session", id)
			return nil
		}
		return c.checked(s.OnSelectionChange(msg.Start, msg.End))

	case protocol.ResetInputState:
		c.notify(id, func(l Listener, e *Editable) { l.OnResetInputState(e) })
		return nil

	case protocol.CancelComposition:
		c.notify(id, func(l Listener, e *Editable) { l.OnCancelComposition(e) })
		return nil

	case protocol.EnabledStateChanged:
		c.notify(id, func(l Listener, e *Editable) { l.OnEnabledStateChange(e, msg) })
		return nil
	}

	return c.checked(violation("unexpected %s from engine", m.Kind()))
}

func (c *Controller) checked(err error) error {
	if errors.Is(err, ErrProtocolViolation) {
		c.logger.Error("engine notification dropped", "error", err)
		c.opts.Metrics.RecordViolation()
	}
	return err
}

// focus registers a session right away so that notifications following the
// focus are routed to it, then hands it to the UI loop.
func (c *Controller) focus(id uint32) {
	s := newSession(id, &c.opts)
	s.ed.autoUpdate = c.autoUpdate.Load()

	c.mu.Lock()
	previous := make([]*Session, 0, len(c.sessions))
	for _, old := range c.sessions {
		previous = append(previous, old)
	}
	c.sessions = map[uint32]*Session{id: s}
	c.mu.Unlock()

	for _, old := range previous {
		c.end(old)
	}

	c.logger.Debug("focus", "session", id)
	c.opts.Looper.Post(func() {
		if !s.focus() {
			return
		}
		c.mu.Lock()
		c.current = s
		c.mu.Unlock()

		if err := s.offer(newAcknowledgeFocus()); err != nil {
			s.logger.Error("failed to acknowledge focus", "error", err)
		}
		s.SyncWithEngine()
		if s.closed() {
			return
		}
		c.opts.Listener.OnFocusChange(s.ed, true)
	})
}

func (c *Controller) blur(id uint32) {
	c.mu.Lock()
	s := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()

	if s == nil {
		c.logger.Debug("blur for unknown session dropped", "session", id)
		return
	}
	c.logger.Debug("blur", "session", id)
	c.end(s)
}

// end closes s at once, releasing a UI loop blocked on it, and tells the
// listener once the UI loop gets to it.
func (c *Controller) end(s *Session) {
	wasFocused := s.close()
	c.opts.Looper.Post(func() {
		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()
		if wasFocused {
			c.opts.Listener.OnFocusChange(s.ed, false)
		}
	})
}

// notify syncs the session and calls fn on the UI loop.
func (c *Controller) notify(id uint32, fn func(Listener, *Editable)) {
	s := c.Session(id)
	c.opts.Looper.Post(func() {
		var e *Editable
		if s != nil && !s.closed() {
			s.SyncWithEngine()
			e = s.ed
		}
		fn(c.opts.Listener, e)
	})
}

// Close ends every session.
func (c *Controller) Close() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[uint32]*Session)
	c.mu.Unlock()

	for _, s := range sessions {
		c.end(s)
	}
}
