package bridge

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"imebridge/internal/metrics"
	"imebridge/internal/protocol"
	"imebridge/internal/textstore"
)

// SessionState is the lifecycle state of a focus session.
type SessionState int

const (
	StateUnfocused SessionState = iota
	StateIdle
	StatePending
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnfocused:
		return "unfocused"
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

const (
	phaseUnfocused int32 = iota
	phaseFocused
	phaseClosed
)

// Session is the bridge state for one focus of one editable field: the text
// store, the action queue and the sequence counters. Sessions are created by
// the Controller when the engine reports focus and end on blur.
type Session struct {
	id     uint32
	store  *textstore.Store
	queue  *Queue
	seq    Tracker
	ed     *Editable
	phase  atomic.Int32
	sender protocol.Sender

	looper   *Looper
	listener Listener
	logger   *slog.Logger
	metrics  *metrics.BridgeMetrics

	// UI loop only.
	hadComposition bool
	projected      int
}

func newSession(id uint32, opts *Options) *Session {
	s := &Session{
		id:       id,
		store:    textstore.New(),
		queue:    NewQueue(),
		sender:   opts.Sender,
		looper:   opts.Looper,
		listener: opts.Listener,
		logger:   opts.Logger.With("session", id),
		metrics:  opts.Metrics,
	}
	s.ed = &Editable{s: s, autoUpdate: opts.AutoUpdate}
	s.ed.SetFilters(opts.Filters...)
	return s
}

// ID returns the engine-assigned session id.
func (s *Session) ID() uint32 { return s.id }

// Editable returns the facade of the session.
func (s *Session) Editable() *Editable { return s.ed }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	switch s.phase.Load() {
	case phaseUnfocused:
		return StateUnfocused
	case phaseClosed:
		return StateClosed
	}
	if s.queue.Len() > 0 {
		return StatePending
	}
	return StateIdle
}

func (s *Session) isFocused() bool { return s.phase.Load() == phaseFocused }
func (s *Session) closed() bool    { return s.phase.Load() == phaseClosed }

func (s *Session) focus() bool {
	if !s.phase.CompareAndSwap(phaseUnfocused, phaseFocused) {
		return false
	}
	s.metrics.SessionStarted()
	return true
}

// close discards pending actions and opens the gate. It reports whether the
// session was focused. Safe to call from either goroutine.
func (s *Session) close() bool {
	prev := s.phase.Swap(phaseClosed)
	if prev == phaseClosed {
		return false
	}
	s.metrics.RecordDiscarded(s.queue.Close())
	if prev == phaseFocused {
		s.metrics.SessionEnded()
		return true
	}
	return false
}

// SyncWithEngine blocks until the engine has replied to every offered action.
// It returns at once if the session is not focused or nothing is pending.
// UI loop only.
func (s *Session) SyncWithEngine() {
	if !s.isFocused() || s.queue.Len() == 0 {
		return
	}
	start := time.Now()
	s.queue.Wait()
	s.metrics.RecordSyncWait(time.Since(start))
}

// projectedLen is the buffer length once every queued action is applied.
func (s *Session) projectedLen() int {
	if s.queue.Len() == 0 {
		return s.store.Len()
	}
	return s.projected
}

// offer queues a and sends its messages. UI loop only.
func (s *Session) offer(a Action) error {
	if !s.isFocused() {
		return ErrNotFocused
	}
	base := s.projectedLen()
	if err := s.queue.Offer(a); err != nil {
		return err
	}
	s.projected = base + a.delta()
	s.seq.BumpUI()
	s.metrics.RecordOffer(a.Kind.String())

	for _, m := range a.messages() {
		if err := s.sender.Send(s.id, m); err != nil {
			s.logger.Error("failed to send to engine", "kind", m.Kind(), "error", err)
			s.retract(base)
			return fmt.Errorf("send %s: %w", m.Kind(), err)
		}
	}
	return nil
}

// retract undoes an offer whose reply can never arrive, so the barrier does
// not wait on it. Only the last message of an action is replied to, so a
// partially sent action has no reply either.
func (s *Session) retract(base int) {
	if _, err := s.queue.Retract(); err != nil {
		return
	}
	s.projected = base
	s.seq.UnbumpUI()
	s.metrics.RecordDiscarded(1)
}

// updateEngine re-sends composition ranges and selection. Unless force is
// set, it does nothing when no action was offered since the last update.
// UI loop only.
func (s *Session) updateEngine(force bool) {
	if !s.isFocused() {
		return
	}
	if !force && !s.seq.NeedsResync() {
		return
	}
	s.seq.MarkSynced()
	s.SyncWithEngine()

	snap := s.store.Clone()
	msgs := EncodeRanges(snap, s.hadComposition)
	_, _, s.hadComposition = snap.ComposingRange()

	ranges := 0
	for _, m := range msgs {
		if _, ok := m.(protocol.AddCompositionRange); ok {
			ranges++
		}
		if err := s.sender.Send(s.id, m); err != nil {
			s.logger.Error("failed to send to engine", "kind", m.Kind(), "error", err)
			return
		}
	}
	s.metrics.RecordResync(ranges)
}
