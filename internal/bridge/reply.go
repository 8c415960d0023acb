package bridge

import (
	"errors"
	"unicode/utf8"

	"imebridge/internal/textstore"
)

// The methods in this file run on the engine goroutine, in the order the
// engine sent the corresponding notifications.

// OnReply handles the engine's reply to the action at the head of the queue.
func (s *Session) OnReply() error {
	a, err := s.queue.Peek()
	if errors.Is(err, ErrQueueClosed) {
		s.logger.Debug("reply for closed session dropped")
		return nil
	}
	if err != nil {
		s.logger.Error("reply with no pending action", "error", err)
		s.metrics.RecordOrderingError()
		return err
	}

	if s.isFocused() {
		switch a.Kind {
		case ActionSetSelection:
			s.applySelectionReply(a)
		case ActionSetSpan:
			n := s.store.Len()
			start := min(max(a.Start, 0), n)
			end := min(max(a.End, start), n)
			if err := s.store.SetSpan(a.Key, start, end, a.Flags, a.Style); err != nil {
				s.logger.Warn("span not applied", "error", err)
			}
		case ActionRemoveSpan:
			s.store.RemoveSpan(a.Key)
		}
		if a.ShouldNotifyEngine {
			s.looper.Post(func() { s.updateEngine(false) })
		}
	}

	if _, err := s.queue.Poll(); err != nil {
		s.logger.Debug("poll after reply", "error", err)
		return nil
	}
	s.metrics.RecordReply(a.Kind.String())
	return nil
}

func (s *Session) applySelectionReply(a Action) {
	n := s.store.Len()
	curStart, curEnd := s.store.Selection()
	start, end := a.Start, a.End
	if start == Unchanged {
		start = curStart
	}
	if end == Unchanged {
		end = curEnd
	}
	clampedStart := min(max(start, 0), n)
	clampedEnd := min(max(end, 0), n)
	if clampedStart != start || clampedEnd != end {
		s.logger.Warn("clamping selection", "start", start, "end", end, "length", n)
	}
	if err := s.store.SetSelection(clampedStart, clampedEnd); err != nil {
		s.logger.Warn("selection not applied", "error", err)
		return
	}

	s.seq.BumpEngine()
	tok := s.seq.Capture()
	s.looper.Post(func() {
		s.SyncWithEngine()
		if !s.isFocused() {
			return
		}
		if !s.seq.IsCurrent(tok) {
			s.logger.Debug("stale selection reply dropped")
			s.metrics.RecordStale("selection-reply")
			return
		}
		selStart, selEnd := s.store.Selection()
		s.listener.OnSelectionChange(s.ed, selStart, selEnd)
	})
}

// OnSelectionChange handles a selection change made by the engine itself.
func (s *Session) OnSelectionChange(start, end int) error {
	if s.closed() {
		return nil
	}
	n := s.store.Len()
	if start < 0 || end < 0 || start > n || end > n {
		return violation("selection %d-%d outside length %d", start, end, n)
	}
	s.seq.BumpEngine()

	// An event at the head is being handled right now; the UI is waiting
	// on it, so the store can be written directly.
	if head, err := s.queue.Peek(); err == nil && head.Kind == ActionEvent {
		if err := s.store.SetSelection(start, end); err != nil {
			return violation("selection %d-%d: %v", start, end, err)
		}
		return nil
	}

	tok := s.seq.Capture()
	s.looper.Post(func() {
		s.SyncWithEngine()
		if !s.isFocused() {
			return
		}
		if !s.seq.IsCurrent(tok) {
			s.logger.Debug("stale selection change dropped", "start", start, "end", end)
			s.metrics.RecordStale("selection-change")
			return
		}
		if err := s.ed.setSelectionQuiet(start, end); err != nil {
			s.logger.Warn("engine selection not applied", "start", start, "end", end, "error", err)
		}
	})
	return nil
}

// OnTextChange handles the engine replacing [start, oldEnd) with text, which
// now ends at newEnd.
func (s *Session) OnTextChange(text string, start, oldEnd, newEnd int) error {
	if s.closed() {
		return nil
	}
	n := s.store.Len()
	runes := utf8.RuneCountInString(text)
	switch {
	case start < 0 || start > oldEnd:
		return violation("text change %d-%d is reversed or negative", start, oldEnd)
	case start > n:
		return violation("text change at %d beyond length %d", start, n)
	case newEnd != start+runes:
		return violation("text change end %d does not match %d runes at %d", newEnd, runes, start)
	}
	oldEnd = min(oldEnd, n)
	s.seq.BumpEngine()

	// Spans of the replaced region that the replacement drops are restored
	// from this copy. Selection is handled below and by endpoint gravity.
	changed := textstore.Plain(text)
	var copied textstore.Text
	if old, err := s.store.Text(start, min(oldEnd, newEnd)); err == nil {
		copied = withoutSelection(old)
	}

	head, err := s.queue.Peek()
	if err == nil && head.Kind == ActionReplaceText &&
		start <= head.Start && head.Start+head.Text.Len() <= newEnd {
		s.applyOwnReplace(head, changed, copied, start, oldEnd)
	} else if err := s.store.ReplaceCopying(start, oldEnd, changed, copied); err != nil {
		return violation("text change %d-%d: %v", start, oldEnd, err)
	}

	s.looper.Post(func() {
		if s.closed() {
			return
		}
		s.listener.OnTextChange(s.ed, start, oldEnd, newEnd)
	})
	return nil
}

// applyOwnReplace applies an engine text change that covers the replace
// action at the head of the queue. The engine's characters win, the action's
// spans are kept, and a selection inside the old range is moved relative to
// the action.
func (s *Session) applyOwnReplace(a Action, changed, copied textstore.Text, start, oldEnd int) {
	actionNewEnd := a.Start + a.Text.Len()
	selStart, selEnd := s.store.Selection()

	changed = changed.Overlay(a.Text, a.Start-start)
	if err := s.store.ReplaceCopying(start, oldEnd, changed, copied); err != nil {
		s.logger.Warn("text change not applied", "error", err)
		return
	}
	if selStart < 0 {
		return
	}

	remap := func(p int) int {
		switch {
		case p < a.Start:
			return p
		case p < a.End:
			return actionNewEnd
		default:
			return p + actionNewEnd - a.End
		}
	}
	n := s.store.Len()
	newStart, newEnd := s.store.Selection()
	if selStart >= start && selStart <= oldEnd {
		newStart = min(max(remap(selStart), 0), n)
	}
	if selEnd >= start && selEnd <= oldEnd {
		newEnd = min(max(remap(selEnd), 0), n)
	}
	if err := s.store.SetSelection(newStart, newEnd); err != nil {
		s.logger.Warn("selection not remapped", "error", err)
	}
}

func withoutSelection(t textstore.Text) textstore.Text {
	out := textstore.Plain(t.String())
	for _, sp := range t.Spans() {
		if textstore.IsSelectionKey(sp.Key) {
			continue
		}
		out = out.WithSpan(sp)
	}
	return out
}
