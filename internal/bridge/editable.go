package bridge

import (
	"imebridge/internal/textstore"
)

// Reader is the read side of the editable. Every call first waits for the
// engine to reply to all offered actions.
type Reader interface {
	Len() int
	String() string
	Slice(start, end int) (string, error)
	RuneAt(i int) (rune, error)
	Spans(start, end int, filter textstore.Filter) []textstore.Span
	SpanRange(key any) (start, end int, ok bool)
	SpanFlags(key any) textstore.Flags
	NextSpanTransition(start, limit int, filter textstore.Filter) int
	Selection() (start, end int)
	ComposingRange() (start, end int, ok bool)
}

// Writer is the write side of the editable. Calls enqueue an action for the
// engine and return without waiting for it.
type Writer interface {
	Replace(start, end int, text textstore.Text) error
	Insert(at int, text textstore.Text) error
	Delete(start, end int) error
	Append(text textstore.Text) error
	Clear() error
	SetSpan(key any, start, end int, flags textstore.Flags, style *textstore.Style) error
	RemoveSpan(key any) error
	ClearSpans() error
	SetSelection(start, end int) error
	SendEvent(payload []byte) error
	SetFilters(filters ...InputFilter)
	SetAutoUpdate(on bool)
}

var (
	_ Reader = (*Editable)(nil)
	_ Writer = (*Editable)(nil)
)

// InputFilter may rewrite text about to replace [start, end) of a buffer of
// the given length.
type InputFilter func(text textstore.Text, start, end, length int) textstore.Text

// LengthFilter truncates insertions that would grow the buffer past limit runes.
func LengthFilter(limit int) InputFilter {
	return func(text textstore.Text, start, end, length int) textstore.Text {
		keep := limit - (length - (end - start))
		if keep <= 0 {
			return textstore.Plain("")
		}
		if keep >= text.Len() {
			return text
		}
		return text.Slice(0, keep)
	}
}

// Editable is the editable-text facade a focus session presents to the input
// method. It must only be used on the UI loop.
type Editable struct {
	s          *Session
	autoUpdate bool
	filters    []InputFilter

	// First half of a two-call selection update.
	pendingSelStart int
	pendingSel      bool
}

// Session returns the session the editable belongs to.
func (e *Editable) Session() *Session { return e.s }

// SyncWithEngine waits for the engine to reply to all offered actions.
func (e *Editable) SyncWithEngine() { e.s.SyncWithEngine() }

// Writes

// Replace queues replacing [start, end) with text, after the input filters.
// Offsets are checked against the projected length.
func (e *Editable) Replace(start, end int, text textstore.Text) error {
	n := e.s.projectedLen()
	if err := checkRange("replace", start, end, n); err != nil {
		return err
	}
	for _, f := range e.filters {
		text = f(text, start, end, n)
	}
	a, err := NewReplaceText(start, end, text, n)
	if err != nil {
		return err
	}
	return e.offer(a)
}

// Insert queues text at offset at.
func (e *Editable) Insert(at int, text textstore.Text) error {
	return e.Replace(at, at, text)
}

// Delete queues removal of [start, end).
func (e *Editable) Delete(start, end int) error {
	return e.Replace(start, end, textstore.Plain(""))
}

// Append needs the current length, so it waits for the engine first.
func (e *Editable) Append(text textstore.Text) error {
	e.s.SyncWithEngine()
	n := e.s.projectedLen()
	return e.Replace(n, n, text)
}

// Clear needs the current length, so it waits for the engine first.
func (e *Editable) Clear() error {
	e.s.SyncWithEngine()
	return e.Replace(0, e.s.projectedLen(), textstore.Plain(""))
}

// SetSpan attaches a span. Selection keys are turned into a single
// SetSelection: a SelectionStart flagged FlagIntermediate is held until the
// matching SelectionEnd arrives.
func (e *Editable) SetSpan(key any, start, end int, flags textstore.Flags, style *textstore.Style) error {
	n := e.s.projectedLen()
	switch key {
	case textstore.SelectionStart:
		if err := checkRange("set selection start", start, start, n); err != nil {
			return err
		}
		if flags.Intermediate() {
			e.pendingSelStart, e.pendingSel = start, true
			return nil
		}
		e.pendingSel = false
		return e.offerSelection(start, Unchanged, n)
	case textstore.SelectionEnd:
		if err := checkRange("set selection end", end, end, n); err != nil {
			return err
		}
		selStart := Unchanged
		if e.pendingSel {
			selStart, e.pendingSel = e.pendingSelStart, false
		}
		return e.offerSelection(selStart, end, n)
	}

	a, err := NewSetSpan(key, start, end, flags, style, n)
	if err != nil {
		return err
	}
	return e.offer(a)
}

// RemoveSpan queues detaching the span under key. Selection keys are ignored.
func (e *Editable) RemoveSpan(key any) error {
	if textstore.IsSelectionKey(key) {
		return nil
	}
	return e.offer(NewRemoveSpan(key))
}

// ClearSpans is not supported: spans the engine never saw cannot be
// cleared on its side.
func (e *Editable) ClearSpans() error { return ErrUnsupported }

// SetSelection queues a selection move. Either bound may be Unchanged;
// otherwise start must not exceed end. It drops a held SelectionStart.
func (e *Editable) SetSelection(start, end int) error {
	e.pendingSel = false
	return e.offerSelection(start, end, e.s.projectedLen())
}

// SendEvent forwards an opaque input event. It also acts as a barrier: the
// engine replies once the event has been handled.
func (e *Editable) SendEvent(payload []byte) error {
	return e.s.offer(NewEvent(payload))
}

// SetFilters replaces the input filters applied by Replace.
func (e *Editable) SetFilters(filters ...InputFilter) {
	e.filters = append([]InputFilter(nil), filters...)
}

// SetAutoUpdate controls whether writes are followed by a re-sync of
// composition ranges and selection. Turning it on re-syncs pending changes.
func (e *Editable) SetAutoUpdate(on bool) {
	e.autoUpdate = on
	if on {
		e.s.updateEngine(false)
	}
}

// AutoUpdate reports the current auto-update policy.
func (e *Editable) AutoUpdate() bool { return e.autoUpdate }

// UpdateEngine forces a re-sync of composition ranges and selection.
func (e *Editable) UpdateEngine() { e.s.updateEngine(true) }

func (e *Editable) offerSelection(start, end, n int) error {
	a, err := NewSetSelection(start, end, n)
	if err != nil {
		return err
	}
	return e.offer(a)
}

func (e *Editable) offer(a Action) error {
	a.ShouldNotifyEngine = e.autoUpdate
	return e.s.offer(a)
}

// setSelectionQuiet applies an engine-initiated selection. The engine already
// has it, so no re-sync is requested. The engine may report the anchor after
// the caret; the store keeps ordered bounds either way.
func (e *Editable) setSelectionQuiet(start, end int) error {
	prev := e.autoUpdate
	e.autoUpdate = false
	defer func() { e.autoUpdate = prev }()
	return e.SetSelection(min(start, end), max(start, end))
}

// Reads

// Len returns the buffer length in runes.
func (e *Editable) Len() int {
	e.s.SyncWithEngine()
	return e.s.store.Len()
}

// String returns the buffer contents.
func (e *Editable) String() string {
	e.s.SyncWithEngine()
	return e.s.store.String()
}

// Slice returns the characters of [start, end).
func (e *Editable) Slice(start, end int) (string, error) {
	e.s.SyncWithEngine()
	return e.s.store.Slice(start, end)
}

// RuneAt returns the character at i.
func (e *Editable) RuneAt(i int) (rune, error) {
	e.s.SyncWithEngine()
	return e.s.store.RuneAt(i)
}

// Spans returns the spans overlapping [start, end] accepted by filter.
func (e *Editable) Spans(start, end int, filter textstore.Filter) []textstore.Span {
	e.s.SyncWithEngine()
	return e.s.store.Spans(start, end, filter)
}

// SpanRange returns the extent of the span under key.
func (e *Editable) SpanRange(key any) (int, int, bool) {
	e.s.SyncWithEngine()
	return e.s.store.SpanRange(key)
}

// SpanFlags returns the flags of the span under key, or zero.
func (e *Editable) SpanFlags(key any) textstore.Flags {
	e.s.SyncWithEngine()
	return e.s.store.SpanFlags(key)
}

// NextSpanTransition returns the next offset after start, up to limit, where
// a span accepted by filter begins or ends.
func (e *Editable) NextSpanTransition(start, limit int, filter textstore.Filter) int {
	e.s.SyncWithEngine()
	return e.s.store.NextSpanTransition(start, limit, filter)
}

// Selection returns the selection, or (-1, -1) before one is set.
func (e *Editable) Selection() (int, int) {
	e.s.SyncWithEngine()
	return e.s.store.Selection()
}

// ComposingRange returns the hull of the composing spans.
func (e *Editable) ComposingRange() (int, int, bool) {
	e.s.SyncWithEngine()
	return e.s.store.ComposingRange()
}
