// Package textstore implements the span-annotated buffer mirroring the content
// of a focused editable field: characters, selection, composing region and
// character styles.
//
// Offsets count Unicode code points. A Store is safe for concurrent use, but
// callers are expected to serialize writers themselves; the bridge does so with
// its action queue.
package textstore

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfRange is returned when offsets fall outside the buffer.
var ErrOutOfRange = errors.New("textstore: offsets out of range")

// Store is the mutable text buffer of one editable field.
type Store struct {
	mu    sync.RWMutex
	text  []rune
	spans []Span
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// NewWithText returns a store holding t, including its spans.
func NewWithText(t Text) *Store {
	s := New()
	_ = s.Replace(0, 0, t)
	return s
}

// Len returns the length of the buffer in runes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.text)
}

// String returns the buffer content.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return string(s.text)
}

// Slice returns the characters in [start, end).
func (s *Store) Slice(start, end int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkRange(start, end); err != nil {
		return "", err
	}
	return string(s.text[start:end]), nil
}

// RuneAt returns the character at index i.
func (s *Store) RuneAt(i int) (rune, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.text) {
		return 0, fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, i, len(s.text))
	}
	return s.text[i], nil
}

// Text returns [start, end) as a Text carrying the overlapping spans, clipped
// and rebased to the start of the range.
func (s *Store) Text(start, end int) (Text, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkRange(start, end); err != nil {
		return Text{}, err
	}
	out := Text{runes: append([]rune(nil), s.text[start:end]...)}
	for _, sp := range s.spans {
		if !overlaps(sp.Start, sp.End, start, end) {
			continue
		}
		sp.Start = max(sp.Start, start) - start
		sp.End = min(sp.End, end) - start
		sp.Style = cloneStyle(sp.Style)
		out.spans = append(out.spans, sp)
	}
	return out, nil
}

// Spans returns the spans overlapping [start, end] accepted by filter, in the
// order they were first set.
func (s *Store) Spans(start, end int, filter Filter) []Span {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Span
	for _, sp := range s.spans {
		if !filter.accept(sp) || !overlaps(sp.Start, sp.End, start, end) {
			continue
		}
		sp.Style = cloneStyle(sp.Style)
		out = append(out, sp)
	}
	return out
}

// SpanRange returns the extent of the span set under key.
func (s *Store) SpanRange(key any) (start, end int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(key); i >= 0 {
		return s.spans[i].Start, s.spans[i].End, true
	}
	return -1, -1, false
}

// SpanFlags returns the flags of the span set under key, or zero.
func (s *Store) SpanFlags(key any) Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(key); i >= 0 {
		return s.spans[i].Flags
	}
	return 0
}

// NextSpanTransition returns the first span boundary accepted by filter that
// lies strictly after start and before limit, or limit if there is none.
func (s *Store) NextSpanTransition(start, limit int, filter Filter) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sp := range s.spans {
		if !filter.accept(sp) {
			continue
		}
		if sp.Start > start && sp.Start < limit {
			limit = sp.Start
		}
		if sp.End > start && sp.End < limit {
			limit = sp.End
		}
	}
	return limit
}

// SetSpan attaches or moves the span identified by key.
func (s *Store) SetSpan(key any, start, end int, flags Flags, style *Style) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSpanLocked(key, start, end, flags, style)
}

// RemoveSpan detaches the span identified by key. Unknown keys are ignored.
func (s *Store) RemoveSpan(key any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(key); i >= 0 {
		s.spans = append(s.spans[:i], s.spans[i+1:]...)
	}
}

// Replace substitutes [start, end) with t. Existing spans are moved according
// to their endpoint gravity; the spans of t are then set relative to start.
func (s *Store) Replace(start, end int, t Text) error {
	return s.ReplaceCopying(start, end, t, Text{})
}

// ReplaceCopying is Replace, then restores the spans of copied that the
// replacement dropped. A copied span whose key is still attached, or is set
// by t, is left alone so live spans keep their moved extent.
func (s *Store) ReplaceCopying(start, end int, t, copied Text) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRange(start, end); err != nil {
		return err
	}

	n := len(t.runes)
	buf := make([]rune, 0, len(s.text)-(end-start)+n)
	buf = append(buf, s.text[:start]...)
	buf = append(buf, t.runes...)
	buf = append(buf, s.text[end:]...)

	kept := make([]Span, 0, len(s.spans))
	for _, sp := range s.spans {
		wasEmpty := sp.Start == sp.End
		sp.Start = moveEndpoint(sp.Start, start, end, n, sp.Flags&StartPoint != 0)
		sp.End = moveEndpoint(sp.End, start, end, n, sp.Flags&EndPoint != 0)
		if sp.End < sp.Start {
			sp.End = sp.Start
		}
		if !wasEmpty && sp.Start == sp.End && sp.Flags.Gravity() == SpanExclusiveExclusive {
			continue
		}
		kept = append(kept, sp)
	}
	s.text = buf
	s.spans = kept

	live := make(map[any]bool, len(kept)+len(t.spans))
	for _, sp := range kept {
		live[sp.Key] = true
	}
	for _, sp := range t.spans {
		live[sp.Key] = true
		if err := s.setSpanLocked(sp.Key, start+sp.Start, start+sp.End, sp.Flags, sp.Style); err != nil {
			return err
		}
	}
	for _, sp := range copied.spans {
		if live[sp.Key] {
			continue
		}
		if err := s.setSpanLocked(sp.Key, start+sp.Start, start+sp.End, sp.Flags, sp.Style); err != nil {
			return err
		}
	}
	return nil
}

// Selection returns the selection bounds, or (-1, -1) when no selection has
// been set yet.
func (s *Store) Selection() (start, end int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ei := s.indexOf(SelectionStart), s.indexOf(SelectionEnd)
	if si < 0 || ei < 0 {
		return -1, -1
	}
	return s.spans[si].Start, s.spans[ei].Start
}

// SetSelection places the selection endpoints. Reversed bounds are swapped so
// that start <= end always holds.
func (s *Store) SetSelection(start, end int) error {
	if start > end {
		start, end = end, start
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRange(start, end); err != nil {
		return err
	}
	if err := s.setSpanLocked(SelectionStart, start, start, SpanPointPoint, nil); err != nil {
		return err
	}
	return s.setSpanLocked(SelectionEnd, end, end, SpanPointPoint, nil)
}

// ComposingRange returns the hull of all composing spans.
func (s *Store) ComposingRange() (start, end int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, end = len(s.text), 0
	for _, sp := range s.spans {
		if !sp.Flags.Composing() {
			continue
		}
		start = min(start, sp.Start)
		end = max(end, sp.End)
		ok = true
	}
	if !ok {
		return -1, -1, false
	}
	return start, end, true
}

// Clone returns an independent copy of the store.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := &Store{
		text:  append([]rune(nil), s.text...),
		spans: make([]Span, len(s.spans)),
	}
	for i, sp := range s.spans {
		sp.Style = cloneStyle(sp.Style)
		c.spans[i] = sp
	}
	return c
}

func (s *Store) setSpanLocked(key any, start, end int, flags Flags, style *Style) error {
	if key == nil {
		return errors.New("textstore: nil span key")
	}
	if err := s.checkRange(start, end); err != nil {
		return err
	}
	sp := Span{Key: key, Start: start, End: end, Flags: flags &^ FlagIntermediate, Style: cloneStyle(style)}
	if i := s.indexOf(key); i >= 0 {
		s.spans[i] = sp
		return nil
	}
	s.spans = append(s.spans, sp)
	return nil
}

func (s *Store) indexOf(key any) int {
	for i := range s.spans {
		if s.spans[i].Key == key {
			return i
		}
	}
	return -1
}

func (s *Store) checkRange(start, end int) error {
	if start < 0 || start > end || end > len(s.text) {
		return fmt.Errorf("%w: %d-%d, length %d", ErrOutOfRange, start, end, len(s.text))
	}
	return nil
}
