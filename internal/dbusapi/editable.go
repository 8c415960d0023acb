package dbusapi

import (
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"imebridge/internal/bridge"
	"imebridge/internal/textstore"
)

// composingKey tags the pre-edit span set through SetComposingText.
type composingKey struct{}

// editable1 holds the exported methods of Interface. Offsets are characters.
type editable1 struct {
	s *Service
}

func (o *editable1) GetText() (string, *dbus.Error) {
	var text string
	err := o.s.onEditable(func(e *bridge.Editable) error {
		text = e.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// GetSelection returns -1, -1 when the field has no selection.
func (o *editable1) GetSelection() (int32, int32, *dbus.Error) {
	var start, end int
	err := o.s.onEditable(func(e *bridge.Editable) error {
		start, end = e.Selection()
		return nil
	})
	if err != nil {
		return -1, -1, err
	}
	return int32(start), int32(end), nil
}

// GetComposingRange returns -1, -1 when nothing is being composed.
func (o *editable1) GetComposingRange() (int32, int32, *dbus.Error) {
	start, end := -1, -1
	err := o.s.onEditable(func(e *bridge.Editable) error {
		if s, en, ok := e.ComposingRange(); ok {
			start, end = s, en
		}
		return nil
	})
	if err != nil {
		return -1, -1, err
	}
	return int32(start), int32(end), nil
}

func (o *editable1) ReplaceText(start, end int32, text string) *dbus.Error {
	return o.s.onEditable(func(e *bridge.Editable) error {
		return e.Replace(int(start), int(end), textstore.Plain(text))
	})
}

func (o *editable1) SetSelection(start, end int32) *dbus.Error {
	return o.s.onEditable(func(e *bridge.Editable) error {
		return e.SetSelection(int(start), int(end))
	})
}

// SetComposingText replaces the composing region, or the selection when
// there is none, with text marked as composing. A positive newCursor places
// the caret relative to the end of text (1 is right after it), otherwise
// relative to its start.
func (o *editable1) SetComposingText(text string, newCursor int32) *dbus.Error {
	return o.s.onEditable(func(e *bridge.Editable) error {
		start, end, ok := e.ComposingRange()
		if !ok {
			start, end = e.Selection()
			if start < 0 {
				start, end = e.Len(), e.Len()
			}
			if start > end {
				start, end = end, start
			}
		}

		t := textstore.Plain(text)
		if t.Len() > 0 {
			style := textstore.UnderlineStyle()
			t = t.WithSpan(textstore.Span{
				Key:   composingKey{},
				Start: 0,
				End:   t.Len(),
				Flags: textstore.SpanExclusiveInclusive | textstore.FlagComposing,
				Style: &style,
			})
		}
		if err := e.Replace(start, end, t); err != nil {
			return err
		}
		if t.Len() == 0 {
			if err := e.RemoveSpan(composingKey{}); err != nil {
				return err
			}
		}

		// Filters may have shortened the text; read back what landed.
		n := e.Len()
		inserted := t.Len()
		if cs, ce, ok := e.ComposingRange(); ok {
			start, inserted = cs, ce-cs
		}
		cursor := start + int(newCursor)
		if newCursor > 0 {
			cursor = start + inserted + int(newCursor) - 1
		}
		cursor = max(0, min(cursor, n))
		return e.SetSelection(cursor, cursor)
	})
}

// FinishComposing keeps the composed text and drops its composing spans.
func (o *editable1) FinishComposing() *dbus.Error {
	return o.s.onEditable(func(e *bridge.Editable) error {
		for _, sp := range e.Spans(0, e.Len(), textstore.ComposingSpans) {
			if err := e.RemoveSpan(sp.Key); err != nil {
				return err
			}
		}
		return e.RemoveSpan(composingKey{})
	})
}

func (o *editable1) SendEvent(payload []byte) *dbus.Error {
	return o.s.onEditable(func(e *bridge.Editable) error {
		return e.SendEvent(payload)
	})
}

var interfaceData = introspect.Interface{
	Name: Interface,
	Methods: []introspect.Method{
		{Name: "GetText", Args: []introspect.Arg{{Name: "text", Type: "s", Direction: "out"}}},
		{Name: "GetSelection", Args: []introspect.Arg{
			{Name: "start", Type: "i", Direction: "out"},
			{Name: "end", Type: "i", Direction: "out"},
		}},
		{Name: "GetComposingRange", Args: []introspect.Arg{
			{Name: "start", Type: "i", Direction: "out"},
			{Name: "end", Type: "i", Direction: "out"},
		}},
		{Name: "ReplaceText", Args: []introspect.Arg{
			{Name: "start", Type: "i", Direction: "in"},
			{Name: "end", Type: "i", Direction: "in"},
			{Name: "text", Type: "s", Direction: "in"},
		}},
		{Name: "SetSelection", Args: []introspect.Arg{
			{Name: "start", Type: "i", Direction: "in"},
			{Name: "end", Type: "i", Direction: "in"},
		}},
		{Name: "SetComposingText", Args: []introspect.Arg{
			{Name: "text", Type: "s", Direction: "in"},
			{Name: "new_cursor", Type: "i", Direction: "in"},
		}},
		{Name: "FinishComposing"},
		{Name: "SendEvent", Args: []introspect.Arg{{Name: "payload", Type: "ay", Direction: "in"}}},
	},
	Signals: []introspect.Signal{
		{Name: "FocusChanged", Args: []introspect.Arg{{Name: "focused", Type: "b"}}},
		{Name: "TextChanged", Args: []introspect.Arg{
			{Name: "start", Type: "i"}, {Name: "old_end", Type: "i"}, {Name: "new_end", Type: "i"},
		}},
		{Name: "SelectionChanged", Args: []introspect.Arg{{Name: "start", Type: "i"}, {Name: "end", Type: "i"}}},
		{Name: "EnabledStateChanged", Args: []introspect.Arg{
			{Name: "state", Type: "s"}, {Name: "type_hint", Type: "s"},
			{Name: "mode_hint", Type: "s"}, {Name: "action_hint", Type: "s"},
		}},
		{Name: "ResetInputState"},
		{Name: "CancelComposition"},
	},
}
