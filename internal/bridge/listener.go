package bridge

import "imebridge/internal/protocol"

// Listener is the input-method binding. Every method runs on the UI loop.
// The Editable passed to a method may be nil when no field is focused.
type Listener interface {
	OnFocusChange(e *Editable, focused bool)
	OnTextChange(e *Editable, start, oldEnd, newEnd int)
	OnSelectionChange(e *Editable, start, end int)
	OnEnabledStateChange(e *Editable, state protocol.EnabledStateChanged)
	OnResetInputState(e *Editable)
	OnCancelComposition(e *Editable)
}

// NopListener ignores every notification. Embed it to implement part of
// Listener.
type NopListener struct{}

func (NopListener) OnFocusChange(*Editable, bool)                                {}
func (NopListener) OnTextChange(*Editable, int, int, int)                        {}
func (NopListener) OnSelectionChange(*Editable, int, int)                        {}
func (NopListener) OnEnabledStateChange(*Editable, protocol.EnabledStateChanged) {}
func (NopListener) OnResetInputState(*Editable)                                  {}
func (NopListener) OnCancelComposition(*Editable)                                {}
