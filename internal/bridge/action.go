package bridge

import (
	"imebridge/internal/protocol"
	"imebridge/internal/textstore"
)

// Unchanged marks a selection bound that keeps its current value.
const Unchanged = -1

// ActionKind tags an Action.
type ActionKind int

const (
	ActionEvent ActionKind = iota
	ActionReplaceText
	ActionSetSelection
	ActionSetSpan
	ActionRemoveSpan
	ActionAcknowledgeFocus
)

func (k ActionKind) String() string {
	switch k {
	case ActionEvent:
		return "event"
	case ActionReplaceText:
		return "replace"
	case ActionSetSelection:
		return "selection"
	case ActionSetSpan:
		return "set-span"
	case ActionRemoveSpan:
		return "remove-span"
	case ActionAcknowledgeFocus:
		return "ack-focus"
	default:
		return "unknown"
	}
}

// Action is one pending mutation sent to the engine. Only the fields of its
// kind are meaningful.
type Action struct {
	Kind ActionKind

	// ReplaceText, SetSelection, SetSpan
	Start int
	End   int

	Text    textstore.Text   // ReplaceText
	Key     any              // SetSpan, RemoveSpan
	Flags   textstore.Flags  // SetSpan
	Style   *textstore.Style // SetSpan
	Payload []byte           // Event

	// ShouldNotifyEngine requests a range re-sync once the engine replies.
	ShouldNotifyEngine bool
}

// NewEvent wraps an opaque input event.
func NewEvent(payload []byte) Action {
	return Action{Kind: ActionEvent, Payload: payload}
}

// NewReplaceText replaces [start, end) of a buffer of the given length.
func NewReplaceText(start, end int, text textstore.Text, length int) (Action, error) {
	if err := checkRange("replace", start, end, length); err != nil {
		return Action{}, err
	}
	return Action{Kind: ActionReplaceText, Start: start, End: end, Text: text}, nil
}

// NewSetSelection moves the selection. Either bound may be Unchanged.
func NewSetSelection(start, end, length int) (Action, error) {
	s, e := start, end
	if s == Unchanged {
		s = 0
	}
	if e == Unchanged {
		e = length
	}
	if s < 0 || e < 0 || s > length || e > length {
		return Action{}, &RangeError{Op: "set selection", Start: start, End: end, Len: length}
	}
	if start != Unchanged && end != Unchanged && start > end {
		return Action{}, &RangeError{Op: "set selection", Start: start, End: end, Len: length}
	}
	return Action{Kind: ActionSetSelection, Start: start, End: end}, nil
}

// NewSetSpan attaches the span identified by key.
func NewSetSpan(key any, start, end int, flags textstore.Flags, style *textstore.Style, length int) (Action, error) {
	if err := checkRange("set span", start, end, length); err != nil {
		return Action{}, err
	}
	return Action{Kind: ActionSetSpan, Key: key, Start: start, End: end, Flags: flags, Style: style}, nil
}

// NewRemoveSpan detaches the span identified by key.
func NewRemoveSpan(key any) Action {
	return Action{Kind: ActionRemoveSpan, Key: key}
}

func newAcknowledgeFocus() Action {
	return Action{Kind: ActionAcknowledgeFocus}
}

// delta is the change in buffer length the action causes once applied.
func (a Action) delta() int {
	if a.Kind != ActionReplaceText {
		return 0
	}
	return a.Text.Len() - (a.End - a.Start)
}

// messages returns what is sent to the engine when the action is offered.
// Every action ends in a message the engine answers with ReplyToEvent.
func (a Action) messages() []protocol.Message {
	switch a.Kind {
	case ActionEvent:
		return []protocol.Message{protocol.InputEvent{Payload: a.Payload}, protocol.Synchronize{}}
	case ActionReplaceText:
		return []protocol.Message{protocol.ReplaceText{Start: a.Start, End: a.End, Text: a.Text.String()}}
	case ActionAcknowledgeFocus:
		return []protocol.Message{protocol.AcknowledgeFocus{}}
	default:
		return []protocol.Message{protocol.Synchronize{}}
	}
}
