// Package protocol defines the messages exchanged between the editable-text
// bridge and the content engine, and a framed codec to carry them over a
// stream.
//
// Outbound messages (bridge to engine) are one-way: the engine answers
// Synchronize, ReplaceText and AcknowledgeFocus with a ReplyToEvent once it
// has processed them, and reports its own edits with TextChanged and
// SelectionChanged.
package protocol

import "fmt"

// Kind identifies a message type on the wire.
type Kind uint16

const (
	// Outbound messages (0x01xx)
	KindSynchronize         Kind = 0x0101
	KindInputEvent          Kind = 0x0102
	KindReplaceText         Kind = 0x0103
	KindSetSelection        Kind = 0x0104
	KindAddCompositionRange Kind = 0x0105
	KindUpdateComposition   Kind = 0x0106
	KindRemoveComposition   Kind = 0x0107
	KindAcknowledgeFocus    Kind = 0x0108

	// Inbound notifications (0x02xx)
	KindResetInputState     Kind = 0x0201
	KindReplyToEvent        Kind = 0x0202
	KindCancelComposition   Kind = 0x0203
	KindFocusChange         Kind = 0x0204
	KindTextChanged         Kind = 0x0205
	KindSelectionChanged    Kind = 0x0206
	KindEnabledStateChanged Kind = 0x0207
)

var kindNames = map[Kind]string{
	KindSynchronize:         "Synchronize",
	KindInputEvent:          "InputEvent",
	KindReplaceText:         "ReplaceText",
	KindSetSelection:        "SetSelection",
	KindAddCompositionRange: "AddCompositionRange",
	KindUpdateComposition:   "UpdateComposition",
	KindRemoveComposition:   "RemoveComposition",
	KindAcknowledgeFocus:    "AcknowledgeFocus",
	KindResetInputState:     "ResetInputState",
	KindReplyToEvent:        "ReplyToEvent",
	KindCancelComposition:   "CancelComposition",
	KindFocusChange:         "FocusChange",
	KindTextChanged:         "TextChanged",
	KindSelectionChanged:    "SelectionChanged",
	KindEnabledStateChanged: "EnabledStateChanged",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%#04x)", uint16(k))
}

// Inbound reports whether k is sent by the engine.
func (k Kind) Inbound() bool { return k&0xff00 == 0x0200 }

// Message is implemented by every payload type.
type Message interface {
	Kind() Kind
}

// EnabledState is the input state of the focused element.
type EnabledState int

const (
	StateDisabled EnabledState = iota
	StateEnabled
	StatePassword
	StatePlugin
)

func (s EnabledState) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StatePassword:
		return "password"
	case StatePlugin:
		return "plugin"
	default:
		return fmt.Sprintf("EnabledState(%d)", int(s))
	}
}

// FocusState tells whether an editable element gained or lost focus.
type FocusState int

const (
	Focus FocusState = iota
	Blur
)

func (s FocusState) String() string {
	if s == Blur {
		return "blur"
	}
	return "focus"
}

// RangeKind classifies a composition range.
type RangeKind int

const (
	RangeCaretPosition RangeKind = iota + 1
	RangeRawInput
	RangeSelectedRawText
	RangeConvertedText
	RangeSelectedConvertedText
)

func (k RangeKind) String() string {
	switch k {
	case RangeCaretPosition:
		return "caret"
	case RangeRawInput:
		return "raw"
	case RangeSelectedRawText:
		return "selected-raw"
	case RangeConvertedText:
		return "converted"
	case RangeSelectedConvertedText:
		return "selected-converted"
	default:
		return fmt.Sprintf("RangeKind(%d)", int(k))
	}
}

// RangeStyle is a bit set saying which style fields of a range are meaningful.
type RangeStyle uint32

const (
	RangeUnderline RangeStyle = 1 << iota
	RangeForeColor
	RangeBackColor
	RangeLineColor
)

// LineStyle is the underline style of a range.
type LineStyle int

const (
	LineNone LineStyle = iota
	LineSolid
	LineDotted
	LineDashed
	LineDouble
	LineWavy
)

// Outbound messages.

// Synchronize asks the engine to reply once everything before it is processed.
type Synchronize struct{}

// InputEvent forwards an opaque input event (a key press, for instance).
type InputEvent struct {
	Payload []byte `json:"payload"`
}

// ReplaceText replaces [Start, End) with Text.
type ReplaceText struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// SetSelection moves the engine selection.
type SetSelection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// AddCompositionRange describes one styled run of the composition. Offsets
// are relative to the composition start.
type AddCompositionRange struct {
	Start     int        `json:"start"`
	End       int        `json:"end"`
	RangeKind RangeKind  `json:"kind"`
	Styles    RangeStyle `json:"styles"`
	LineStyle LineStyle  `json:"line_style"`
	BoldLine  bool       `json:"bold_line"`
	ForeColor uint32     `json:"fore_color"`
	BackColor uint32     `json:"back_color"`
	LineColor uint32     `json:"line_color"`
}

// UpdateComposition commits the ranges sent since the last update as the
// composition covering [Start, End).
type UpdateComposition struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// RemoveComposition ends the current composition, keeping its text.
type RemoveComposition struct{}

// AcknowledgeFocus unmasks engine notifications for a newly focused element.
type AcknowledgeFocus struct{}

// Inbound notifications.

// ResetInputState asks the input method to restart.
type ResetInputState struct{}

// ReplyToEvent acknowledges the oldest outstanding Synchronize, ReplaceText
// or AcknowledgeFocus.
type ReplyToEvent struct{}

// CancelComposition asks the input method to drop its composition.
type CancelComposition struct{}

// FocusChange reports focus moving to or from an editable element.
type FocusChange struct {
	State FocusState `json:"state"`
}

// TextChanged reports that [Start, OldEnd) now holds Text, ending at NewEnd.
type TextChanged struct {
	Text   string `json:"text"`
	Start  int    `json:"start"`
	OldEnd int    `json:"old_end"`
	NewEnd int    `json:"new_end"`
}

// SelectionChanged reports the engine selection.
type SelectionChanged struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// EnabledStateChanged reports the input context of the focused element.
type EnabledStateChanged struct {
	State      EnabledState `json:"state"`
	TypeHint   string       `json:"type_hint,omitempty"`
	ModeHint   string       `json:"mode_hint,omitempty"`
	ActionHint string       `json:"action_hint,omitempty"`
}

func (Synchronize) Kind() Kind         { return KindSynchronize }
func (InputEvent) Kind() Kind          { return KindInputEvent }
func (ReplaceText) Kind() Kind         { return KindReplaceText }
func (SetSelection) Kind() Kind        { return KindSetSelection }
func (AddCompositionRange) Kind() Kind { return KindAddCompositionRange }
func (UpdateComposition) Kind() Kind   { return KindUpdateComposition }
func (RemoveComposition) Kind() Kind   { return KindRemoveComposition }
func (AcknowledgeFocus) Kind() Kind    { return KindAcknowledgeFocus }
func (ResetInputState) Kind() Kind     { return KindResetInputState }
func (ReplyToEvent) Kind() Kind        { return KindReplyToEvent }
func (CancelComposition) Kind() Kind   { return KindCancelComposition }
func (FocusChange) Kind() Kind         { return KindFocusChange }
func (TextChanged) Kind() Kind         { return KindTextChanged }
func (SelectionChanged) Kind() Kind    { return KindSelectionChanged }
func (EnabledStateChanged) Kind() Kind { return KindEnabledStateChanged }

// Sender delivers outbound messages to the engine without waiting for them
// to be processed.
type Sender interface {
	Send(session uint32, m Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(session uint32, m Message) error

// Send calls f.
func (f SenderFunc) Send(session uint32, m Message) error { return f(session, m) }

// Handler consumes inbound notifications on the engine goroutine.
type Handler interface {
	HandleNotification(session uint32, m Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(session uint32, m Message) error

// HandleNotification calls f.
func (f HandlerFunc) HandleNotification(session uint32, m Message) error { return f(session, m) }
