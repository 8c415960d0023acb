package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned for frames carrying an unassigned kind.
	ErrUnknownKind = errors.New("protocol: unknown message kind")
	// ErrMalformed is returned for payloads that fail to decode or validate.
	ErrMalformed = errors.New("protocol: malformed payload")
)

// Encode marshals m into a frame addressed to session.
func Encode(session uint32, m Message) (*Frame, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Kind(), err)
	}
	return NewFrame(m.Kind(), session, payload), nil
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

var decoders = map[Kind]func([]byte) (Message, error){
	KindSynchronize:         decodeAs[Synchronize],
	KindInputEvent:          decodeAs[InputEvent],
	KindReplaceText:         decodeAs[ReplaceText],
	KindSetSelection:        decodeAs[SetSelection],
	KindAddCompositionRange: decodeAs[AddCompositionRange],
	KindUpdateComposition:   decodeAs[UpdateComposition],
	KindRemoveComposition:   decodeAs[RemoveComposition],
	KindAcknowledgeFocus:    decodeAs[AcknowledgeFocus],
	KindResetInputState:     decodeAs[ResetInputState],
	KindReplyToEvent:        decodeAs[ReplyToEvent],
	KindCancelComposition:   decodeAs[CancelComposition],
	KindFocusChange:         decodeAs[FocusChange],
	KindTextChanged:         decodeAs[TextChanged],
	KindSelectionChanged:    decodeAs[SelectionChanged],
	KindEnabledStateChanged: decodeAs[EnabledStateChanged],
}

// Decode unmarshals the payload of f. Inbound payloads are validated against
// their schema first.
func Decode(f *Frame) (Message, error) {
	kind := f.Header.Kind
	decode, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err := ValidatePayload(kind, f.Payload); err != nil {
		return nil, err
	}
	m, err := decode(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return m, nil
}
