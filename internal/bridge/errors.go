package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange is returned when a caller passes offsets outside the
	// buffer or with start after end. Nothing is enqueued.
	ErrInvalidRange = errors.New("bridge: invalid range")

	// ErrProtocolViolation is returned when the engine reports offsets the
	// bridge cannot reconcile. The notification is dropped.
	ErrProtocolViolation = errors.New("bridge: engine protocol violation")

	// ErrQueueEmpty means a reply arrived with no pending action.
	ErrQueueEmpty = errors.New("bridge: no pending action")

	// ErrQueueClosed is returned by a queue whose session has ended.
	ErrQueueClosed = errors.New("bridge: action queue closed")

	// ErrUnsupported is returned for editable operations the engine cannot mirror.
	ErrUnsupported = errors.New("bridge: operation not supported")

	// ErrNotFocused is returned when writing to a session that is not focused.
	ErrNotFocused = errors.New("bridge: field not focused")
)

// RangeError describes rejected caller offsets.
type RangeError struct {
	Op    string
	Start int
	End   int
	Len   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("bridge: %s: invalid range %d-%d for length %d", e.Op, e.Start, e.End, e.Len)
}

// Unwrap makes errors.Is(err, ErrInvalidRange) hold.
func (e *RangeError) Unwrap() error { return ErrInvalidRange }

func checkRange(op string, start, end, length int) error {
	if start < 0 || end < 0 || start > end || end > length {
		return &RangeError{Op: op, Start: start, End: end, Len: length}
	}
	return nil
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}
