package journal

import (
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	"imebridge/internal/protocol"
)

// Recorder journals both directions of a link by decorating the outbound
// Sender and the inbound Handler. Journal failures are logged and counted;
// they never fail the message itself.
type Recorder struct {
	store    *Store
	redact   bool
	logger   *slog.Logger
	failures atomic.Uint64
}

// NewRecorder creates a recorder writing to store. With redact set, text is
// kept only as a BLAKE2b-256 digest.
func NewRecorder(store *Store, redact bool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, redact: redact, logger: logger.With("component", "journal")}
}

// Sender wraps next so every outbound message is journalled before it is
// sent.
func (r *Recorder) Sender(next protocol.Sender) protocol.Sender {
	return protocol.SenderFunc(func(session uint32, m protocol.Message) error {
		r.record(session, Outbound, m)
		return next.Send(session, m)
	})
}

// Handler wraps next so every inbound notification is journalled before it
// is handled.
func (r *Recorder) Handler(next protocol.Handler) protocol.Handler {
	return protocol.HandlerFunc(func(session uint32, m protocol.Message) error {
		if fc, ok := m.(protocol.FocusChange); ok && fc.State == protocol.Focus {
			if err := r.store.Focus(session); err != nil {
				r.fail(err, m)
			}
		}
		r.record(session, Inbound, m)
		if fc, ok := m.(protocol.FocusChange); ok && fc.State == protocol.Blur {
			if err := r.store.Blur(session); err != nil {
				r.fail(err, m)
			}
		}
		return next.HandleNotification(session, m)
	})
}

// Failures returns how many journal writes failed.
func (r *Recorder) Failures() uint64 {
	return r.failures.Load()
}

func (r *Recorder) record(session uint32, dir Direction, m protocol.Message) {
	e := r.describe(session, dir, m)
	if err := r.store.Append(&e); err != nil {
		r.fail(err, m)
	}
}

func (r *Recorder) fail(err error, m protocol.Message) {
	if r.failures.Add(1) == 1 {
		r.logger.Warn("journal write failed", "kind", m.Kind().String(), "error", err)
	} else {
		r.logger.Debug("journal write failed", "kind", m.Kind().String(), "error", err)
	}
}

func (r *Recorder) describe(session uint32, dir Direction, m protocol.Message) Entry {
	e := Entry{Session: session, Direction: dir, Kind: m.Kind()}

	switch msg := m.(type) {
	case protocol.ReplaceText:
		e.setRange(msg.Start, msg.End)
		r.setText(&e, msg.Text)
	case protocol.SetSelection:
		e.setRange(msg.Start, msg.End)
	case protocol.AddCompositionRange:
		e.setRange(msg.Start, msg.End)
		e.Text = msg.RangeKind.String()
	case protocol.UpdateComposition:
		e.setRange(msg.Start, msg.End)
	case protocol.InputEvent:
		e.TextLen = len(msg.Payload)
		if r.redact {
			e.Digest = digest(msg.Payload)
		} else {
			e.Text = hex.EncodeToString(msg.Payload)
		}
	case protocol.TextChanged:
		e.setRange(msg.Start, msg.OldEnd)
		r.setText(&e, msg.Text)
	case protocol.SelectionChanged:
		e.setRange(msg.Start, msg.End)
	case protocol.FocusChange:
		e.Text = msg.State.String()
	case protocol.EnabledStateChanged:
		e.Text = msg.State.String()
	}
	return e
}

func (e *Entry) setRange(start, end int) {
	e.HasRange = true
	e.Start, e.End = start, end
}

func (r *Recorder) setText(e *Entry, text string) {
	e.TextLen = utf8.RuneCountInString(text)
	if r.redact {
		e.Digest = digest([]byte(text))
		return
	}
	e.Text = text
}

func digest(b []byte) []byte {
	sum := blake2b.Sum256(b)
	return sum[:]
}

// Digest returns the digest stored for text when the journal redacts.
func Digest(text string) []byte {
	return digest([]byte(text))
}
