package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"imebridge/internal/metrics"
	"imebridge/internal/protocol"
)

const waitFor = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine answers bridge messages on its own goroutine the way a
// single-threaded engine would: text edits are reported with TextChanged
// before the reply.
type fakeEngine struct {
	handler protocol.Handler
	work    chan func()
	quit    chan struct{}

	mu        sync.Mutex
	text      []rune
	sent      []protocol.Message
	errs      []error
	normalize func(string) string
}

func newFakeEngine(t *testing.T) *fakeEngine {
	f := &fakeEngine{work: make(chan func(), 4096), quit: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-f.work:
				fn()
			case <-f.quit:
				return
			}
		}
	}()
	t.Cleanup(func() { close(f.quit) })
	return f
}

func (f *fakeEngine) Send(session uint32, m protocol.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	f.work <- func() { f.process(session, m) }
	return nil
}

func (f *fakeEngine) process(session uint32, m protocol.Message) {
	switch m := m.(type) {
	case protocol.Synchronize, protocol.AcknowledgeFocus:
		f.deliver(session, protocol.ReplyToEvent{})
	case protocol.ReplaceText:
		text := m.Text
		f.mu.Lock()
		if f.normalize != nil {
			text = f.normalize(text)
		}
		f.text = slices.Concat(f.text[:m.Start], []rune(text), f.text[m.End:])
		f.mu.Unlock()
		f.deliver(session, protocol.TextChanged{
			Text:   text,
			Start:  m.Start,
			OldEnd: m.End,
			NewEnd: m.Start + utf8.RuneCountInString(text),
		})
		f.deliver(session, protocol.ReplyToEvent{})
	}
}

func (f *fakeEngine) deliver(session uint32, m protocol.Message) {
	if err := f.handler.HandleNotification(session, m); err != nil {
		f.mu.Lock()
		f.errs = append(f.errs, err)
		f.mu.Unlock()
	}
}

// inject queues an engine-initiated notification behind pending work.
func (f *fakeEngine) inject(session uint32, m protocol.Message) {
	f.work <- func() { f.deliver(session, m) }
}

// flush waits until everything queued on the engine goroutine has run.
func (f *fakeEngine) flush(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	f.work <- func() { close(done) }
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("engine did not drain")
	}
}

func (f *fakeEngine) setText(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = []rune(s)
}

func (f *fakeEngine) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.text)
}

func (f *fakeEngine) messages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.sent...)
}

func (f *fakeEngine) errors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

// recorder is a Listener that keeps a log of what it was told.
type recorder struct {
	NopListener
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) OnFocusChange(_ *Editable, focused bool) { r.add("focus %v", focused) }
func (r *recorder) OnTextChange(_ *Editable, start, oldEnd, newEnd int) {
	r.add("text %d %d %d", start, oldEnd, newEnd)
}
func (r *recorder) OnSelectionChange(_ *Editable, start, end int) {
	r.add("selection %d %d", start, end)
}
func (r *recorder) OnEnabledStateChange(_ *Editable, st protocol.EnabledStateChanged) {
	r.add("enabled %s", st.State)
}
func (r *recorder) OnResetInputState(e *Editable)   { r.add("reset %v", e != nil) }
func (r *recorder) OnCancelComposition(e *Editable) { r.add("cancel %v", e != nil) }

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.events, event)
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) waitFor(t *testing.T, event string) {
	t.Helper()
	require.Eventually(t, func() bool { return r.has(event) }, waitFor, time.Millisecond, "listener never got %q", event)
}

// manualSender records messages and leaves replying to the test, which then
// plays the engine goroutine.
type manualSender struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (m *manualSender) Send(_ uint32, msg protocol.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *manualSender) count(kind protocol.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.sent {
		if msg.Kind() == kind {
			n++
		}
	}
	return n
}

var errLinkDown = errors.New("link down")

// failingSender is a manualSender whose link drops messages of one kind once
// failing is set.
type failingSender struct {
	manualSender
	failMu  sync.Mutex
	failing bool
	failOn  protocol.Kind
}

func (f *failingSender) Send(id uint32, msg protocol.Message) error {
	f.failMu.Lock()
	fail := f.failing && msg.Kind() == f.failOn
	f.failMu.Unlock()
	if fail {
		return errLinkDown
	}
	return f.manualSender.Send(id, msg)
}

func (f *failingSender) failFrom(kind protocol.Kind) {
	f.failMu.Lock()
	defer f.failMu.Unlock()
	f.failing, f.failOn = true, kind
}

func (f *failingSender) recover() {
	f.failMu.Lock()
	defer f.failMu.Unlock()
	f.failing = false
}

type harness struct {
	t        *testing.T
	looper   *Looper
	ctrl     *Controller
	listener *recorder
	metrics  *metrics.BridgeMetrics

	engine *fakeEngine   // set by newHarness
	manual *manualSender // set by newManualHarness
}

func newTestController(t *testing.T, sender protocol.Sender, autoUpdate bool) *harness {
	looper := NewLooper(discardLogger())
	looper.Start()
	t.Cleanup(looper.Stop)

	h := &harness{
		t:        t,
		looper:   looper,
		listener: &recorder{},
		metrics:  metrics.NewBridgeMetrics(metrics.NewRegistry("test", "")),
	}
	h.ctrl = NewController(Options{
		Sender:     sender,
		Looper:     looper,
		Listener:   h.listener,
		Logger:     discardLogger(),
		Metrics:    h.metrics,
		AutoUpdate: autoUpdate,
	})
	// Runs before the looper stops, releasing a UI task left on the barrier.
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) counter(name string, labels metrics.Labels) uint64 {
	c := h.metrics.Registry().GetCounter(name, labels)
	if c == nil {
		return 0
	}
	return c.Value()
}

func newHarness(t *testing.T, autoUpdate bool) *harness {
	engine := newFakeEngine(t)
	h := newTestController(t, engine, autoUpdate)
	engine.handler = h.ctrl
	h.engine = engine
	return h
}

func newFailingHarness(t *testing.T) (*harness, *failingSender) {
	sender := &failingSender{}
	h := newTestController(t, sender, false)
	h.manual = &sender.manualSender
	return h, sender
}

func newManualHarness(t *testing.T, autoUpdate bool) *harness {
	sender := &manualSender{}
	h := newTestController(t, sender, autoUpdate)
	h.manual = sender
	return h
}

// ui runs fn on the UI loop and waits for it.
func (h *harness) ui(fn func()) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(h.t, h.looper.Call(ctx, fn))
}

// focus has the fake engine focus a field holding text.
func (h *harness) focus(id uint32, text string) *Editable {
	h.t.Helper()
	h.engine.setText(text)
	h.engine.inject(id, protocol.FocusChange{State: protocol.Focus})
	if text != "" {
		n := utf8.RuneCountInString(text)
		h.engine.inject(id, protocol.TextChanged{Text: text, Start: 0, OldEnd: 0, NewEnd: n})
	}
	h.listener.waitFor(h.t, "focus true")

	var ed *Editable
	h.ui(func() { ed = h.ctrl.Current() })
	require.NotNil(h.t, ed)
	return ed
}

// engineSelect has the fake engine move the selection and waits for the
// bridge to settle on it.
func (h *harness) engineSelect(id uint32, start, end int) {
	h.t.Helper()
	h.engine.inject(id, protocol.SelectionChanged{Start: start, End: end})
	h.listener.waitFor(h.t, fmt.Sprintf("selection %d %d", start, end))
}

// reply plays the engine answering the oldest pending action.
func (h *harness) reply(id uint32) {
	h.t.Helper()
	require.NoError(h.t, h.ctrl.HandleNotification(id, protocol.ReplyToEvent{}))
}

// focusManual focuses a field with the test acting as engine.
func (h *harness) focusManual(id uint32, text string) *Editable {
	h.t.Helper()
	require.NoError(h.t, h.ctrl.HandleNotification(id, protocol.FocusChange{State: protocol.Focus}))
	if text != "" {
		n := utf8.RuneCountInString(text)
		require.NoError(h.t, h.ctrl.HandleNotification(id, protocol.TextChanged{Text: text, Start: 0, OldEnd: 0, NewEnd: n}))
	}
	h.waitSent(protocol.KindAcknowledgeFocus, 1)
	h.reply(id)
	h.listener.waitFor(h.t, "focus true")
	return h.ctrl.Session(id).Editable()
}

func (h *harness) waitSent(kind protocol.Kind, n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.manual.count(kind) >= n }, waitFor, time.Millisecond,
		"%s never sent %d times", kind, n)
}
