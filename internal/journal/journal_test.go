package journal

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"imebridge/internal/protocol"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type sink struct {
	sent    []protocol.Message
	handled []protocol.Message
}

func (k *sink) Send(session uint32, m protocol.Message) error {
	k.sent = append(k.sent, m)
	return nil
}

func (k *sink) HandleNotification(session uint32, m protocol.Message) error {
	k.handled = append(k.handled, m)
	return nil
}

func TestOpenCreatesDirectory(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "a", "b", "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("schema version = %d, want %d", v, len(migrations))
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.BeginRun("test")
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	latest, err := s.LatestRun()
	if err != nil {
		t.Fatal(err)
	}
	if latest != id {
		t.Errorf("latest run = %q, want %q", latest, id)
	}
}

func TestAppendWithoutRun(t *testing.T) {
	s := openTest(t)
	err := s.Append(&Entry{Session: 1, Direction: Outbound, Kind: protocol.KindSynchronize})
	if !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	s := openTest(t)
	if _, err := s.BeginRun("test"); err != nil {
		t.Fatal(err)
	}

	entries := []Entry{
		{Session: 1, Direction: Outbound, Kind: protocol.KindReplaceText, HasRange: true, Start: 0, End: 0, Text: "héllo", TextLen: 5},
		{Session: 1, Direction: Inbound, Kind: protocol.KindReplyToEvent},
		{Session: 2, Direction: Outbound, Kind: protocol.KindSynchronize},
	}
	for i := range entries {
		if err := s.Append(&entries[i]); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := s.Entries(1)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Ordinal != 1 || got[1].Ordinal != 2 {
		t.Errorf("ordinals = %d, %d", got[0].Ordinal, got[1].Ordinal)
	}
	if got[0].Text != "héllo" || !got[0].HasRange || got[0].Kind != protocol.KindReplaceText {
		t.Errorf("unexpected entry %+v", got[0])
	}
	if got[1].HasRange || got[1].Direction != Inbound {
		t.Errorf("unexpected entry %+v", got[1])
	}

	other, err := s.Entries(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 || other[0].Ordinal != 3 {
		t.Errorf("session 2 entries = %+v", other)
	}
}

func TestNewRunIsolatesEntries(t *testing.T) {
	s := openTest(t)
	first, _ := s.BeginRun("test")
	s.Append(&Entry{Session: 1, Direction: Outbound, Kind: protocol.KindSynchronize})

	if _, err := s.BeginRun("test"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Entries(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("new run should start empty, got %d entries", len(got))
	}

	old, err := s.RunEntries(first, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(old) != 1 {
		t.Errorf("first run entries = %d", len(old))
	}

	runs, err := s.Runs()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestRecorderJournalsBothDirections(t *testing.T) {
	s := openTest(t)
	run, _ := s.BeginRun("test")
	rec := NewRecorder(s, false, nil)
	next := &sink{}

	send := rec.Sender(next)
	handle := rec.Handler(next)

	handle.HandleNotification(1, protocol.FocusChange{State: protocol.Focus})
	send.Send(1, protocol.AcknowledgeFocus{})
	send.Send(1, protocol.ReplaceText{Start: 0, End: 0, Text: "ab"})
	handle.HandleNotification(1, protocol.TextChanged{Text: "ab", Start: 0, OldEnd: 0, NewEnd: 2})
	send.Send(1, protocol.InputEvent{Payload: []byte{0x1b}})
	handle.HandleNotification(1, protocol.FocusChange{State: protocol.Blur})

	if len(next.sent) != 3 || len(next.handled) != 3 {
		t.Fatalf("messages not forwarded: sent %d handled %d", len(next.sent), len(next.handled))
	}
	if rec.Failures() != 0 {
		t.Fatalf("unexpected failures: %d", rec.Failures())
	}

	entries, err := s.Entries(1)
	if err != nil {
		t.Fatal(err)
	}
	wantKinds := []protocol.Kind{
		protocol.KindFocusChange, protocol.KindAcknowledgeFocus, protocol.KindReplaceText,
		protocol.KindTextChanged, protocol.KindInputEvent, protocol.KindFocusChange,
	}
	if len(entries) != len(wantKinds) {
		t.Fatalf("expected %d entries, got %d", len(wantKinds), len(entries))
	}
	for i, k := range wantKinds {
		if entries[i].Kind != k {
			t.Errorf("entry %d kind = %s, want %s", i, entries[i].Kind, k)
		}
	}
	if entries[3].Text != "ab" || entries[3].Start != 0 || entries[3].End != 0 {
		t.Errorf("text changed entry = %+v", entries[3])
	}
	if entries[4].Text != "1b" || entries[4].TextLen != 1 {
		t.Errorf("input event entry = %+v", entries[4])
	}

	sessions, err := s.Sessions(run)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Entries != 6 || sessions[0].Blurred.IsZero() {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestRecorderRedactsText(t *testing.T) {
	s := openTest(t)
	s.BeginRun("test")
	rec := NewRecorder(s, true, nil)
	send := rec.Sender(&sink{})

	send.Send(3, protocol.ReplaceText{Start: 1, End: 2, Text: "secret"})

	entries, err := s.Entries(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Text != "" {
		t.Errorf("text should be redacted, got %q", e.Text)
	}
	if !bytes.Equal(e.Digest, Digest("secret")) || len(e.Digest) != 32 {
		t.Errorf("digest mismatch: %x", e.Digest)
	}
	if e.TextLen != 6 || e.Start != 1 || e.End != 2 {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestRecorderFailureDoesNotBlockMessages(t *testing.T) {
	s := openTest(t)
	rec := NewRecorder(s, false, nil)
	next := &sink{}

	if err := rec.Sender(next).Send(1, protocol.Synchronize{}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(next.sent) != 1 {
		t.Error("message should still be forwarded")
	}
	if rec.Failures() != 1 {
		t.Errorf("failures = %d, want 1", rec.Failures())
	}
}

func TestPrune(t *testing.T) {
	s := openTest(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	old, _ := s.BeginRun("test")
	s.Append(&Entry{Session: 1, Direction: Outbound, Kind: protocol.KindSynchronize})

	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	s.BeginRun("test")

	n, err := s.Prune(base.Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d runs, want 1", n)
	}
	entries, err := s.RunEntries(old, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries should cascade, got %d", len(entries))
	}
}

func TestPing(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping should fail after Close")
	}
}
