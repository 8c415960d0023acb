package bridge

import "sync/atomic"

// Tracker holds the sequence counters used to drop superseded notifications.
//
// The engine counter advances on the engine goroutine for every notification
// or reply that changes the buffer. The UI counter advances on the UI loop for
// every offered action.
type Tracker struct {
	engine atomic.Uint64
	ui     atomic.Uint64
	lastUI atomic.Uint64
}

// Token is the pair of counters captured when a notification is posted.
type Token struct {
	Engine uint64
	UI     uint64
}

// BumpEngine advances the engine counter.
func (t *Tracker) BumpEngine() uint64 { return t.engine.Add(1) }

// BumpUI advances the UI counter.
func (t *Tracker) BumpUI() uint64 { return t.ui.Add(1) }

// UnbumpUI undoes a BumpUI for an action that was never sent.
func (t *Tracker) UnbumpUI() { t.ui.Add(^uint64(0)) }

// Capture returns the current counters.
func (t *Tracker) Capture() Token {
	return Token{Engine: t.engine.Load(), UI: t.ui.Load()}
}

// IsCurrent reports whether neither counter moved since tok was captured.
func (t *Tracker) IsCurrent(tok Token) bool {
	return t.engine.Load() == tok.Engine && t.ui.Load() == tok.UI
}

// NeedsResync reports whether actions were offered since the last re-sync.
func (t *Tracker) NeedsResync() bool {
	return t.ui.Load() != t.lastUI.Load()
}

// MarkSynced records that the engine has been sent the state as of now.
func (t *Tracker) MarkSynced() {
	t.lastUI.Store(t.ui.Load())
}
