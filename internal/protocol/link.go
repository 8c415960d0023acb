package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// Link carries frames between the bridge and an engine over a stream.
// Send may be called from any goroutine; Serve runs the read loop, and the
// goroutine running it is the engine thread as far as the bridge is concerned.
type Link struct {
	rw     io.ReadWriter
	logger *slog.Logger

	writeMu sync.Mutex

	onDecodeError func(error)

	sent     atomic.Uint64
	received atomic.Uint64
}

// LinkOption configures a Link.
type LinkOption func(*Link)

// WithLogger sets the logger used by the read loop.
func WithLogger(logger *slog.Logger) LinkOption {
	return func(l *Link) { l.logger = logger }
}

// WithDecodeErrorHandler registers fn to be told about frames that could not
// be decoded. The frame is dropped either way.
func WithDecodeErrorHandler(fn func(error)) LinkOption {
	return func(l *Link) { l.onDecodeError = fn }
}

// NewLink wraps rw.
func NewLink(rw io.ReadWriter, opts ...LinkOption) *Link {
	l := &Link{rw: rw, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Send encodes m and writes it as one frame.
func (l *Link) Send(session uint32, m Message) error {
	f, err := Encode(session, m)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := f.Write(l.rw); err != nil {
		return err
	}
	l.sent.Add(1)
	return nil
}

// Serve reads frames and hands decoded notifications to h until the stream
// ends or ctx is cancelled. Cancelling ctx closes the stream if it is an
// io.Closer. A clean end of stream returns nil.
func (l *Link) Serve(ctx context.Context, h Handler) error {
	done := make(chan struct{})
	defer close(done)
	if c, ok := l.rw.(io.Closer); ok {
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-done:
			}
		}()
	}

	for {
		f, err := ReadFrame(l.rw)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		l.received.Add(1)

		m, err := Decode(f)
		if err != nil {
			l.logger.Error("dropping frame", "kind", f.Header.Kind, "session", f.Header.Session, "error", err)
			if l.onDecodeError != nil {
				l.onDecodeError(err)
			}
			continue
		}

		if err := h.HandleNotification(f.Header.Session, m); err != nil {
			l.logger.Warn("notification rejected", "kind", f.Header.Kind, "session", f.Header.Session, "error", err)
		}
	}
}

// Stats returns the number of frames sent and received.
func (l *Link) Stats() (sent, received uint64) {
	return l.sent.Load(), l.received.Load()
}
