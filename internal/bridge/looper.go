package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrLooperStopped is returned when posting to a stopped looper.
var ErrLooperStopped = errors.New("bridge: looper stopped")

// Looper is the UI thread: a single goroutine running posted funcs in order.
// Post never blocks, so the engine goroutine can always hand work over.
type Looper struct {
	logger *slog.Logger

	mu      sync.Mutex
	ready   *sync.Cond
	tasks   []func()
	stopped bool

	started sync.Once
	done    chan struct{}

	onPanic func(any)
}

// NewLooper creates a looper. Call Start to run it.
func NewLooper(logger *slog.Logger) *Looper {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Looper{logger: logger, done: make(chan struct{})}
	l.ready = sync.NewCond(&l.mu)
	return l
}

// Start launches the loop goroutine. Calling it again has no effect.
func (l *Looper) Start() {
	l.started.Do(func() { go l.loop() })
}

// OnPanic sets a function called with the value of a panic recovered from a
// task. Call before Start.
func (l *Looper) OnPanic(fn func(v any)) {
	l.onPanic = fn
}

// Post queues fn. It reports false if the looper has stopped.
func (l *Looper) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.ready.Signal()
	return true
}

// Call runs fn on the loop and waits for it to return. It must not be called
// from the loop itself.
func (l *Looper) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLooperStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLooperStopped
		}
	}
}

// Stop ends the loop after the running task returns. Queued tasks are dropped.
func (l *Looper) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.tasks = nil
	l.ready.Broadcast()
	l.mu.Unlock()

	l.started.Do(func() { close(l.done) })
	<-l.done
}

// Done is closed when the loop goroutine has exited.
func (l *Looper) Done() <-chan struct{} { return l.done }

func (l *Looper) loop() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.tasks) == 0 && !l.stopped {
			l.ready.Wait()
		}
		if l.stopped {
			l.mu.Unlock()
			return
		}
		fn := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		l.run(fn)
	}
}

func (l *Looper) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if l.onPanic != nil {
				l.onPanic(r)
				return
			}
			l.logger.Error("ui task panicked", "panic", r)
		}
	}()
	fn()
}
