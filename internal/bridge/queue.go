package bridge

import "sync"

// Queue is the FIFO of actions awaiting an engine reply. Its gate is held
// exactly while it is non-empty; Wait blocks until the gate opens.
//
// Offer is called on the UI loop, Peek and Poll on the engine goroutine.
type Queue struct {
	mu      sync.Mutex
	drained *sync.Cond
	actions []Action
	closed  bool
}

// NewQueue returns an empty, open queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.drained = sync.NewCond(&q.mu)
	return q
}

// Offer appends a to the tail, taking the gate if the queue was empty.
func (q *Queue) Offer(a Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.actions = append(q.actions, a)
	return nil
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Action{}, ErrQueueClosed
	}
	if len(q.actions) == 0 {
		return Action{}, ErrQueueEmpty
	}
	return q.actions[0], nil
}

// Poll removes the head, releasing the gate when the queue drains.
func (q *Queue) Poll() (Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Action{}, ErrQueueClosed
	}
	if len(q.actions) == 0 {
		return Action{}, ErrQueueEmpty
	}
	a := q.actions[0]
	q.actions[0] = Action{}
	q.actions = q.actions[1:]
	if len(q.actions) == 0 {
		q.actions = nil
		q.drained.Broadcast()
	}
	return a, nil
}

// Retract removes the tail action offered last, for an offer whose message
// never reached the engine. The gate opens if the queue drains.
func (q *Queue) Retract() (Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Action{}, ErrQueueClosed
	}
	if len(q.actions) == 0 {
		return Action{}, ErrQueueEmpty
	}
	last := len(q.actions) - 1
	a := q.actions[last]
	q.actions[last] = Action{}
	q.actions = q.actions[:last]
	if len(q.actions) == 0 {
		q.actions = nil
		q.drained.Broadcast()
	}
	return a, nil
}

// Wait blocks until the queue is empty or closed. There is no timeout.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.actions) > 0 && !q.closed {
		q.drained.Wait()
	}
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Pending returns a copy of the pending actions, oldest first.
func (q *Queue) Pending() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Action(nil), q.actions...)
}

// Close discards pending actions and opens the gate for good. It returns the
// number of actions discarded.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	n := len(q.actions)
	q.closed = true
	q.actions = nil
	q.drained.Broadcast()
	return n
}
