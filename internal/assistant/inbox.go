package assistant

import "sync"

// inbox is an unbounded FIFO of closures run on the interactive goroutine. Posting
// never blocks, so workers can report while the interactive goroutine waits on them.
type inbox struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

// post enqueues fn. It reports false once the inbox is closed.
func (q *inbox) post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// ready fires after at least one post since the last drain.
func (q *inbox) ready() <-chan struct{} { return q.signal }

func (q *inbox) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// close rejects further posts and drops anything still queued.
func (q *inbox) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
