package syncbus

import (
	"sync"
)

// DelegateQueue is a serialized execution context: units of work posted to it
// run one at a time, in order, on a single dedicated goroutine.
//
// The pending table and the observer registry never invoke caller code while
// holding their own locks; they post the invocation here instead. This keeps
// bookkeeping and delegate fan-out on two separate contexts with
// message-passing between them, never a shared lock.
type DelegateQueue struct {
	work chan func()
	done chan struct{}

	closeOnce sync.Once
}

// NewDelegateQueue creates a delegate queue and starts its worker goroutine.
func NewDelegateQueue(buffer int) *DelegateQueue {
	q := &DelegateQueue{
		work: make(chan func(), buffer),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *DelegateQueue) run() {
	defer close(q.done)
	for fn := range q.work {
		fn()
	}
}

// Post enqueues a unit of work. Posting to a closed queue is a no-op; work
// already queued before Close still runs.
func (q *DelegateQueue) Post(fn func()) {
	defer func() {
		// Send on closed channel during shutdown races is swallowed; the
		// queue is drained, not flushed, on Close.
		_ = recover()
	}()
	q.work <- fn
}

// Close stops accepting work and waits for queued work to finish.
func (q *DelegateQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.work)
	})
	<-q.done
}
