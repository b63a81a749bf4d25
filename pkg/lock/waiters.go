package lock

// waiter is one blocked acquisition attempt registered on a key. The wake
// channel is a single-use handle: the releaser deposits at most one token
// and the coordinator blocks on it with the remaining deadline.
//
// The waiter is owned by the blocked coordinator; the queue only holds a
// reference for lookup-and-wake.
type waiter struct {
	tx   TxID
	wake chan struct{}
}

func newWaiter(tx TxID) *waiter {
	return &waiter{
		tx:   tx,
		wake: make(chan struct{}, 1),
	}
}

// signal deposits the wake token without blocking. A waiter is signaled at
// most once per time it is queued, so the buffered channel never drops a
// token that matters.
func (w *waiter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// drain discards a stale wake token, if any. Used before re-queueing the
// waiter for another wait cycle.
func (w *waiter) drain() {
	select {
	case <-w.wake:
	default:
	}
}

// waiterQueue is a FIFO of blocked acquisition attempts for one key. All
// access happens under the owning slot's mutex.
//
// Waking is always wakeHead, never broadcast: waking every waiter only to
// have all but one lose the re-check admits starvation and a thundering
// herd of re-checks.
type waiterQueue struct {
	waiters []*waiter
}

func (q *waiterQueue) len() int {
	return len(q.waiters)
}

// pushBack appends a new waiter at the tail.
func (q *waiterQueue) pushBack(w *waiter) {
	q.waiters = append(q.waiters, w)
}

// pushFront re-queues a woken waiter that lost the re-acquire race, keeping
// its original position at the head of the line.
func (q *waiterQueue) pushFront(w *waiter) {
	q.waiters = append([]*waiter{w}, q.waiters...)
}

// popFront removes and returns the longest-waiting waiter, or nil if the
// queue is empty.
func (q *waiterQueue) popFront() *waiter {
	if len(q.waiters) == 0 {
		return nil
	}

	w := q.waiters[0]
	q.waiters = q.waiters[1:]

	return w
}

// remove deletes w from the queue without waking it. It reports whether w
// was still queued; false means a releaser already popped and signaled it.
func (q *waiterQueue) remove(w *waiter) bool {
	for i, queued := range q.waiters {
		if queued == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)

			return true
		}
	}

	return false
}
