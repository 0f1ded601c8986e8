// Package peer implements C8/C9: the single-threaded network loop that
// owns the socket and drives every connection's heartbeat, plus the
// bounded hand-off queue delivering released messages to the application.
package peer

import (
	"sync"

	"github.com/brinewave/reliablenet/codec"
	"github.com/brinewave/reliablenet/pool"
)

// Incoming is one message delivered to the application, tagged with its
// high-level kind (§6.3) and, when applicable, its source connection.
type Incoming struct {
	Kind       codec.IncomingKind
	Msg        *pool.Message
	Connection *Connection
	Text       string // carries diagnostic text for Debug/Warning/Error kinds
}

// ReceivedMessageQueue is C9: a single-producer (the library thread),
// multi-consumer bounded hand-off, with a signal that wakes exactly one
// waiter per release. Grounded in other_examples' AhmadMuzakkir-reliable
// sync.Cond-gated backpressure (Conn.ouc), adapted from a gate on the
// *producer* side to one on the *consumer* side of a bounded ring.
type ReceivedMessageQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []Incoming
	capacity int
	closed   bool
}

// NewReceivedMessageQueue returns a queue bounded to capacity entries.
func NewReceivedMessageQueue(capacity int) *ReceivedMessageQueue {
	q := &ReceivedMessageQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push is called only from the library thread. If the queue is full the
// oldest entry is dropped (a Resource error per §7 — reliable channels
// will retransmit; this queue itself never blocks the library thread).
func (q *ReceivedMessageQueue) Push(msg Incoming) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return true
	}
	if len(q.buf) >= q.capacity {
		q.buf = q.buf[1:]
		dropped = true
	}
	q.buf = append(q.buf, msg)
	q.cond.Signal()
	return dropped
}

// Pop blocks until a message is available or the queue is closed. It
// returns ok=false only once the queue is closed and drained.
func (q *ReceivedMessageQueue) Pop() (Incoming, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return Incoming{}, false
	}
	m := q.buf[0]
	q.buf = q.buf[1:]
	return m, true
}

// TryPop returns immediately, ok=false if nothing is queued.
func (q *ReceivedMessageQueue) TryPop() (Incoming, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return Incoming{}, false
	}
	m := q.buf[0]
	q.buf = q.buf[1:]
	return m, true
}

// Close wakes every waiter; subsequent Pop calls drain remaining entries
// then return ok=false.
func (q *ReceivedMessageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the number of buffered messages, for diagnostics/tests.
func (q *ReceivedMessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
