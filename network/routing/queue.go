package routing

import (
	"sync"
	"time"
)

// event is a manual-reset signal. Once set it stays set until reset, so a
// waiter that arrives late still observes it.
type event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

func (e *event) Set() {
	e.mu.Lock()
	if !e.set {
		close(e.ch)
		e.set = true
	}
	e.mu.Unlock()
}

func (e *event) Reset() {
	e.mu.Lock()
	if e.set {
		e.ch = make(chan struct{})
		e.set = false
	}
	e.mu.Unlock()
}

func (e *event) Wait(timeout time.Duration) bool {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	if timeout <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

// IncomingQueue holds packets received from the network until the game
// consumes them.
type IncomingQueue struct {
	mu    sync.Mutex
	q     fifo
	ready *event
	sink  DelaySink
	now   func() time.Time
}

// NewIncomingQueue creates a queue reporting delays to sink. A nil sink
// discards samples.
func NewIncomingQueue(sink DelaySink) *IncomingQueue {
	return &IncomingQueue{
		ready: newEvent(),
		sink:  sink,
		now:   time.Now,
	}
}

// SetSink replaces the delay sink.
func (q *IncomingQueue) SetSink(sink DelaySink) {
	q.mu.Lock()
	q.sink = sink
	q.mu.Unlock()
}

// Enqueue stamps and appends a packet, then wakes any waiter. The event is
// set under the queue lock, like Dequeue resets it, so it is never left set
// on an empty queue.
func (q *IncomingQueue) Enqueue(peerID uint16, payload []byte) {
	q.mu.Lock()
	q.q.push(Packet{PeerID: peerID, Payload: payload, GenTime: q.now()})
	q.ready.Set()
	q.mu.Unlock()
}

// Wait reports whether a packet is available, blocking up to timeout when the
// queue is empty.
func (q *IncomingQueue) Wait(timeout time.Duration) bool {
	if q.Len() > 0 {
		return true
	}
	q.ready.Wait(timeout)
	return q.Len() > 0
}

// Dequeue pops the oldest packet. The queueing delay is reported to the sink
// exactly once for every packet returned.
func (q *IncomingQueue) Dequeue() (Packet, bool) {
	q.mu.Lock()
	p, ok := q.q.pop()
	if q.q.len() == 0 {
		q.ready.Reset()
	}
	sink := q.sink
	now := q.now()
	q.mu.Unlock()

	if ok && sink != nil {
		sink.OnRouteDelayResult(int(now.Sub(p.GenTime).Milliseconds()))
	}
	return p, ok
}

func (q *IncomingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.q.len()
}

// OutgoingQueue holds packets produced by the game until the transport polls
// them. It never blocks.
type OutgoingQueue struct {
	mu  sync.Mutex
	q   fifo
	now func() time.Time
}

func NewOutgoingQueue() *OutgoingQueue {
	return &OutgoingQueue{now: time.Now}
}

func (q *OutgoingQueue) Enqueue(peerID uint16, payload []byte) {
	q.mu.Lock()
	q.q.push(Packet{PeerID: peerID, Payload: payload, GenTime: q.now()})
	q.mu.Unlock()
}

// TryDequeue pops the oldest packet without waiting.
func (q *OutgoingQueue) TryDequeue() (Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.q.pop()
}

func (q *OutgoingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.q.len()
}
