package command

import "sync"

// WorkItem is a reliable command waiting for the main goroutine.
type WorkItem struct {
	// Peer is the connection identity captured when the command arrived.
	Peer    uint64
	Hash    uint32
	Payload []byte
	Handler Handler
}

// Valid reports whether the item still belongs to the current connection.
func (w WorkItem) Valid(current uint64) bool {
	return w.Peer == current
}

// MainQueue is a goroutine-safe FIFO of work items.
type MainQueue struct {
	mu    sync.Mutex
	items []WorkItem
}

func NewMainQueue() *MainQueue {
	return &MainQueue{}
}

func (q *MainQueue) Push(item WorkItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Drain removes and returns every queued item in arrival order. Items pushed
// while the caller processes the result wait for the next drain.
func (q *MainQueue) Drain() []WorkItem {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

func (q *MainQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
