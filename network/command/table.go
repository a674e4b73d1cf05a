package command

import (
	"sync"

	"github.com/linchenxuan/netclient/log"
	"github.com/linchenxuan/netclient/metrics"
)

// Handler consumes a reliable command payload.
type Handler func(payload []byte)

// Entry is one registration in the dispatch table.
type Entry struct {
	Handler Handler
	// MainThreadOnly defers the call to the next RunMainFrame.
	MainThreadOnly bool
}

// PeerFunc reports the identity of the server peer the library is currently
// talking to. The value changes whenever a new connection is established.
type PeerFunc func() uint64

// Table maps command hashes to handlers. Several handlers may share a hash;
// they are invoked in registration order.
type Table struct {
	mu       sync.RWMutex
	handlers map[uint32][]Entry
	peer     PeerFunc
	queue    *MainQueue
}

// NewTable creates an empty table. peer may be nil, in which case deferred work
// is never considered stale.
func NewTable(peer PeerFunc) *Table {
	if peer == nil {
		peer = func() uint64 { return 0 }
	}
	return &Table{
		handlers: make(map[uint32][]Entry),
		peer:     peer,
		queue:    NewMainQueue(),
	}
}

// Register adds a handler for the named command.
func (t *Table) Register(name string, h Handler, mainThreadOnly bool) {
	t.RegisterHash(Hash(name), h, mainThreadOnly)
}

// RegisterHash adds a handler for a precomputed command hash.
func (t *Table) RegisterHash(hash uint32, h Handler, mainThreadOnly bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[hash] = append(t.handlers[hash], Entry{Handler: h, MainThreadOnly: mainThreadOnly})
}

// Count returns the number of handlers registered for hash.
func (t *Table) Count(hash uint32) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers[hash])
}

// Dispatch delivers payload to every handler registered for hash. Direct
// handlers run on the calling goroutine; main-thread handlers receive a private
// copy of the payload through the work queue. It returns the number of matched
// handlers.
func (t *Table) Dispatch(hash uint32, payload []byte) int {
	t.mu.RLock()
	entries := t.handlers[hash]
	t.mu.RUnlock()

	if len(entries) == 0 {
		log.Debug().Uint32("hash", hash).Int("len", len(payload)).Msg("no handler for reliable command")
		return 0
	}

	peer := t.peer()
	for _, e := range entries {
		if !e.MainThreadOnly {
			e.Handler(payload)
			continue
		}
		t.queue.Push(WorkItem{
			Peer:    peer,
			Hash:    hash,
			Payload: append([]byte(nil), payload...),
			Handler: e.Handler,
		})
	}
	return len(entries)
}

// RunMainFrame runs deferred handlers whose peer snapshot still matches the
// current peer. The peer is read again before every item, so a handler that
// reconnects or disconnects invalidates the rest of the batch. It must be
// called from the main goroutine and returns the number of handlers that ran.
func (t *Table) RunMainFrame() int {
	ran := 0
	for _, item := range t.queue.Drain() {
		current := t.peer()
		if !item.Valid(current) {
			metrics.IncrCounterWithGroup(metrics.NameStaleWorkItem, metrics.GroupNetLib, 1)
			log.Debug().Uint32("hash", item.Hash).Uint64("peer", item.Peer).
				Uint64("current", current).Msg("drop stale main thread command")
			continue
		}
		item.Handler(item.Payload)
		ran++
	}
	return ran
}

// Pending returns the number of queued main-thread work items.
func (t *Table) Pending() int {
	return t.queue.Len()
}
