// Package routing buffers routed packets between the network goroutine and the
// main game loop.
package routing

import "time"

// Packet is a routed payload addressed to or received from a peer.
type Packet struct {
	PeerID  uint16
	Payload []byte
	// GenTime is stamped when the packet enters a queue.
	GenTime time.Time
}

// DelaySink receives the queueing delay of every packet handed to the game.
type DelaySink interface {
	OnRouteDelayResult(delayMs int)
}

// DelaySinkFunc adapts a function to DelaySink.
type DelaySinkFunc func(delayMs int)

func (f DelaySinkFunc) OnRouteDelayResult(delayMs int) { f(delayMs) }

// fifo is an unbounded packet FIFO. It is not goroutine-safe.
type fifo struct {
	items []Packet
	head  int
}

func (f *fifo) push(p Packet) {
	if f.head > 0 && f.head == len(f.items) {
		f.items = f.items[:0]
		f.head = 0
	}
	f.items = append(f.items, p)
}

func (f *fifo) pop() (Packet, bool) {
	if f.head >= len(f.items) {
		return Packet{}, false
	}
	p := f.items[f.head]
	f.items[f.head] = Packet{}
	f.head++
	if f.head == len(f.items) {
		f.items = f.items[:0]
		f.head = 0
	}
	return p, true
}

func (f *fifo) len() int {
	return len(f.items) - f.head
}
