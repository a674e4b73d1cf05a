package netlib

import (
	"sync"
	"time"
)

const _tickRingSize = 16

// tickRing keeps the last few timestamps of a recurring activity.
type tickRing struct {
	mu    sync.Mutex
	ticks [_tickRingSize]time.Time
	next  int
	count int
}

func (r *tickRing) add(t time.Time) {
	r.mu.Lock()
	r.ticks[r.next] = t
	r.next = (r.next + 1) % _tickRingSize
	if r.count < _tickRingSize {
		r.count++
	}
	r.mu.Unlock()
}

// last returns the newest timestamp, zero when empty.
func (r *tickRing) last() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return time.Time{}
	}
	return r.ticks[(r.next+_tickRingSize-1)%_tickRingSize]
}

// snapshot returns the stored timestamps, oldest first.
func (r *tickRing) snapshot() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, 0, r.count)
	start := (r.next - r.count + _tickRingSize) % _tickRingSize
	for i := 0; i < r.count; i++ {
		out = append(out, r.ticks[(start+i)%_tickRingSize])
	}
	return out
}

func (r *tickRing) reset() {
	r.mu.Lock()
	r.next, r.count = 0, 0
	r.mu.Unlock()
}
