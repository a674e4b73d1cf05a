package transport

import (
	"time"

	"go.uber.org/ratelimit"
)

// Pacer spaces out outgoing routed packets. A non-positive rate disables it.
type Pacer struct {
	limiter ratelimit.Limiter
}

// NewPacer allows perSecond packets per second with a small burst.
func NewPacer(perSecond int) *Pacer {
	if perSecond <= 0 {
		return &Pacer{limiter: ratelimit.NewUnlimited()}
	}
	return &Pacer{limiter: ratelimit.New(perSecond, ratelimit.WithSlack(perSecond/10))}
}

// Take blocks until the next packet may go out.
func (p *Pacer) Take() time.Time {
	return p.limiter.Take()
}
