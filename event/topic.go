package event

import "time"

// Subscriber receives the payload of a published event.
type Subscriber func(payload any)

// Topic is the ordered subscriber list of one event name.
type Topic struct {
	// timeout is the delivery time above which a subscriber is reported as slow.
	timeout     time.Duration
	subscribers []Subscriber
}
