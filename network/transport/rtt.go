package transport

import (
	"sync"
	"time"

	"github.com/linchenxuan/netclient/metrics"
)

// RTTEstimator smooths round trip samples the way ENet does: the mean moves an
// eighth of the way toward each sample and the variance a quarter of the way
// toward the absolute deviation.
type RTTEstimator struct {
	name     string
	mu       sync.Mutex
	rtt      float64
	variance float64
	samples  int
}

// NewRTTEstimator creates an estimator reporting under the transport name.
func NewRTTEstimator(name string) *RTTEstimator {
	return &RTTEstimator{name: name}
}

// Update folds one sample in.
func (e *RTTEstimator) Update(sample time.Duration) {
	ms := float64(sample) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	e.mu.Lock()
	if e.samples == 0 {
		e.rtt = ms
		e.variance = ms / 2
	} else {
		diff := ms - e.rtt
		if diff < 0 {
			diff = -diff
		}
		e.variance = e.variance*3/4 + diff/4
		e.rtt = e.rtt*7/8 + ms/8
	}
	e.samples++
	rtt := e.rtt
	e.mu.Unlock()

	metrics.UpdateGaugeWithDimGroup(metrics.NameTransportRTTMS, metrics.GroupTransport, metrics.Value(rtt),
		metrics.Dimension{metrics.DimTransport: e.name})
}

// RTT returns the smoothed round trip time in milliseconds, -1 before the
// first sample.
func (e *RTTEstimator) RTT() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples == 0 {
		return -1
	}
	return int32(e.rtt + 0.5)
}

// Variance returns the smoothed deviation in milliseconds, -1 before the first
// sample.
func (e *RTTEstimator) Variance() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples == 0 {
		return -1
	}
	return int32(e.variance + 0.5)
}

// Reset forgets all samples.
func (e *RTTEstimator) Reset() {
	e.mu.Lock()
	e.rtt, e.variance, e.samples = 0, 0, 0
	e.mu.Unlock()
}
