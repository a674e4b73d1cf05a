package metrics

import (
	"sync"
	"time"
)

// Metrics is the base interface for all metric types.
type Metrics interface {
	Name() string
	Group() string
	Policy() Policy
}

// registry caches metric instances by name. Lookups take the read lock; the
// first use of a name creates the instance under the write lock.
type registry[T Metrics] struct {
	mu    sync.RWMutex
	items map[string]T
	build func(name, group string) T
}

func newRegistry[T Metrics](build func(name, group string) T) *registry[T] {
	return &registry[T]{items: map[string]T{}, build: build}
}

func (r *registry[T]) get(name, group string) T {
	r.mu.RLock()
	m, ok := r.items[name]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok = r.items[name]; ok {
		return m
	}
	m = r.build(name, group)
	r.items[name] = m
	return m
}

var (
	_counters   = newRegistry(func(n, g string) Counter { return &counter{name: n, group: g} })
	_gauges     = newRegistry(func(n, g string) Gauge { return &gauge{name: n, group: g, policy: Policy_Set} })
	_avgGauges  = newRegistry(func(n, g string) Gauge { return &gauge{name: n, group: g, policy: Policy_Avg} })
	_maxGauges  = newRegistry(func(n, g string) Gauge { return &gauge{name: n, group: g, policy: Policy_Max} })
	_stopwatchs = newRegistry(func(n, g string) StopWatch { return &stopwatch{name: n, group: g} })
)

// IncrCounterWithGroup increases a counter.
func IncrCounterWithGroup(key string, group string, value Value) {
	_counters.get(key, group).Incr(value)
}

// IncrCounterWithDimGroup increases a counter with dimensions.
func IncrCounterWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_counters.get(key, group).IncrWithDim(value, dimensions)
}

// UpdateGaugeWithGroup sets a gauge; the last value in a window wins.
func UpdateGaugeWithGroup(key string, group string, value Value) {
	_gauges.get(key, group).Update(value)
}

func UpdateGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_gauges.get(key, group).UpdateWithDim(value, dimensions)
}

// UpdateAvgGaugeWithGroup adds a sample to an averaging gauge.
func UpdateAvgGaugeWithGroup(key string, group string, value Value) {
	_avgGauges.get(key, group).Update(value)
}

func UpdateAvgGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_avgGauges.get(key, group).UpdateWithDim(value, dimensions)
}

// UpdateMaxGaugeWithGroup adds a sample to a max gauge.
func UpdateMaxGaugeWithGroup(key string, group string, value Value) {
	_maxGauges.get(key, group).Update(value)
}

func UpdateMaxGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_maxGauges.get(key, group).UpdateWithDim(value, dimensions)
}

// RecordStopwatchWithGroup records the time elapsed since startTime.
func RecordStopwatchWithGroup(key string, group string, startTime time.Time) time.Duration {
	return _stopwatchs.get(key, group).RecordWithDim(nil, startTime)
}

func RecordStopwatchWithDimGroup(key string, group string, startTime time.Time, dimensions Dimension) time.Duration {
	return _stopwatchs.get(key, group).RecordWithDim(dimensions, startTime)
}
