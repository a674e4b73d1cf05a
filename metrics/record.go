package metrics

import "fmt"

// Record is one metric sample: the metric, its value, the number of
// observations folded into it and its dimensions.
type Record struct {
	metrics    Metrics
	value      Value
	cnt        int
	dimensions Dimension
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	cp := &Record{
		metrics: r.metrics,
		value:   r.value,
		cnt:     r.cnt,
	}
	if r.dimensions != nil {
		cp.dimensions = make(Dimension, len(r.dimensions))
		for k, v := range r.dimensions {
			cp.dimensions[k] = v
		}
	}
	return cp
}

func (r *Record) Metrics() Metrics {
	return r.metrics
}

// Value returns the aggregated value: the mean for averaging policies, the raw
// value otherwise.
func (r *Record) Value() Value {
	switch r.metrics.Policy() {
	case Policy_Avg, Policy_Stopwatch:
		if r.cnt != 0 {
			return r.value / Value(r.cnt)
		}
	}
	return r.value
}

// RawData returns the unprocessed sum and count.
func (r *Record) RawData() (Value, int) {
	return r.value, r.cnt
}

func (r *Record) Dimensions() map[string]string {
	return r.dimensions
}

// Merge folds other into r according to the metric policy. Both records must
// describe the same metric with identical dimensions.
func (r *Record) Merge(other Record) error {
	if r.metrics.Name() != other.metrics.Name() || r.metrics.Group() != other.metrics.Group() {
		return fmt.Errorf("metrics %s.%s cannot merge %s.%s",
			r.metrics.Group(), r.metrics.Name(), other.metrics.Group(), other.metrics.Name())
	}
	if r.metrics.Policy() != other.metrics.Policy() {
		return fmt.Errorf("metrics policy(%v,%v) not equal", r.metrics.Policy(), other.metrics.Policy())
	}
	if len(r.dimensions) != len(other.dimensions) {
		return fmt.Errorf("metrics dimensions(%d,%d) not equal", len(r.dimensions), len(other.dimensions))
	}
	for k, v := range r.dimensions {
		if v2, ok := other.dimensions[k]; !ok || v != v2 {
			return fmt.Errorf("metrics dimension %s differs", k)
		}
	}

	switch r.metrics.Policy() {
	case Policy_Set:
		r.value = other.value
	case Policy_Sum:
		r.value += other.value
	case Policy_Max:
		r.value = max(r.value, other.value)
	case Policy_Min:
		r.value = min(r.value, other.value)
	case Policy_Stopwatch, Policy_Avg:
		r.value += other.value
		r.cnt += other.cnt
	default:
		return fmt.Errorf("metrics(%s) policy %v cannot merge", r.metrics.Name(), r.metrics.Policy())
	}
	return nil
}
