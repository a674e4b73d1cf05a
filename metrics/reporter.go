package metrics

import "sync"

var (
	_reportersMu sync.RWMutex
	_reporters   []Reporter
)

// Reporter receives every metric sample.
type Reporter interface {
	Report(r Record)
}

// SetMetricsReporters replaces the global reporter list.
func SetMetricsReporters(reporters []Reporter) {
	_reportersMu.Lock()
	_reporters = append([]Reporter(nil), reporters...)
	_reportersMu.Unlock()
}

// AddReporter appends a reporter to the global list.
func AddReporter(r Reporter) {
	_reportersMu.Lock()
	_reporters = append(_reporters, r)
	_reportersMu.Unlock()
}

// RemoveReporter drops r from the global list.
func RemoveReporter(r Reporter) {
	_reportersMu.Lock()
	defer _reportersMu.Unlock()
	for i, x := range _reporters {
		if x == r {
			_reporters = append(_reporters[:i:i], _reporters[i+1:]...)
			return
		}
	}
}

func report(r Record) {
	_reportersMu.RLock()
	defer _reportersMu.RUnlock()
	for _, reporter := range _reporters {
		reporter.Report(r)
	}
}
