package netlib

import "github.com/linchenxuan/netclient/metrics"

// MetricSink receives the queueing delay of every routed packet the game
// dequeues.
type MetricSink interface {
	OnRouteDelayResult(delayMs int)
}

// metricsSink reports route delays as average and maximum gauges.
type metricsSink struct{}

func (metricsSink) OnRouteDelayResult(delayMs int) {
	metrics.UpdateAvgGaugeWithGroup(metrics.NameRouteDelayAvgMS, metrics.GroupNetLib, metrics.Value(delayMs))
	metrics.UpdateMaxGaugeWithGroup(metrics.NameRouteDelayMaxMS, metrics.GroupNetLib, metrics.Value(delayMs))
}
