package metrics

import (
	"fmt"

	"github.com/linchenxuan/netclient/plugin"
)

// PrometheusFactory builds PrometheusReporter plugins and registers them as
// global reporters.
type PrometheusFactory struct{}

func (f *PrometheusFactory) Type() plugin.Type {
	return plugin.Metrics
}

func (f *PrometheusFactory) Name() string {
	return "prometheus"
}

func (f *PrometheusFactory) ConfigType() any {
	return &PrometheusReporterConfig{}
}

func (f *PrometheusFactory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*PrometheusReporterConfig)
	if !ok {
		return nil, fmt.Errorf("prometheus: unexpected config type %T", cfgAny)
	}
	p, err := NewPrometheusReporter(cfg)
	if err != nil {
		return nil, err
	}
	AddReporter(p)
	return p, nil
}

func (f *PrometheusFactory) Destroy(p plugin.Plugin) {
	if prom, ok := p.(*PrometheusReporter); ok {
		RemoveReporter(prom)
		prom.Stop()
	}
}
