package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/netclient/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	_metricsChanSize     = 65536
	_serviceName         = "netclient"
	_healthCheckInterval = 30 * time.Second
)

type metricType int

const (
	_metricTypeCounter metricType = iota
	_metricTypeGauge
)

type metricOpt struct {
	subsystem   string
	name        string
	constLabels map[string]string
}

func newMetricOpt(rc *Record, extLabels map[string]string) *metricOpt {
	opts := &metricOpt{
		subsystem:   strings.ReplaceAll(rc.Metrics().Group(), ".", "_"),
		name:        strings.ReplaceAll(rc.Metrics().Name(), ".", "_"),
		constLabels: make(map[string]string, len(rc.Dimensions())+len(extLabels)),
	}
	for k, v := range extLabels {
		opts.constLabels[k] = v
	}
	for k, v := range rc.Dimensions() {
		opts.constLabels[k] = v
	}
	return opts
}

// promGauge keeps the running sum and count so averaging policies survive
// across reporting windows.
type promGauge struct {
	prometheus.Gauge
	value float64
	cnt   int
}

func (p *promGauge) merge(rc *Record) error {
	switch rc.Metrics().Policy() {
	case Policy_Set, Policy_Max, Policy_Min:
		p.Set(float64(rc.Value()))
	case Policy_Sum:
		p.Add(float64(rc.Value()))
	case Policy_Avg, Policy_Stopwatch:
		v, c := rc.RawData()
		p.value += float64(v)
		p.cnt += c
		if p.cnt <= 0 {
			return fmt.Errorf("metrics(%s) count invalid", rc.Metrics().Name())
		}
		p.Set(p.value / float64(p.cnt))
	default:
		return fmt.Errorf("metrics(%s) policy invalid", rc.Metrics().Name())
	}
	return nil
}

type metricWrapper struct {
	m  prometheus.Metric
	mt metricType
}

func (m *metricWrapper) merge(rc *Record) {
	switch m.mt {
	case _metricTypeGauge:
		if err := m.m.(*promGauge).merge(rc); err != nil {
			log.Error().Err(err).Msg("prometheus merge")
		}
	case _metricTypeCounter:
		if v := float64(rc.Value()); v >= 0 {
			m.m.(prometheus.Counter).Add(v)
		}
	}
}

// PrometheusReporterConfig configures the Prometheus reporter.
type PrometheusReporterConfig struct {
	Tag               string            `mapstructure:"tag"`
	ListenAddr        string            `mapstructure:"listenAddr"`
	MetricPath        string            `mapstructure:"metricPath"`
	UsePush           bool              `mapstructure:"usePush"`
	PushAddr          string            `mapstructure:"pushAddr"`
	PushIntervalSec   int               `mapstructure:"pushIntervalSec"`
	PushJobName       string            `mapstructure:"pushJobName"`
	ExtLabels         map[string]string `mapstructure:"extLabels"`
	EnableHealthCheck bool              `mapstructure:"enableHealthCheck"`
	HealthCheckPath   string            `mapstructure:"healthCheckPath"`
}

// GetName returns the configuration section name.
func (c *PrometheusReporterConfig) GetName() string {
	return "prometheus"
}

// Validate fills defaults and rejects inconsistent push settings.
func (c *PrometheusReporterConfig) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:0"
	}
	if c.MetricPath == "" {
		c.MetricPath = "/metrics"
	}
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = "/health"
	}
	if c.UsePush {
		if c.PushAddr == "" {
			return errors.New("prometheus push address is required when usePush is set")
		}
		if c.PushIntervalSec <= 0 {
			c.PushIntervalSec = 15
		}
		if c.PushJobName == "" {
			c.PushJobName = _serviceName
		}
	}
	return nil
}

// PrometheusReporter aggregates records on its own goroutine and exposes them
// through a private registry over HTTP and, optionally, a push gateway.
type PrometheusReporter struct {
	cfg          *PrometheusReporterConfig
	registry     *prometheus.Registry
	factory      promauto.Factory
	promSvr      *http.Server
	addr         net.Addr
	pusher       *push.Pusher
	metricsChan  chan Record
	metrics      map[string]*metricWrapper
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	stopOnce     sync.Once
	lastActivity atomic.Int64
	healthStatus atomic.Int32
}

// NewPrometheusReporter validates cfg and starts serving.
func NewPrometheusReporter(cfg *PrometheusReporterConfig) (*PrometheusReporter, error) {
	if cfg == nil {
		cfg = &PrometheusReporterConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := prometheus.NewRegistry()
	p := &PrometheusReporter{
		cfg:         cfg,
		registry:    reg,
		factory:     promauto.With(reg),
		metricsChan: make(chan Record, _metricsChanSize),
		metrics:     map[string]*metricWrapper{},
		ctx:         ctx,
		cancel:      cancel,
	}
	p.lastActivity.Store(time.Now().UnixNano())

	if err := p.start(); err != nil {
		cancel()
		return nil, err
	}
	return p, nil
}

// FactoryName implements plugin.Plugin.
func (x *PrometheusReporter) FactoryName() string {
	return "prometheus"
}

// Addr returns the HTTP listener address.
func (x *PrometheusReporter) Addr() net.Addr {
	return x.addr
}

// Report queues a record for aggregation. Records are dropped when the queue is full.
func (x *PrometheusReporter) Report(r Record) {
	select {
	case x.metricsChan <- r:
	default:
		log.Error().Str("metric", r.Metrics().Name()).Msg("metrics chan full")
	}
}

func (x *PrometheusReporter) start() error {
	if err := x.startHTTPSvr(); err != nil {
		return err
	}
	x.startAggregate()
	if x.cfg.UsePush {
		x.startPusher()
	}
	x.startHealthCheck()
	return nil
}

// Stop shuts down the HTTP server and background goroutines.
func (x *PrometheusReporter) Stop() {
	x.stopOnce.Do(func() {
		x.cancel()
		if x.promSvr != nil {
			if err := x.promSvr.Close(); err != nil {
				log.Error().Err(err).Msg("stop prometheus http server")
			}
		}
		x.wg.Wait()
	})
}

func (x *PrometheusReporter) startPusher() {
	x.pusher = push.New(x.cfg.PushAddr, x.cfg.PushJobName).Gatherer(x.registry)
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		t := time.NewTicker(time.Second * time.Duration(x.cfg.PushIntervalSec))
		defer t.Stop()
		for {
			select {
			case <-x.ctx.Done():
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(x.ctx, 5*time.Second)
				if err := x.pusher.PushContext(ctx); err != nil {
					log.Warn().Err(err).Str("addr", x.cfg.PushAddr).Msg("prometheus push")
				}
				cancel()
			}
		}
	}()
}

func (x *PrometheusReporter) startHTTPSvr() error {
	l, err := net.Listen("tcp", x.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("prometheus listen %s: %w", x.cfg.ListenAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(x.cfg.MetricPath, promhttp.HandlerFor(x.registry, promhttp.HandlerOpts{}))
	if x.cfg.EnableHealthCheck {
		mux.HandleFunc(x.cfg.HealthCheckPath, x.healthCheckHandler)
	}

	x.addr = l.Addr()
	x.promSvr = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := x.promSvr.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("prometheus http serve")
		}
	}()
	log.Info().Str("addr", x.addr.String()).Str("path", x.cfg.MetricPath).Msg("prometheus http listening")
	return nil
}

func (x *PrometheusReporter) startAggregate() {
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		for {
			select {
			case rc := <-x.metricsChan:
				x.lastActivity.Store(time.Now().UnixNano())
				x.merge(&rc)
			case <-x.ctx.Done():
				return
			}
		}
	}()
}

func (x *PrometheusReporter) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, code := "healthy", http.StatusOK
	if x.healthStatus.Load() != 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"service":   _serviceName,
		"timestamp": time.Now().Format(time.RFC3339),
		"queued":    len(x.metricsChan),
	})
}

func (x *PrometheusReporter) startHealthCheck() {
	if !x.cfg.EnableHealthCheck {
		return
	}
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		t := time.NewTicker(_healthCheckInterval)
		defer t.Stop()
		for {
			select {
			case <-x.ctx.Done():
				return
			case <-t.C:
				x.performHealthCheck()
			}
		}
	}()
}

// performHealthCheck marks the reporter unhealthy while the queue is nearly full.
func (x *PrometheusReporter) performHealthCheck() {
	usage := float64(len(x.metricsChan)) / float64(cap(x.metricsChan))
	if usage > 0.9 {
		x.healthStatus.Store(1)
		log.Warn().Float64("chan_usage", usage).Msg("metrics reporter unhealthy")
		return
	}
	x.healthStatus.Store(0)
}

func (x *PrometheusReporter) merge(rc *Record) {
	key := x.getFullName(rc)
	if m, exist := x.metrics[key]; exist {
		m.merge(rc)
		return
	}

	o := newMetricOpt(rc, x.cfg.ExtLabels)
	var w *metricWrapper
	switch rc.Metrics().(type) {
	case Counter:
		c := x.factory.NewCounter(prometheus.CounterOpts{
			Subsystem: o.subsystem, Name: o.name, Help: o.name, ConstLabels: o.constLabels,
		})
		w = &metricWrapper{m: c, mt: _metricTypeCounter}
	case StopWatch, Gauge:
		g := &promGauge{Gauge: x.factory.NewGauge(prometheus.GaugeOpts{
			Subsystem: o.subsystem, Name: o.name, Help: o.name, ConstLabels: o.constLabels,
		})}
		w = &metricWrapper{m: g, mt: _metricTypeGauge}
	default:
		log.Error().Str("metrictype", fmt.Sprintf("%T", rc.Metrics())).Msg("prometheus merge unknown")
		return
	}
	x.metrics[key] = w
	w.merge(rc)
}

// getFullName builds a stable key from group, name and sorted dimensions.
func (x *PrometheusReporter) getFullName(rc *Record) string {
	var sb strings.Builder
	sb.WriteString(rc.Metrics().Group())
	sb.WriteString("*")
	sb.WriteString(rc.Metrics().Name())
	sb.WriteString("*")

	keys := make([]string, 0, len(rc.Dimensions()))
	for k := range rc.Dimensions() {
		if _, ok := x.cfg.ExtLabels[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(":")
		sb.WriteString(rc.Dimensions()[k])
		sb.WriteString(",")
	}
	return sb.String()
}
