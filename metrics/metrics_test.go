package metrics

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockReporter records every sample it receives.
type MockReporter struct {
	reportedRecords []Record
	mu              sync.Mutex
}

func NewMockReporter() *MockReporter {
	return &MockReporter{}
}

func (mr *MockReporter) Report(r Record) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.reportedRecords = append(mr.reportedRecords, *r.Clone())
}

func (mr *MockReporter) GetReportedRecords() []Record {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return append([]Record{}, mr.reportedRecords...)
}

func withMockReporter(t *testing.T) *MockReporter {
	t.Helper()
	mock := NewMockReporter()
	SetMetricsReporters([]Reporter{mock})
	t.Cleanup(func() { SetMetricsReporters(nil) })
	return mock
}

func TestCounter(t *testing.T) {
	mock := withMockReporter(t)

	IncrCounterWithGroup("test_counter", "test_group", 10)
	IncrCounterWithDimGroup("test_counter", "test_group", 5, Dimension{DimCmd: "msgIQuit"})

	records := mock.GetReportedRecords()
	require.Len(t, records, 2)
	assert.Equal(t, Value(10), records[0].Value())
	assert.Equal(t, "test_counter", records[0].Metrics().Name())
	assert.Equal(t, "test_group", records[0].Metrics().Group())
	assert.Equal(t, Policy_Sum, records[0].Metrics().Policy())
	assert.Equal(t, "msgIQuit", records[1].Dimensions()[DimCmd])
}

func TestGaugePolicies(t *testing.T) {
	mock := withMockReporter(t)

	UpdateGaugeWithGroup("g_set", "test", 3)
	UpdateAvgGaugeWithGroup("g_avg", "test", 4)
	UpdateMaxGaugeWithGroup("g_max", "test", 9)

	records := mock.GetReportedRecords()
	require.Len(t, records, 3)
	assert.Equal(t, Policy_Set, records[0].Metrics().Policy())
	assert.Equal(t, Policy_Avg, records[1].Metrics().Policy())
	_, cnt := records[1].RawData()
	assert.Equal(t, 1, cnt)
	assert.Equal(t, Policy_Max, records[2].Metrics().Policy())
}

func TestStopwatch(t *testing.T) {
	mock := withMockReporter(t)

	d := RecordStopwatchWithGroup("sw", "test", time.Now().Add(-20*time.Millisecond))
	assert.GreaterOrEqual(t, d, 20*time.Millisecond)

	records := mock.GetReportedRecords()
	require.Len(t, records, 1)
	assert.GreaterOrEqual(t, float64(records[0].Value()), 20.0)
}

func TestRecordMerge(t *testing.T) {
	avg := &gauge{name: "m", group: "g", policy: Policy_Avg}

	t.Run("avg", func(t *testing.T) {
		r := Record{metrics: avg, value: 10, cnt: 1}
		require.NoError(t, r.Merge(Record{metrics: avg, value: 20, cnt: 1}))
		assert.Equal(t, Value(15), r.Value())
	})

	t.Run("max", func(t *testing.T) {
		m := &gauge{name: "m", group: "g", policy: Policy_Max}
		r := Record{metrics: m, value: 10}
		require.NoError(t, r.Merge(Record{metrics: m, value: 7}))
		assert.Equal(t, Value(10), r.Value())
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		r := Record{metrics: avg, dimensions: Dimension{"a": "1"}}
		assert.Error(t, r.Merge(Record{metrics: avg, dimensions: Dimension{"a": "2"}}))
	})

	t.Run("name mismatch", func(t *testing.T) {
		r := Record{metrics: avg}
		assert.Error(t, r.Merge(Record{metrics: &counter{name: "other", group: "g"}}))
	})
}

func TestRemoveReporter(t *testing.T) {
	a, b := NewMockReporter(), NewMockReporter()
	SetMetricsReporters([]Reporter{a, b})
	t.Cleanup(func() { SetMetricsReporters(nil) })

	RemoveReporter(a)
	IncrCounterWithGroup("rm_counter", "test", 1)

	assert.Empty(t, a.GetReportedRecords())
	assert.Len(t, b.GetReportedRecords(), 1)
}

func TestPrometheusReporterServesMetrics(t *testing.T) {
	p, err := NewPrometheusReporter(&PrometheusReporterConfig{
		ListenAddr:        "127.0.0.1:0",
		EnableHealthCheck: true,
		ExtLabels:         map[string]string{"client": "test"},
	})
	require.NoError(t, err)
	defer p.Stop()

	SetMetricsReporters([]Reporter{p})
	t.Cleanup(func() { SetMetricsReporters(nil) })

	IncrCounterWithGroup(NameReliableSendTotal, GroupNetLib, 3)
	UpdateAvgGaugeWithGroup(NameRouteDelayAvgMS, GroupNetLib, 8)

	url := "http://" + p.Addr().String()
	assert.Eventually(t, func() bool {
		resp, err := http.Get(url + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return assert.ObjectsAreEqual(http.StatusOK, resp.StatusCode) &&
			containsAll(string(body), "netlib_reliable_send_total", "netlib_route_delay_avg_ms", `client="test"`)
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPrometheusConfigValidate(t *testing.T) {
	cfg := &PrometheusReporterConfig{UsePush: true}
	assert.Error(t, cfg.Validate())

	cfg.PushAddr = "http://127.0.0.1:9091"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15, cfg.PushIntervalSec)
	assert.Equal(t, "/metrics", cfg.MetricPath)
}

func TestPrometheusFactory(t *testing.T) {
	f := &PrometheusFactory{}
	ins, err := f.Setup(&PrometheusReporterConfig{})
	require.NoError(t, err)
	assert.Equal(t, "prometheus", ins.FactoryName())
	f.Destroy(ins)

	_, err = f.Setup("bad")
	assert.Error(t, err)
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
