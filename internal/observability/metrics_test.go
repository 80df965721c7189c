package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/signalsfoundry/occupancy-monitor/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/occupancy.monitor.v1.MonitorService/GetSnapshot"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("MonitorService", "GetSnapshot", "OK")); got != 1 {
		t.Fatalf("monitor_api_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "monitor_api_request_duration_seconds", map[string]string{
		"service": "MonitorService",
		"method":  "GetSnapshot",
	}); count != 1 {
		t.Fatalf("monitor_api_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/occupancy.monitor.v1.MonitorService/MarkSafe"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("MonitorService", "MarkSafe", "NotFound")); got != 1 {
		t.Fatalf("monitor_api_requests_total error label = %v, want 1", got)
	}
}

func TestCollectorsReuseExistingRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	second, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("second NewEngineCollector: %v", err)
	}
	first.IncTicks()
	second.IncTicks()
	if got := testutil.ToFloat64(first.Ticks); got != 2 {
		t.Fatalf("monitor_ticks_total = %v, want 2 (shared collector)", got)
	}
}

func TestEngineCollectorGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	c.SetOccupancy(model.AggregateMetrics{
		FloorCounts: map[model.Floor]int{model.F1: 20, model.F2: 18, model.F3: 12},
		Safe:        30,
		Unsafe:      20,
		Total:       50,
	})
	c.SetEmergency(true, false)
	c.SetResponder(model.Responder{Lat: 12.9645, Lon: 77.7180})
	c.SetRefreshRunning(true)
	c.ObservePoll(PollOutcomeMalformed, 2*time.Millisecond)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"floor F1", testutil.ToFloat64(c.OccupantsByFloor.WithLabelValues("F1")), 20},
		{"floor F3", testutil.ToFloat64(c.OccupantsByFloor.WithLabelValues("F3")), 12},
		{"safe", testutil.ToFloat64(c.OccupantsByStatus.WithLabelValues("safe")), 30},
		{"unsafe", testutil.ToFloat64(c.OccupantsByStatus.WithLabelValues("unsafe")), 20},
		{"emergency", testutil.ToFloat64(c.EmergencyActive), 1},
		{"override", testutil.ToFloat64(c.OverrideActive), 0},
		{"responder lat", testutil.ToFloat64(c.ResponderPosition.WithLabelValues("lat")), 12.9645},
		{"refresh", testutil.ToFloat64(c.RefreshRunning), 1},
		{"malformed polls", testutil.ToFloat64(c.BridgePolls.WithLabelValues(PollOutcomeMalformed)), 1},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestNilEngineCollectorIsSafe(t *testing.T) {
	var c *EngineCollector
	c.SetOccupancy(model.AggregateMetrics{})
	c.IncTicks()
	c.ObservePoll(PollOutcomeEvent, time.Millisecond)
	c.SetEmergency(true, true)
	c.SetResponder(model.Responder{})
	c.SetRefreshRunning(false)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector should have nil gatherer")
	}
}

func TestMetricsHandlerExposesEngineGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	api, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}
	engine, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	engine.IncTicks()
	engine.SetRefreshRunning(true)
	api.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"monitor_api_requests_total",
		"monitor_ticks_total",
		"monitor_refresh_running",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"/occupancy.monitor.v1.MonitorService/Tick", "MonitorService", "Tick"},
		{"", "unknown", "unknown"},
		{"Tick", "unknown", "unknown"},
	}
	for _, tc := range cases {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.method {
			t.Errorf("SplitMethod(%q) = %q, %q; want %q, %q", tc.in, s, m, tc.service, tc.method)
		}
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("MONITOR_TRACING_ENABLED", "true")
	t.Setenv("MONITOR_TRACING_EXPORTER", "OTLP")
	t.Setenv("MONITOR_TRACING_SAMPLE_RATIO", "0.25")

	cfg := TracingConfigFromEnv(DefaultTracingConfig())
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected tracing config: %+v", cfg)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), DefaultTracingConfig(), nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
