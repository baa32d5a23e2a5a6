package otel_test

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/easyops/ctxwindow-go/pkg/otel"
)

func TestInMemoryMetrics_Counter(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	ctx := context.Background()

	metrics.Counter(otel.MetricContextAdmitted).Add(ctx, 5)
	metrics.Counter(otel.MetricContextAdmitted).Add(ctx, 3, otel.NewAttr("kind", "file"))

	if got := metrics.GetCounterValue(otel.MetricContextAdmitted); got != 8 {
		t.Fatalf("expected counter value 8, got %d", got)
	}
	if got := metrics.GetCounterValue("missing"); got != 0 {
		t.Fatalf("expected 0 for missing counter, got %d", got)
	}
}

func TestInMemoryMetrics_HistogramAndGauge(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	ctx := context.Background()

	h := metrics.Histogram(otel.MetricContextAssemblyTime)
	h.Record(ctx, 1.5)
	h.Record(ctx, 2.5)
	if values := h.(*otel.InMemoryHistogram).Values(); len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}

	g := metrics.Gauge(otel.MetricContextUtilization)
	g.Set(ctx, 0.4)
	g.Set(ctx, 0.6)
	if got := metrics.GetGaugeValue(otel.MetricContextUtilization); got != 0.6 {
		t.Fatalf("expected gauge value 0.6, got %f", got)
	}
}

func TestInMemoryMetrics_ConcurrentAccess(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.Counter("concurrent_counter").Add(ctx, 1)
		}()
	}
	wg.Wait()

	if got := metrics.GetCounterValue("concurrent_counter"); got != 100 {
		t.Fatalf("expected counter value 100, got %d", got)
	}
}

func TestOTelMetrics_ExportsThroughReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	metrics := otel.NewOTelMetrics(mp.Meter("test"))
	ctx := context.Background()

	metrics.Counter(otel.MetricContextEvicted).Add(ctx, 2, otel.NewAttr("kind", "terminal"))
	metrics.Counter(otel.MetricContextEvicted).Add(ctx, 1, otel.NewAttr("kind", "terminal"))
	metrics.Histogram(otel.MetricContextAssemblyTime).Record(ctx, 3)
	metrics.Gauge(otel.MetricContextTokens).Set(ctx, 1200)

	if metrics.Counter(otel.MetricContextEvicted) != metrics.Counter(otel.MetricContextEvicted) {
		t.Fatal("expected cached counter instance")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if m.Name != otel.MetricContextEvicted {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("expected Sum[int64], got %T", m.Data)
			}
			if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
				t.Fatalf("unexpected data points: %+v", sum.DataPoints)
			}
			if m.Description == "" {
				t.Error("predefined metric should carry a description")
			}
		}
	}
	for _, name := range []string{otel.MetricContextEvicted, otel.MetricContextAssemblyTime, otel.MetricContextTokens} {
		if !found[name] {
			t.Errorf("metric %s not exported", name)
		}
	}
}

func TestNoopMetrics(t *testing.T) {
	var metrics otel.Metrics = otel.NewNoopMetrics()
	ctx := context.Background()

	metrics.Counter("test").Add(ctx, 100)
	metrics.Histogram("test").Record(ctx, 1.5)
	metrics.Gauge("test").Set(ctx, 42.0)
}

func TestInMemoryMetrics_SeriesAndSummary(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	ctx := context.Background()

	c := metrics.Counter(otel.MetricContextEvicted)
	c.Add(ctx, 2, otel.NewAttr("kind", "terminal"), otel.NewAttr("level", "pointer"))
	c.Add(ctx, 1, otel.NewAttr("level", "pointer"), otel.NewAttr("kind", "terminal"))
	c.Add(ctx, 4, otel.NewAttr("kind", "file"))

	if got := metrics.CounterValueFor(otel.MetricContextEvicted, otel.NewAttr("kind", "terminal"), otel.NewAttr("level", "pointer")); got != 3 {
		t.Fatalf("terminal series = %d, want 3", got)
	}
	if got := metrics.GetCounterValue(otel.MetricContextEvicted); got != 7 {
		t.Fatalf("total = %d, want 7", got)
	}

	h := metrics.Histogram(otel.MetricContextAssemblyTime)
	for _, v := range []float64{4, 1, 7} {
		h.Record(ctx, v)
	}
	s := metrics.HistogramSummary(otel.MetricContextAssemblyTime)
	if s.Count != 3 || s.Min != 1 || s.Max != 7 || s.Mean() != 4 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if empty := metrics.HistogramSummary("missing"); empty.Count != 0 || empty.Mean() != 0 {
		t.Fatalf("expected zero summary, got %+v", empty)
	}

	g := metrics.Gauge(otel.MetricContextTokens).(*otel.InMemoryGauge)
	g.Set(ctx, 10, otel.NewAttr("session", "a"))
	g.Set(ctx, 20, otel.NewAttr("session", "b"))
	if g.ValueFor(otel.NewAttr("session", "a")) != 10 || g.Value() != 20 {
		t.Fatalf("unexpected gauge values a=%v last=%v", g.ValueFor(otel.NewAttr("session", "a")), g.Value())
	}
}
