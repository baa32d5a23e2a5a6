package otel

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Metrics 指标工厂
//
// 同名指标多次获取返回同一实例。
type Metrics interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// Counter 单调递增计数器
type Counter interface {
	Add(ctx context.Context, value int64, attrs ...Attr)
}

// Histogram 分布记录
type Histogram interface {
	Record(ctx context.Context, value float64, attrs ...Attr)
}

// Gauge 瞬时值
type Gauge interface {
	Set(ctx context.Context, value float64, attrs ...Attr)
}

// Attr 指标维度
type Attr struct {
	Key   string
	Value any
}

// NewAttr 创建指标维度
func NewAttr(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// seriesKey 把一组维度规整成与顺序无关的键
func seriesKey(attrs []Attr) string {
	if len(attrs) == 0 {
		return ""
	}
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = fmt.Sprintf("%s=%v", a.Key, a.Value)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// InMemoryMetrics 进程内指标，按维度分序列保存
//
// 测试里用它断言上下文管理器和会话上报的数值。
type InMemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*InMemoryCounter
	histograms map[string]*InMemoryHistogram
	gauges     map[string]*InMemoryGauge
}

// NewInMemoryMetrics 创建进程内指标
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:   make(map[string]*InMemoryCounter),
		histograms: make(map[string]*InMemoryHistogram),
		gauges:     make(map[string]*InMemoryGauge),
	}
}

func (m *InMemoryMetrics) Counter(name string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = &InMemoryCounter{series: make(map[string]int64)}
		m.counters[name] = c
	}
	return c
}

func (m *InMemoryMetrics) Histogram(name string) Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histograms[name]
	if !ok {
		h = &InMemoryHistogram{}
		m.histograms[name] = h
	}
	return h
}

func (m *InMemoryMetrics) Gauge(name string) Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gauges[name]
	if !ok {
		g = &InMemoryGauge{series: make(map[string]float64)}
		m.gauges[name] = g
	}
	return g
}

// GetCounterValue 返回计数器所有序列之和，未知指标返回 0
func (m *InMemoryMetrics) GetCounterValue(name string) int64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Value()
}

// CounterValueFor 返回计数器在指定维度组合下的值
func (m *InMemoryMetrics) CounterValueFor(name string, attrs ...Attr) int64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.ValueFor(attrs...)
}

// GetGaugeValue 返回仪表最近一次写入的值
func (m *InMemoryMetrics) GetGaugeValue(name string) float64 {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return g.Value()
}

// HistogramSummary 返回直方图的汇总，未知指标返回零值
func (m *InMemoryMetrics) HistogramSummary(name string) Summary {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if !ok {
		return Summary{}
	}
	return h.Summary()
}

// InMemoryCounter 进程内计数器
type InMemoryCounter struct {
	mu     sync.Mutex
	total  int64
	series map[string]int64
}

func (c *InMemoryCounter) Add(_ context.Context, value int64, attrs ...Attr) {
	c.mu.Lock()
	c.total += value
	c.series[seriesKey(attrs)] += value
	c.mu.Unlock()
}

// Value 所有序列之和
func (c *InMemoryCounter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// ValueFor 单个序列的值
func (c *InMemoryCounter) ValueFor(attrs ...Attr) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.series[seriesKey(attrs)]
}

// Summary 直方图汇总
type Summary struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

// Mean 平均值，空分布返回 0
func (s Summary) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// InMemoryHistogram 进程内直方图，保留原始样本
type InMemoryHistogram struct {
	mu     sync.Mutex
	values []float64
}

func (h *InMemoryHistogram) Record(_ context.Context, value float64, _ ...Attr) {
	h.mu.Lock()
	h.values = append(h.values, value)
	h.mu.Unlock()
}

// Values 样本副本，按记录顺序
func (h *InMemoryHistogram) Values() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]float64(nil), h.values...)
}

// Summary 样本汇总
func (h *InMemoryHistogram) Summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Summary{Count: len(h.values), Min: math.Inf(1), Max: math.Inf(-1)}
	for _, v := range h.values {
		s.Sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if s.Count == 0 {
		s.Min, s.Max = 0, 0
	}
	return s
}

// InMemoryGauge 进程内仪表
type InMemoryGauge struct {
	mu     sync.Mutex
	last   float64
	series map[string]float64
}

func (g *InMemoryGauge) Set(_ context.Context, value float64, attrs ...Attr) {
	g.mu.Lock()
	g.last = value
	g.series[seriesKey(attrs)] = value
	g.mu.Unlock()
}

// Value 最近一次写入的值，不区分维度
func (g *InMemoryGauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// ValueFor 单个序列的当前值
func (g *InMemoryGauge) ValueFor(attrs ...Attr) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.series[seriesKey(attrs)]
}

// NoopMetrics 丢弃所有数据
type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics { return &NoopMetrics{} }

func (*NoopMetrics) Counter(string) Counter     { return noopInstrument{} }
func (*NoopMetrics) Histogram(string) Histogram { return noopInstrument{} }
func (*NoopMetrics) Gauge(string) Gauge         { return noopInstrument{} }

type noopInstrument struct{}

func (noopInstrument) Add(context.Context, int64, ...Attr)      {}
func (noopInstrument) Record(context.Context, float64, ...Attr) {}
func (noopInstrument) Set(context.Context, float64, ...Attr)    {}

var (
	_ Metrics   = (*InMemoryMetrics)(nil)
	_ Metrics   = (*NoopMetrics)(nil)
	_ Counter   = (*InMemoryCounter)(nil)
	_ Histogram = (*InMemoryHistogram)(nil)
	_ Gauge     = (*InMemoryGauge)(nil)
)
