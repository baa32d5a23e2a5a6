package context

import (
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/editstrategy"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/store"
)

const (
	// markerRetainedRatio 是差异标记相对差异文本保留的比例。
	markerRetainedRatio = 0.1

	// optimalPreservation 和 optimalSavings 定义效率的理想区间。
	optimalPreservation = 0.85
	optimalSavings      = 0.4
)

// Context 是活动上下文及其统计信息。
type Context struct {
	Messages []message.Message `json:"messages"`
	Metadata Metadata          `json:"metadata"`
}

// Metadata 是上下文的统计信息。
type Metadata struct {
	TotalTokens int         `json:"total_tokens"`
	MaxTokens   int         `json:"max_tokens"`
	Budget      int         `json:"budget"`
	Utilization float64     `json:"utilization"`
	LoadedRefs  []refs.Ref  `json:"loaded_refs"`
	StoreStats  store.Stats `json:"store_stats"`

	MemoryAnalysis        MemoryAnalysis        `json:"memory_analysis"`
	EditStrategyBreakdown EditStrategyBreakdown `json:"edit_strategy_breakdown"`
	ContextQuality        float64               `json:"context_quality"`
	EfficiencyGains       EfficiencyGains       `json:"efficiency_gains"`
}

// MemoryAnalysis 描述编辑策略节省的 Token。
type MemoryAnalysis struct {
	// TotalOriginalSize 是被编辑文件的原始 Token 总数。
	TotalOriginalSize int `json:"total_original_size"`

	// TotalSavings 是替换与标记策略节省的 Token 数。
	TotalSavings float64 `json:"total_savings"`

	// EfficiencyRatio 等于 TotalSavings / TotalOriginalSize。
	EfficiencyRatio float64 `json:"efficiency_ratio"`

	// MemoryFootprint 是当前上下文的 Token 数。
	MemoryFootprint int `json:"memory_footprint"`

	// ProjectedWithoutOptimization 是不做任何替换时的 Token 数。
	ProjectedWithoutOptimization float64 `json:"projected_without_optimization"`
}

// EditStrategyBreakdown 按策略统计活动上下文中的差异条目。
type EditStrategyBreakdown struct {
	KeepBoth                   int     `json:"keep_both"`
	ReplaceWithDiff            int     `json:"replace_with_diff"`
	DiffMarkerOnly             int     `json:"diff_marker_only"`
	TotalEdits                 int     `json:"total_edits"`
	AverageContextPreservation float64 `json:"average_context_preservation"`
	MemoryEfficiencyScore      float64 `json:"memory_efficiency_score"`
	ContextQualityScore        float64 `json:"context_quality_score"`
}

// EfficiencyGains 汇总节省比例与上下文保留率。
type EfficiencyGains struct {
	MemorySavingsPercentage       float64 `json:"memory_savings_percentage"`
	ContextPreservationPercentage float64 `json:"context_preservation_percentage"`
	IsOptimalRange                bool    `json:"is_optimal_range"`
	EfficiencyScore               float64 `json:"efficiency_score"`
}

// CurrentContext 返回活动上下文与统计信息。
func (m *Manager) CurrentContext() Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.totalTokens()
	meta := Metadata{
		TotalTokens: total,
		MaxTokens:   m.cfg.MaxTokens,
		Budget:      m.cfg.Budget(),
		LoadedRefs:  m.loadedRefs(),
		StoreStats:  m.store.Stats(),
	}
	if m.cfg.MaxTokens > 0 {
		meta.Utilization = float64(total) / float64(m.cfg.MaxTokens)
	}
	meta.MemoryAnalysis = m.memoryAnalysis(total)
	meta.EditStrategyBreakdown = m.editBreakdown()
	meta.ContextQuality = m.contextQuality()
	meta.EfficiencyGains = efficiencyGains(meta.MemoryAnalysis, meta.EditStrategyBreakdown)

	return Context{Messages: m.messages(), Metadata: meta}
}

// diffEntries 返回活动上下文中的差异条目及其记录。
func (m *Manager) diffEntries() []*DiffRecord {
	var out []*DiffRecord
	for _, e := range m.entries {
		if !e.IsDiffMarker {
			continue
		}
		if rec, ok := m.diffs[e.SourceRef]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (m *Manager) memoryAnalysis(footprint int) MemoryAnalysis {
	var a MemoryAnalysis
	for _, rec := range m.diffEntries() {
		orig := float64(rec.OriginalTokens)
		diffTokens := float64(rec.DiffTokens)
		switch rec.Strategy {
		case editstrategy.ReplaceWithDiff:
			a.TotalSavings += orig - diffTokens
		case editstrategy.DiffMarkerOnly:
			a.TotalSavings += orig - markerRetainedRatio*diffTokens
		}
		a.TotalOriginalSize += rec.OriginalTokens
	}
	if a.TotalOriginalSize > 0 {
		a.EfficiencyRatio = a.TotalSavings / float64(a.TotalOriginalSize)
	}
	a.MemoryFootprint = footprint
	a.ProjectedWithoutOptimization = float64(footprint) + a.TotalSavings
	return a
}

func (m *Manager) editBreakdown() EditStrategyBreakdown {
	b := EditStrategyBreakdown{
		AverageContextPreservation: 1,
		MemoryEfficiencyScore:      1,
	}
	var preservation, efficiency float64
	for _, rec := range m.diffEntries() {
		switch rec.Strategy {
		case editstrategy.KeepBoth:
			b.KeepBoth++
		case editstrategy.ReplaceWithDiff:
			b.ReplaceWithDiff++
		case editstrategy.DiffMarkerOnly:
			b.DiffMarkerOnly++
		}
		preservation += rec.Strategy.Preservation()
		efficiency += rec.Strategy.Efficiency()
		b.TotalEdits++
	}
	if b.TotalEdits > 0 {
		b.AverageContextPreservation = preservation / float64(b.TotalEdits)
		b.MemoryEfficiencyScore = efficiency / float64(b.TotalEdits)
	}
	b.ContextQualityScore = b.AverageContextPreservation
	return b
}

// contextQuality 返回条目质量的平均值：差异条目取其策略的保留率，其余条目为 1。
func (m *Manager) contextQuality() float64 {
	if len(m.entries) == 0 {
		return 1
	}
	var sum float64
	for _, e := range m.entries {
		if e.IsDiffMarker {
			sum += e.EditStrategy.Preservation()
			continue
		}
		sum++
	}
	return sum / float64(len(m.entries))
}

func efficiencyGains(a MemoryAnalysis, b EditStrategyBreakdown) EfficiencyGains {
	var savings float64
	if a.ProjectedWithoutOptimization > 0 {
		savings = (a.ProjectedWithoutOptimization - float64(a.MemoryFootprint)) / a.ProjectedWithoutOptimization
	}
	preservation := b.AverageContextPreservation
	return EfficiencyGains{
		MemorySavingsPercentage:       savings * 100,
		ContextPreservationPercentage: preservation * 100,
		IsOptimalRange:                preservation >= optimalPreservation && savings >= optimalSavings,
		EfficiencyScore:               savings*0.6 + preservation*0.4,
	}
}
