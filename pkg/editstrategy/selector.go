package editstrategy

import (
	"math"
	"strings"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/diff"
	"github.com/easyops/ctxwindow-go/pkg/signals"
	"github.com/easyops/ctxwindow-go/pkg/store"
	"github.com/easyops/ctxwindow-go/pkg/tokens"
)

const (
	// defaultTotalLines 没有旧版本时假定的行数
	defaultTotalLines = 100
	// defaultOriginalTokens 没有旧版本时假定的 token 数
	defaultOriginalTokens = 1000
	// maxSummaryTokens 变更摘要的 token 上限
	maxSummaryTokens = 200
)

// Factors 影响策略的上下文因素
type Factors struct {
	signals.Factors
	// FormattingOnly 仅空白/格式变化
	FormattingOnly bool `json:"formatting_only"`
}

// Magnitude 编辑幅度
type Magnitude struct {
	ChangePercentage float64 `json:"change_percentage"`
	// TokenImpact 差异文本长度与原文件 token 数之比
	TokenImpact  float64 `json:"token_impact"`
	ChangeCount  int     `json:"change_count"`
	IsStructural bool    `json:"is_structural"`
	Factors      Factors `json:"factors"`
}

// Cost 单个策略的内存代价
type Cost struct {
	Tokens         float64 `json:"tokens"`
	Efficiency     float64 `json:"efficiency"`
	MemoryOverhead float64 `json:"memory_overhead"`
}

// Memory 三种策略的内存代价
type Memory struct {
	OriginalTokens  int  `json:"original_tokens"`
	DiffTokens      int  `json:"diff_tokens"`
	KeepBoth        Cost `json:"keep_both"`
	ReplaceWithDiff Cost `json:"replace_with_diff"`
	DiffMarkerOnly  Cost `json:"diff_marker_only"`
}

// Preservation 三种策略的上下文保留率
type Preservation struct {
	KeepBoth        float64 `json:"keep_both"`
	ReplaceWithDiff float64 `json:"replace_with_diff"`
	DiffMarkerOnly  float64 `json:"diff_marker_only"`
}

// Decision 策略选择结果
type Decision struct {
	Strategy     Strategy      `json:"strategy"`
	Magnitude    Magnitude     `json:"magnitude"`
	Memory       Memory        `json:"memory"`
	Preservation Preservation  `json:"preservation"`
	Reason       string        `json:"reason"`
	TTL          time.Duration `json:"ttl"`
}

// Selector 编辑策略选择器
//
// Select 只依赖入参，相同输入总是得到相同结果。
type Selector struct {
	estimator    *tokens.Estimator
	extractorFor func(path string) signals.Extractor
}

// Option 配置 Selector
type Option func(*Selector)

// WithEstimator 设置差异文本的 token 估算器
func WithEstimator(e *tokens.Estimator) Option {
	return func(s *Selector) {
		s.estimator = e
	}
}

// WithExtractor 按路径选择结构信号提取器
func WithExtractor(fn func(path string) signals.Extractor) Option {
	return func(s *Selector) {
		s.extractorFor = fn
	}
}

// NewSelector 创建选择器
func NewSelector(opts ...Option) *Selector {
	s := &Selector{
		estimator:    tokens.NewEstimator(),
		extractorFor: signals.ForPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select 为一次编辑选择呈现策略
//
// prev 为编辑前的文件记录，current 为编辑后的记录，仅用于判断是否只有格式变化。
func (s *Selector) Select(d diff.Result, prev, current store.FileRecord) Decision {
	ext := s.extractorFor(firstNonEmpty(current.Path, prev.Path))

	mag := s.magnitude(d, prev, current, ext)
	mem := s.memory(d, prev)
	pres := preservation(mag.Factors)

	strategy, reason := decide(mag, mem, pres)
	return Decision{
		Strategy:     strategy,
		Magnitude:    mag,
		Memory:       mem,
		Preservation: pres,
		Reason:       reason,
		TTL:          strategy.TTL(),
	}
}

func (s *Selector) magnitude(d diff.Result, prev, current store.FileRecord, ext signals.Extractor) Magnitude {
	totalLines := defaultTotalLines
	if prev.Path != "" || prev.Content != "" {
		totalLines = len(strings.Split(prev.Content, "\n"))
	}
	originalTokens := prev.EstimatedTokens
	if originalTokens == 0 {
		originalTokens = defaultOriginalTokens
	}

	formatting := prev.Content != "" && signals.IsFormattingOnly(prev.Content, current.Content)

	return Magnitude{
		ChangePercentage: float64(d.ChangeCount) / float64(totalLines),
		TokenImpact:      float64(len(d.Text)) / float64(originalTokens),
		ChangeCount:      d.ChangeCount,
		IsStructural:     ext.IsStructural(d.Text),
		Factors: Factors{
			Factors:        ext.Factors(d.Text),
			FormattingOnly: formatting,
		},
	}
}

func (s *Selector) memory(d diff.Result, prev store.FileRecord) Memory {
	orig := float64(prev.EstimatedTokens)
	if orig == 0 {
		orig = defaultOriginalTokens
	}
	diffTokens := s.estimator.Text(d.Text)
	dt := float64(diffTokens)
	summary := math.Min(maxSummaryTokens, dt*0.1)
	keepBoth := 2*orig + dt

	return Memory{
		OriginalTokens: int(orig),
		DiffTokens:     diffTokens,
		KeepBoth: Cost{
			Tokens:         keepBoth,
			Efficiency:     1.0,
			MemoryOverhead: (dt + orig) / orig,
		},
		ReplaceWithDiff: Cost{
			Tokens:         dt + orig,
			Efficiency:     keepBoth / (dt + orig),
			MemoryOverhead: dt / orig,
		},
		DiffMarkerOnly: Cost{
			Tokens:         summary + orig,
			Efficiency:     keepBoth / (summary + orig),
			MemoryOverhead: summary / orig,
		},
	}
}

func preservation(f Factors) Preservation {
	keepBoth := KeepBoth.Preservation()
	replace := ReplaceWithDiff.Preservation()
	marker := DiffMarkerOnly.Preservation()

	if f.FunctionChanges > 0 {
		replace += 0.05
	}
	if f.DependencyChanges > 0 {
		replace += 0.03
	}
	if f.CommentOnly {
		replace += 0.1
		marker += 0.2
	}
	if f.FormattingOnly {
		replace += 0.05
		marker += 0.1
	}

	return Preservation{
		KeepBoth:        math.Min(1, keepBoth),
		ReplaceWithDiff: math.Min(1, replace),
		DiffMarkerOnly:  math.Min(1, marker),
	}
}

// decide 按顺序应用决策表
func decide(m Magnitude, mem Memory, p Preservation) (Strategy, string) {
	f := m.Factors
	if f.CommentOnly || f.FormattingOnly {
		return ReplaceWithDiff, "comment or formatting only"
	}
	if m.ChangePercentage < 0.05 && f.FunctionChanges > 0 {
		return KeepBoth, "small function-level change"
	}
	if m.ChangePercentage > 0.5 || m.IsStructural || p.ReplaceWithDiff < 0.6 {
		return DiffMarkerOnly, "large or structural change"
	}
	if m.ChangePercentage >= 0.1 && m.ChangePercentage <= 0.5 {
		if mem.ReplaceWithDiff.Efficiency > 1.5 && 1-p.ReplaceWithDiff < 0.2 {
			return ReplaceWithDiff, "medium change with good preservation"
		}
	}
	return ReplaceWithDiff, "default"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
