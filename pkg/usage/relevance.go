package usage

import (
	"strings"

	"github.com/easyops/ctxwindow-go/pkg/refs"
)

// RelevanceScorer 引用与当前意图的相关性评分，返回 [0, 1]
type RelevanceScorer interface {
	Relevance(ref refs.Ref, intent string) float64
}

// RelevanceFunc 函数形式的评分器
type RelevanceFunc func(ref refs.Ref, intent string) float64

// Relevance 实现 RelevanceScorer
func (f RelevanceFunc) Relevance(ref refs.Ref, intent string) float64 {
	return clamp01(f(ref, intent))
}

// NoRelevance 总是返回 0
type NoRelevance struct{}

// Relevance 实现 RelevanceScorer
func (NoRelevance) Relevance(refs.Ref, string) float64 { return 0 }

// SubstringScorer 引用文本包含意图时给出固定加分
type SubstringScorer struct {
	// Bonus 命中时的加分，零值使用 0.6
	Bonus float64
}

// Relevance 实现 RelevanceScorer
func (s SubstringScorer) Relevance(ref refs.Ref, intent string) float64 {
	if intent == "" || !strings.Contains(strings.ToLower(string(ref)), strings.ToLower(intent)) {
		return 0
	}
	if s.Bonus == 0 {
		return 0.6
	}
	return clamp01(s.Bonus)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// 编译时接口检查
var (
	_ RelevanceScorer = NoRelevance{}
	_ RelevanceScorer = SubstringScorer{}
	_ RelevanceScorer = RelevanceFunc(nil)
)
