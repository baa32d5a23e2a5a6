// Package usage 维护引用的使用统计与优先级
package usage

import (
	"math"
	"sort"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/refs"
)

const (
	// DefaultHalfLife 优先级衰减半衰期
	DefaultHalfLife = 45 * time.Minute
	// recencyScale 评分中 recency 的时间尺度
	recencyScale = 120 * time.Second
)

// Stats 单个引用的使用统计
type Stats struct {
	LastUsedAt time.Time `json:"last_used_at"`
	UseCount   int       `json:"use_count"`
	Priority   float64   `json:"priority"`
}

// Entry 快照中的一条统计
type Entry struct {
	Ref   refs.Ref `json:"ref"`
	Stats Stats    `json:"stats"`
}

// Tracker 引用使用统计
//
// 统计条目只增不删。Tracker 不做并发保护，由调用方串行访问。
type Tracker struct {
	stats     map[refs.Ref]*Stats
	halfLife  time.Duration
	relevance RelevanceScorer
}

// Option 配置 Tracker
type Option func(*Tracker)

// WithHalfLife 设置衰减半衰期
func WithHalfLife(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.halfLife = d
		}
	}
}

// WithRelevance 设置相关性评分器
func WithRelevance(r RelevanceScorer) Option {
	return func(t *Tracker) {
		if r != nil {
			t.relevance = r
		}
	}
}

// NewTracker 创建统计器
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		stats:     make(map[refs.Ref]*Stats),
		halfLife:  DefaultHalfLife,
		relevance: NoRelevance{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Touch 记录一次使用
func (t *Tracker) Touch(ref refs.Ref, now time.Time) {
	s, ok := t.stats[ref]
	if !ok {
		s = &Stats{}
		t.stats[ref] = s
	}
	s.UseCount++
	s.LastUsedAt = now
}

// Get 返回引用的统计
func (t *Tracker) Get(ref refs.Ref) (Stats, bool) {
	s, ok := t.stats[ref]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// LastUsed 返回最近一次使用时间
func (t *Tracker) LastUsed(ref refs.Ref) (time.Time, bool) {
	s, ok := t.stats[ref]
	if !ok || s.LastUsedAt.IsZero() {
		return time.Time{}, false
	}
	return s.LastUsedAt, true
}

// Decay 按半衰期重新计算所有引用的优先级
//
// priority = (0.4·max(use−1, 0) + 0.6·recencyBoost) · 0.5^(age/halfLife)
func (t *Tracker) Decay(now time.Time) {
	for _, s := range t.stats {
		boost := 0.0
		var age time.Duration
		if !s.LastUsedAt.IsZero() {
			boost = 1
			age = now.Sub(s.LastUsedAt)
			if age < 0 {
				age = 0
			}
		}
		use := math.Max(0, float64(s.UseCount-1))
		decay := math.Pow(0.5, float64(age)/float64(t.halfLife))
		s.Priority = (0.4*use + 0.6*boost) * decay
	}
}

// Score 计算排序用的综合得分
//
// score = 0.45·recency + 0.35·tanh(use/5) + 0.20·typeWeight + relevance
func (t *Tracker) Score(ref refs.Ref, intent string, now time.Time) float64 {
	var s Stats
	if p, ok := t.stats[ref]; ok {
		s = *p
	}
	freq := math.Tanh(float64(s.UseCount) / 5)
	return 0.45*recency(s.LastUsedAt, now) + 0.35*freq + 0.2*TypeWeight(ref) + t.relevance.Relevance(ref, intent)
}

// recency 刚使用时为 1，随时间单调下降；从未使用为 0
func recency(last, now time.Time) float64 {
	if last.IsZero() {
		return 0
	}
	age := now.Sub(last)
	if age < 0 {
		age = 0
	}
	return 2 / (1 + math.Exp(float64(age)/float64(recencyScale)))
}

// TypeWeight 引用类型的固定权重
func TypeWeight(ref refs.Ref) float64 {
	switch ref.Kind() {
	case refs.KindFile:
		return 1.0
	case refs.KindTask:
		return 0.9
	case refs.KindTerminal:
		return 0.7
	default:
		return 0.6
	}
}

// Len 返回统计条目数
func (t *Tracker) Len() int {
	return len(t.stats)
}

// Snapshot 按引用排序导出统计
func (t *Tracker) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.stats))
	for ref, s := range t.stats {
		out = append(out, Entry{Ref: ref, Stats: *s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Restore 用快照替换全部统计
func (t *Tracker) Restore(entries []Entry) {
	stats := make(map[refs.Ref]*Stats, len(entries))
	for _, e := range entries {
		s := e.Stats
		stats[e.Ref] = &s
	}
	t.stats = stats
}
