package context

import (
	"context"
	"sort"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/refs"
)

// AssembleOptions 控制一次上下文组装。
type AssembleOptions struct {
	// Pins 是本轮强制以 full 级别加载的引用。
	Pins []refs.Ref `json:"pins,omitempty"`

	// Intent 传给相关性评分器。
	Intent string `json:"intent,omitempty"`
}

// Result 是一次上下文组装的结果。
type Result struct {
	// Messages 是按顺序发送给模型的消息。
	Messages []message.Message `json:"messages"`

	// Entries 是组装后的活动上下文。
	Entries []Entry `json:"entries"`

	// TotalTokens 是组装后的估算 Token 数。
	TotalTokens int `json:"total_tokens"`

	// Budget 是本轮使用的 Token 预算。
	Budget int `json:"budget"`

	// Candidates 是按评分降序排列的候选引用。
	Candidates []refs.Ref `json:"candidates"`

	Admitted []refs.Ref `json:"admitted,omitempty"`
	Degraded []refs.Ref `json:"degraded,omitempty"`
	Evicted  []refs.Ref `json:"evicted,omitempty"`
	Expired  []refs.Ref `json:"expired,omitempty"`

	// BudgetExceeded 为 true 表示只剩原始对话轮次时仍超出预算。
	BudgetExceeded bool `json:"budget_exceeded"`
}

// AssembleContext 为一条新消息组装上下文。
//
// 流程依次为：处理到期差异、衰减使用统计、追加消息、提取并评分候选引用、
// 在预算内装入、逐级降级、按评分驱逐。ctx 在任何修改之前已取消时返回 ctx.Err()
// 且不改变状态；装入开始后不再检查 ctx。
func (m *Manager) AssembleContext(ctx context.Context, msg message.Message, opts AssembleOptions) (Result, error) {
	ctx, span := m.tracer.Start(ctx, "context.assemble")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		otel.Fail(span, err)
		return Result{}, err
	}

	start := time.Now()
	now := m.clock.Now()
	res := Result{Budget: m.cfg.Budget()}

	res.Expired = m.checkExpirations(ctx, now)
	m.usage.Decay(now)

	if msg.Role == "" {
		msg.Role = message.RoleUser
	}
	m.appendTurn(msg)

	candidates, mentioned, pinned := m.candidates(msg.Text(), opts.Pins)
	scores := make(map[refs.Ref]float64, len(candidates))
	for _, ref := range candidates {
		scores[ref] = m.usage.Score(ref, opts.Intent, now)
	}
	sortByScoreDesc(candidates, scores)
	res.Candidates = candidates

	res.Admitted = m.pack(candidates, mentioned, pinned, res.Budget, now)
	for _, ref := range res.Admitted {
		if _, ok := scores[ref]; !ok {
			scores[ref] = m.usage.Score(ref, opts.Intent, now)
		}
	}
	res.Degraded = m.degrade(scores, res.Budget)
	res.Evicted = m.evict(scores, res.Budget)

	res.TotalTokens = m.totalTokens()
	res.BudgetExceeded = res.TotalTokens > res.Budget
	res.Messages = m.messages()
	res.Entries = make([]Entry, len(m.entries))
	copy(res.Entries, m.entries)

	m.record(ctx, span, res, time.Since(start))
	return res, nil
}

// candidates 返回去重后的候选引用：本轮提取、固定引用、已加载引用。
func (m *Manager) candidates(text string, pins []refs.Ref) ([]refs.Ref, map[refs.Ref]bool, map[refs.Ref]bool) {
	mentioned := make(map[refs.Ref]bool)
	pinned := make(map[refs.Ref]bool)
	seen := make(map[refs.Ref]bool)
	var out []refs.Ref

	add := func(ref refs.Ref) {
		if !ref.Valid() || seen[ref] {
			return
		}
		seen[ref] = true
		out = append(out, ref)
	}

	for _, ref := range m.resolver.Extract(text) {
		mentioned[ref] = true
		add(ref)
	}
	for _, ref := range pins {
		if ref.Valid() {
			pinned[ref] = true
		}
		add(ref)
	}
	for _, ref := range m.loadedRefs() {
		add(ref)
	}
	return out, mentioned, pinned
}

// pack 按评分从高到低装入未加载的候选引用。
//
// 放不下时逐级降低表示级别，不会以 pointer 级别装入。已加载的引用视为已放置；
// 本轮提到或固定的 pointer 条目会尝试提升回可用级别。
func (m *Manager) pack(candidates []refs.Ref, mentioned, pinned map[refs.Ref]bool, budget int, now time.Time) []refs.Ref {
	var admitted []refs.Ref
	total := m.totalTokens()

	for _, ref := range candidates {
		level := m.resolver.InitialLevel(ref, mentioned[ref])
		if pinned[ref] {
			level = refs.LevelFull
		}

		if m.isLoaded(ref) {
			if !mentioned[ref] && !pinned[ref] {
				continue
			}
			m.usage.Touch(ref, now)
			if total < budget && m.promote(ref, level, budget) {
				admitted = append(admitted, ref)
				total = m.totalTokens()
			}
			continue
		}
		if total >= budget {
			break
		}

		for level != refs.LevelPointer {
			if content, ok := m.resolver.Resolve(ref, level); ok {
				e := Entry{
					Role:      message.RoleSystem,
					Content:   content,
					SourceRef: ref,
					Level:     level,
				}
				if next := m.estimateWith(&e); next <= budget {
					m.appendRef(e)
					m.usage.Touch(ref, now)
					admitted = append(admitted, ref)
					total = next
					break
				}
			}
			next, ok := level.Down()
			if !ok {
				break
			}
			level = next
		}
	}
	return admitted
}

// promote 把 pointer 级别的已加载条目提升到 level 或其下第一个放得下的级别。
//
// 所有级别都放不下时条目保持原样。
func (m *Manager) promote(ref refs.Ref, level refs.Level, budget int) bool {
	i := m.indexOf(ref)
	if i < 0 || m.entries[i].Level != refs.LevelPointer {
		return false
	}
	prev := m.entries[i]
	for level != refs.LevelPointer {
		if content, ok := m.resolver.Resolve(ref, level); ok {
			m.setContent(i, content, level)
			if m.totalTokens() <= budget {
				return true
			}
		}
		next, ok := level.Down()
		if !ok {
			break
		}
		level = next
	}
	m.entries[i] = prev
	return false
}

// degrade 逐轮降低引用条目的级别，每轮按评分从低到高各降一级，
// 直到回到预算内或全部条目都在 pointer 级别。
func (m *Manager) degrade(scores map[refs.Ref]float64, budget int) []refs.Ref {
	var degraded []refs.Ref
	total := m.totalTokens()

	for total > budget {
		stepped := false
		for _, ref := range m.refsByScore(scores) {
			if total <= budget {
				break
			}
			if m.stepDown(ref) {
				stepped = true
				degraded = append(degraded, ref)
				total = m.totalTokens()
			}
		}
		if !stepped {
			break
		}
	}
	return degraded
}

// stepDown 把引用条目降到下一个可解析的级别并重新渲染。
//
// 无法解析的中间级别直接跳过；pointer 级别保留为 @ref 占位，由 evict 移除。
func (m *Manager) stepDown(ref refs.Ref) bool {
	i := m.indexOf(ref)
	if i < 0 {
		return false
	}
	level := m.entries[i].Level
	for {
		next, ok := level.Down()
		if !ok {
			return false
		}
		if content, ok := m.resolver.Resolve(ref, next); ok {
			m.setContent(i, content, next)
			return true
		}
		level = next
	}
}

// evict 按评分从低到高移除引用条目，直到回到预算内。原始轮次不受影响。
func (m *Manager) evict(scores map[refs.Ref]float64, budget int) []refs.Ref {
	var evicted []refs.Ref
	total := m.totalTokens()
	for _, ref := range m.refsByScore(scores) {
		if total <= budget {
			break
		}
		if m.unload(ref) {
			evicted = append(evicted, ref)
			total = m.totalTokens()
		}
	}
	return evicted
}

func sortByScoreDesc(rs []refs.Ref, scores map[refs.Ref]float64) {
	sort.SliceStable(rs, func(i, j int) bool {
		return scores[rs[i]] > scores[rs[j]]
	})
}

// refsByScore 按评分升序返回已加载引用，评分相同时保持条目顺序。
func (m *Manager) refsByScore(scores map[refs.Ref]float64) []refs.Ref {
	loaded := m.loadedRefs()
	sort.SliceStable(loaded, func(i, j int) bool {
		return scores[loaded[i]] < scores[loaded[j]]
	})
	return loaded
}

func (m *Manager) record(ctx context.Context, span otel.Span, res Result, elapsed time.Duration) {
	span.SetAttributes(otel.ContextBudget(res.TotalTokens, res.Budget)...)
	span.SetAttributes(otel.ContextAssembly(
		len(res.Candidates), len(res.Admitted), len(res.Degraded), len(res.Evicted), res.BudgetExceeded)...)

	m.metrics.Counter(otel.MetricContextAssemblies).Add(ctx, 1)
	m.metrics.Histogram(otel.MetricContextAssemblyTime).Record(ctx, float64(elapsed.Milliseconds()))
	m.metrics.Gauge(otel.MetricContextTokens).Set(ctx, float64(res.TotalTokens))
	if m.cfg.MaxTokens > 0 {
		m.metrics.Gauge(otel.MetricContextUtilization).Set(ctx, float64(res.TotalTokens)/float64(m.cfg.MaxTokens))
	}
	m.metrics.Counter(otel.MetricContextAdmitted).Add(ctx, int64(len(res.Admitted)))
	m.metrics.Counter(otel.MetricContextDegraded).Add(ctx, int64(len(res.Degraded)))
	m.metrics.Counter(otel.MetricContextEvicted).Add(ctx, int64(len(res.Evicted)))

	if res.BudgetExceeded {
		m.metrics.Counter(otel.MetricContextBudgetOver).Add(ctx, 1)
		m.logger.Warn("context budget exceeded with only raw turns left",
			"total_tokens", res.TotalTokens,
			"budget", res.Budget,
			"entries", len(res.Entries),
		)
	}
}
