package context

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/clock"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/editstrategy"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/signals"
	"github.com/easyops/ctxwindow-go/pkg/store"
	"github.com/easyops/ctxwindow-go/pkg/tokens"
	"github.com/easyops/ctxwindow-go/pkg/usage"
)

// Manager 管理一个会话的上下文窗口。
//
// 所有对内容存储和活动上下文的修改都在同一把锁内串行执行，
// 因此可以同时被会话、工作区监听器和 HTTP 服务调用。
type Manager struct {
	mu sync.Mutex

	cfg     Config
	clock   clock.Clock
	logger  otel.Logger
	tracer  otel.Tracer
	metrics otel.Metrics

	estimator    *tokens.Estimator
	extractorFor func(path string) signals.Extractor
	store        *store.Store
	selector     *editstrategy.Selector
	resolver     *refs.Resolver
	usage        *usage.Tracker
	relevance    usage.RelevanceScorer
	tfidf        *usage.TFIDFScorer
	byContent    bool

	entries []Entry
	loaded  map[refs.Ref]struct{}
	diffs   map[refs.Ref]*DiffRecord
	diffSeq int64
	reqOpts tokens.RequestOptions

	// turnGen 在原始轮次增减时递增。
	turnGen int64
}

// ManagerOption 配置 Manager。
type ManagerOption func(*Manager)

// WithConfig 设置窗口配置。
func WithConfig(cfg Config) ManagerOption {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithClock 设置时间源。
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger 设置日志器。
func WithLogger(l otel.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTracer 设置追踪器。
func WithTracer(t otel.Tracer) ManagerOption {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithMetrics 设置指标收集器。
func WithMetrics(mt otel.Metrics) ManagerOption {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithRelevance 设置引用评分使用的相关性评分器。
func WithRelevance(r usage.RelevanceScorer) ManagerOption {
	return func(m *Manager) {
		m.relevance = r
	}
}

// WithContentRelevance 使用基于存储内容的 TF-IDF 相关性评分。
//
// 同时设置了 WithRelevance 时以后者为准。
func WithContentRelevance() ManagerOption {
	return func(m *Manager) {
		m.byContent = true
	}
}

// WithEstimator 设置 Token 估算器。
func WithEstimator(e *tokens.Estimator) ManagerOption {
	return func(m *Manager) {
		if e != nil {
			m.estimator = e
		}
	}
}

// WithExtractor 按路径选择结构信号提取器。
func WithExtractor(fn func(path string) signals.Extractor) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.extractorFor = fn
		}
	}
}

// WithRequestOptions 设置完整请求估算使用的系统提示词和工具定义。
func WithRequestOptions(opts tokens.RequestOptions) ManagerOption {
	return func(m *Manager) {
		m.reqOpts = opts
	}
}

// NewManager 创建上下文管理器。
//
// 未指定的依赖使用默认实现：真实时钟、空日志、空追踪和空指标。
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		cfg:          DefaultConfig(),
		clock:        clock.Real{},
		logger:       otel.NewNoopLogger(),
		tracer:       otel.NewNoopTracer(),
		metrics:      otel.NewNoopMetrics(),
		extractorFor: signals.ForPath,
		loaded:       make(map[refs.Ref]struct{}),
		diffs:        make(map[refs.Ref]*DiffRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}
	if m.estimator == nil {
		m.estimator = tokens.NewEstimator(tokens.WithModel(m.cfg.Model))
	}
	if m.reqOpts.Model == "" {
		m.reqOpts.Model = m.cfg.Model
	}

	m.selector = editstrategy.NewSelector(
		editstrategy.WithEstimator(m.estimator),
		editstrategy.WithExtractor(m.extractorFor),
	)
	m.attachStore(m.newStore(m.cfg))
	m.usage = m.newTracker()
	return m, nil
}

func (m *Manager) newStore(cfg Config) *store.Store {
	return store.New(
		store.WithClock(m.clock),
		store.WithEstimator(m.estimator),
		store.WithExtractor(m.extractorFor),
		store.WithTerminalCompressionAfter(cfg.TerminalCompressionAfter),
	)
}

// attachStore 切换内容存储，并重建依赖它的解析器和内容相关性评分器。
func (m *Manager) attachStore(st *store.Store) {
	m.store = st
	if m.byContent && (m.relevance == nil || m.relevance == usage.RelevanceScorer(m.tfidf)) {
		m.tfidf = usage.NewTFIDFScorer(storeContent{s: st})
		m.relevance = m.tfidf
	}
	m.resolver = m.newResolver()
}

func (m *Manager) newTracker() *usage.Tracker {
	return usage.NewTracker(
		usage.WithHalfLife(m.cfg.DecayHalfLife),
		usage.WithRelevance(m.relevance),
	)
}

func (m *Manager) newResolver() *refs.Resolver {
	return refs.NewResolver(m.store,
		refs.WithView(managerView{m: m}),
		refs.WithClock(m.clock),
		refs.WithHeadersOnlyByDefault(m.cfg.HeadersOnlyByDefault),
		refs.WithRecentWindow(m.cfg.RecentWindow),
		refs.WithExtractor(m.extractorFor),
	)
}

func (m *Manager) invalidateRelevance() {
	if m.tfidf != nil {
		m.tfidf.Invalidate()
	}
}

// Now 返回管理器时钟的当前时间。
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// Config 返回当前配置。
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// SetRequestOptions 替换完整请求估算使用的系统提示词和工具定义。
func (m *Manager) SetRequestOptions(opts tokens.RequestOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.Model == "" {
		opts.Model = m.cfg.Model
	}
	m.reqOpts = opts
}

// FileResult 是 Manager.SetFile 的结果。
type FileResult struct {
	Record  store.FileRecord `json:"record"`
	Created bool             `json:"created"`
	Changed bool             `json:"changed"`

	// Decision 是编辑流水线的策略决定，文件未加载或未变化时为 nil。
	Decision *editstrategy.Decision `json:"decision,omitempty"`

	// DiffRef 是新增差异条目的引用。
	DiffRef refs.Ref `json:"diff_ref,omitempty"`
}

// SetFile 写入文件内容。
//
// 文件已加载且内容发生变化时执行编辑流水线；否则只刷新已加载的表示。
func (m *Manager) SetFile(ctx context.Context, path, content string, meta map[string]interface{}) FileResult {
	ctx, span := m.tracer.Start(ctx, "context.set_file", otel.WithAttributes(otel.FilePath(path)))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	upd := m.store.SetFile(path, content, meta)
	if upd.Changed {
		m.invalidateRelevance()
	}
	res := FileResult{Record: upd.Record, Created: upd.Created, Changed: upd.Changed}

	fileRef := refs.File(path)
	if !m.isLoaded(fileRef) {
		return res
	}
	if upd.Changed && upd.Previous != nil && upd.Record.Diff != nil && upd.Record.Diff.HasChanges {
		dec, diffRef := m.applyEdit(ctx, path, *upd.Previous, upd.Record)
		res.Decision = &dec
		res.DiffRef = diffRef
		span.SetAttributes(otel.EditStrategy(string(dec.Strategy)))
		return res
	}
	m.rerender(fileRef)
	return res
}

// File 返回文件记录。
func (m *Manager) File(path string) (store.FileRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.File(path)
}

// Paths 返回已存储的文件路径。
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Paths()
}

// AddTerminalEntry 记录一次命令执行，并刷新已加载的终端引用。
func (m *Manager) AddTerminalEntry(command, output string, meta store.TerminalMeta) store.TerminalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.store.AddTerminalEntry(command, output, meta)
	for _, ref := range m.loadedRefs() {
		if ref.Kind() == refs.KindTerminal {
			m.rerender(ref)
		}
	}
	return rec
}

// Terminal 返回终端记录。
func (m *Manager) Terminal(id string) (store.TerminalRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Terminal(id)
}

// UpdateTask 创建或更新任务，并刷新已加载的任务引用。
func (m *Manager) UpdateTask(id string, u store.TaskUpdate) store.TaskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.store.UpdateTask(id, u)
	if ref := refs.Task(id); m.isLoaded(ref) {
		m.rerender(ref)
	}
	return rec
}

// Task 返回任务记录。
func (m *Manager) Task(id string) (store.TaskRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Task(id)
}

// AddMessage 追加一条原始对话轮次。
func (m *Manager) AddMessage(msg message.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendTurn(msg)
}

// AddAssistantMessage 追加模型回复。
func (m *Manager) AddAssistantMessage(content string) {
	m.AddMessage(message.Message{Role: message.RoleAssistant, Content: content})
}

// LoadedRefs 按条目顺序返回已加载引用。
func (m *Manager) LoadedRefs() []refs.Ref {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadedRefs()
}

// Entries 返回活动上下文条目的副本。
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Messages 返回活动上下文对应的消息列表。
func (m *Manager) Messages() []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages()
}

// TotalTokens 返回按配置模式估算的上下文 Token 数。
func (m *Manager) TotalTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalTokens()
}

func (m *Manager) appendTurn(msg message.Message) {
	if msg.Role == "" {
		msg.Role = message.RoleUser
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = m.clock.Now()
	}
	e := Entry{
		Role:      msg.Role,
		Content:   msg.Content,
		Parts:     msg.Parts,
		Level:     refs.LevelFull,
		Timestamp: ts,
	}
	e.Tokens = m.estimator.Estimate(e.Message())
	m.entries = append(m.entries, e)
	m.turnGen++
}

func (m *Manager) isLoaded(ref refs.Ref) bool {
	_, ok := m.loaded[ref]
	return ok
}

func (m *Manager) loadedRefs() []refs.Ref {
	out := make([]refs.Ref, 0, len(m.loaded))
	for _, e := range m.entries {
		if e.IsReference() {
			out = append(out, e.SourceRef)
		}
	}
	return out
}

func (m *Manager) indexOf(ref refs.Ref) int {
	for i, e := range m.entries {
		if e.SourceRef == ref {
			return i
		}
	}
	return -1
}

// appendRef 追加引用条目，同时登记到已加载集合。
func (m *Manager) appendRef(e Entry) {
	e.Timestamp = m.clock.Now()
	e.Tokens = m.estimator.Estimate(e.Message())
	m.entries = append(m.entries, e)
	m.loaded[e.SourceRef] = struct{}{}
}

// unload 移除引用条目及其已加载标记。
func (m *Manager) unload(ref refs.Ref) bool {
	delete(m.loaded, ref)
	i := m.indexOf(ref)
	if i < 0 {
		return false
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	return true
}

// rerender 在当前级别重新渲染已加载引用。
//
// pointer 占位保持不变。其他级别无法解析时逐级降低，
// 所有内容级别都无法解析时移除条目。
func (m *Manager) rerender(ref refs.Ref) bool {
	i := m.indexOf(ref)
	if i < 0 {
		return false
	}
	level := m.entries[i].Level
	if level == refs.LevelPointer {
		return true
	}
	for level != refs.LevelPointer {
		if content, ok := m.resolver.Resolve(ref, level); ok {
			m.setContent(i, content, level)
			return true
		}
		next, ok := level.Down()
		if !ok {
			break
		}
		level = next
	}
	m.unload(ref)
	return false
}

// refreshReference 重新渲染引用并记录一次使用。
func (m *Manager) refreshReference(ref refs.Ref) {
	if m.rerender(ref) {
		m.usage.Touch(ref, m.clock.Now())
	}
}

func (m *Manager) setContent(i int, content string, level refs.Level) {
	e := &m.entries[i]
	e.Content = content
	e.Level = level
	e.Timestamp = m.clock.Now()
	e.Tokens = m.estimator.Estimate(e.Message())
}

func (m *Manager) messages() []message.Message {
	out := make([]message.Message, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Message()
	}
	return out
}

func (m *Manager) totalTokens() int {
	return m.estimateWith(nil)
}

// estimateWith 估算在当前上下文后追加 extra 时的总 Token 数。
func (m *Manager) estimateWith(extra *Entry) int {
	msgs := m.messages()
	if extra != nil {
		msgs = append(msgs, extra.Message())
	}
	return m.estimator.EstimateMode(m.cfg.EstimateMode, msgs, m.reqOpts)
}

// sortedDiffRecords 按序号返回差异记录。
func (m *Manager) sortedDiffRecords() []*DiffRecord {
	out := make([]*DiffRecord, 0, len(m.diffs))
	for _, rec := range m.diffs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}
