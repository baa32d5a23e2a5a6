// Package diff 计算文件版本之间的行级差异。
//
// 算法不是完整的 LCS：遇到不同的行时只在一个小窗口内向前查找下一个相同行，
// 以此区分插入、删除和修改，复杂度 O(n·k)。相邻的变更被合并成 hunk，
// 每个 hunk 前后带若干行上下文。
package diff

import (
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

// OpType 变更操作类型
type OpType string

const (
	// OpAdd 新增行
	OpAdd OpType = "add"
	// OpDelete 删除行
	OpDelete OpType = "delete"
	// OpModify 修改行
	OpModify OpType = "modify"
)

// ChangeType 整体变更类型
type ChangeType string

const (
	ChangeNone      ChangeType = "none"
	ChangeRefactor  ChangeType = "refactor"
	ChangeExpansion ChangeType = "expansion"
	ChangeReduction ChangeType = "reduction"
	ChangeMixed     ChangeType = "mixed"
)

// Change 单个行级变更
type Change struct {
	Type OpType `json:"type"`
	// OldIndex 旧文件中的行号（从 0 开始）；新增行为插入位置
	OldIndex int `json:"old_index"`
	// NewIndex 新文件中的行号（从 0 开始）；删除行为删除发生的位置
	NewIndex int    `json:"new_index"`
	OldLine  string `json:"old_line,omitempty"`
	NewLine  string `json:"new_line,omitempty"`
}

// oldEnd 变更在旧文件中占用区间的结束位置（不含）
func (c Change) oldEnd() int {
	if c.Type == OpAdd {
		return c.OldIndex
	}
	return c.OldIndex + 1
}

// LineKind 渲染行类型
type LineKind int

const (
	LineContext LineKind = iota
	LineRemoved
	LineAdded
)

// Line 渲染后的一行
type Line struct {
	Kind LineKind `json:"kind"`
	Text string   `json:"text"`
}

// Hunk 一组相邻变更及其上下文，起始行号从 0 开始
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Lines    []Line `json:"lines"`
}

// Result 差异结果
type Result struct {
	HasChanges bool   `json:"has_changes"`
	Text       string `json:"text"`
	// ChangeCount 变更数，修改行计为 1
	ChangeCount int        `json:"change_count"`
	Changes     []Change   `json:"changes,omitempty"`
	Hunks       []Hunk     `json:"hunks,omitempty"`
	ChangeType  ChangeType `json:"change_type"`
	// ContextQuality 上下文质量 [0, 1]
	ContextQuality float64 `json:"context_quality"`
	// MemoryEfficiency 差异相对原文的压缩程度 [0.1, 1]
	MemoryEfficiency float64 `json:"memory_efficiency"`
	OldLines         int     `json:"old_lines"`
	NewLines         int     `json:"new_lines"`
	Additions        int     `json:"additions"`
	Deletions        int     `json:"deletions"`
}

const (
	// DefaultLookAhead 向前查找相同行的窗口
	DefaultLookAhead = 5
	// DefaultGroupDistance 合并变更的最大行距
	DefaultGroupDistance = 3
	// DefaultContextLines hunk 前后的上下文行数
	DefaultContextLines = 3
	// DefaultCacheSize 结果缓存上限
	DefaultCacheSize = 256

	hunkSeparator = "  ..."
)

// Engine 差异引擎，按内容哈希缓存结果
type Engine struct {
	lookAhead     int
	groupDistance int
	contextLines  int
	cacheSize     int

	mu    sync.Mutex
	cache map[cacheKey]Result
}

type cacheKey struct {
	oldHash [32]byte
	newHash [32]byte
}

// Option 配置 Engine
type Option func(*Engine)

// WithLookAhead 设置向前查找窗口
func WithLookAhead(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.lookAhead = n
		}
	}
}

// WithGroupDistance 设置合并变更的最大行距
func WithGroupDistance(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.groupDistance = n
		}
	}
}

// WithContextLines 设置上下文行数
func WithContextLines(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.contextLines = n
		}
	}
}

// WithCacheSize 设置缓存上限，0 表示不缓存
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// NewEngine 创建差异引擎
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		lookAhead:     DefaultLookAhead,
		groupDistance: DefaultGroupDistance,
		contextLines:  DefaultContextLines,
		cacheSize:     DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = make(map[cacheKey]Result)
	return e
}

// Diff 计算 oldContent 到 newContent 的差异
//
// 内容相同时 HasChanges=false 且 ChangeCount=0。
func (e *Engine) Diff(oldContent, newContent string) Result {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	if oldContent == newContent {
		return Result{
			ChangeType:       ChangeNone,
			ContextQuality:   1,
			MemoryEfficiency: 1,
			OldLines:         len(oldLines),
			NewLines:         len(newLines),
		}
	}

	var key cacheKey
	if e.cacheSize > 0 {
		key = cacheKey{oldHash: blake3.Sum256([]byte(oldContent)), newHash: blake3.Sum256([]byte(newContent))}
		e.mu.Lock()
		cached, ok := e.cache[key]
		e.mu.Unlock()
		if ok {
			return cached
		}
	}

	changes := computeChanges(oldLines, newLines, e.lookAhead)
	groups := groupChanges(changes, e.groupDistance)

	result := Result{
		HasChanges: true,
		Changes:    changes,
		ChangeType: classify(changes),
		OldLines:   len(oldLines),
		NewLines:   len(newLines),
	}

	var rendered []string
	contextCount := 0
	for i, g := range groups {
		h := e.buildHunk(oldLines, g)
		result.Hunks = append(result.Hunks, h)
		for _, l := range h.Lines {
			switch l.Kind {
			case LineContext:
				rendered = append(rendered, "  "+l.Text)
				contextCount++
			case LineRemoved:
				rendered = append(rendered, "- "+l.Text)
				result.Deletions++
			case LineAdded:
				rendered = append(rendered, "+ "+l.Text)
				result.Additions++
			}
		}
		if i < len(groups)-1 {
			rendered = append(rendered, hunkSeparator)
		}
	}

	result.ChangeCount = len(changes)
	result.Text = strings.Join(rendered, "\n")
	result.ContextQuality = contextQuality(result.ChangeCount, contextCount, len(rendered))
	result.MemoryEfficiency = memoryEfficiency(len(rendered), len(oldLines))

	if e.cacheSize > 0 {
		e.mu.Lock()
		if len(e.cache) >= e.cacheSize {
			e.cache = make(map[cacheKey]Result)
		}
		e.cache[key] = result
		e.mu.Unlock()
	}

	return result
}

// computeChanges 逐行比较，在窗口内查找下一个相同行来区分插入/删除/修改
func computeChanges(oldLines, newLines []string, window int) []Change {
	var changes []Change
	oi, ni := 0, 0

	for oi < len(oldLines) || ni < len(newLines) {
		switch {
		case oi >= len(oldLines):
			changes = append(changes, Change{Type: OpAdd, OldIndex: oi, NewIndex: ni, NewLine: newLines[ni]})
			ni++
		case ni >= len(newLines):
			changes = append(changes, Change{Type: OpDelete, OldIndex: oi, NewIndex: ni, OldLine: oldLines[oi]})
			oi++
		case oldLines[oi] == newLines[ni]:
			oi++
			ni++
		default:
			nextOld := findNextMatch(oldLines, oi+1, newLines[ni], window)
			nextNew := findNextMatch(newLines, ni+1, oldLines[oi], window)

			switch {
			case nextOld != -1 && (nextNew == -1 || nextOld < nextNew):
				changes = append(changes, Change{Type: OpDelete, OldIndex: oi, NewIndex: ni, OldLine: oldLines[oi]})
				oi++
			case nextNew != -1:
				changes = append(changes, Change{Type: OpAdd, OldIndex: oi, NewIndex: ni, NewLine: newLines[ni]})
				ni++
			default:
				changes = append(changes, Change{
					Type: OpModify, OldIndex: oi, NewIndex: ni,
					OldLine: oldLines[oi], NewLine: newLines[ni],
				})
				oi++
				ni++
			}
		}
	}
	return changes
}

// findNextMatch 在 [start, start+window) 内查找 target，未找到返回 -1
func findNextMatch(lines []string, start int, target string, window int) int {
	end := start + window
	if end > len(lines) {
		end = len(lines)
	}
	for i := start; i < end; i++ {
		if lines[i] == target {
			return i
		}
	}
	return -1
}

// groupChanges 把旧文件行距不超过 distance 的变更合并为一组
func groupChanges(changes []Change, distance int) [][]Change {
	if len(changes) == 0 {
		return nil
	}

	var groups [][]Change
	current := []Change{changes[0]}
	last := changes[0].OldIndex

	for _, c := range changes[1:] {
		if c.OldIndex-last <= distance {
			current = append(current, c)
		} else {
			groups = append(groups, current)
			current = []Change{c}
		}
		last = c.OldIndex
	}
	return append(groups, current)
}

// buildHunk 渲染一组变更，组内未变化的行作为上下文保留
func (e *Engine) buildHunk(oldLines []string, group []Change) Hunk {
	first := group[0]
	start := first.OldIndex - e.contextLines
	if start < 0 {
		start = 0
	}

	h := Hunk{OldStart: start, NewStart: first.NewIndex - (first.OldIndex - start)}
	addContext := func(from, to int) {
		for i := from; i < to && i < len(oldLines); i++ {
			h.Lines = append(h.Lines, Line{Kind: LineContext, Text: oldLines[i]})
			h.OldLines++
			h.NewLines++
		}
	}

	cursor := start
	for _, c := range group {
		addContext(cursor, c.OldIndex)
		switch c.Type {
		case OpDelete:
			h.Lines = append(h.Lines, Line{Kind: LineRemoved, Text: c.OldLine})
			h.OldLines++
		case OpAdd:
			h.Lines = append(h.Lines, Line{Kind: LineAdded, Text: c.NewLine})
			h.NewLines++
		case OpModify:
			h.Lines = append(h.Lines,
				Line{Kind: LineRemoved, Text: c.OldLine},
				Line{Kind: LineAdded, Text: c.NewLine},
			)
			h.OldLines++
			h.NewLines++
		}
		if end := c.oldEnd(); end > cursor {
			cursor = end
		}
	}
	addContext(cursor, cursor+e.contextLines)

	return h
}

// classify 超过 70% 的单一操作类型决定整体类型
func classify(changes []Change) ChangeType {
	var adds, dels, mods int
	for _, c := range changes {
		switch c.Type {
		case OpAdd:
			adds++
		case OpDelete:
			dels++
		case OpModify:
			mods++
		}
	}

	total := float64(adds + dels + mods)
	switch {
	case total == 0:
		return ChangeNone
	case float64(mods)/total > 0.7:
		return ChangeRefactor
	case float64(adds)/total > 0.7:
		return ChangeExpansion
	case float64(dels)/total > 0.7:
		return ChangeReduction
	default:
		return ChangeMixed
	}
}

func contextQuality(changeCount, contextLines, totalLines int) float64 {
	if totalLines == 0 {
		return 0
	}
	contextRatio := float64(contextLines) / float64(totalLines)
	changeRatio := float64(changeCount) / float64(totalLines)
	q := contextRatio*0.7 + (1-changeRatio)*0.3
	if q > 1 {
		return 1
	}
	return q
}

func memoryEfficiency(diffLines, originalLines int) float64 {
	if originalLines == 0 {
		return 1
	}
	eff := 1 - float64(diffLines)/float64(originalLines)
	if eff < 0.1 {
		return 0.1
	}
	return eff
}
