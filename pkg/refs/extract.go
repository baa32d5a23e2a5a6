package refs

import (
	"regexp"
	"sort"
	"strings"
)

var (
	fileRefPattern     = regexp.MustCompile(`(?:file:|@)([^\s,]+\.[a-zA-Z0-9]+)`)
	functionRefPattern = regexp.MustCompile(`function\s+(\w+)|(\w+)\s*\(`)
	taskRefPattern     = regexp.MustCompile(`task:(\w+)`)

	// 形如函数调用但实际是关键字的词
	callKeywords = map[string]struct{}{
		"if": {}, "for": {}, "while": {}, "switch": {}, "return": {}, "catch": {},
		"function": {}, "func": {}, "typeof": {}, "new": {}, "else": {}, "do": {},
	}

	terminalKeywords = []string{"run", "command", "terminal"}
	diffKeywords     = []string{"diff", "change", "what changed"}
	editKeywords     = []string{"edit", "change", "modify"}
)

// maxDiffRefs 差异关键词最多带出的已加载差异数
const maxDiffRefs = 3

// Extract 从消息文本中提取引用，结果去重并保持首次出现的顺序
//
// loaded 为按加载顺序排列的已加载引用；hasDiff 判断文件是否存有差异，可以为 nil。
func Extract(text string, loaded []Ref, hasDiff func(path string) bool) []Ref {
	var out []Ref
	seen := make(map[Ref]struct{})
	add := func(r Ref) {
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	lower := strings.ToLower(text)
	editIntent := containsAny(lower, editKeywords)

	for _, m := range fileRefPattern.FindAllStringSubmatch(text, -1) {
		path := m[1]
		add(File(path))
		if editIntent && hasDiff != nil && hasDiff(path) {
			if latest, ok := LatestDiff(loaded, path); ok {
				add(latest)
			}
		}
	}

	for _, m := range functionRefPattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if _, kw := callKeywords[name]; kw || name == "" {
			continue
		}
		add(Function(name))
	}

	if containsAny(lower, terminalKeywords) {
		add(TerminalRecent)
	}

	for _, m := range taskRefPattern.FindAllStringSubmatch(text, -1) {
		add(Task(m[1]))
	}

	if containsAny(lower, diffKeywords) {
		var diffs []Ref
		for _, r := range loaded {
			if r.Kind() == KindDiff {
				diffs = append(diffs, r)
			}
		}
		if len(diffs) > maxDiffRefs {
			diffs = diffs[len(diffs)-maxDiffRefs:]
		}
		for _, r := range diffs {
			add(r)
		}
	}

	return out
}

// LatestDiff 返回已加载引用中某个文件序号最大的差异引用
func LatestDiff(loaded []Ref, path string) (Ref, bool) {
	var candidates []Ref
	for _, r := range loaded {
		if p, _, ok := r.DiffParts(); ok && p == path {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		_, a, _ := candidates[i].DiffParts()
		_, b, _ := candidates[j].DiffParts()
		return a < b
	})
	return candidates[len(candidates)-1], true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
