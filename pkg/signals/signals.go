// Package signals 提供可替换的结构信号提取能力。
//
// 差异引擎、编辑策略选择器和内容存储通过 Extractor 接口识别
// 函数/类型/导入等声明，按源语言切换实现而不影响调度逻辑。
package signals

import (
	"path/filepath"
	"strings"
)

// Factors 差异文本中的上下文因素
type Factors struct {
	// FunctionChanges 函数级变更行数
	FunctionChanges int `json:"function_changes"`
	// DependencyChanges 导入/导出变更行数
	DependencyChanges int `json:"dependency_changes"`
	// TypeChanges 类型/接口/类变更行数
	TypeChanges int `json:"type_changes"`
	// ConfigChanges 常量/配置变更行数
	ConfigChanges int `json:"config_changes"`
	// CommentOnly 所有变更行都是注释
	CommentOnly bool `json:"comment_only"`
}

// Extractor 结构信号提取器
type Extractor interface {
	// Name 返回提取器名称
	Name() string

	// Headers 提取声明签名，按出现的模式顺序返回
	Headers(content string) []string

	// Factors 分析差异文本中的上下文因素
	Factors(diffText string) Factors

	// IsStructural 差异是否涉及结构性声明
	IsStructural(diffText string) bool

	// SummaryTags 返回编辑摘要中附加的类别标签
	SummaryTags(diffText string) []string

	// DeclaresFunction 内容中是否可能声明了 name
	DeclaresFunction(content, name string) bool

	// ExtractFunction 提取单个函数体，找不到时返回 false
	ExtractFunction(content, name string) (string, bool)
}

// commentPrefixes 注释行的起始标记
var commentPrefixes = []string{"//", "/*", "*", "<!--", "#"}

// IsCommentOnly 判断差异中每一条变更行的内容是否都以注释标记开头
//
// 没有变更行时返回 false。
func IsCommentOnly(diffText string) bool {
	changed, comments := 0, 0
	for _, line := range strings.Split(diffText, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "+") && !strings.HasPrefix(trimmed, "-") {
			continue
		}
		changed++
		payload := strings.TrimSpace(trimmed[1:])
		for _, p := range commentPrefixes {
			if strings.HasPrefix(payload, p) {
				comments++
				break
			}
		}
	}
	return changed > 0 && comments == changed
}

// IsFormattingOnly 判断新旧内容在空白归一化后是否相同
func IsFormattingOnly(oldContent, newContent string) bool {
	return strings.Join(strings.Fields(oldContent), " ") == strings.Join(strings.Fields(newContent), " ")
}

// ForPath 按文件扩展名选择提取器
func ForPath(path string) Extractor {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return Go()
	default:
		return Heuristic()
	}
}

// braceExtract 从声明行开始跟踪花括号平衡，直到回到零
//
// 声明行本身没有未闭合的花括号时只返回该行。
func braceExtract(content string, isDecl func(line string) bool) (string, bool) {
	lines := strings.Split(content, "\n")
	start := -1
	depth := 0

	for i, line := range lines {
		if start == -1 {
			if !isDecl(line) {
				continue
			}
			start = i
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth <= 0 {
			return strings.Join(lines[start:i+1], "\n"), true
		}
	}
	return "", false
}
