package signals

import (
	"regexp"
	"strings"
)

var (
	jsHeaderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*\([^)]*\)`),
		regexp.MustCompile(`(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s+)?\([^)]*\)\s*=>`),
		regexp.MustCompile(`(\w+)\s*:\s*(?:async\s+)?function\s*\([^)]*\)`),
		regexp.MustCompile(`(\w+)\s*:\s*\([^)]*\)\s*=>`),
		regexp.MustCompile(`(?:export\s+)?(?:abstract\s+)?class\s+\w+(?:\s+extends\s+[\w.]+)?`),
		regexp.MustCompile(`(?:export\s+)?interface\s+\w+`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?type\s+\w+\s*=`),
	}

	jsFunctionChange   = regexp.MustCompile(`[+-]\s*function\s+\w+`)
	jsDependencyChange = regexp.MustCompile(`[+-]\s*(?:import|export)`)
	jsTypeChange       = regexp.MustCompile(`[+-]\s*(?:interface|type|class)\s+\w+`)
	jsConfigChange     = regexp.MustCompile(`[+-]\s*(?:const|let|var)\s+[A-Z_]+`)

	jsStructural = []*regexp.Regexp{
		regexp.MustCompile(`[+-]\s*function\s+\w+`),
		regexp.MustCompile(`[+-]\s*class\s+\w+`),
		regexp.MustCompile(`[+-]\s*import\s+`),
		regexp.MustCompile(`[+-]\s*export\s+`),
		regexp.MustCompile(`[+-]\s*const\s+\w+\s*=`),
	}
)

// heuristic JavaScript/TypeScript 风格的正则提取器
type heuristic struct{}

// Heuristic 返回基于正则的 JS/TS 提取器，也作为未知语言的默认实现
func Heuristic() Extractor {
	return heuristic{}
}

func (heuristic) Name() string { return "heuristic" }

func (heuristic) Headers(content string) []string {
	var headers []string
	for _, p := range jsHeaderPatterns {
		headers = append(headers, p.FindAllString(content, -1)...)
	}
	return headers
}

func (heuristic) Factors(diffText string) Factors {
	return Factors{
		FunctionChanges:   len(jsFunctionChange.FindAllStringIndex(diffText, -1)),
		DependencyChanges: len(jsDependencyChange.FindAllStringIndex(diffText, -1)),
		TypeChanges:       len(jsTypeChange.FindAllStringIndex(diffText, -1)),
		ConfigChanges:     len(jsConfigChange.FindAllStringIndex(diffText, -1)),
		CommentOnly:       IsCommentOnly(diffText),
	}
}

func (heuristic) IsStructural(diffText string) bool {
	for _, p := range jsStructural {
		if p.MatchString(diffText) {
			return true
		}
	}
	return false
}

func (heuristic) SummaryTags(diffText string) []string {
	var tags []string
	if strings.Contains(diffText, "function") {
		tags = append(tags, "functions modified")
	}
	if strings.Contains(diffText, "import") || strings.Contains(diffText, "export") {
		tags = append(tags, "imports/exports changed")
	}
	if strings.Contains(diffText, "class") {
		tags = append(tags, "class structure changed")
	}
	return tags
}

// jsDecls 匹配 function 声明、函数赋值、对象方法属性和类方法，
// 普通的对象键或调用不算声明
var jsDecls = newDeclCache(func(name string) *regexp.Regexp {
	n := regexp.QuoteMeta(name)
	return regexp.MustCompile(`(?m)` +
		`\bfunction\s*\*?\s*` + n + `\s*\(` +
		`|\b` + n + `\s*[:=]\s*(?:async\s+)?(?:function\b|\([^)]*\)\s*(?::\s*[^=]+)?=>|\w+\s*=>)` +
		`|^\s*(?:(?:public|private|protected|static|async|override)\s+)*\*?` + n + `\s*\([^)]*\)\s*(?::\s*[^{]+)?\{`)
})

func (h heuristic) DeclaresFunction(content, name string) bool {
	return jsDecls.get(name).MatchString(content)
}

func (h heuristic) ExtractFunction(content, name string) (string, bool) {
	return braceExtract(content, func(line string) bool {
		return h.DeclaresFunction(line, name)
	})
}
