package signals

import (
	"regexp"
	"strings"
)

var (
	goHeaderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?\w+(?:\[[^\]]*\])?\s*\([^)]*\)[^{\n]*`),
		regexp.MustCompile(`(?m)^type\s+\w+(?:\[[^\]]*\])?\s+(?:struct|interface)`),
		regexp.MustCompile(`(?m)^type\s+\w+\s+[\w.*\[\]]+$`),
	}

	goFunctionChange   = regexp.MustCompile(`(?m)^[+-]\s*func\s+`)
	goDependencyChange = regexp.MustCompile(`(?m)^[+-]\s*(?:import\s|"[\w./-]+"$)`)
	goTypeChange       = regexp.MustCompile(`(?m)^[+-]\s*type\s+\w+`)
	goConfigChange     = regexp.MustCompile(`(?m)^[+-]\s*(?:const|var)\s+\w+`)
)

// golang Go 源码提取器
type golang struct{}

// Go 返回 Go 源码提取器
func Go() Extractor {
	return golang{}
}

func (golang) Name() string { return "go" }

func (golang) Headers(content string) []string {
	var headers []string
	for _, p := range goHeaderPatterns {
		for _, m := range p.FindAllString(content, -1) {
			headers = append(headers, strings.TrimSpace(m))
		}
	}
	return headers
}

func (golang) Factors(diffText string) Factors {
	return Factors{
		FunctionChanges:   len(goFunctionChange.FindAllStringIndex(diffText, -1)),
		DependencyChanges: len(goDependencyChange.FindAllStringIndex(diffText, -1)),
		TypeChanges:       len(goTypeChange.FindAllStringIndex(diffText, -1)),
		ConfigChanges:     len(goConfigChange.FindAllStringIndex(diffText, -1)),
		CommentOnly:       IsCommentOnly(diffText),
	}
}

func (g golang) IsStructural(diffText string) bool {
	f := g.Factors(diffText)
	return f.FunctionChanges > 0 || f.TypeChanges > 0 || f.DependencyChanges > 0
}

func (golang) SummaryTags(diffText string) []string {
	var tags []string
	if goFunctionChange.MatchString(diffText) {
		tags = append(tags, "functions modified")
	}
	if goDependencyChange.MatchString(diffText) {
		tags = append(tags, "imports changed")
	}
	if goTypeChange.MatchString(diffText) {
		tags = append(tags, "type structure changed")
	}
	return tags
}

func (golang) DeclaresFunction(content, name string) bool {
	return goDeclRegexp(name).MatchString(content)
}

func (golang) ExtractFunction(content, name string) (string, bool) {
	decl := goDeclRegexp(name)
	return braceExtract(content, decl.MatchString)
}

var goDecls = newDeclCache(func(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?` + regexp.QuoteMeta(name) + `\s*[\[(]`)
})

// goDeclRegexp 匹配函数或方法声明行
func goDeclRegexp(name string) *regexp.Regexp {
	return goDecls.get(name)
}
