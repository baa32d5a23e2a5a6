package editstrategy

import (
	"fmt"
	"strings"

	"github.com/easyops/ctxwindow-go/pkg/diff"
	"github.com/easyops/ctxwindow-go/pkg/signals"
)

// Summary 生成大幅编辑的简短摘要，如 "3 additions, 1 deletions (functions modified)"
func Summary(d diff.Result, ext signals.Extractor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d additions, %d deletions", d.Additions, d.Deletions)
	for _, tag := range ext.SummaryTags(d.Text) {
		fmt.Fprintf(&b, " (%s)", tag)
	}
	return b.String()
}

// Render 按策略渲染差异条目内容
func Render(s Strategy, path string, d diff.Result, ext signals.Extractor) string {
	switch s {
	case KeepBoth:
		return fmt.Sprintf("Small Edit: %s\n```diff\n%s\n```", path, d.Text)
	case DiffMarkerOnly:
		return fmt.Sprintf("Major Edit: %s\n%s\n\n*File significantly changed - see current version for details*",
			path, Summary(d, ext))
	default:
		return fmt.Sprintf("File Edit: %s\n```diff\n%s\n```\n\n*Original file replaced with diff for memory efficiency*",
			path, d.Text)
	}
}
