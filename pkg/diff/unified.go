package diff

import (
	"bytes"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Unified 以标准 unified diff 格式渲染结果
func (r Result) Unified(path string) (string, error) {
	if !r.HasChanges {
		return "", nil
	}

	fd := &godiff.FileDiff{
		OrigName: "a/" + path,
		NewName:  "b/" + path,
	}
	for _, h := range r.Hunks {
		var body bytes.Buffer
		for _, l := range h.Lines {
			switch l.Kind {
			case LineRemoved:
				body.WriteByte('-')
			case LineAdded:
				body.WriteByte('+')
			default:
				body.WriteByte(' ')
			}
			body.WriteString(l.Text)
			body.WriteByte('\n')
		}
		fd.Hunks = append(fd.Hunks, &godiff.Hunk{
			OrigStartLine: unifiedStart(h.OldStart, h.OldLines),
			OrigLines:     int32(h.OldLines),
			NewStartLine:  unifiedStart(h.NewStart, h.NewLines),
			NewLines:      int32(h.NewLines),
			Body:          body.Bytes(),
		})
	}

	out, err := godiff.PrintFileDiff(fd)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// unifiedStart 空区间使用前一行的行号
func unifiedStart(start, count int) int32 {
	if count == 0 {
		return int32(start)
	}
	return int32(start + 1)
}
