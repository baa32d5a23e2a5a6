// Package refs 提取和解析上下文引用
//
// 引用是指向内容存储的类型化指针，形如 file:src/a.ts、terminal:recent、
// task:t1、function:foo、diff:src/a.ts:3。解析器按表示级别把引用渲染为文本。
package refs

import (
	"strconv"
	"strings"
)

// Kind 引用类型
type Kind string

const (
	KindFile     Kind = "file"
	KindTerminal Kind = "terminal"
	KindTask     Kind = "task"
	KindFunction Kind = "function"
	KindDiff     Kind = "diff"
)

// TerminalRecent 最近终端输出的引用
const TerminalRecent Ref = "terminal:recent"

// Ref 引用
type Ref string

// File 构造文件引用
func File(path string) Ref {
	return Ref(string(KindFile) + ":" + path)
}

// Task 构造任务引用
func Task(id string) Ref {
	return Ref(string(KindTask) + ":" + id)
}

// Function 构造函数引用
func Function(name string) Ref {
	return Ref(string(KindFunction) + ":" + name)
}

// Terminal 构造单条终端引用
func Terminal(id string) Ref {
	return Ref(string(KindTerminal) + ":" + id)
}

// Diff 构造差异引用
func Diff(path string, seq int64) Ref {
	return Ref(string(KindDiff) + ":" + path + ":" + strconv.FormatInt(seq, 10))
}

// Parse 拆分引用为类型和标识
func (r Ref) Parse() (Kind, string, bool) {
	kind, id, ok := strings.Cut(string(r), ":")
	if !ok || id == "" {
		return "", "", false
	}
	switch Kind(kind) {
	case KindFile, KindTerminal, KindTask, KindFunction, KindDiff:
		return Kind(kind), id, true
	default:
		return "", "", false
	}
}

// Kind 返回引用类型，无效引用返回空
func (r Ref) Kind() Kind {
	k, _, _ := r.Parse()
	return k
}

// ID 返回前缀之后的标识
func (r Ref) ID() string {
	_, id, _ := r.Parse()
	return id
}

// Valid 是否为可识别的引用
func (r Ref) Valid() bool {
	_, _, ok := r.Parse()
	if !ok {
		return false
	}
	if r.Kind() == KindDiff {
		_, _, ok = r.DiffParts()
	}
	return ok
}

// DiffParts 返回差异引用的文件路径和序号
func (r Ref) DiffParts() (string, int64, bool) {
	kind, id, ok := r.Parse()
	if !ok || kind != KindDiff {
		return "", 0, false
	}
	i := strings.LastIndex(id, ":")
	if i <= 0 {
		return "", 0, false
	}
	seq, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id[:i], seq, true
}

// Path 文件或差异引用对应的路径
func (r Ref) Path() string {
	switch r.Kind() {
	case KindFile:
		return r.ID()
	case KindDiff:
		p, _, _ := r.DiffParts()
		return p
	default:
		return ""
	}
}

// String 实现 fmt.Stringer
func (r Ref) String() string {
	return string(r)
}

// Level 表示级别，从详细到简略
type Level int

const (
	LevelFull Level = iota
	LevelSymbols
	LevelHeaders
	LevelDiff
	LevelPointer
)

var levelNames = map[Level]string{
	LevelFull:    "full",
	LevelSymbols: "symbols",
	LevelHeaders: "headers",
	LevelDiff:    "diff",
	LevelPointer: "pointer",
}

// String 实现 fmt.Stringer
func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "unknown"
}

// ParseLevel 解析级别名称
func ParseLevel(s string) (Level, bool) {
	for l, name := range levelNames {
		if name == s {
			return l, true
		}
	}
	return LevelFull, false
}

// Down 返回下一个更简略的级别，已是 pointer 时返回 false
func (l Level) Down() (Level, bool) {
	if l >= LevelPointer {
		return LevelPointer, false
	}
	return l + 1, true
}

// MarshalText 实现 encoding.TextMarshaler
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (l *Level) UnmarshalText(b []byte) error {
	v, ok := ParseLevel(string(b))
	if !ok {
		return &LevelError{Value: string(b)}
	}
	*l = v
	return nil
}

// LevelError 无法识别的级别名称
type LevelError struct {
	Value string
}

func (e *LevelError) Error() string {
	return "refs: unknown level " + strconv.Quote(e.Value)
}
