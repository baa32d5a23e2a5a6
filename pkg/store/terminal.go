package store

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

const (
	errorLineLimit = 100
	errorHeadLines = 30
	errorTailLines = 50

	successCharLimit = 200
	successHeadLines = 5
	successTailLines = 5
)

// AddTerminalEntry 记录一次命令执行
//
// 输出包含 "Error"/"Failed" 或退出码非零时视为错误。
// 写入后会压缩超出保留数量的旧成功条目。
func (s *Store) AddTerminalEntry(command, output string, meta TerminalMeta) TerminalRecord {
	isError := strings.Contains(output, "Error") ||
		strings.Contains(output, "Failed") ||
		meta.ExitCode != 0

	processed := ProcessOutput(output, isError)

	id := meta.ID
	if id == "" {
		id = newCommandID()
	}
	s.seq++

	rec := &TerminalRecord{
		ID:             id,
		Command:        command,
		Output:         processed,
		OriginalLength: len(output),
		Compressed:     len(processed) < len(output),
		IsError:        isError,
		ExitCode:       meta.ExitCode,
		Timestamp:      s.clock.Now(),
		Metadata:       maps.Clone(meta.Metadata),
		Seq:            s.seq,
	}
	s.terminal[id] = rec

	s.CompressOldTerminalEntries(s.compressionAfter)
	return rec.Clone()
}

// ProcessOutput 按成功/失败压缩命令输出
//
// 错误输出超过 100 行时保留前 30 行和后 50 行；
// 成功输出不超过 200 字符时原样保留，否则多于 10 行时保留前后各 5 行。
func ProcessOutput(output string, isError bool) string {
	lines := strings.Split(output, "\n")

	if isError {
		if len(lines) <= errorLineLimit {
			return output
		}
		omitted := len(lines) - errorHeadLines - errorTailLines
		return strings.Join(lines[:errorHeadLines], "\n") +
			fmt.Sprintf("\n... (%d lines omitted) ...\n", omitted) +
			strings.Join(lines[len(lines)-errorTailLines:], "\n")
	}

	if len(output) <= successCharLimit || len(lines) <= successHeadLines+successTailLines {
		return output
	}
	omitted := len(lines) - successHeadLines - successTailLines
	return strings.Join(lines[:successHeadLines], "\n") +
		fmt.Sprintf("\n... (%d lines omitted; success) ...\n", omitted) +
		strings.Join(lines[len(lines)-successTailLines:], "\n")
}

// CompressOldTerminalEntries 把最新 after 条之外的成功条目压缩为一行摘要
//
// 错误条目从不被摘要。返回被压缩的条目数。
func (s *Store) CompressOldTerminalEntries(after int) int {
	entries := s.terminalNewestFirst()
	if after < 0 {
		after = 0
	}
	if len(entries) <= after {
		return 0
	}

	n := 0
	for _, e := range entries[after:] {
		if e.IsError || e.Output == e.Command+" completed successfully" {
			continue
		}
		e.Output = e.Command + " completed successfully"
		e.Compressed = true
		n++
	}
	return n
}

// Terminal 返回指定终端条目
func (s *Store) Terminal(id string) (TerminalRecord, bool) {
	rec, ok := s.terminal[id]
	if !ok {
		return TerminalRecord{}, false
	}
	return rec.Clone(), true
}

// RecentTerminal 返回最新的 n 条终端记录，最新的在前
func (s *Store) RecentTerminal(n int) []TerminalRecord {
	entries := s.terminalNewestFirst()
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}
	out := make([]TerminalRecord, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

func (s *Store) terminalNewestFirst() []*TerminalRecord {
	entries := make([]*TerminalRecord, 0, len(s.terminal))
	for _, e := range s.terminal {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].Seq > entries[j].Seq
	})
	return entries
}
