package agents

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// StepType 工具循环中的步骤类别
type StepType string

const (
	// StepTypeThought 模型在调用工具前给出的文本
	StepTypeThought     StepType = "thought"
	StepTypeAction      StepType = "action"
	StepTypeObservation StepType = "observation"
)

// ReasoningStep 工具循环轨迹中的一步
//
// action 带 ToolArgs，observation 带 ToolResult 和 Failed。
type ReasoningStep struct {
	Type       StepType       `json:"type"`
	Content    string         `json:"content,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
	Failed     bool           `json:"failed,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func NewThoughtStep(content string, at time.Time) ReasoningStep {
	return ReasoningStep{Type: StepTypeThought, Content: content, Timestamp: at}
}

func NewActionStep(toolName string, args map[string]any, at time.Time) ReasoningStep {
	return ReasoningStep{Type: StepTypeAction, ToolName: toolName, ToolArgs: args, Timestamp: at}
}

func NewObservationStep(toolName, result string, failed bool, at time.Time) ReasoningStep {
	return ReasoningStep{Type: StepTypeObservation, ToolName: toolName, ToolResult: result, Failed: failed, Timestamp: at}
}

// String 单行摘要，参数按键排序，观察结果只取首行
func (s ReasoningStep) String() string {
	switch s.Type {
	case StepTypeAction:
		keys := make([]string, 0, len(s.ToolArgs))
		for k := range s.ToolArgs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		args := make([]string, len(keys))
		for i, k := range keys {
			args[i] = fmt.Sprintf("%s=%v", k, s.ToolArgs[k])
		}
		return fmt.Sprintf("-> %s(%s)", s.ToolName, strings.Join(args, ", "))
	case StepTypeObservation:
		first, _, _ := strings.Cut(s.ToolResult, "\n")
		if s.Failed {
			return fmt.Sprintf("<- %s failed: %s", s.ToolName, first)
		}
		return fmt.Sprintf("<- %s: %s", s.ToolName, first)
	default:
		return s.Content
	}
}
