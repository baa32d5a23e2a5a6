// Package tools 提供暴露给模型的工具
//
// 工具的参数 Schema 会进入 llm.Request.Tools，同时被完整请求估算计入预算，
// 所以描述和参数说明应尽量简短。
package tools

import (
	"context"
	"fmt"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
)

// Tool 模型可调用的工具
type Tool interface {
	Name() string
	Description() string
	Parameters() ParameterSchema
	// Execute 的返回值作为 tool 消息交给模型
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Validator 自带参数校验的工具
//
// 未实现该接口的工具由 Executor 按 Parameters 做通用校验。
type Validator interface {
	Tool
	Validate(args map[string]any) error
}

// Func 工具函数
type Func func(ctx context.Context, args map[string]any) (string, error)

// FuncTool 由函数构造的工具
type FuncTool struct {
	name        string
	description string
	params      ParameterSchema
	fn          Func
	validate    func(args map[string]any) error
}

// FuncToolOption FuncTool 选项
type FuncToolOption func(*FuncTool)

// WithValidator 用自定义校验替换按 Schema 的校验
func WithValidator(v func(args map[string]any) error) FuncToolOption {
	return func(t *FuncTool) { t.validate = v }
}

func NewFuncTool(name, description string, params ParameterSchema, fn Func, opts ...FuncToolOption) *FuncTool {
	t := &FuncTool{name: name, description: description, params: params, fn: fn}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *FuncTool) Name() string                { return t.name }
func (t *FuncTool) Description() string         { return t.description }
func (t *FuncTool) Parameters() ParameterSchema { return t.params }

func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if t.fn == nil {
		return "", fmt.Errorf("%w: %s has no function", errors.ErrInvalidTool, t.name)
	}
	return t.fn(ctx, args)
}

func (t *FuncTool) Validate(args map[string]any) error {
	if t.validate != nil {
		return t.validate(args)
	}
	return Validate(t.params, args)
}

// TextTool 只接收一个字符串参数的工具
type TextTool struct {
	FuncTool
	param string
}

// NewTextTool 创建单参数工具，参数必填
func NewTextTool(name, description, param, paramDesc string, fn func(ctx context.Context, input string) (string, error)) *TextTool {
	t := &TextTool{param: param}
	t.FuncTool = FuncTool{
		name:        name,
		description: description,
		params: ParameterSchema{
			Type:       "object",
			Properties: map[string]PropertySchema{param: {Type: "string", Description: paramDesc}},
			Required:   []string{param},
		},
		fn: func(ctx context.Context, args map[string]any) (string, error) {
			input, err := StringArg(args, t.param)
			if err != nil {
				return "", err
			}
			return fn(ctx, input)
		},
	}
	return t
}

// StringArg 取出必填的字符串参数
func StringArg(args map[string]any, name string) (string, error) {
	raw, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s: expected string, got %T", name, raw)
	}
	return s, nil
}

var (
	_ Validator = (*FuncTool)(nil)
	_ Validator = (*TextTool)(nil)
)
