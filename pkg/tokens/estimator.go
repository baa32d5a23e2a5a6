package tokens

import (
	"encoding/json"
	"math"
	"unicode/utf8"

	"github.com/easyops/ctxwindow-go/pkg/core/llm"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
)

const (
	// DefaultTokensPerChar 每字符平均 token 数
	DefaultTokensPerChar = 0.25
	// DefaultMessageOverhead 每条消息的结构开销
	DefaultMessageOverhead = 10
	// DefaultImageTokens 每张图片的固定成本
	DefaultImageTokens = 85
	// DefaultModel 完整请求估算时使用的模型名
	DefaultModel = "gpt-4o"
	// DefaultMaxOutputTokens 完整请求估算时的输出上限
	DefaultMaxOutputTokens = 8192
)

// Mode 估算模式
type Mode int

const (
	// ModeContentOnly 仅内容
	ModeContentOnly Mode = iota
	// ModeFullRequest 完整请求序列化
	ModeFullRequest
)

// String 返回模式名称
func (m Mode) String() string {
	if m == ModeFullRequest {
		return "full_request"
	}
	return "content_only"
}

// RequestOptions 完整请求估算的参数
type RequestOptions struct {
	// Model 模型名，为空时使用估算器默认值
	Model string
	// System 系统提示词
	System string
	// Tools 工具定义
	Tools []llm.ToolDefinition
	// ToolChoice 工具选择策略
	ToolChoice interface{}
	// Temperature 采样温度
	Temperature *float64
	// MaxTokens 输出上限，为空时使用估算器默认值
	MaxTokens *int
}

// Estimator 估算 token 成本
//
// 零值不可用，请使用 NewEstimator。
type Estimator struct {
	tokensPerChar   float64
	messageOverhead int
	imageTokens     int
	model           string
	maxOutputTokens int
}

// Option 配置 Estimator
type Option func(*Estimator)

// WithTokensPerChar 设置每字符 token 比例
func WithTokensPerChar(ratio float64) Option {
	return func(e *Estimator) {
		if ratio > 0 {
			e.tokensPerChar = ratio
		}
	}
}

// WithMessageOverhead 设置每条消息的结构开销
func WithMessageOverhead(n int) Option {
	return func(e *Estimator) {
		e.messageOverhead = n
	}
}

// WithImageTokens 设置每张图片的成本
func WithImageTokens(n int) Option {
	return func(e *Estimator) {
		e.imageTokens = n
	}
}

// WithModel 设置完整请求估算的默认模型
func WithModel(model string) Option {
	return func(e *Estimator) {
		if model != "" {
			e.model = model
		}
	}
}

// WithMaxOutputTokens 设置完整请求估算的默认输出上限
func WithMaxOutputTokens(n int) Option {
	return func(e *Estimator) {
		e.maxOutputTokens = n
	}
}

// NewEstimator 创建估算器
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		tokensPerChar:   DefaultTokensPerChar,
		messageOverhead: DefaultMessageOverhead,
		imageTokens:     DefaultImageTokens,
		model:           DefaultModel,
		maxOutputTokens: DefaultMaxOutputTokens,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Text 估算一段文本，按字符（rune）而不是字节计数
func (e *Estimator) Text(s string) int {
	if s == "" {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(s)) * e.tokensPerChar))
}

// Estimate 以 ModeContentOnly 估算任意内容
//
// 支持 string、message.Message、*message.Message 和 []message.Message，
// 其他类型（包括 map、结构体和字节切片）以及空值返回 0。
func (e *Estimator) Estimate(content interface{}) int {
	switch v := content.(type) {
	case string:
		return e.Text(v)
	case message.Message:
		return int(math.Ceil(e.messageCost(v)))
	case *message.Message:
		if v == nil {
			return 0
		}
		return int(math.Ceil(e.messageCost(*v)))
	case []message.Message:
		return e.Messages(v)
	default:
		return 0
	}
}

// Messages 估算消息列表（仅内容），小数部分累加后统一向上取整
func (e *Estimator) Messages(msgs []message.Message) int {
	total := 0.0
	for _, m := range msgs {
		total += e.messageCost(m)
	}
	return int(math.Ceil(total))
}

func (e *Estimator) messageCost(m message.Message) float64 {
	cost := float64(utf8.RuneCountInString(string(m.Role))) * e.tokensPerChar
	cost += float64(utf8.RuneCountInString(m.Content)) * e.tokensPerChar
	for _, p := range m.Parts {
		switch p.Type {
		case message.PartImage:
			cost += float64(e.imageTokens)
		default:
			cost += float64(utf8.RuneCountInString(p.Text)) * e.tokensPerChar
		}
	}
	return cost + float64(e.messageOverhead)
}

// EstimateRequest 以 ModeFullRequest 估算
//
// 构造与 llm 包实际发送一致的请求并按序列化长度估算，
// 图片按固定成本计入而非按 URL 长度。结果不小于 Messages(msgs)。
func (e *Estimator) EstimateRequest(msgs []message.Message, opts RequestOptions) int {
	model := opts.Model
	if model == "" {
		model = e.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == nil {
		n := e.maxOutputTokens
		maxTokens = &n
	}

	stripped := make([]message.Message, len(msgs))
	images := 0
	for i, m := range msgs {
		images += m.ImageCount()
		stripped[i] = withoutImages(m)
	}

	req := llm.BuildChatRequest(model, llm.Request{
		System:      opts.System,
		Messages:    stripped,
		Tools:       opts.Tools,
		ToolChoice:  opts.ToolChoice,
		Temperature: opts.Temperature,
		MaxTokens:   maxTokens,
	})
	data, err := json.Marshal(req)
	if err != nil {
		return e.Messages(msgs)
	}

	serialized := e.Text(string(data)) + images*e.imageTokens
	if content := e.Messages(msgs); content > serialized {
		return content
	}
	return serialized
}

// EstimateMode 按指定模式估算消息列表
func (e *Estimator) EstimateMode(mode Mode, msgs []message.Message, opts RequestOptions) int {
	if mode == ModeFullRequest {
		return e.EstimateRequest(msgs, opts)
	}
	return e.Messages(msgs)
}

func withoutImages(m message.Message) message.Message {
	if m.ImageCount() == 0 {
		return m
	}
	parts := make([]message.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Type != message.PartImage {
			parts = append(parts, p)
		}
	}
	m.Parts = parts
	return m
}
