package tokens

import (
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/pkoukk/tiktoken-go"
)

// Counter 文本与消息的 token 计数。
type Counter interface {
	Count(text string) int
	CountMessages(messages []message.Message) int
}

// fallbackEncoding 模型没有登记编码时使用。
const fallbackEncoding = "cl100k_base"

// 与 OpenAI 文档一致的消息格式开销。
const (
	tiktokenPerMessage = 3
	tiktokenPerName    = 1
	tiktokenPrimer     = 3
)

// TiktokenCounter 按模型的 BPE 编码精确计数，仅用于校准估算值。
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter 按模型名选择编码，未知模型使用 cl100k_base。
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	if model == "" {
		model = DefaultModel
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		if enc, err = tiktoken.GetEncoding(fallbackEncoding); err != nil {
			return nil, err
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages 图片按 DefaultImageTokens 计，不做编码。
func (c *TiktokenCounter) CountMessages(messages []message.Message) int {
	total := tiktokenPrimer
	for i := range messages {
		msg := &messages[i]
		total += tiktokenPerMessage + c.Count(string(msg.Role)) + c.Count(msg.Text())
		total += msg.ImageCount() * DefaultImageTokens
		if msg.Name != "" {
			total += tiktokenPerName + c.Count(msg.Name)
		}
	}
	return total
}

// EstimatedCounter 把 Estimator 适配为 Counter。
type EstimatedCounter struct {
	*Estimator
}

func NewEstimatedCounter(opts ...Option) EstimatedCounter {
	return EstimatedCounter{NewEstimator(opts...)}
}

func (c EstimatedCounter) Count(text string) int                        { return c.Text(text) }
func (c EstimatedCounter) CountMessages(messages []message.Message) int { return c.Messages(messages) }

var (
	_ Counter = (*TiktokenCounter)(nil)
	_ Counter = EstimatedCounter{}
)
