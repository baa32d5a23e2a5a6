package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient OpenAI 兼容的模型客户端
//
// DeepSeek、Ollama、vLLM 等兼容服务通过 BaseURL 复用同一客户端。
type OpenAIClient struct {
	client  *openai.Client
	options *Options
}

// NewOpenAI 创建 OpenAI 兼容客户端
func NewOpenAI(opts ...Option) (*OpenAIClient, error) {
	options, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	config := openai.DefaultConfig(options.APIKey)
	if options.BaseURL != "" {
		config.BaseURL = options.BaseURL
	}
	if options.HTTPClient != nil {
		config.HTTPClient = options.HTTPClient
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		options: options,
	}, nil
}

func (c *OpenAIClient) Name() string  { return c.options.ProviderName }
func (c *OpenAIClient) Model() string { return c.options.Model }
func (c *OpenAIClient) Close() error  { return nil }

// Generate 生成响应（非流式）
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	chatReq := BuildChatRequest(c.options.Model, req)
	if req.Temperature == nil {
		chatReq.Temperature = float32(c.options.Temperature)
	}
	if req.MaxTokens == nil {
		chatReq.MaxTokens = c.options.MaxTokens
	}

	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}

	var resp openai.ChatCompletionResponse
	err := retry(ctx, c.options.MaxRetries, c.options.RetryDelay, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, chatReq)
		return mapOpenAIError(callErr)
	})
	if err != nil {
		return Response{}, err
	}

	return parseResponse(resp)
}

// parseResponse 只取第一个候选；无法解析的工具参数按空参数处理，由工具校验报错
func parseResponse(resp openai.ChatCompletionResponse) (Response, error) {
	if len(resp.Choices) == 0 {
		return Response{}, errors.ErrInvalidResponse
	}
	choice := resp.Choices[0]

	out := Response{
		ID:           resp.ID,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		TokenUsage: message.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, message.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

// statusErrors HTTP 状态码到哨兵错误，决定是否重试
var statusErrors = map[int]error{
	http.StatusUnauthorized:        errors.ErrInvalidAPIKey,
	http.StatusNotFound:            errors.ErrModelNotFound,
	http.StatusTooManyRequests:     errors.ErrRateLimited,
	http.StatusInternalServerError: errors.ErrProviderUnavailable,
	http.StatusBadGateway:          errors.ErrProviderUnavailable,
	http.StatusServiceUnavailable:  errors.ErrProviderUnavailable,
}

func mapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if !stderrors.As(err, &apiErr) {
		return errors.WrapError(err, "openai request failed")
	}
	if mapped, ok := statusErrors[apiErr.HTTPStatusCode]; ok {
		return mapped
	}
	return fmt.Errorf("openai error (code=%d): %w", apiErr.HTTPStatusCode, err)
}

var _ Provider = (*OpenAIClient)(nil)
