package llm

import (
	"encoding/json"

	"github.com/easyops/ctxwindow-go/pkg/core/message"
	openai "github.com/sashabaranov/go-openai"
)

// BuildChatRequest 构建 OpenAI 兼容格式的请求
//
// 未设置的采样参数保持零值，由调用方决定是否填充默认值。
func BuildChatRequest(model string, req Request) openai.ChatCompletionRequest {
	msgs := req.Messages
	if req.System != "" {
		msgs = append([]message.Message{{Role: message.RoleSystem, Content: req.System}}, msgs...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: ConvertMessages(msgs),
	}

	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		chatReq.Stop = req.Stop
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = ConvertTools(req.Tools)
		if req.ToolChoice != nil {
			chatReq.ToolChoice = req.ToolChoice
		}
	}

	return chatReq
}

// ConvertMessages 转换消息格式
//
// 含多模态片段的消息使用 MultiContent，文本内容作为第一个片段。
func ConvertMessages(msgs []message.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		chatMsg := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}

		if len(msg.Parts) > 0 {
			chatMsg.MultiContent = convertParts(msg)
		} else {
			chatMsg.Content = msg.Content
		}

		if len(msg.ToolCalls) > 0 {
			chatMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				chatMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				}
			}
		}

		result = append(result, chatMsg)
	}
	return result
}

func convertParts(msg message.Message) []openai.ChatMessagePart {
	parts := make([]openai.ChatMessagePart, 0, len(msg.Parts)+1)
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}
	for _, p := range msg.Parts {
		switch p.Type {
		case message.PartImage:
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL},
			})
		default:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
	}
	return parts
}

// ConvertTools 转换工具格式
func ConvertTools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return result
}
