package message

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage 消息无法发送给模型，下列错误都包装它
var ErrInvalidMessage = errors.New("invalid message")

var (
	ErrInvalidRole       = fmt.Errorf("%w: unknown role", ErrInvalidMessage)
	ErrEmptyContent      = fmt.Errorf("%w: empty content", ErrInvalidMessage)
	ErrMissingToolCallID = fmt.Errorf("%w: tool result without tool_call_id", ErrInvalidMessage)
	ErrInvalidPart       = fmt.Errorf("%w: unknown part type", ErrInvalidMessage)
)
