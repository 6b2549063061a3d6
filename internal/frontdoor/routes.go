package frontdoor

import (
	"log/slog"

	anthropiccodec "github.com/tjfontaine/polyglot-agent-gateway/internal/codec/anthropic"
	openaicodec "github.com/tjfontaine/polyglot-agent-gateway/internal/codec/openai"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/gateway"
)

// Protocol endpoint paths.
const (
	MessagesPath        = "/v1/messages"
	ChatCompletionsPath = "/v1/chat/completions"
)

// NewAnthropic builds the messages-protocol handler.
func NewAnthropic(gw *gateway.Gateway, logger *slog.Logger) *Handler {
	return NewHandler(anthropiccodec.New(), gw, MessagesPath, logger)
}

// NewOpenAI builds the chat-completions-protocol handler.
func NewOpenAI(gw *gateway.Gateway, logger *slog.Logger) *Handler {
	return NewHandler(openaicodec.New(), gw, ChatCompletionsPath, logger)
}
