// Package openai implements the chat-completions protocol adapter.
package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/api/openai"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/codec"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

// Codec implements codec.Codec for the chat-completions wire format.
type Codec struct {
	now func() time.Time
}

// New creates a new openai codec.
func New() *Codec {
	return &Codec{now: time.Now}
}

// Name returns the codec name.
func (c *Codec) Name() string {
	return "openai"
}

// NewCompletionID generates a protocol-prefixed response identifier.
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ParseRequest converts a chat-completions payload to canonical format.
func (c *Codec) ParseRequest(data []byte) (*domain.CanonicalRequest, error) {
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, domain.ErrParse(fmt.Sprintf("request body is not valid JSON: %v", err))
	}

	if req.Model == "" {
		return nil, domain.ErrValidation("model", "model is required")
	}
	if len(req.Messages) == 0 {
		return nil, domain.ErrValidation("messages", "messages must be non-empty")
	}

	out := &domain.CanonicalRequest{
		Model:           req.Model,
		MaxTokens:       req.MaxTokens,
		Temperature:     req.Temperature,
		Stream:          req.Stream,
		StreamUsage:     req.StreamOptions != nil && req.StreamOptions.IncludeUsage,
		StopSequences:   req.Stop,
		UserID:          req.User,
		SessionID:       req.SessionID,
		MaxTurns:        req.MaxTurns,
		AllowedTools:    req.AllowedTools,
		DisallowedTools: req.DisallowedTools,
		MCPServers:      req.MCPServers,
	}

	for idx, msg := range req.Messages {
		converted, err := toCanonicalMessage(msg, out)
		if err != nil {
			return nil, domain.ErrValidation(fmt.Sprintf("messages[%d]", idx), err.Error())
		}
		if converted != nil {
			out.Messages = append(out.Messages, *converted)
		}
	}
	if len(out.Messages) == 0 {
		return nil, domain.ErrValidation("messages", "messages must contain at least one non-system message")
	}

	for idx, t := range req.Tools {
		if t.Type != "function" {
			return nil, domain.ErrValidation(fmt.Sprintf("tools[%d].type", idx), fmt.Sprintf("unsupported tool type: %s", t.Type))
		}
		out.Tools = append(out.Tools, domain.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	if len(req.ToolChoice) > 0 {
		choice, err := toCanonicalToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = choice
	}

	if req.ResponseFormat != nil {
		switch req.ResponseFormat.Type {
		case "text", "json_object", "json_schema":
			// Accepted; output shaping is the engine's concern.
		default:
			return nil, domain.ErrValidation("response_format.type", fmt.Sprintf("unsupported response format: %s", req.ResponseFormat.Type))
		}
	}

	return out, nil
}

// toCanonicalMessage converts one wire message. System messages are folded
// into the request's system prompt and yield a nil message.
func toCanonicalMessage(msg openai.ChatCompletionMessage, out *domain.CanonicalRequest) (*domain.Message, error) {
	switch msg.Role {
	case "system", "developer":
		out.System = append(out.System, domain.ContentPart{Type: domain.PartText, Text: msg.Content})
		return nil, nil

	case "user":
		if msg.Content == "" {
			return nil, errors.New("content is required")
		}
		m := domain.TextMessage(domain.RoleUser, msg.Content)
		m.Name = msg.Name
		return &m, nil

	case "assistant":
		m := domain.Message{Role: domain.RoleAssistant, Name: msg.Name}
		if msg.Content != "" {
			m.Parts = append(m.Parts, domain.ContentPart{Type: domain.PartText, Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			var input any
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
					return nil, fmt.Errorf("tool call %s has malformed arguments: %v", call.ID, err)
				}
			}
			m.Parts = append(m.Parts, domain.ContentPart{
				Type:  domain.PartToolUse,
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: input,
			})
		}
		if len(m.Parts) == 0 {
			return nil, errors.New("assistant message requires content or tool_calls")
		}
		return &m, nil

	case "tool":
		if msg.ToolCallID == "" {
			return nil, errors.New("tool message requires tool_call_id")
		}
		return &domain.Message{
			Role:    domain.RoleTool,
			ToolUse: msg.ToolCallID,
			Parts: []domain.ContentPart{{
				Type:      domain.PartToolResult,
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported role: %s", msg.Role)
	}
}

func toCanonicalToolChoice(raw json.RawMessage) (*domain.ToolChoice, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		switch str {
		case "auto":
			return &domain.ToolChoice{Kind: domain.ToolChoiceAuto}, nil
		case "none":
			return &domain.ToolChoice{Kind: domain.ToolChoiceNone}, nil
		case "required":
			return &domain.ToolChoice{Kind: domain.ToolChoiceAny}, nil
		default:
			return nil, domain.ErrValidation("tool_choice", fmt.Sprintf("unsupported tool_choice: %s", str))
		}
	}

	var obj openai.ToolChoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, domain.ErrValidation("tool_choice", "tool_choice must be a string or an object naming a function")
	}
	if obj.Type != "function" || obj.Function.Name == "" {
		return nil, domain.ErrValidation("tool_choice", "tool_choice object must name a function")
	}
	return &domain.ToolChoice{Kind: domain.ToolChoiceTool, Name: obj.Function.Name}, nil
}

func finishReason(stop domain.StopReason) string {
	switch stop {
	case domain.StopMaxTokens:
		return "length"
	case domain.StopToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}

func pendingToolCall(pending *domain.PendingToolInvocation) openai.ToolCall {
	args, err := json.Marshal(pending.Input)
	if err != nil || pending.Input == nil {
		args = []byte("{}")
	}
	return openai.ToolCall{
		ID:   pending.ID,
		Type: "function",
		Function: openai.FunctionCall{
			Name:      pending.Name,
			Arguments: string(args),
		},
	}
}

// RenderComplete collects a finished turn into a chat.completion response.
func (c *Codec) RenderComplete(res *codec.TurnResult) ([]byte, error) {
	msg := openai.ChatCompletionMessage{
		Role:    "assistant",
		Content: res.Text,
	}
	if res.Pending != nil {
		msg.ToolCalls = []openai.ToolCall{pendingToolCall(res.Pending)}
	}

	resp := openai.ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: c.now().Unix(),
		Model:   res.Model,
		Choices: []openai.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: finishReason(res.StopReason),
		}},
		Usage: openai.Usage{
			PromptTokens:     res.Usage.InputTokens,
			CompletionTokens: res.Usage.OutputTokens,
			TotalTokens:      res.Usage.InputTokens + res.Usage.OutputTokens,
		},
	}

	return json.Marshal(resp)
}

// RenderError converts an error to the protocol's error envelope.
func (c *Codec) RenderError(err error) (int, []byte) {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		apiErr = domain.ErrServer("internal server error")
	}

	wire := &openai.APIError{Type: "server_error", Message: "internal server error"}
	switch apiErr.Type {
	case domain.ErrorTypeParse, domain.ErrorTypeInvalidRequest:
		wire.Type = "invalid_request_error"
		wire.Message = apiErr.Message
		wire.Param = apiErr.Param
		wire.Code = string(apiErr.Code)
	case domain.ErrorTypeAuthentication:
		wire.Type = "authentication_error"
		wire.Message = apiErr.Message
	case domain.ErrorTypePermission:
		wire.Type = "permission_denied"
		wire.Message = apiErr.Message
	case domain.ErrorTypeNotFound:
		wire.Type = "not_found"
		wire.Message = apiErr.Message
	}

	body, _ := json.Marshal(openai.ErrorResponse{Error: wire})
	return apiErr.HTTPStatusCode(), body
}

// stream renders canonical events as chat-completions SSE frames. All
// chunks of one stream share the same identifier and creation timestamp.
type stream struct {
	meta    codec.StreamMeta
	id      string
	created int64

	toolIndex int
	toolOpen  bool
}

// NewStream implements codec.Codec.
func (c *Codec) NewStream(meta codec.StreamMeta) codec.Stream {
	return &stream{
		meta:      meta,
		id:        NewCompletionID(),
		created:   c.now().Unix(),
		toolIndex: -1,
	}
}

func sseData(v any) []byte {
	data, _ := json.Marshal(v)
	return []byte(fmt.Sprintf("data: %s\n\n", data))
}

func (s *stream) chunk(delta openai.ChunkDelta, finish *string) []byte {
	return sseData(openai.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.meta.Model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	})
}

func (s *stream) Start() [][]byte {
	return [][]byte{s.chunk(openai.ChunkDelta{Role: "assistant"}, nil)}
}

func (s *stream) Event(ev domain.Event) [][]byte {
	switch ev.Type {
	case domain.EventTextDelta:
		return [][]byte{s.chunk(openai.ChunkDelta{Content: ev.Text}, nil)}

	case domain.EventToolStart:
		s.toolIndex++
		s.toolOpen = true
		return [][]byte{s.chunk(openai.ChunkDelta{ToolCalls: []openai.ToolCallChunk{{
			Index:    s.toolIndex,
			ID:       ev.ToolID,
			Type:     "function",
			Function: &openai.FunctionCallChunk{Name: ev.ToolName},
		}}}, nil)}

	case domain.EventToolDelta:
		if !s.toolOpen {
			return nil
		}
		return [][]byte{s.chunk(openai.ChunkDelta{ToolCalls: []openai.ToolCallChunk{{
			Index:    s.toolIndex,
			Function: &openai.FunctionCallChunk{Arguments: ev.ToolInput},
		}}}, nil)}

	case domain.EventToolStop:
		s.toolOpen = false
	}

	return nil
}

func (s *stream) Finish(stop domain.StopReason, pending *domain.PendingToolInvocation, usage domain.Usage) [][]byte {
	var out [][]byte

	if pending != nil {
		s.toolIndex++
		call := pendingToolCall(pending)
		out = append(out, s.chunk(openai.ChunkDelta{ToolCalls: []openai.ToolCallChunk{{
			Index:    s.toolIndex,
			ID:       call.ID,
			Type:     call.Type,
			Function: &openai.FunctionCallChunk{Name: call.Function.Name, Arguments: call.Function.Arguments},
		}}}, nil))
	}

	reason := finishReason(stop)
	out = append(out, s.chunk(openai.ChunkDelta{}, &reason))

	if s.meta.IncludeUsage {
		out = append(out, sseData(openai.ChatCompletionChunk{
			ID:      s.id,
			Object:  "chat.completion.chunk",
			Created: s.created,
			Model:   s.meta.Model,
			Choices: []openai.ChunkChoice{},
			Usage: &openai.Usage{
				PromptTokens:     usage.InputTokens,
				CompletionTokens: usage.OutputTokens,
				TotalTokens:      usage.InputTokens + usage.OutputTokens,
			},
		}))
	}

	out = append(out, []byte("data: [DONE]\n\n"))
	return out
}

var _ codec.Codec = (*Codec)(nil)
