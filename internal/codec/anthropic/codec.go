// Package anthropic implements the messages-style protocol adapter.
package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/api/anthropic"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/codec"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

// Codec implements codec.Codec for the messages wire format.
type Codec struct{}

// New creates a new anthropic codec.
func New() *Codec {
	return &Codec{}
}

// Name returns the codec name.
func (c *Codec) Name() string {
	return "anthropic"
}

// NewMessageID generates a protocol-prefixed response identifier.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ParseRequest converts a Messages API payload to canonical format.
func (c *Codec) ParseRequest(data []byte) (*domain.CanonicalRequest, error) {
	var req anthropic.MessagesRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, domain.ErrParse(fmt.Sprintf("request body is not valid JSON: %v", err))
	}

	if req.Model == "" {
		return nil, domain.ErrValidation("model", "model is required")
	}
	if req.MaxTokens <= 0 {
		return nil, domain.ErrValidation("max_tokens", "max_tokens is required and must be positive")
	}
	if len(req.Messages) == 0 {
		return nil, domain.ErrValidation("messages", "messages must be non-empty")
	}

	out := &domain.CanonicalRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopK:          req.TopK,
		Stream:        req.Stream,
		StopSequences: req.StopSequences,
		SessionID:     req.SessionID,
	}

	for _, sys := range req.System {
		if sys.Type != "" && sys.Type != "text" {
			return nil, domain.ErrValidation("system", fmt.Sprintf("unsupported system block type: %s", sys.Type))
		}
		out.System = append(out.System, domain.ContentPart{Type: domain.PartText, Text: sys.Text})
	}

	for idx, msg := range req.Messages {
		converted, err := toCanonicalMessage(msg)
		if err != nil {
			return nil, domain.ErrValidation(fmt.Sprintf("messages[%d]", idx), err.Error())
		}
		out.Messages = append(out.Messages, converted)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, domain.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	if req.ToolChoice != nil {
		choice, err := toCanonicalToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = choice
	}

	if req.Thinking != nil {
		switch req.Thinking.Type {
		case "enabled":
			out.Thinking = &domain.ThinkingConfig{Enabled: true, BudgetTokens: req.Thinking.BudgetTokens}
		case "disabled":
			out.Thinking = &domain.ThinkingConfig{Enabled: false}
		default:
			return nil, domain.ErrValidation("thinking.type", fmt.Sprintf("unsupported thinking type: %s", req.Thinking.Type))
		}
	}

	if req.Metadata != nil {
		out.UserID = req.Metadata.UserID
	}

	return out, nil
}

func toCanonicalMessage(msg anthropic.Message) (domain.Message, error) {
	if msg.Role != "user" && msg.Role != "assistant" {
		return domain.Message{}, fmt.Errorf("unsupported role: %s", msg.Role)
	}
	if len(msg.Content) == 0 {
		return domain.Message{}, errors.New("content is required")
	}

	out := domain.Message{Role: domain.Role(msg.Role)}
	for _, part := range msg.Content {
		switch part.Type {
		case "text", "":
			out.Parts = append(out.Parts, domain.ContentPart{Type: domain.PartText, Text: part.Text})
		case "image":
			if part.Source == nil {
				return domain.Message{}, errors.New("image block requires a source")
			}
			out.Parts = append(out.Parts, domain.ContentPart{
				Type:   domain.PartImage,
				Source: toCanonicalSource(part.Source),
			})
		case "document":
			if part.Source == nil {
				return domain.Message{}, errors.New("document block requires a source")
			}
			out.Parts = append(out.Parts, domain.ContentPart{
				Type:    domain.PartDocument,
				Source:  toCanonicalSource(part.Source),
				Title:   part.Title,
				Context: part.Context,
			})
		case "tool_use":
			out.Parts = append(out.Parts, domain.ContentPart{
				Type:  domain.PartToolUse,
				ID:    part.ID,
				Name:  part.Name,
				Input: part.Input,
			})
		case "tool_result":
			if part.ToolUseID == "" {
				return domain.Message{}, errors.New("tool_result block requires tool_use_id")
			}
			out.Parts = append(out.Parts, domain.ContentPart{
				Type:      domain.PartToolResult,
				ToolUseID: part.ToolUseID,
				Content:   part.ResultText(),
				IsError:   part.IsError,
			})
		default:
			return domain.Message{}, fmt.Errorf("unsupported content block type: %s", part.Type)
		}
	}
	return out, nil
}

func toCanonicalSource(src *anthropic.Source) *domain.Source {
	return &domain.Source{
		Type:      src.Type,
		MediaType: src.MediaType,
		Data:      src.Data,
		URL:       src.URL,
	}
}

func toCanonicalToolChoice(tc *anthropic.ToolChoice) (*domain.ToolChoice, error) {
	switch tc.Type {
	case "auto":
		return &domain.ToolChoice{Kind: domain.ToolChoiceAuto}, nil
	case "any":
		return &domain.ToolChoice{Kind: domain.ToolChoiceAny}, nil
	case "none":
		return &domain.ToolChoice{Kind: domain.ToolChoiceNone}, nil
	case "tool":
		if tc.Name == "" {
			return nil, domain.ErrValidation("tool_choice.name", "tool_choice of type tool requires a name")
		}
		return &domain.ToolChoice{Kind: domain.ToolChoiceTool, Name: tc.Name}, nil
	default:
		return nil, domain.ErrValidation("tool_choice.type", fmt.Sprintf("unsupported tool_choice type: %s", tc.Type))
	}
}

// RenderComplete collects a finished turn into a Messages API response.
func (c *Codec) RenderComplete(res *codec.TurnResult) ([]byte, error) {
	resp := anthropic.MessagesResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      res.Model,
		StopReason: string(res.StopReason),
		Usage: anthropic.MessagesUsage{
			InputTokens:  res.Usage.InputTokens,
			OutputTokens: res.Usage.OutputTokens,
		},
	}

	if res.Text != "" {
		resp.Content = append(resp.Content, anthropic.ResponseContent{Type: "text", Text: res.Text})
	}
	if res.Pending != nil {
		input := res.Pending.Input
		if input == nil {
			input = map[string]any{}
		}
		resp.Content = append(resp.Content, anthropic.ResponseContent{
			Type:  "tool_use",
			ID:    res.Pending.ID,
			Name:  res.Pending.Name,
			Input: input,
		})
	}
	if resp.Content == nil {
		resp.Content = []anthropic.ResponseContent{}
	}

	return json.Marshal(resp)
}

// RenderError converts an error to the protocol's error envelope.
func (c *Codec) RenderError(err error) (int, []byte) {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		apiErr = domain.ErrServer("internal server error")
	}

	wireType := "api_error"
	message := "internal server error"
	switch apiErr.Type {
	case domain.ErrorTypeParse, domain.ErrorTypeInvalidRequest:
		wireType = "invalid_request_error"
		message = apiErr.Message
		if apiErr.Param != "" {
			message = apiErr.Param + ": " + message
		}
	case domain.ErrorTypeAuthentication:
		wireType = "authentication_error"
		message = apiErr.Message
	case domain.ErrorTypePermission:
		wireType = "permission_error"
		message = apiErr.Message
	case domain.ErrorTypeNotFound:
		wireType = "not_found_error"
		message = apiErr.Message
	}

	body, _ := json.Marshal(anthropic.ErrorResponse{
		Type:  "error",
		Error: &anthropic.APIError{Type: wireType, Message: message},
	})
	return apiErr.HTTPStatusCode(), body
}

// stream renders canonical events as Messages API SSE frames.
type stream struct {
	meta      codec.StreamMeta
	messageID string

	index     int
	blockOpen bool
	blockType string
}

// NewStream implements codec.Codec.
func (c *Codec) NewStream(meta codec.StreamMeta) codec.Stream {
	return &stream{meta: meta, messageID: NewMessageID(), index: -1}
}

func frame(eventType string, v any) []byte {
	data, _ := json.Marshal(v)
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data))
}

func (s *stream) Start() [][]byte {
	start := anthropic.MessageStartEvent{
		Type: "message_start",
		Message: anthropic.MessagesResponse{
			ID:      s.messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   s.meta.Model,
			Content: []anthropic.ResponseContent{},
		},
	}
	return [][]byte{frame("message_start", start)}
}

func (s *stream) openBlock(block anthropic.ResponseContent) []byte {
	s.index++
	s.blockOpen = true
	s.blockType = block.Type
	return frame("content_block_start", anthropic.ContentBlockStartEvent{
		Type:         "content_block_start",
		Index:        s.index,
		ContentBlock: block,
	})
}

func (s *stream) closeBlock() []byte {
	s.blockOpen = false
	return frame("content_block_stop", anthropic.ContentBlockStopEvent{
		Type:  "content_block_stop",
		Index: s.index,
	})
}

func (s *stream) Event(ev domain.Event) [][]byte {
	var out [][]byte

	switch ev.Type {
	case domain.EventTextDelta:
		if s.blockOpen && s.blockType != "text" {
			out = append(out, s.closeBlock())
		}
		if !s.blockOpen {
			out = append(out, s.openBlock(anthropic.ResponseContent{Type: "text"}))
		}
		out = append(out, frame("content_block_delta", anthropic.ContentBlockDeltaEvent{
			Type:  "content_block_delta",
			Index: s.index,
			Delta: anthropic.BlockDelta{Type: "text_delta", Text: ev.Text},
		}))

	case domain.EventToolStart:
		if s.blockOpen {
			out = append(out, s.closeBlock())
		}
		out = append(out, s.openBlock(anthropic.ResponseContent{
			Type: "tool_use",
			ID:   ev.ToolID,
			Name: ev.ToolName,
		}))

	case domain.EventToolDelta:
		if !s.blockOpen || s.blockType != "tool_use" {
			return nil
		}
		out = append(out, frame("content_block_delta", anthropic.ContentBlockDeltaEvent{
			Type:  "content_block_delta",
			Index: s.index,
			Delta: anthropic.BlockDelta{Type: "input_json_delta", PartialJSON: ev.ToolInput},
		}))

	case domain.EventToolStop:
		if s.blockOpen && s.blockType == "tool_use" {
			out = append(out, s.closeBlock())
		}
	}

	return out
}

func (s *stream) Finish(stop domain.StopReason, pending *domain.PendingToolInvocation, usage domain.Usage) [][]byte {
	var out [][]byte

	if s.blockOpen {
		out = append(out, s.closeBlock())
	}

	if pending != nil {
		out = append(out, s.openBlock(anthropic.ResponseContent{
			Type: "tool_use",
			ID:   pending.ID,
			Name: pending.Name,
		}))
		input, err := json.Marshal(pending.Input)
		if err != nil || pending.Input == nil {
			input = []byte("{}")
		}
		out = append(out, frame("content_block_delta", anthropic.ContentBlockDeltaEvent{
			Type:  "content_block_delta",
			Index: s.index,
			Delta: anthropic.BlockDelta{Type: "input_json_delta", PartialJSON: string(input)},
		}))
		out = append(out, s.closeBlock())
	}

	out = append(out, frame("message_delta", anthropic.MessageDeltaEvent{
		Type:  "message_delta",
		Delta: anthropic.MessageDelta{StopReason: string(stop)},
		Usage: &anthropic.DeltaUsage{OutputTokens: usage.OutputTokens},
	}))
	out = append(out, frame("message_stop", anthropic.MessageStopEvent{Type: "message_stop"}))
	return out
}

var _ codec.Codec = (*Codec)(nil)
