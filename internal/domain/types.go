// Package domain defines the canonical conversation model shared by both
// protocol frontdoors. Wire-specific shapes live in internal/api; everything
// past the codec layer speaks these types.
package domain

import "encoding/json"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType discriminates ContentPart variants.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartDocument   PartType = "document"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
)

// ContentPart is one element of a message's ordered content sequence.
// Exactly the fields for the declared Type are populated.
type ContentPart struct {
	Type PartType `json:"type"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartImage and PartDocument
	Source *Source `json:"source,omitempty"`
	// PartDocument extras
	Title   string `json:"title,omitempty"`
	Context string `json:"context,omitempty"`

	// PartToolUse
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`

	// PartToolResult. ToolUseID must reference a prior PartToolUse ID
	// within the same conversation.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Source carries binary or referenced media for image and document parts.
type Source struct {
	Type      string `json:"type"` // "base64", "url", "text"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Message is one turn entry: a role plus an ordered sequence of content parts.
type Message struct {
	Role    Role          `json:"role"`
	Parts   []ContentPart `json:"parts"`
	Name    string        `json:"name,omitempty"`
	ToolUse string        `json:"tool_use_id,omitempty"` // tool-role messages only
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{{Type: PartText, Text: text}}}
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolDefinition declares a tool the caller wants available during the turn.
// Names are unique within a request.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// ToolChoiceKind enumerates the tool-choice policies.
type ToolChoiceKind string

const (
	ToolChoiceAuto ToolChoiceKind = "auto"
	ToolChoiceAny  ToolChoiceKind = "any"
	ToolChoiceTool ToolChoiceKind = "tool"
	ToolChoiceNone ToolChoiceKind = "none"
)

// ToolChoice is the caller's tool-use policy. Name is set only for
// ToolChoiceTool.
type ToolChoice struct {
	Kind ToolChoiceKind `json:"kind"`
	Name string         `json:"name,omitempty"`
}

// ThinkingConfig enables extended reasoning with an optional token budget.
type ThinkingConfig struct {
	Enabled      bool `json:"enabled"`
	BudgetTokens int  `json:"budget_tokens,omitempty"`
}

// CanonicalRequest is the protocol-independent form of an inbound request.
// Both frontdoor codecs produce this; the gateway consumes it.
type CanonicalRequest struct {
	Model         string           `json:"model"`
	Messages      []Message        `json:"messages"`
	System        []ContentPart    `json:"system,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Temperature   *float64         `json:"temperature,omitempty"`
	TopK          *int             `json:"top_k,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	ToolChoice    *ToolChoice      `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig  `json:"thinking,omitempty"`
	Stream        bool             `json:"stream"`
	// StreamUsage requests a trailing usage chunk on protocols where the
	// client must opt in.
	StreamUsage bool   `json:"stream_usage,omitempty"`
	UserID      string `json:"user_id,omitempty"`

	// Gateway extensions.
	SessionID       string   `json:"session_id,omitempty"`
	MaxTurns        int      `json:"max_turns,omitempty"`
	AllowedTools    []string `json:"allowed_tools,omitempty"`
	DisallowedTools []string `json:"disallowed_tools,omitempty"`
	// MCPServers are opaque server configurations forwarded to the engine.
	MCPServers map[string]json.RawMessage `json:"mcp_servers,omitempty"`
}

// PendingToolInvocation is an external tool call the engine attempted but was
// not allowed to execute. Ownership transfers to the caller once rendered
// into a response.
type PendingToolInvocation struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input any    `json:"input"`
}

// Usage is the token accounting surfaced to the caller. Counts come from the
// engine when available, otherwise from the estimator.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StopReason is the terminal reason for a turn.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
)

// CapabilityTier is the validated authorization level attached to a request
// before it reaches the frontdoor. It gates the classifier and interceptor.
type CapabilityTier string

const (
	// TierNone permits no tool execution at all.
	TierNone CapabilityTier = "none"
	// TierBuiltin permits engine-native tools only; external tools are
	// silently ignored.
	TierBuiltin CapabilityTier = "builtin"
	// TierFull permits native tools plus external tool interception.
	TierFull CapabilityTier = "full"
)

// AllowsTools reports whether any tool execution is permitted.
func (t CapabilityTier) AllowsTools() bool { return t == TierBuiltin || t == TierFull }

// AllowsExternal reports whether external tool interception is permitted.
func (t CapabilityTier) AllowsExternal() bool { return t == TierFull }
