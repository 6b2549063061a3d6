// Package storage defines the interaction persistence contract. An
// interaction is one completed gateway turn: the request summary, the
// outcome, and the token accounting. Stores are append-heavy; reads serve
// the admin surface only.
package storage

import (
	"context"
	"time"
)

// Interaction is the persisted record of one gateway turn.
type Interaction struct {
	ID        string    `json:"id"`
	Protocol  string    `json:"protocol"`
	Model     string    `json:"model"`
	SessionID string    `json:"session_id,omitempty"`
	Streaming bool      `json:"streaming"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	// Turn outcome. PendingTool is set when the turn halted on an
	// external tool invocation.
	StopReason  string `json:"stop_reason,omitempty"`
	PendingTool string `json:"pending_tool,omitempty"`
	DurationNS  int64  `json:"duration_ns"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Interaction status values.
const (
	StatusCompleted   = "completed"
	StatusIntercepted = "intercepted"
	StatusError       = "error"
)

// ListOptions filters and pages interaction listings.
type ListOptions struct {
	Limit    int
	Offset   int
	Status   string
	Protocol string
}

// InteractionStore persists turn records.
type InteractionStore interface {
	RecordInteraction(ctx context.Context, rec *Interaction) error
	GetInteraction(ctx context.Context, id string) (*Interaction, error)
	ListInteractions(ctx context.Context, opts ListOptions) ([]*Interaction, error)
	Close() error
}
