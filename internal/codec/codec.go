// Package codec defines the protocol adapter contract. One implementation
// exists per supported wire format; everything protocol-specific lives
// behind this interface so shared code never branches on a protocol name.
package codec

import (
	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

// TurnResult is a finished turn, ready to be rendered into a protocol's
// non-streaming response shape.
type TurnResult struct {
	Model      string
	Text       string
	Pending    *domain.PendingToolInvocation
	StopReason domain.StopReason
	Usage      domain.Usage
}

// StreamMeta carries per-stream rendering state inputs.
type StreamMeta struct {
	Model string
	// IncludeUsage requests a trailing usage-only chunk where the
	// protocol supports one.
	IncludeUsage bool
}

// Stream renders canonical events as protocol-specific chunked frames.
// Returned byte slices are fully framed (SSE lines included) and must be
// written in order. A nil or empty result means the event produces no chunk.
type Stream interface {
	// Start emits the protocol's stream preamble, if any.
	Start() [][]byte
	// Event renders one non-terminal canonical event.
	Event(ev domain.Event) [][]byte
	// Finish renders the pending tool invocation (when present), the
	// terminal chunk carrying the stop reason, and the protocol's stream
	// trailer.
	Finish(stop domain.StopReason, pending *domain.PendingToolInvocation, usage domain.Usage) [][]byte
}

// Codec translates between one wire protocol and the canonical model.
type Codec interface {
	// Name returns the protocol name.
	Name() string

	// ParseRequest validates and converts an inbound payload. It returns
	// a domain.APIError of type parse for payloads that are not valid
	// JSON and of type invalid_request, naming the offending field, for
	// structural violations.
	ParseRequest(data []byte) (*domain.CanonicalRequest, error)

	// RenderComplete collects a finished turn into the protocol's
	// non-streaming response shape.
	RenderComplete(res *TurnResult) ([]byte, error)

	// NewStream begins rendering one streamed turn.
	NewStream(meta StreamMeta) Stream

	// RenderError converts an error to the protocol's error envelope.
	// Non-client errors collapse to an opaque server error.
	RenderError(err error) (status int, body []byte)
}
