// Package engine defines the contract between the gateway and the agent
// execution engine. The engine is an external collaborator: it runs model
// reasoning, executes tools it is told are native, and emits an ordered
// event stream. The gateway never looks inside it.
package engine

import (
	"context"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

// Behavior is the tagged decision returned by an Authorizer.
type Behavior int

const (
	// Allow lets the engine execute the tool.
	Allow Behavior = iota
	// DenyAndHalt refuses execution and instructs the engine to end the
	// turn immediately. This is an interrupting denial, not a "tool
	// failed" result the engine could route around.
	DenyAndHalt
)

// Decision is the outcome of a permission check.
type Decision struct {
	Behavior Behavior
	Message  string
}

// Allowed is the zero-friction allow decision.
func Allowed() Decision { return Decision{Behavior: Allow} }

// Halted builds an interrupting denial.
func Halted(message string) Decision {
	return Decision{Behavior: DenyAndHalt, Message: message}
}

// Authorizer is consulted by the engine before every tool execution.
type Authorizer interface {
	Authorize(ctx context.Context, toolName string, input any, invocationID string) Decision
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, toolName string, input any, invocationID string) Decision

func (f AuthorizerFunc) Authorize(ctx context.Context, toolName string, input any, invocationID string) Decision {
	return f(ctx, toolName, input, invocationID)
}

// AllowAll is the no-op policy used when a request declares no external tools.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, string, any, string) Decision {
	return Allowed()
})

// Options configures a single engine invocation.
type Options struct {
	// NativeTools is the allow-list of built-in tool names the engine may
	// execute itself.
	NativeTools []string
	// AdvertisedTools are declared to the engine for planning only; the
	// Authorizer prevents their execution.
	AdvertisedTools []domain.ToolDefinition
	// MaxTurns bounds the engine's internal plan/act iterations.
	MaxTurns int
}

// Engine runs one turn of the underlying agent. The returned channel carries
// events in production order and is closed after exactly one terminal event
// (turn complete or error). Run must honor ctx cancellation by abandoning
// the turn and closing the channel.
type Engine interface {
	Run(ctx context.Context, req *domain.CanonicalRequest, opts Options, auth Authorizer) (<-chan domain.Event, error)
}
