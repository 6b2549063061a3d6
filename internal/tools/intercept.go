package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/engine"
	"github.com/google/uuid"
)

// InterceptionContext is the per-request permission policy handed to the
// engine. Native tools pass through; the first external tool attempt is
// captured as a pending invocation and the engine is told to halt the turn.
//
// At most one invocation is held. A second external attempt in the same turn
// is also denied-and-halted but does not displace the first capture; the
// engine is expected to stop driving forward after the first interrupting
// denial, so a second attempt only happens when it misbehaves.
type InterceptionContext struct {
	external map[string]struct{}

	mu      sync.Mutex
	pending *domain.PendingToolInvocation
}

// NewInterceptionContext builds a context for the given external tool
// definitions. With zero external tools the context is an allow-everything
// no-op.
func NewInterceptionContext(external []domain.ToolDefinition) *InterceptionContext {
	names := make(map[string]struct{}, len(external))
	for _, def := range external {
		names[def.Name] = struct{}{}
	}
	return &InterceptionContext{external: names}
}

// IsExternal reports whether the named tool is external for this request.
func (c *InterceptionContext) IsExternal(name string) bool {
	_, ok := c.external[name]
	return ok
}

// ExternalNames returns the external tool-name set.
func (c *InterceptionContext) ExternalNames() []string {
	names := make([]string, 0, len(c.external))
	for name := range c.external {
		names = append(names, name)
	}
	return names
}

// Pending returns the captured invocation, or nil if none was captured.
func (c *InterceptionContext) Pending() *domain.PendingToolInvocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Authorize implements engine.Authorizer.
func (c *InterceptionContext) Authorize(ctx context.Context, toolName string, input any, invocationID string) engine.Decision {
	if !c.IsExternal(toolName) {
		slog.Debug("allowing native tool", slog.String("tool", toolName))
		return engine.Allowed()
	}

	if invocationID == "" {
		invocationID = "toolu_" + uuid.NewString()
	}

	c.mu.Lock()
	if c.pending == nil {
		c.pending = &domain.PendingToolInvocation{
			ID:    invocationID,
			Name:  toolName,
			Input: input,
		}
		slog.Debug("intercepted external tool",
			slog.String("tool", toolName),
			slog.String("invocation_id", invocationID),
		)
	} else {
		slog.Warn("external tool attempted after interception",
			slog.String("tool", toolName),
			slog.String("held", c.pending.Name),
		)
	}
	c.mu.Unlock()

	return engine.Halted(fmt.Sprintf("external tool %q - returning control to client", toolName))
}

var _ engine.Authorizer = (*InterceptionContext)(nil)
