// Package gateway orchestrates one turn of the agentic engine: tier
// gating, tool classification, session continuity, event collection, and
// interaction recording. Protocol concerns stay behind the codec
// interface; this package never sees wire formats.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/codec"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/engine"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/session"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/storage"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/tools"
)

// TokenEstimator supplies usage estimates for turns whose engine reported
// no token counts.
type TokenEstimator interface {
	CountRequest(req *domain.CanonicalRequest) int
	CountText(model, text string) int
}

// Gateway runs turns against an engine.
type Gateway struct {
	engine   engine.Engine
	sessions *session.Store
	store    storage.InteractionStore
	tokens   TokenEstimator
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithSessions enables session continuity.
func WithSessions(store *session.Store) Option {
	return func(g *Gateway) { g.sessions = store }
}

// WithInteractionStore enables turn recording.
func WithInteractionStore(store storage.InteractionStore) Option {
	return func(g *Gateway) { g.store = store }
}

// WithTokenEstimator enables usage estimation fallback.
func WithTokenEstimator(est TokenEstimator) Option {
	return func(g *Gateway) { g.tokens = est }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// New creates a Gateway around an engine.
func New(eng engine.Engine, opts ...Option) *Gateway {
	g := &Gateway{
		engine: eng,
		logger: slog.Default(),
		tracer: otel.Tracer("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// turnSetup is the shared preparation for streaming and non-streaming turns.
type turnSetup struct {
	engineReq *domain.CanonicalRequest
	opts      engine.Options
	icept     *tools.InterceptionContext
	external  []domain.ToolDefinition
	release   func()
}

// prepare gates the request by tier, classifies tools, and loads session
// history. On success the caller owns setup.release.
func (g *Gateway) prepare(req *domain.CanonicalRequest, tier domain.CapabilityTier) (*turnSetup, error) {
	if len(req.Tools) > 0 && !tier.AllowsTools() {
		return nil, domain.ErrPermission("this API key does not permit tool use")
	}

	native, external := tools.Classify(req.Tools)
	if len(external) > 0 && !tier.AllowsExternal() {
		return nil, domain.ErrPermission(fmt.Sprintf(
			"this API key does not permit external tools (requested: %s)",
			strings.Join(toolNames(external), ", ")))
	}

	native = filterTools(native, req.AllowedTools, req.DisallowedTools)

	setup := &turnSetup{
		engineReq: req,
		external:  external,
		icept:     tools.NewInterceptionContext(external),
		release:   func() {},
		opts: engine.Options{
			NativeTools:     native,
			AdvertisedTools: external,
			MaxTurns:        req.MaxTurns,
		},
	}

	if req.SessionID != "" && g.sessions != nil {
		g.sessions.Acquire(req.SessionID)
		setup.release = func() { g.sessions.Release(req.SessionID) }

		if hist, ok := g.sessions.Get(req.SessionID); ok && len(hist.Messages) > 0 {
			merged := *req
			merged.Messages = make([]domain.Message, 0, len(hist.Messages)+len(req.Messages))
			merged.Messages = append(merged.Messages, hist.Messages...)
			merged.Messages = append(merged.Messages, req.Messages...)
			setup.engineReq = &merged
			g.logger.Debug("session history loaded",
				slog.String("session_id", req.SessionID),
				slog.Int("history_messages", len(hist.Messages)))
		}
	}

	return setup, nil
}

// RunTurn executes one non-streaming turn. Native tool activity is not
// rendered; the result carries the assistant text, the stop reason, and
// the pending external invocation when the turn was halted.
func (g *Gateway) RunTurn(ctx context.Context, req *domain.CanonicalRequest, tier domain.CapabilityTier, protocol string) (*codec.TurnResult, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.RunTurn",
		trace.WithAttributes(
			attribute.String("gateway.protocol", protocol),
			attribute.String("gateway.model", req.Model),
		))
	defer span.End()
	started := time.Now()

	setup, err := g.prepare(req, tier)
	if err != nil {
		return nil, err
	}
	defer setup.release()

	events, err := g.engine.Run(ctx, setup.engineReq, setup.opts, setup.icept)
	if err != nil {
		return nil, engineError(err)
	}

	var text strings.Builder
	var usage domain.Usage
	var terminal bool
	stop := domain.StopEndTurn
	for ev := range events {
		switch ev.Type {
		case domain.EventTextDelta:
			text.WriteString(ev.Text)
		case domain.EventUsage:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		case domain.EventTurnComplete:
			stop = ev.StopReason
			terminal = true
		case domain.EventError:
			g.recordTurn(req, protocol, false, nil, stop, usage, started, ev.Err)
			return nil, engineError(ev.Err)
		}
	}
	// A channel close without a terminal event means the turn was abandoned
	// (cancellation or an engine that died silently). Nothing is persisted.
	if !terminal {
		err := abandonedTurn(ctx)
		g.recordTurn(req, protocol, false, nil, stop, usage, started, err)
		return nil, engineError(err)
	}

	pending := setup.icept.Pending()
	if err := checkInterception(stop, pending, len(setup.external)); err != nil {
		g.logger.Error("interception inconsistency",
			slog.String("stop_reason", string(stop)),
			slog.Bool("pending", pending != nil))
		return nil, err
	}

	result := &codec.TurnResult{
		Model:      req.Model,
		Text:       text.String(),
		Pending:    pending,
		StopReason: stop,
		Usage:      g.resolveUsage(setup.engineReq, usage, text.String()),
	}

	g.persistSession(req, setup, result.Text, pending)
	g.recordTurn(req, protocol, false, pending, stop, result.Usage, started, nil)
	return result, nil
}

// StreamTurn executes one streaming turn, pushing fully framed chunks to
// sink in event order. Errors that occur before the first frame are
// returned so the caller can render a proper error response; once frames
// have been written the stream is abandoned and the error is returned for
// logging only.
func (g *Gateway) StreamTurn(ctx context.Context, req *domain.CanonicalRequest, tier domain.CapabilityTier, protocol string, s codec.Stream, sink func([]byte) error) error {
	ctx, span := g.tracer.Start(ctx, "gateway.StreamTurn",
		trace.WithAttributes(
			attribute.String("gateway.protocol", protocol),
			attribute.String("gateway.model", req.Model),
		))
	defer span.End()
	started := time.Now()

	setup, err := g.prepare(req, tier)
	if err != nil {
		return err
	}
	defer setup.release()

	events, err := g.engine.Run(ctx, setup.engineReq, setup.opts, setup.icept)
	if err != nil {
		return engineError(err)
	}

	if err := writeFrames(sink, s.Start()); err != nil {
		return err
	}

	var text strings.Builder
	var usage domain.Usage
	var terminal bool
	stop := domain.StopEndTurn
	for ev := range events {
		switch ev.Type {
		case domain.EventTextDelta:
			text.WriteString(ev.Text)
		case domain.EventUsage:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
			continue
		case domain.EventTurnComplete:
			stop = ev.StopReason
			terminal = true
			continue
		case domain.EventError:
			g.recordTurn(req, protocol, true, nil, stop, usage, started, ev.Err)
			return engineError(ev.Err)
		}
		if err := writeFrames(sink, s.Event(ev)); err != nil {
			return err
		}
	}
	if !terminal {
		err := abandonedTurn(ctx)
		g.recordTurn(req, protocol, true, nil, stop, usage, started, err)
		return engineError(err)
	}

	pending := setup.icept.Pending()
	if err := checkInterception(stop, pending, len(setup.external)); err != nil {
		g.logger.Error("interception inconsistency",
			slog.String("stop_reason", string(stop)),
			slog.Bool("pending", pending != nil))
		return err
	}

	resolved := g.resolveUsage(setup.engineReq, usage, text.String())
	if err := writeFrames(sink, s.Finish(stop, pending, resolved)); err != nil {
		return err
	}

	g.persistSession(req, setup, text.String(), pending)
	g.recordTurn(req, protocol, true, pending, stop, resolved, started, nil)
	return nil
}

// persistSession appends the turn's new messages and the assistant reply.
func (g *Gateway) persistSession(req *domain.CanonicalRequest, setup *turnSetup, text string, pending *domain.PendingToolInvocation) {
	if req.SessionID == "" || g.sessions == nil {
		return
	}

	reply := domain.Message{Role: domain.RoleAssistant}
	if text != "" {
		reply.Parts = append(reply.Parts, domain.ContentPart{Type: domain.PartText, Text: text})
	}
	if pending != nil {
		reply.Parts = append(reply.Parts, domain.ContentPart{
			Type:  domain.PartToolUse,
			ID:    pending.ID,
			Name:  pending.Name,
			Input: pending.Input,
		})
	}

	msgs := append(append([]domain.Message{}, req.Messages...), reply)
	g.sessions.Append(req.SessionID, msgs...)
	if names := setup.icept.ExternalNames(); len(names) > 0 {
		g.sessions.SetExternalTools(req.SessionID, names)
	}
}

// recordTurn persists the interaction record. Failures are logged, never
// surfaced to the caller.
func (g *Gateway) recordTurn(req *domain.CanonicalRequest, protocol string, streaming bool, pending *domain.PendingToolInvocation, stop domain.StopReason, usage domain.Usage, started time.Time, turnErr error) {
	if g.store == nil {
		return
	}

	rec := &storage.Interaction{
		ID:           "int_" + uuid.NewString(),
		Protocol:     protocol,
		Model:        req.Model,
		SessionID:    req.SessionID,
		Streaming:    streaming,
		Status:       storage.StatusCompleted,
		StopReason:   string(stop),
		DurationNS:   time.Since(started).Nanoseconds(),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}
	if pending != nil {
		rec.Status = storage.StatusIntercepted
		rec.PendingTool = pending.Name
	}
	if turnErr != nil {
		rec.Status = storage.StatusError
		rec.ErrorMessage = turnErr.Error()
		if apiErr, ok := turnErr.(*domain.APIError); ok {
			rec.ErrorType = string(apiErr.Type)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.store.RecordInteraction(ctx, rec); err != nil {
		g.logger.Warn("failed to record interaction",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()))
	}
}

// resolveUsage fills in estimated counts when the engine reported none.
func (g *Gateway) resolveUsage(req *domain.CanonicalRequest, usage domain.Usage, text string) domain.Usage {
	if usage.InputTokens > 0 || usage.OutputTokens > 0 || g.tokens == nil {
		return usage
	}
	return domain.Usage{
		InputTokens:  g.tokens.CountRequest(req),
		OutputTokens: g.tokens.CountText(req.Model, text),
	}
}

// checkInterception enforces the halt contract: a captured invocation and
// a tool_use stop reason appear together or not at all.
func checkInterception(stop domain.StopReason, pending *domain.PendingToolInvocation, externalCount int) error {
	if pending != nil && stop != domain.StopToolUse {
		return domain.ErrInterception(fmt.Sprintf(
			"external tool %q was intercepted but the turn ended with stop reason %s", pending.Name, stop))
	}
	if pending == nil && stop == domain.StopToolUse {
		if externalCount == 0 {
			return domain.ErrInterception("turn ended with stop reason tool_use but no external tools were declared")
		}
		return domain.ErrInterception("turn ended with stop reason tool_use but no invocation was intercepted")
	}
	return nil
}

// abandonedTurn names the failure behind an event stream that closed with
// no terminal event.
func abandonedTurn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("engine closed the event stream without completing the turn")
}

// engineError normalizes engine failures to the canonical error shape.
func engineError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrEngineTimeout("engine did not respond in time")
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrEngine("turn cancelled before completion")
	}
	return domain.ErrEngine("engine failure: " + err.Error())
}

func writeFrames(sink func([]byte) error, frames [][]byte) error {
	for _, frame := range frames {
		if err := sink(frame); err != nil {
			return err
		}
	}
	return nil
}

// filterTools applies the request's allow and deny lists to the native
// tool set. An empty allow list permits everything not denied.
func filterTools(names, allowed, disallowed []string) []string {
	allow := make(map[string]bool, len(allowed))
	for _, n := range allowed {
		allow[n] = true
	}
	deny := make(map[string]bool, len(disallowed))
	for _, n := range disallowed {
		deny[n] = true
	}

	out := names[:0:0]
	for _, n := range names {
		if deny[n] {
			continue
		}
		if len(allow) > 0 && !allow[n] {
			continue
		}
		out = append(out, n)
	}
	return out
}

func toolNames(defs []domain.ToolDefinition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}
