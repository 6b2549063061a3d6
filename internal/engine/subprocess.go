package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

const defaultIdleTimeout = 120 * time.Second

// Subprocess drives an agent CLI as a child process. The request is written
// to stdin as a single JSON document; the child emits newline-delimited JSON
// events on stdout, including permission requests which are answered inline
// on stdin.
type Subprocess struct {
	command     string
	args        []string
	idleTimeout time.Duration
	logger      *slog.Logger
}

// SubprocessOption configures the subprocess engine.
type SubprocessOption func(*Subprocess)

// WithIdleTimeout bounds the gap between consecutive child events. A child
// that goes silent longer than this is killed and the turn fails with an
// engine timeout.
func WithIdleTimeout(d time.Duration) SubprocessOption {
	return func(s *Subprocess) { s.idleTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SubprocessOption {
	return func(s *Subprocess) { s.logger = logger }
}

// NewSubprocess creates a subprocess-backed engine.
func NewSubprocess(command string, args []string, opts ...SubprocessOption) *Subprocess {
	s := &Subprocess{
		command:     command,
		args:        args,
		idleTimeout: defaultIdleTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// wireRequest is the JSON document handed to the child on startup.
type wireRequest struct {
	Model           string                     `json:"model"`
	Messages        []domain.Message           `json:"messages"`
	System          []domain.ContentPart       `json:"system,omitempty"`
	MaxTokens       int                        `json:"max_tokens,omitempty"`
	Temperature     *float64                   `json:"temperature,omitempty"`
	TopK            *int                       `json:"top_k,omitempty"`
	StopSequences   []string                   `json:"stop_sequences,omitempty"`
	ToolChoice      *domain.ToolChoice         `json:"tool_choice,omitempty"`
	Thinking        *domain.ThinkingConfig     `json:"thinking,omitempty"`
	UserID          string                     `json:"user_id,omitempty"`
	MCPServers      map[string]json.RawMessage `json:"mcp_servers,omitempty"`
	NativeTools     []string                   `json:"native_tools,omitempty"`
	AdvertisedTools []domain.ToolDefinition    `json:"advertised_tools,omitempty"`
	MaxTurns        int                        `json:"max_turns,omitempty"`
}

// newWireRequest carries every canonical field the child honors. Fields the
// caller set must survive to the engine boundary, not degrade to defaults.
func newWireRequest(req *domain.CanonicalRequest, opts Options) wireRequest {
	return wireRequest{
		Model:           req.Model,
		Messages:        req.Messages,
		System:          req.System,
		MaxTokens:       req.MaxTokens,
		Temperature:     req.Temperature,
		TopK:            req.TopK,
		StopSequences:   req.StopSequences,
		ToolChoice:      req.ToolChoice,
		Thinking:        req.Thinking,
		UserID:          req.UserID,
		MCPServers:      req.MCPServers,
		NativeTools:     opts.NativeTools,
		AdvertisedTools: opts.AdvertisedTools,
		MaxTurns:        opts.MaxTurns,
	}
}

// wireEvent is one newline-delimited JSON event from the child.
type wireEvent struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	PartialJSON  string          `json:"partial_json,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	StopReason   string          `json:"stop_reason,omitempty"`
	InputTokens  int             `json:"input_tokens,omitempty"`
	OutputTokens int             `json:"output_tokens,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// wireDecision answers a permission_request event.
type wireDecision struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Behavior  string `json:"behavior"`
	Message   string `json:"message,omitempty"`
	Interrupt bool   `json:"interrupt,omitempty"`
}

// Run implements Engine.
func (s *Subprocess) Run(ctx context.Context, req *domain.CanonicalRequest, opts Options, auth Authorizer) (<-chan domain.Event, error) {
	if auth == nil {
		auth = AllowAll
	}

	cmd := exec.CommandContext(ctx, s.command, s.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, domain.ErrEngine(fmt.Sprintf("failed to start engine: %v", err)).WithCode(domain.ErrorCodeEngineUnavailable)
	}

	wr := newWireRequest(req, opts)
	enc := json.NewEncoder(stdin)
	if err := enc.Encode(&wr); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("failed to write engine request: %w", err)
	}

	out := make(chan domain.Event)
	go s.pump(ctx, cmd, stdin, stdout, enc, auth, out)
	return out, nil
}

func (s *Subprocess) pump(ctx context.Context, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.Reader, enc *json.Encoder, auth Authorizer, out chan<- domain.Event) {
	defer close(out)
	defer cmd.Wait()
	defer stdin.Close()

	// scanErr is buffered and written on every scanner exit path so the
	// pump's receive below can never block after lines closes.
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				scanErr <- ctx.Err()
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	emit := func(ev domain.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
			return

		case <-timer.C:
			cmd.Process.Kill()
			emit(domain.Event{Type: domain.EventError, Err: domain.ErrEngineTimeout(
				fmt.Sprintf("no engine output for %s", s.idleTimeout))})
			return

		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					emit(domain.Event{Type: domain.EventError, Err: domain.ErrEngine(
						fmt.Sprintf("engine stream read failed: %v", err))})
					return
				}
				// Stream ended without a terminal event.
				emit(domain.Event{Type: domain.EventError, Err: domain.ErrEngine(
					"engine exited before completing the turn")})
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.idleTimeout)

			var wev wireEvent
			if err := json.Unmarshal(line, &wev); err != nil {
				s.logger.Warn("discarding unparseable engine event", slog.String("error", err.Error()))
				continue
			}

			switch wev.Type {
			case "text_delta":
				if !emit(domain.Event{Type: domain.EventTextDelta, Text: wev.Text}) {
					return
				}
			case "tool_start":
				if !emit(domain.Event{Type: domain.EventToolStart, ToolID: wev.ID, ToolName: wev.Name}) {
					return
				}
			case "tool_delta":
				if !emit(domain.Event{Type: domain.EventToolDelta, ToolID: wev.ID, ToolInput: wev.PartialJSON}) {
					return
				}
			case "tool_stop":
				if !emit(domain.Event{Type: domain.EventToolStop, ToolID: wev.ID}) {
					return
				}
			case "permission_request":
				var input any
				if len(wev.Input) > 0 {
					json.Unmarshal(wev.Input, &input)
				}
				decision := auth.Authorize(ctx, wev.Name, input, wev.ID)
				answer := wireDecision{Type: "permission_result", ID: wev.ID, Behavior: "allow"}
				if decision.Behavior == DenyAndHalt {
					answer.Behavior = "deny"
					answer.Message = decision.Message
					answer.Interrupt = true
				}
				if err := enc.Encode(&answer); err != nil {
					cmd.Process.Kill()
					emit(domain.Event{Type: domain.EventError, Err: domain.ErrEngine(
						fmt.Sprintf("failed to answer permission request: %v", err))})
					return
				}
			case "usage":
				if !emit(domain.Event{Type: domain.EventUsage, Usage: &domain.Usage{
					InputTokens:  wev.InputTokens,
					OutputTokens: wev.OutputTokens,
				}}) {
					return
				}
			case "result":
				emit(domain.Event{Type: domain.EventTurnComplete, StopReason: domain.StopReason(wev.StopReason)})
				return
			case "error":
				emit(domain.Event{Type: domain.EventError, Err: domain.ErrEngine(wev.Message)})
				return
			default:
				s.logger.Debug("ignoring unknown engine event", slog.String("type", wev.Type))
			}
		}
	}
}

var _ Engine = (*Subprocess)(nil)
