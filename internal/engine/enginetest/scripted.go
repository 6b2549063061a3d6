// Package enginetest provides a scripted engine for tests. It plays a fixed
// sequence of steps and consults the Authorizer before every tool step, the
// way the real engine does.
package enginetest

import (
	"context"
	"encoding/json"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/engine"
)

// ToolCall is a scripted tool attempt.
type ToolCall struct {
	ID    string
	Name  string
	Input any
}

// Step is one scripted action. Exactly one field should be set.
type Step struct {
	Text  string
	Tool  *ToolCall
	Usage *domain.Usage
	Stop  domain.StopReason
	Err   error
}

// Scripted plays its steps in order. A denied tool step ends the turn with
// stop reason tool_use, mirroring the interrupting-denial contract. If the
// script runs out without a terminal step, the turn ends with end_turn.
type Scripted struct {
	Steps []Step

	// RunErr, when set, is returned from Run before any event is produced.
	RunErr error
}

// Run implements engine.Engine.
func (s *Scripted) Run(ctx context.Context, req *domain.CanonicalRequest, opts engine.Options, auth engine.Authorizer) (<-chan domain.Event, error) {
	if s.RunErr != nil {
		return nil, s.RunErr
	}
	if auth == nil {
		auth = engine.AllowAll
	}

	out := make(chan domain.Event)
	go func() {
		defer close(out)
		emit := func(ev domain.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, step := range s.Steps {
			switch {
			case step.Text != "":
				if !emit(domain.Event{Type: domain.EventTextDelta, Text: step.Text}) {
					return
				}

			case step.Tool != nil:
				decision := auth.Authorize(ctx, step.Tool.Name, step.Tool.Input, step.Tool.ID)
				if decision.Behavior == engine.DenyAndHalt {
					emit(domain.Event{Type: domain.EventTurnComplete, StopReason: domain.StopToolUse})
					return
				}
				input, _ := json.Marshal(step.Tool.Input)
				if !emit(domain.Event{Type: domain.EventToolStart, ToolID: step.Tool.ID, ToolName: step.Tool.Name}) {
					return
				}
				if !emit(domain.Event{Type: domain.EventToolDelta, ToolID: step.Tool.ID, ToolInput: string(input)}) {
					return
				}
				if !emit(domain.Event{Type: domain.EventToolStop, ToolID: step.Tool.ID}) {
					return
				}

			case step.Usage != nil:
				u := *step.Usage
				if !emit(domain.Event{Type: domain.EventUsage, Usage: &u}) {
					return
				}

			case step.Err != nil:
				emit(domain.Event{Type: domain.EventError, Err: step.Err})
				return

			case step.Stop != "":
				emit(domain.Event{Type: domain.EventTurnComplete, StopReason: step.Stop})
				return
			}
		}
		emit(domain.Event{Type: domain.EventTurnComplete, StopReason: domain.StopEndTurn})
	}()
	return out, nil
}

var _ engine.Engine = (*Scripted)(nil)
