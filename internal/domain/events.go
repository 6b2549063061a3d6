package domain

// EventType discriminates the canonical event variants produced by an engine
// invocation. Events are strictly ordered and consumed exactly once.
type EventType string

const (
	EventTextDelta    EventType = "text_delta"
	EventToolStart    EventType = "tool_start"
	EventToolDelta    EventType = "tool_delta"
	EventToolStop     EventType = "tool_stop"
	EventTurnComplete EventType = "turn_complete"
	EventUsage        EventType = "usage"
	EventError        EventType = "error"
)

// Event is one element of the engine's output stream. Exactly one
// EventTurnComplete or EventError terminates the stream.
type Event struct {
	Type EventType

	// EventTextDelta
	Text string

	// EventToolStart carries ToolID and ToolName; EventToolDelta carries
	// incremental JSON input in ToolInput; EventToolStop closes the call.
	ToolID    string
	ToolName  string
	ToolInput string

	// EventTurnComplete
	StopReason StopReason

	// EventUsage
	Usage *Usage

	// EventError
	Err error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventTurnComplete || e.Type == EventError
}
