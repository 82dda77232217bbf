// Package hooks defines the AgentEvent stream emitted by the turn loop and
// the lifecycle hook contracts (pre_tool_use, post_tool_use, compaction,
// context transforms) that let a host observe and steer a run without
// reaching into its internals.
package hooks

import "encoding/json"

// EventType identifies the concrete shape of an Event.
type EventType string

const (
	EventTurnStart           EventType = "turn_start"
	EventTurnEnd             EventType = "turn_end"
	EventMessageAppended     EventType = "message_appended"
	EventTextDelta           EventType = "text_delta"
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"
	EventToolResult          EventType = "tool_result"
	EventToolCallCompleted   EventType = "tool_call_completed"
	EventContextCompacted    EventType = "context_compacted"
	EventRunCompleted        EventType = "run_completed"
	EventRunFailed           EventType = "run_failed"
	EventRunCanceled         EventType = "run_canceled"
)

// Event is the interface implemented by every value the turn loop pushes to
// an EventSink. Subscribers type-switch on the concrete struct to reach
// event-specific fields.
type Event interface {
	// Type identifies the concrete event shape.
	Type() EventType
	// RunID identifies the run that produced the event.
	RunID() string
}

type base struct {
	runID string
}

// RunID implements Event.
func (b base) RunID() string { return b.runID }

type (
	// TurnStartEvent fires at the beginning of each turn, before the provider
	// is called.
	TurnStartEvent struct {
		base
		TurnIndex int
	}

	// TurnEndEvent fires once a turn's assistant message (and any tool
	// results it produced) has been appended to history.
	TurnEndEvent struct {
		base
		TurnIndex int
	}

	// MessageAppendedEvent fires whenever a message is appended to the run's
	// history, regardless of role.
	MessageAppendedEvent struct {
		base
		Index int
	}

	// TextDeltaEvent carries one incremental text fragment from a streaming
	// provider response.
	TextDeltaEvent struct {
		base
		TurnIndex int
		Delta     string
	}

	// ToolExecutionStartEvent fires immediately before a tool's Execute is
	// invoked (after hooks, name resolution, and argument validation).
	ToolExecutionStartEvent struct {
		base
		ToolCallID string
		ToolName   string
	}

	// ToolExecutionUpdateEvent carries a progress update forwarded from a
	// tool's on_update callback while it is still executing.
	ToolExecutionUpdateEvent struct {
		base
		ToolCallID string
		ToolName   string
		Update     json.RawMessage
	}

	// ToolExecutionEndEvent fires once a tool call that began executing has
	// produced its final result, whether success, tool error, or
	// cancellation. Calls resolved without executing (blocked by a
	// pre_tool_use hook, unknown tool, invalid arguments) and calls skipped
	// for a steering message emit no tool execution events.
	ToolExecutionEndEvent struct {
		base
		ToolCallID string
		ToolName   string
		IsError    bool
	}

	// ToolResultEvent carries the final tool-result payload appended to
	// history for one tool call.
	ToolResultEvent struct {
		base
		ToolCallID string
		ToolName   string
		Result     json.RawMessage
		IsError    bool
	}

	// ToolCallCompletedEvent fires after ToolResultEvent once the tool-result
	// message has been appended to the run's history, giving subscribers a
	// stable point to observe the updated message count.
	ToolCallCompletedEvent struct {
		base
		ToolCallID string
	}

	// ContextCompactedEvent fires whenever the turn loop's automatic
	// compaction substitutes a compacted history for the prior one. A direct
	// compaction.Compact call emits no event.
	ContextCompactedEvent struct {
		base
		// RemovedMessages is the count of messages replaced by the summary.
		RemovedMessages int
		// TurnSplit reports whether the cut point had to be adjusted backwards
		// to avoid splitting a tool-call/tool-result pair.
		TurnSplit bool
	}

	// RunCompletedEvent fires once when a run terminates with RunStatusCompleted.
	RunCompletedEvent struct {
		base
		Usage json.RawMessage
	}

	// RunFailedEvent fires once when a run terminates with RunStatusFailed.
	RunFailedEvent struct {
		base
		Error string
	}

	// RunCanceledEvent fires once when a run terminates with RunStatusCanceled.
	RunCanceledEvent struct {
		base
	}
)

func (e TurnStartEvent) Type() EventType           { return EventTurnStart }
func (e TurnEndEvent) Type() EventType              { return EventTurnEnd }
func (e MessageAppendedEvent) Type() EventType      { return EventMessageAppended }
func (e TextDeltaEvent) Type() EventType            { return EventTextDelta }
func (e ToolExecutionStartEvent) Type() EventType   { return EventToolExecutionStart }
func (e ToolExecutionUpdateEvent) Type() EventType  { return EventToolExecutionUpdate }
func (e ToolExecutionEndEvent) Type() EventType      { return EventToolExecutionEnd }
func (e ToolResultEvent) Type() EventType            { return EventToolResult }
func (e ToolCallCompletedEvent) Type() EventType     { return EventToolCallCompleted }
func (e ContextCompactedEvent) Type() EventType      { return EventContextCompacted }
func (e RunCompletedEvent) Type() EventType          { return EventRunCompleted }
func (e RunFailedEvent) Type() EventType             { return EventRunFailed }
func (e RunCanceledEvent) Type() EventType           { return EventRunCanceled }

// newBase constructs the embedded base for events produced by one run.
func newBase(runID string) base { return base{runID: runID} }

// NewTurnStart constructs a TurnStartEvent.
func NewTurnStart(runID string, turnIndex int) TurnStartEvent {
	return TurnStartEvent{base: newBase(runID), TurnIndex: turnIndex}
}

// NewTurnEnd constructs a TurnEndEvent.
func NewTurnEnd(runID string, turnIndex int) TurnEndEvent {
	return TurnEndEvent{base: newBase(runID), TurnIndex: turnIndex}
}

// NewMessageAppended constructs a MessageAppendedEvent.
func NewMessageAppended(runID string, index int) MessageAppendedEvent {
	return MessageAppendedEvent{base: newBase(runID), Index: index}
}

// NewTextDelta constructs a TextDeltaEvent.
func NewTextDelta(runID string, turnIndex int, delta string) TextDeltaEvent {
	return TextDeltaEvent{base: newBase(runID), TurnIndex: turnIndex, Delta: delta}
}

// NewToolExecutionStart constructs a ToolExecutionStartEvent.
func NewToolExecutionStart(runID, toolCallID, toolName string) ToolExecutionStartEvent {
	return ToolExecutionStartEvent{base: newBase(runID), ToolCallID: toolCallID, ToolName: toolName}
}

// NewToolExecutionUpdate constructs a ToolExecutionUpdateEvent.
func NewToolExecutionUpdate(runID, toolCallID, toolName string, update json.RawMessage) ToolExecutionUpdateEvent {
	return ToolExecutionUpdateEvent{base: newBase(runID), ToolCallID: toolCallID, ToolName: toolName, Update: update}
}

// NewToolExecutionEnd constructs a ToolExecutionEndEvent.
func NewToolExecutionEnd(runID, toolCallID, toolName string, isError bool) ToolExecutionEndEvent {
	return ToolExecutionEndEvent{base: newBase(runID), ToolCallID: toolCallID, ToolName: toolName, IsError: isError}
}

// NewToolResult constructs a ToolResultEvent.
func NewToolResult(runID, toolCallID, toolName string, result json.RawMessage, isError bool) ToolResultEvent {
	return ToolResultEvent{base: newBase(runID), ToolCallID: toolCallID, ToolName: toolName, Result: result, IsError: isError}
}

// NewToolCallCompleted constructs a ToolCallCompletedEvent.
func NewToolCallCompleted(runID, toolCallID string) ToolCallCompletedEvent {
	return ToolCallCompletedEvent{base: newBase(runID), ToolCallID: toolCallID}
}

// NewContextCompacted constructs a ContextCompactedEvent.
func NewContextCompacted(runID string, removed int, turnSplit bool) ContextCompactedEvent {
	return ContextCompactedEvent{base: newBase(runID), RemovedMessages: removed, TurnSplit: turnSplit}
}

// NewRunCompleted constructs a RunCompletedEvent.
func NewRunCompleted(runID string, usage json.RawMessage) RunCompletedEvent {
	return RunCompletedEvent{base: newBase(runID), Usage: usage}
}

// NewRunFailed constructs a RunFailedEvent.
func NewRunFailed(runID, errMsg string) RunFailedEvent {
	return RunFailedEvent{base: newBase(runID), Error: errMsg}
}

// NewRunCanceled constructs a RunCanceledEvent.
func NewRunCanceled(runID string) RunCanceledEvent {
	return RunCanceledEvent{base: newBase(runID)}
}

// Sink receives the event stream produced by a run. Emit must not block the
// loop for long: it is called synchronously from the turn loop's goroutine,
// so hosts that need asynchronous or buffered delivery must do so inside
// their Sink implementation.
type Sink interface {
	Emit(event Event)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(event Event) { f(event) }

// NopSink discards every event. Useful as a zero-value-safe default when a
// RunRequest does not configure one.
var NopSink Sink = SinkFunc(func(Event) {})
