package session

import "indiistudio/internal/types"

// EventKind classifies a progress event.
type EventKind string

const (
	EventThought    EventKind = "thought"
	EventTool       EventKind = "tool"
	EventToolResult EventKind = "tool_result"
	EventFinal      EventKind = "final"
)

// Event is one progress notification emitted while an execution runs.
type Event struct {
	Kind    EventKind
	AgentID string
	Turn    int
	Text    string
	Call    *types.ToolCall
	Result  *types.ToolResult
}

// ProgressFunc receives progress events. It is called from the execution's
// goroutine and from tool dispatch goroutines, so it must be safe for
// concurrent use.
type ProgressFunc func(Event)

// StopReason says why an execution ended.
type StopReason string

const (
	StopFinal     StopReason = "final"
	StopMaxTurns  StopReason = "max_turns"
	StopLoop      StopReason = "loop"
	StopCancelled StopReason = "cancelled"
)
