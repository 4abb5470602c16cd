// Package tools maps tool names to validated handlers.
//
// Tools are registered once in a Registry. Each agent binds the subset it
// declares into a Toolset at load time; a declared tool without a handler is
// a startup error. Dispatch validates model-produced arguments against the
// tool's schema before any handler runs.
//
// Architecture:
//
//	ToolCall → Toolset.Dispatch → Schema.Validate → Handler → ToolResult
package tools

import (
	"context"
	"time"

	"indiistudio/internal/types"
)

// ToolCategory classifies tools for listing and logging.
type ToolCategory string

const (
	// CategoryGeneration covers image and video generation.
	CategoryGeneration ToolCategory = "/generation"

	// CategoryJobs covers job status and cancellation.
	CategoryJobs ToolCategory = "/jobs"

	// CategoryAgents covers delegation to specialist agents.
	CategoryAgents ToolCategory = "/agents"

	// CategoryApproval covers human-in-the-loop checkpoints.
	CategoryApproval ToolCategory = "/approval"

	// CategoryMemory covers long-term memory.
	CategoryMemory ToolCategory = "/memory"

	// CategoryGeneral is for everything else.
	CategoryGeneral ToolCategory = "/general"
)

// Handler executes a validated tool call.
// Returning an error is treated like a panic: the dispatcher converts it to a
// TOOL_EXECUTION_ERROR result. Expected failures should be returned as a
// failed ToolResult with a specific code instead.
type Handler func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error)

// Tool defines a named capability with a schema and a handler.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does.
	// Used for LLM tool calling and documentation.
	Description string

	// Category classifies the tool.
	Category ToolCategory

	// Schema defines the expected arguments.
	Schema Schema

	// Handler runs the tool with validated arguments.
	Handler Handler

	// Timeout overrides the registry's default dispatch timeout.
	Timeout time.Duration
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Handler == nil {
		return ErrToolHandlerNil
	}
	return t.Schema.check()
}

// Definition returns the tool as presented to a model.
func (t *Tool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Schema,
	}
}
