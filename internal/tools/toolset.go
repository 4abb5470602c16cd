package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"indiistudio/internal/logging"
	"indiistudio/internal/types"
)

// maxSuggestions caps the "did you mean" list for unknown tools.
const maxSuggestions = 5

// Toolset is the closed set of tools one agent may call.
// It is immutable after Bind.
type Toolset struct {
	tools   map[string]*Tool
	order   []string
	timeout time.Duration
}

// Names returns the bound tool names in declaration order.
func (ts *Toolset) Names() []string {
	out := make([]string, len(ts.order))
	copy(out, ts.order)
	return out
}

// Has reports whether name is bound.
func (ts *Toolset) Has(name string) bool {
	_, ok := ts.tools[name]
	return ok
}

// Definitions returns model-facing definitions in declaration order.
func (ts *Toolset) Definitions() []types.ToolDefinition {
	defs := make([]types.ToolDefinition, 0, len(ts.order))
	for _, name := range ts.order {
		defs = append(defs, ts.tools[name].Definition())
	}
	return defs
}

// Dispatch validates and executes one tool call.
// It never returns an error: unknown tools, invalid arguments, handler errors
// and handler panics all come back as a failed ToolResult.
func (ts *Toolset) Dispatch(ctx context.Context, ec *types.ExecutionContext, call types.ToolCall) types.ToolResult {
	tool, ok := ts.tools[call.Name]
	if !ok {
		logging.Get(logging.CategoryTools).Warn("Unknown tool requested: %s", call.Name)
		return types.Fail(types.CodeUnknownTool, "Tool '%s' not found.%s", call.Name, ts.suggest(call.Name))
	}

	args, err := tool.Schema.Validate(call.Args)
	if err != nil {
		logging.ToolsDebug("Rejected %s call: %v", call.Name, err)
		return types.Fail(types.CodeInvalidInput, "%v", err)
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = ts.timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	logging.ToolsDebug("Executing tool: %s", tool.Name)
	result := invoke(callCtx, tool, ec, args)
	logging.ToolsDebug("Tool %s completed in %v (success=%v)", tool.Name, time.Since(start), result.Success)
	return result
}

// invoke runs the handler and normalizes errors and panics.
func invoke(ctx context.Context, tool *Tool, ec *types.ExecutionContext, args map[string]any) (result types.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryTools).Error("Tool %s panicked: %v\n%s", tool.Name, r, debug.Stack())
			result = types.Fail(types.CodeToolExecutionError, "tool %s failed unexpectedly", tool.Name)
		}
	}()

	res, err := tool.Handler(ctx, ec, args)
	if err != nil {
		logging.Get(logging.CategoryTools).Error("Tool %s failed: %v", tool.Name, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return types.Fail(types.CodeToolExecutionError, "tool %s timed out", tool.Name)
		}
		return types.Fail(types.CodeToolExecutionError, "tool %s failed: %v", tool.Name, err)
	}
	if !res.Success && res.ErrorCode == "" {
		res.ErrorCode = types.CodeToolExecutionError
	}
	return res
}

// suggest lists bound names that contain, or are contained in, name.
func (ts *Toolset) suggest(name string) string {
	lower := strings.ToLower(name)
	var matches []string
	for _, candidate := range ts.order {
		c := strings.ToLower(candidate)
		if lower != "" && (strings.Contains(c, lower) || strings.Contains(lower, c)) {
			matches = append(matches, candidate)
		}
	}
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}
	return fmt.Sprintf(" Did you mean: %s?", strings.Join(matches, ", "))
}
