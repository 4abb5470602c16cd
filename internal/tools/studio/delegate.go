package studio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"indiistudio/internal/logging"
	"indiistudio/internal/tools"
	"indiistudio/internal/types"
	"indiistudio/internal/usage"
)

// DelegateTaskTool forwards a task to a specialist agent, one level deep.
func DelegateTaskTool(deps Deps) *tools.Tool {
	return &tools.Tool{
		Name:        ToolDelegateTask,
		Description: "Delegate a task to a specialist agent and return its answer",
		Category:    tools.CategoryAgents,
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			return delegateTask(ctx, deps.Agents, ec, args)
		},
		Schema: tools.Schema{
			Required: []string{"agent_id", "task"},
			Properties: map[string]tools.Property{
				"agent_id": {
					Type:        tools.TypeString,
					Description: "Id of the specialist agent",
				},
				"task": {
					Type:        tools.TypeString,
					Description: "What the specialist should do",
				},
				"context": {
					Type:        tools.TypeString,
					Description: "Optional background the specialist needs",
				},
			},
		},
	}
}

func delegateTask(ctx context.Context, dir AgentDirectory, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
	if ec.Delegated {
		return types.Fail(types.CodeDelegationNotAllowed,
			"Error: %s is already running as a delegated agent and cannot delegate further", ec.AgentID), nil
	}

	id := tools.StringArg(args, "agent_id")
	known := dir.KnownIDs()
	if !slices.Contains(known, id) {
		return types.Fail(types.CodeInvalidAgentID,
			"Error: invalid agent_id %q. Valid agent ids: %s", id, strings.Join(known, ", ")), nil
	}

	agent, ok := dir.Get(id)
	if !ok || agent == nil || agent.Runner == nil {
		return types.Fail(types.CodeAgentNotFound,
			"Error: agent %q not found despite being a valid id; it may have failed to load", id), nil
	}

	sub := ec.ForDelegation(id)
	req := types.ExecutionRequest{
		Task: tools.StringArg(args, "task"),
		Context: types.RequestContext{
			ProjectID:   ec.ProjectID,
			OrgID:       ec.OrgID,
			ChatHistory: tools.StringArg(args, "context"),
		},
	}

	logging.Tools("delegate_task: %s -> %s", ec.AgentID, id)
	text, err := agent.Runner.RunTask(ctx, &sub, req)
	if err != nil {
		if errors.Is(err, usage.ErrQuotaExceeded) {
			return types.Fail(types.CodeQuotaExceeded, "%v", err), nil
		}
		return types.Fail(types.CodeToolExecutionError, "Delegation failed: %v", err), nil
	}
	return types.OK(fmt.Sprintf("[%s]: %s", agent.Name, text)), nil
}
