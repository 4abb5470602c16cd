package studio

import (
	"context"

	"indiistudio/internal/approval"
	"indiistudio/internal/tools"
	"indiistudio/internal/types"
)

// RequestApprovalTool pauses for a human decision without side effects.
// Agents use it before publishing or sending anything on the artist's behalf.
func RequestApprovalTool(deps Deps) *tools.Tool {
	return &tools.Tool{
		Name:        ToolRequestApproval,
		Description: "Pause and ask the user to approve content (a post, an email, a plan) before acting on it",
		Category:    tools.CategoryApproval,
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			content := tools.StringArg(args, "content")
			status, err := deps.Approvals.Await(ctx, approval.Request{
				ToolName: ToolRequestApproval,
				Args:     args,
				Reason:   tools.StringArg(args, "type"),
				UserID:   ec.UserID,
			})
			if err == nil {
				err = status.Err()
			}
			if err != nil {
				if result, ok := failureFor(err); ok {
					return result, nil
				}
				return types.ToolResult{}, err
			}
			return types.OK(map[string]any{"approved": true, "content": content}), nil
		},
		Schema: tools.Schema{
			Required: []string{"content"},
			Properties: map[string]tools.Property{
				"content": {
					Type:        tools.TypeString,
					Description: "The content or action to approve",
				},
				"type": {
					Type:        tools.TypeString,
					Description: "Kind of content, for example post, email or plan",
					Default:     "general",
				},
			},
		},
	}
}
