package context

import (
	"encoding/json"
	"strings"

	"indiistudio/internal/types"
)

// promptContext is the CONTEXT block shown to the model.
type promptContext struct {
	UserID    string `json:"userId,omitempty"`
	OrgID     string `json:"orgId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	Tier      string `json:"tier,omitempty"`
	Delegated bool   `json:"delegated,omitempty"`
}

// BuildPrompt assembles the system instruction for one execution: the agent's
// system prompt, the execution context, the bounded chat history and any
// attachments. The task itself is sent as the first user message.
func BuildPrompt(systemPrompt string, ec types.ExecutionContext, req types.ExecutionRequest, budgetChars int) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(systemPrompt))
	sb.WriteString("\n\n")

	pc := promptContext{
		UserID:    ec.UserID,
		OrgID:     firstNonEmpty(req.Context.OrgID, ec.OrgID),
		ProjectID: firstNonEmpty(req.Context.ProjectID, ec.ProjectID),
		Tier:      ec.Tier,
		Delegated: ec.Delegated,
	}
	if data, err := json.MarshalIndent(pc, "", "  "); err == nil {
		sb.WriteString("CONTEXT:\n")
		sb.Write(data)
		sb.WriteString("\n\n")
	}

	if history := Prepare(req.Context.ChatHistory, budgetChars); history != "" {
		sb.WriteString("HISTORY:\n")
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}

	if len(req.Context.Attachments) > 0 {
		sb.WriteString("ATTACHMENTS:\n")
		for _, a := range req.Context.Attachments {
			sb.WriteString("- ")
			sb.WriteString(a)
			sb.WriteString("\n")
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
