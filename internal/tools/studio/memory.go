package studio

import (
	"context"
	"errors"
	"unicode/utf8"

	"indiistudio/internal/logging"
	"indiistudio/internal/memory"
	"indiistudio/internal/tools"
	"indiistudio/internal/types"
	"indiistudio/internal/usage"
)

// SaveMemoryTool stores a fact, summary or rule for the current project.
func SaveMemoryTool(deps Deps) *tools.Tool {
	return &tools.Tool{
		Name:        ToolSaveMemory,
		Description: "Save a fact, summary or rule about the artist or project to long-term memory",
		Category:    tools.CategoryMemory,
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			content := tools.StringArg(args, "content")
			settle, failed, err := meterEmbedding(ctx, deps, ec, content)
			if err != nil {
				return types.ToolResult{}, err
			}
			if failed != nil {
				return *failed, nil
			}
			saved, err := deps.Memory.Save(ctx, scopeOf(ec), content, memory.Kind(tools.StringArg(args, "type")))
			settle(err == nil && saved)
			if errors.Is(err, memory.ErrEmptyContent) {
				return types.Fail(types.CodeInvalidInput, "content must not be empty"), nil
			}
			if err != nil {
				return types.ToolResult{}, err
			}
			msg := "Saved."
			if !saved {
				msg = "Already remembered."
			}
			return types.OK(map[string]any{"saved": saved, "message": msg}), nil
		},
		Schema: tools.Schema{
			Required: []string{"content"},
			Properties: map[string]tools.Property{
				"content": {
					Type:        tools.TypeString,
					Description: "What to remember",
				},
				"type": {
					Type:        tools.TypeString,
					Description: "fact, summary, or rule (rules are always recalled first)",
					Enum:        memory.Kinds,
					Default:     string(memory.KindFact),
				},
			},
		},
	}
}

// RecallMemoriesTool searches the current project's memories.
func RecallMemoriesTool(deps Deps) *tools.Tool {
	return &tools.Tool{
		Name:        ToolRecallMemories,
		Description: "Search long-term memory for facts and rules relevant to a query",
		Category:    tools.CategoryMemory,
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			query := tools.StringArg(args, "query")
			settle, failed, err := meterEmbedding(ctx, deps, ec, query)
			if err != nil {
				return types.ToolResult{}, err
			}
			if failed != nil {
				return *failed, nil
			}
			items, err := deps.Memory.Recall(ctx, scopeOf(ec), query, int(tools.IntArg(args, "limit", 5)))
			settle(err == nil)
			if err != nil {
				return types.ToolResult{}, err
			}
			memories := make([]map[string]any, len(items))
			for i, item := range items {
				memories[i] = map[string]any{"content": item.Content, "type": string(item.Kind)}
			}
			return types.OK(map[string]any{"memories": memories, "count": len(items)}), nil
		},
		Schema: tools.Schema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query": {
					Type:        tools.TypeString,
					Description: "What to look for",
				},
				"limit": {
					Type:        tools.TypeInteger,
					Description: "Maximum memories to return",
					Minimum:     tools.Bound(1),
					Maximum:     tools.Bound(20),
					Default:     5,
				},
			},
		},
	}
}

func scopeOf(ec *types.ExecutionContext) memory.Scope {
	return memory.Scope{UserID: ec.UserID, ProjectID: ec.ProjectID}
}

// embeddingTokens estimates the tokens of one embedding request.
func embeddingTokens(text string) int64 {
	return int64(utf8.RuneCountInString(text)/4 + 1)
}

// meterEmbedding reserves chat tokens for the embedding request made on
// behalf of ec. settle commits the reservation when the request was used and
// releases it otherwise. A spent quota comes back as a failed result.
func meterEmbedding(ctx context.Context, deps Deps, ec *types.ExecutionContext, text string) (settle func(used bool), failed *types.ToolResult, err error) {
	if !deps.Memory.Embeds() {
		return func(bool) {}, nil, nil
	}
	tokens := embeddingTokens(text)
	res, err := deps.Admission.Authorize(ctx, ec.UserID, ec.Tier, usage.ClassChatTokens, tokens)
	if err != nil {
		if result, ok := failureFor(err); ok {
			return nil, &result, nil
		}
		return nil, nil, err
	}
	return func(used bool) {
		ctx := context.WithoutCancel(ctx)
		if used {
			if err := deps.Admission.Commit(ctx, res, tokens); err != nil {
				logging.Get(logging.CategoryMemory).Error("embedding commit failed: %v", err)
			}
			return
		}
		if err := deps.Admission.Release(ctx, res); err != nil {
			logging.Get(logging.CategoryMemory).Error("embedding release failed: %v", err)
		}
	}, nil, nil
}
