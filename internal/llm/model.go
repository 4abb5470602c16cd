package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"indiistudio/internal/logging"
	"indiistudio/internal/types"
)

// Model implements types.Model over Gemini GenerateContent with function calling.
type Model struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	backoff time.Duration
}

// NewModel creates a chat model. timeout bounds each call; zero means none.
func NewModel(client *genai.Client, model string, timeout time.Duration) *Model {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Model{client: client, model: model, timeout: timeout, backoff: retryBackoffBase}
}

// Name returns the model id.
func (m *Model) Name() string {
	return m.model
}

// Generate implements types.Model.
func (m *Model) Generate(ctx context.Context, req types.ModelRequest) (types.ModelResponse, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "gemini.GenerateContent")
	defer timer.StopWithThreshold(30 * time.Second)

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{Tools: toTools(req.Tools)}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	contents := toContents(req.History)

	resp, err := withRetry(ctx, "generate content", m.backoff, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return m.client.Models.GenerateContent(ctx, m.model, contents, cfg)
	})
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("GenerateContent failed on %s: %v", m.model, err)
		return types.ModelResponse{}, fmt.Errorf("model call failed: %w", err)
	}

	out := fromResponse(resp)
	logging.APIDebug("%s: %d tool call(s), %d chars text, tokens in=%d out=%d",
		m.model, len(out.ToolCalls), len(out.Text), out.Usage.InputTokens, out.Usage.OutputTokens)
	return out, nil
}
