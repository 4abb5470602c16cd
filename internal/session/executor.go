// Package session implements the agent runtime: a bounded loop that calls the
// model, dispatches the tool calls it returns, and feeds every result back
// in one batched message until the model answers with text.
//
// The loop:
//
//	admit -> model_call -> {tool_dispatch -> model_call}* -> final
//
// Chat tokens are reserved once before the first model call. A quota failure
// there is the only error that aborts an execution before the model runs;
// tool failures come back as results the model can react to.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	ctxwin "indiistudio/internal/context"
	"indiistudio/internal/logging"
	"indiistudio/internal/tools"
	"indiistudio/internal/types"
	"indiistudio/internal/usage"
)

// ErrCancelled is returned when the caller's context ends mid-execution.
// The accompanying Result holds the history collected so far.
var ErrCancelled = errors.New("execution cancelled")

// Config holds the runtime limits.
type Config struct {
	// MaxTurns caps how many times tool results are fed back to the model.
	MaxTurns int

	// HistoryBudgetChars bounds the chat history placed in the prompt.
	HistoryBudgetChars int

	// ChatTokenEstimate is reserved against chat_tokens before the first call.
	ChatTokenEstimate int64

	// MaxParallelTools bounds concurrent dispatch within one turn.
	MaxParallelTools int

	// ModelName labels tracked token usage.
	ModelName string
}

// DefaultConfig returns the standard runtime limits.
func DefaultConfig() Config {
	return Config{
		MaxTurns:           5,
		HistoryBudgetChars: 12000,
		ChatTokenEstimate:  2000,
		MaxParallelTools:   4,
	}
}

// Result is the outcome of one execution.
type Result struct {
	Text       string
	History    []types.Message
	Turns      int
	StopReason StopReason
	Usage      types.TokenUsage
}

// Executor runs one agent: its system prompt, its bound toolset and a model.
// An Executor holds no per-execution state and may run concurrently.
type Executor struct {
	agentID      string
	systemPrompt string
	model        types.Model
	toolset      *tools.Toolset
	cfg          Config

	admission  *usage.Controller
	tracker    *usage.Tracker
	onProgress ProgressFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithAdmission reserves chat tokens through c before each execution.
func WithAdmission(c *usage.Controller) Option {
	return func(e *Executor) { e.admission = c }
}

// WithTracker records model token usage in t.
func WithTracker(t *usage.Tracker) Option {
	return func(e *Executor) { e.tracker = t }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Executor) { e.onProgress = fn }
}

// NewExecutor creates an executor for agentID.
func NewExecutor(agentID, systemPrompt string, model types.Model, toolset *tools.Toolset, cfg Config, opts ...Option) *Executor {
	if cfg.MaxTurns < 1 {
		cfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if cfg.MaxParallelTools < 1 {
		cfg.MaxParallelTools = 1
	}
	e := &Executor{
		agentID:      agentID,
		systemPrompt: systemPrompt,
		model:        model,
		toolset:      toolset,
		cfg:          cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AgentID returns the agent this executor runs.
func (e *Executor) AgentID() string { return e.agentID }

// RunTask runs req and returns the final text. It lets an Executor serve as
// a delegation target.
func (e *Executor) RunTask(ctx context.Context, ec *types.ExecutionContext, req types.ExecutionRequest) (string, error) {
	res, err := e.Run(ctx, ec, req)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Run executes req to completion.
//
// The returned Result is nil only when admission fails; on ErrCancelled it
// holds the partial history.
func (e *Executor) Run(ctx context.Context, ec *types.ExecutionContext, req types.ExecutionRequest) (*Result, error) {
	timer := logging.StartTimer(logging.CategorySession, "execution "+e.agentID)
	defer timer.Stop()

	run := *ec
	run.AgentID = e.agentID

	var reservation *usage.Reservation
	if e.admission != nil {
		res, err := e.admission.Authorize(ctx, run.UserID, run.Tier, usage.ClassChatTokens, e.cfg.ChatTokenEstimate)
		if err != nil {
			logging.Get(logging.CategorySession).Warn("Execution for %s rejected: %v", run.UserID, err)
			return nil, err
		}
		reservation = res
		run.ReservationID = res.ID
	}

	ctx = usage.WithLabels(ctx, e.agentID, run.UserID, operationOf(&run))
	result, err := e.loop(ctx, &run, req)

	if reservation != nil {
		if cerr := e.admission.Commit(context.WithoutCancel(ctx), reservation, result.Usage.Total()); cerr != nil {
			logging.Get(logging.CategorySession).Error("Failed to commit chat tokens: %v", cerr)
		}
	}

	logging.Session("Execution %s finished: stop=%s turns=%d tokens=%d", e.agentID, result.StopReason, result.Turns, result.Usage.Total())
	return result, err
}

func (e *Executor) loop(ctx context.Context, ec *types.ExecutionContext, req types.ExecutionRequest) (*Result, error) {
	system := ctxwin.BuildPrompt(e.systemPrompt, *ec, req, e.cfg.HistoryBudgetChars)
	defs := e.toolset.Definitions()

	result := &Result{
		History: []types.Message{{Role: types.RoleUser, Text: req.Task}},
	}
	e.emit(Event{Kind: EventThought, Text: fmt.Sprintf("Analyzing request: %q", truncate(req.Task, 50))})

	var lastText, prevCalls string
	for {
		if ctx.Err() != nil {
			return e.cancelled(result, lastText)
		}

		resp, err := e.model.Generate(ctx, types.ModelRequest{
			SystemPrompt: system,
			History:      result.History,
			Tools:        defs,
		})
		if err != nil {
			if ctx.Err() != nil {
				return e.cancelled(result, lastText)
			}
			result.Text = lastText
			return result, fmt.Errorf("model call on turn %d: %w", result.Turns, err)
		}
		e.record(ctx, result, resp.Usage)
		if resp.Text != "" {
			lastText = resp.Text
		}

		if len(resp.ToolCalls) == 0 {
			return e.finish(result, StopFinal, resp.Text), nil
		}
		if resp.Text != "" {
			e.emit(Event{Kind: EventThought, Turn: result.Turns, Text: resp.Text})
		}

		if result.Turns >= e.cfg.MaxTurns {
			logging.Get(logging.CategorySession).Warn("Agent %s hit the %d turn ceiling", e.agentID, e.cfg.MaxTurns)
			return e.finish(result, StopMaxTurns, lastText), nil
		}
		fingerprint := callFingerprint(resp.ToolCalls)
		if fingerprint != "" && fingerprint == prevCalls {
			logging.Get(logging.CategorySession).Warn("Agent %s repeated its previous tool calls, stopping", e.agentID)
			return e.finish(result, StopLoop, lastText), nil
		}
		prevCalls = fingerprint

		results := e.dispatch(ctx, ec, result.Turns, resp.ToolCalls)
		result.History = append(result.History, types.Message{
			Role:        types.RoleTool,
			Text:        resp.Text,
			ToolCalls:   resp.ToolCalls,
			ToolResults: results,
		})
		result.Turns++
	}
}

// dispatch runs every call of one turn concurrently. Results keep call order.
func (e *Executor) dispatch(ctx context.Context, ec *types.ExecutionContext, turn int, calls []types.ToolCall) []types.ToolResult {
	results := make([]types.ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxParallelTools)
	for i := range calls {
		call := calls[i]
		e.emit(Event{Kind: EventTool, Turn: turn, Text: "Calling tool: " + call.Name, Call: &call})
		g.Go(func() error {
			// Each handler sees its own copy of the execution context.
			callEC := *ec
			results[i] = e.toolset.Dispatch(ctx, &callEC, call)
			r := results[i]
			e.emit(Event{Kind: EventToolResult, Turn: turn, Text: summarize(call.Name, r), Call: &call, Result: &r})
			return nil
		})
	}
	_ = g.Wait()

	logging.SessionDebug("Turn %d dispatched %d tool call(s)", turn, len(calls))
	return results
}

func (e *Executor) finish(result *Result, reason StopReason, text string) *Result {
	result.Text = text
	result.StopReason = reason
	if reason == StopFinal && text != "" {
		result.History = append(result.History, types.Message{Role: types.RoleModel, Text: text})
	}
	e.emit(Event{Kind: EventFinal, Turn: result.Turns, Text: text})
	return result
}

func (e *Executor) cancelled(result *Result, lastText string) (*Result, error) {
	result.Text = lastText
	result.StopReason = StopCancelled
	return result, ErrCancelled
}

func (e *Executor) record(ctx context.Context, result *Result, u types.TokenUsage) {
	result.Usage.InputTokens += u.InputTokens
	result.Usage.OutputTokens += u.OutputTokens
	if e.tracker != nil {
		e.tracker.Track(ctx, e.cfg.ModelName, u.InputTokens, u.OutputTokens)
	}
}

func (e *Executor) emit(ev Event) {
	if e.onProgress == nil {
		return
	}
	ev.AgentID = e.agentID
	e.onProgress(ev)
}

// callFingerprint identifies a turn's calls by name and arguments, or is
// empty when they cannot be encoded. encoding/json sorts map keys, so equal
// arguments encode identically.
func callFingerprint(calls []types.ToolCall) string {
	type sig struct {
		Name string         `json:"n"`
		Args map[string]any `json:"a"`
	}
	sigs := make([]sig, len(calls))
	for i, c := range calls {
		sigs[i] = sig{Name: c.Name, Args: c.Args}
	}
	data, err := json.Marshal(sigs)
	if err != nil {
		return ""
	}
	return string(data)
}

func operationOf(ec *types.ExecutionContext) string {
	if ec.Delegated {
		return "delegation"
	}
	return "chat"
}

func summarize(name string, r types.ToolResult) string {
	if r.Success {
		return fmt.Sprintf("Tool %s completed.", name)
	}
	return fmt.Sprintf("Tool %s failed (%s): %s", name, r.ErrorCode, r.Error)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// progressLog serializes events for callers that only want a transcript.
type progressLog struct {
	mu     sync.Mutex
	events []Event
}

// Recorder returns a ProgressFunc that collects events, and a function
// returning a snapshot of them.
func Recorder() (ProgressFunc, func() []Event) {
	l := &progressLog{}
	record := func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
	}
	snapshot := func() []Event {
		l.mu.Lock()
		defer l.mu.Unlock()
		return append([]Event(nil), l.events...)
	}
	return record, snapshot
}
