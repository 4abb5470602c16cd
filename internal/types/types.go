// Package types holds the data model shared by the agent runtime, the tool
// registry, and the control-plane services around them.
package types

import (
	"context"
	"fmt"
)

// ExecutionRequest is one user submission. It is not modified once dispatched.
type ExecutionRequest struct {
	Task    string         `json:"task"`
	Context RequestContext `json:"context"`
}

// RequestContext carries the caller-side context of a submission.
type RequestContext struct {
	ProjectID   string   `json:"projectId,omitempty"`
	OrgID       string   `json:"orgId,omitempty"`
	ChatHistory string   `json:"chatHistory,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// ExecutionContext is threaded through every tool handler call.
// Handlers never read user or project state from anywhere else.
type ExecutionContext struct {
	UserID    string
	OrgID     string
	ProjectID string
	Tier      string
	AgentID   string

	// ReservationID is the admission reservation covering the chat tokens of this execution.
	ReservationID string

	// Delegated is set for executions started by delegate_task.
	Delegated bool
}

// ForDelegation returns a copy marked as a delegated execution of agentID.
func (ec ExecutionContext) ForDelegation(agentID string) ExecutionContext {
	ec.AgentID = agentID
	ec.Delegated = true
	ec.ReservationID = ""
	return ec
}

// ToolCall is a model-emitted request. Args are untrusted until validated.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ErrorCode classifies a failed ToolResult.
type ErrorCode string

const (
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeUnknownTool          ErrorCode = "UNKNOWN_TOOL"
	CodeAgentNotFound        ErrorCode = "AGENT_NOT_FOUND"
	CodeInvalidAgentID       ErrorCode = "INVALID_AGENT_ID"
	CodeQuotaExceeded        ErrorCode = "QUOTA_EXCEEDED"
	CodeApprovalDenied       ErrorCode = "APPROVAL_DENIED"
	CodeApprovalTimedOut     ErrorCode = "APPROVAL_TIMED_OUT"
	CodeApprovalCancelled    ErrorCode = "APPROVAL_CANCELLED"
	CodeGenerationFailed     ErrorCode = "GENERATION_FAILED"
	CodeToolExecutionError   ErrorCode = "TOOL_EXECUTION_ERROR"
	CodeChainSegmentFailed   ErrorCode = "CHAIN_SEGMENT_FAILED"
	CodeJobNotFound          ErrorCode = "JOB_NOT_FOUND"
	CodeDelegationNotAllowed ErrorCode = "DELEGATION_NOT_ALLOWED"
)

// ToolResult is always well-formed so it can be fed back to the model.
type ToolResult struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorCode ErrorCode `json:"errorCode,omitempty"`
}

// OK builds a successful result.
func OK(data any) ToolResult {
	return ToolResult{Success: true, Data: data}
}

// Fail builds a failed result.
func Fail(code ErrorCode, format string, args ...any) ToolResult {
	return ToolResult{Success: false, ErrorCode: code, Error: fmt.Sprintf(format, args...)}
}

// AsResponse renders the result as a function-response payload.
func (r ToolResult) AsResponse() map[string]any {
	out := map[string]any{"success": r.Success}
	if r.Data != nil {
		out["data"] = r.Data
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.ErrorCode != "" {
		out["errorCode"] = string(r.ErrorCode)
	}
	return out
}

// Role identifies the author of a Message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	// RoleTool marks a batch of tool results answering the previous model turn.
	RoleTool Role = "tool"
)

// Message is one entry of an execution's history.
// A RoleTool message carries the calls it answers and one result per call, in call order.
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// ToolDefinition is a tool as presented to a model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  any
}

// TokenUsage reports tokens consumed by one model call.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// ModelRequest is one model call.
type ModelRequest struct {
	SystemPrompt string
	History      []Message
	Tools        []ToolDefinition
}

// ModelResponse holds optional text and zero or more tool calls.
type ModelResponse struct {
	Text      string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// Model is the model invocation collaborator.
type Model interface {
	Generate(ctx context.Context, req ModelRequest) (ModelResponse, error)
}
