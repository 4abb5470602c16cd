package studio

import (
	"errors"

	"indiistudio/internal/approval"
	"indiistudio/internal/jobs"
	"indiistudio/internal/types"
	"indiistudio/internal/usage"
)

// failureFor maps service errors onto result codes. ok is false for errors
// with no specific code.
func failureFor(err error) (types.ToolResult, bool) {
	switch {
	case errors.Is(err, usage.ErrQuotaExceeded), errors.Is(err, usage.ErrVideoTooLong), errors.Is(err, jobs.ErrExceedsCeiling):
		return types.Fail(types.CodeQuotaExceeded, "%v", err), true
	case errors.Is(err, approval.ErrDenied):
		return types.Fail(types.CodeApprovalDenied, "The request was not approved."), true
	case errors.Is(err, approval.ErrTimedOut):
		return types.Fail(types.CodeApprovalTimedOut, "No approval was received in time; the action was not performed."), true
	case errors.Is(err, approval.ErrCancelled):
		return types.Fail(types.CodeApprovalCancelled, "The approval request was cancelled."), true
	case errors.Is(err, jobs.ErrJobNotFound):
		return types.Fail(types.CodeJobNotFound, "%v", err), true
	case errors.Is(err, usage.ErrUnknownTier):
		return types.Fail(types.CodeInvalidInput, "%v", err), true
	}
	return types.ToolResult{}, false
}
