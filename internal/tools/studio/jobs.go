package studio

import (
	"context"
	"errors"

	"indiistudio/internal/jobs"
	"indiistudio/internal/tools"
	"indiistudio/internal/types"
)

var jobIDSchema = tools.Schema{
	Required: []string{"job_id"},
	Properties: map[string]tools.Property{
		"job_id": {
			Type:        tools.TypeString,
			Description: "Job id returned by a generation tool",
		},
	},
}

// CheckJobStatusTool reports a job's status, progress and output.
func CheckJobStatusTool(deps Deps) *tools.Tool {
	return &tools.Tool{
		Name:        ToolCheckJobStatus,
		Description: "Check the status, progress and output URL of a generation job",
		Category:    tools.CategoryJobs,
		Schema:      jobIDSchema,
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			job, result, ok := ownedJob(ctx, deps, ec, tools.StringArg(args, "job_id"))
			if !ok {
				return result, nil
			}
			return jobResult(job), nil
		},
	}
}

// CancelJobTool cancels a running job. Cancellation is local: provider work
// already started is abandoned.
func CancelJobTool(deps Deps) *tools.Tool {
	return &tools.Tool{
		Name:        ToolCancelJob,
		Description: "Cancel a queued or running generation job",
		Category:    tools.CategoryJobs,
		Schema:      jobIDSchema,
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			id := tools.StringArg(args, "job_id")
			if _, result, ok := ownedJob(ctx, deps, ec, id); !ok {
				return result, nil
			}
			job, err := deps.Jobs.Cancel(ctx, id)
			if errors.Is(err, jobs.ErrJobTerminal) {
				return types.ToolResult{
					Success:   false,
					Data:      jobSummary(job, ""),
					Error:     "Job already finished with status " + string(job.Status),
					ErrorCode: types.CodeInvalidInput,
				}, nil
			}
			if err != nil {
				return types.ToolResult{}, err
			}
			return types.OK(jobSummary(job, "Job cancelled.")), nil
		},
	}
}

// ownedJob loads a job belonging to ec's user. Other users' jobs are reported
// as not found.
func ownedJob(ctx context.Context, deps Deps, ec *types.ExecutionContext, id string) (*jobs.Job, types.ToolResult, bool) {
	job, err := deps.Jobs.Get(ctx, id)
	if errors.Is(err, jobs.ErrJobNotFound) || (err == nil && job.UserID != ec.UserID) {
		return nil, types.Fail(types.CodeJobNotFound, "Job %s not found", id), false
	}
	if err != nil {
		return nil, types.Fail(types.CodeToolExecutionError, "Failed to load job: %v", err), false
	}
	return job, types.ToolResult{}, true
}

// jobSummary is the job view returned to the model.
func jobSummary(job *jobs.Job, message string) map[string]any {
	if job == nil {
		return map[string]any{}
	}
	out := map[string]any{
		"job_id":   job.ID,
		"kind":     string(job.Kind),
		"status":   string(job.Status),
		"progress": job.Progress,
	}
	if job.OutputURL != "" {
		out["output_url"] = job.OutputURL
	}
	if job.Error != "" {
		out["error"] = job.Error
	}
	if len(job.Segments) > 1 {
		segs := make([]map[string]any, len(job.Segments))
		for i, seg := range job.Segments {
			s := map[string]any{
				"index":    seg.Index,
				"status":   string(seg.Status),
				"duration": seg.DurationSec,
			}
			if seg.OutputURL != "" {
				s["output_url"] = seg.OutputURL
			}
			segs[i] = s
		}
		out["segments"] = segs
	}
	if message != "" {
		out["message"] = message
	}
	return out
}

// jobResult maps terminal failures to their error codes; everything else is
// a successful status report.
func jobResult(job *jobs.Job) types.ToolResult {
	summary := jobSummary(job, "")
	switch job.Status {
	case jobs.StatusFailed:
		code := types.CodeGenerationFailed
		if job.Kind == jobs.KindLongFormVideo && len(job.Segments) > 1 {
			code = types.CodeChainSegmentFailed
		}
		return types.ToolResult{Success: false, Data: summary, Error: job.Error, ErrorCode: code}
	case jobs.StatusCancelled:
		summary["message"] = "Job was cancelled; no asset will be delivered."
	}
	return types.OK(summary)
}
