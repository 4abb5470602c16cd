package studio

import (
	"context"
	"errors"
	"fmt"
	"math"

	"indiistudio/internal/approval"
	"indiistudio/internal/jobs"
	"indiistudio/internal/logging"
	"indiistudio/internal/tools"
	"indiistudio/internal/types"
	"indiistudio/internal/usage"
)

// MaxClipSeconds is the longest single generate_video request.
const MaxClipSeconds = 300

var (
	imageAspectRatios = []string{"1:1", "3:4", "4:3", "9:16", "16:9"}
	videoAspectRatios = []string{"16:9", "9:16"}
)

// =============================================================================
// generate_image
// =============================================================================

// GenerateImageTool renders 1 to 4 images, billed against the images quota.
func GenerateImageTool(deps Deps) *tools.Tool {
	return &tools.Tool{
		Name:        ToolGenerateImage,
		Description: "Generate still images (cover art, promo shots, thumbnails) from a text prompt",
		Category:    tools.CategoryGeneration,
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			return generateImage(ctx, deps, ec, args)
		},
		Schema: tools.Schema{
			Required: []string{"prompt"},
			Properties: map[string]tools.Property{
				"prompt": {
					Type:        tools.TypeString,
					Description: "Description of the image to generate",
				},
				"aspect_ratio": {
					Type:        tools.TypeString,
					Description: "Image aspect ratio",
					Enum:        imageAspectRatios,
					Default:     "1:1",
				},
				"count": {
					Type:        tools.TypeInteger,
					Description: "Number of images (1-4)",
					Minimum:     tools.Bound(1),
					Maximum:     tools.Bound(4),
					Default:     1,
				},
			},
		},
	}
}

func generateImage(ctx context.Context, deps Deps, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
	prompt := tools.StringArg(args, "prompt")
	aspect := tools.StringArg(args, "aspect_ratio")
	count := tools.IntArg(args, "count", 1)

	res, err := deps.Admission.Authorize(ctx, ec.UserID, ec.Tier, usage.ClassImages, count)
	if err != nil {
		if result, ok := failureFor(err); ok {
			return result, nil
		}
		return types.ToolResult{}, err
	}

	urls, err := deps.Images.GenerateImages(ctx, prompt, aspect, int(count))
	if err != nil {
		if relErr := deps.Admission.Release(context.WithoutCancel(ctx), res); relErr != nil {
			logging.Get(logging.CategoryTools).Error("generate_image: release failed: %v", relErr)
		}
		return types.Fail(types.CodeGenerationFailed, "Image generation failed: %v", err), nil
	}
	if err := deps.Admission.Commit(context.WithoutCancel(ctx), res, int64(len(urls))); err != nil {
		logging.Get(logging.CategoryTools).Error("generate_image: commit failed: %v", err)
	}

	logging.Tools("generate_image: %d image(s) for %s", len(urls), ec.UserID)
	return types.OK(map[string]any{"urls": urls, "count": len(urls)}), nil
}

// =============================================================================
// generate_video
// =============================================================================

// GenerateVideoTool submits one approval-gated video clip as a job.
func GenerateVideoTool(deps Deps) *tools.Tool {
	return &tools.Tool{
		Name:        ToolGenerateVideo,
		Description: "Generate a single video clip (up to 300 seconds). Requires user approval. Returns a job id unless wait is true",
		Category:    tools.CategoryGeneration,
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			return generateVideo(ctx, deps, ec, args)
		},
		Schema: tools.Schema{
			Required: []string{"prompt", "duration"},
			Properties: map[string]tools.Property{
				"prompt": {
					Type:        tools.TypeString,
					Description: "Description of the video",
				},
				"duration": {
					Type:             tools.TypeNumber,
					Description:      "Length in seconds",
					Minimum:          tools.Bound(0),
					ExclusiveMinimum: true,
					Maximum:          tools.Bound(MaxClipSeconds),
				},
				"aspect_ratio": {
					Type:        tools.TypeString,
					Description: "Video aspect ratio",
					Enum:        videoAspectRatios,
					Default:     "16:9",
				},
				"start_frame": {
					Type:        tools.TypeString,
					Description: "Optional image URL to start the clip from",
				},
				"wait": {
					Type:        tools.TypeBoolean,
					Description: "Block until the video is ready and return its URL",
					Default:     false,
				},
			},
		},
	}
}

func generateVideo(ctx context.Context, deps Deps, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
	prompt := tools.StringArg(args, "prompt")
	seconds := int(math.Ceil(tools.FloatArg(args, "duration", 0)))
	aspect := tools.StringArg(args, "aspect_ratio")

	var job *jobs.Job
	result, err := gatedSubmission(ctx, deps, ec, ToolGenerateVideo, args, seconds, "Video generation is billed per second of output",
		func(ctx context.Context, opts jobs.SubmitOptions) (*jobs.Job, error) {
			var err error
			job, err = deps.Jobs.Submit(ctx, jobs.Generation{
				Kind:          jobs.KindVideo,
				Prompt:        prompt,
				DurationSec:   seconds,
				AspectRatio:   aspect,
				StartFrameURL: tools.StringArg(args, "start_frame"),
			}, opts)
			return job, err
		})
	if err != nil || !result.Success {
		return result, err
	}

	if !tools.BoolArg(args, "wait", false) {
		return result, nil
	}

	final, err := deps.Jobs.WaitForJob(ctx, job.ID)
	switch {
	case errors.Is(err, jobs.ErrWaitTimeout):
		return types.OK(jobSummary(final, "Still rendering. Use check_job_status with this job_id.")), nil
	case err != nil:
		return types.ToolResult{}, err
	}
	return jobResult(final), nil
}

// =============================================================================
// generate_long_form_video
// =============================================================================

// GenerateLongFormVideoTool renders a long video as a chain of segments.
func GenerateLongFormVideoTool(deps Deps) *tools.Tool {
	return &tools.Tool{
		Name:        ToolGenerateLongFormVideo,
		Description: "Generate a long video as a chain of segments, each continuing from the previous one's last frame. Requires user approval. Returns a job id",
		Category:    tools.CategoryGeneration,
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			return generateLongFormVideo(ctx, deps, ec, args)
		},
		Schema: tools.Schema{
			Required: []string{"prompt", "total_duration"},
			Properties: map[string]tools.Property{
				"prompt": {
					Type:        tools.TypeString,
					Description: "Description of the whole video",
				},
				"total_duration": {
					Type:             tools.TypeNumber,
					Description:      "Total length in seconds (limited by the subscription tier)",
					Minimum:          tools.Bound(0),
					ExclusiveMinimum: true,
				},
				"first_frame": {
					Type:        tools.TypeString,
					Description: "Optional image URL for the opening frame",
				},
				"aspect_ratio": {
					Type:        tools.TypeString,
					Description: "Video aspect ratio",
					Enum:        videoAspectRatios,
					Default:     "16:9",
				},
			},
		},
	}
}

func generateLongFormVideo(ctx context.Context, deps Deps, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
	prompt := tools.StringArg(args, "prompt")
	seconds := int(math.Ceil(tools.FloatArg(args, "total_duration", 0)))
	firstFrame := tools.StringArg(args, "first_frame")

	return gatedSubmission(ctx, deps, ec, ToolGenerateLongFormVideo, args, seconds, "Long-form video renders several billed segments",
		func(ctx context.Context, opts jobs.SubmitOptions) (*jobs.Job, error) {
			return deps.Jobs.EnqueueChain(ctx, prompt, seconds, firstFrame, opts)
		})
}

// =============================================================================
// shared video admission
// =============================================================================

type submitFunc func(ctx context.Context, opts jobs.SubmitOptions) (*jobs.Job, error)

// gatedSubmission checks the tier ceiling, reserves quota, waits for
// approval and submits. The reservations are settled by the job's terminal
// hook: completed seconds are committed, the rest released.
func gatedSubmission(ctx context.Context, deps Deps, ec *types.ExecutionContext, toolName string, args map[string]any, seconds int, reason string, submit submitFunc) (types.ToolResult, error) {
	if err := deps.Admission.CheckCeiling(ec.Tier, int64(seconds)); err != nil {
		if result, ok := failureFor(err); ok {
			return result, nil
		}
		return types.ToolResult{}, err
	}
	limits, err := deps.Admission.Limits(ec.Tier)
	if err != nil {
		return types.ToolResult{}, err
	}

	videos, err := deps.Admission.Authorize(ctx, ec.UserID, ec.Tier, usage.ClassVideos, 1)
	if err != nil {
		if result, ok := failureFor(err); ok {
			return result, nil
		}
		return types.ToolResult{}, err
	}
	secs, err := deps.Admission.Authorize(ctx, ec.UserID, ec.Tier, usage.ClassVideoSeconds, int64(seconds))
	if err != nil {
		releaseAll(ctx, deps, videos)
		if result, ok := failureFor(err); ok {
			return result, nil
		}
		return types.ToolResult{}, err
	}

	req := approval.Request{
		ToolName:      toolName,
		Args:          args,
		EstimatedCost: float64(seconds),
		Reason:        reason,
		UserID:        ec.UserID,
	}

	var job *jobs.Job
	err = deps.Approvals.Guard(ctx, req, func(ctx context.Context) error {
		var err error
		job, err = submit(ctx, jobs.SubmitOptions{
			UserID:         ec.UserID,
			MaxDurationSec: int(limits.MaxVideoSeconds),
			AspectRatio:    tools.StringArg(args, "aspect_ratio"),
			OnTerminal:     settleOnTerminal(deps.Admission, videos, secs),
		})
		return err
	})
	if err != nil {
		releaseAll(ctx, deps, videos, secs)
		if result, ok := failureFor(err); ok {
			return result, nil
		}
		return types.ToolResult{}, fmt.Errorf("submit video job: %w", err)
	}

	logging.Tools("%s: job %s submitted for %s (%ds, %d segment(s))", req.ToolName, job.ID, ec.UserID, seconds, len(job.Segments))
	return types.OK(jobSummary(job, "Rendering started. Use check_job_status with this job_id.")), nil
}

// settleOnTerminal commits the seconds of completed segments and the video
// count on success; everything not rendered is released.
func settleOnTerminal(ctrl *usage.Controller, videos, secs *usage.Reservation) jobs.TerminalHook {
	return func(job *jobs.Job) {
		ctx := context.Background()
		rendered := 0
		for _, seg := range job.Segments {
			if seg.Status == jobs.SegmentCompleted {
				rendered += seg.DurationSec
			}
		}
		if job.Status == jobs.StatusCompleted {
			rendered = job.TotalDurationSec
		}

		var videoCount int64
		if job.Status == jobs.StatusCompleted {
			videoCount = 1
		}
		if err := ctrl.Commit(ctx, videos, videoCount); err != nil {
			logging.Get(logging.CategoryUsage).Error("settle job %s videos: %v", job.ID, err)
		}
		if err := ctrl.Commit(ctx, secs, int64(rendered)); err != nil {
			logging.Get(logging.CategoryUsage).Error("settle job %s seconds: %v", job.ID, err)
		}
		logging.UsageDebug("Settled job %s (%s): %ds rendered", job.ID, job.Status, rendered)
	}
}

func releaseAll(ctx context.Context, deps Deps, reservations ...*usage.Reservation) {
	for _, r := range reservations {
		if err := deps.Admission.Release(context.WithoutCancel(ctx), r); err != nil {
			logging.Get(logging.CategoryUsage).Error("release %s: %v", r.ID, err)
		}
	}
}
