// Package studio implements the tools agents call: image and video
// generation, job control, delegation, approvals and long-term memory.
package studio

import (
	"context"
	"errors"
	"fmt"

	"indiistudio/internal/agents"
	"indiistudio/internal/approval"
	"indiistudio/internal/jobs"
	"indiistudio/internal/memory"
	"indiistudio/internal/tools"
	"indiistudio/internal/usage"
)

// Tool names.
const (
	ToolGenerateImage         = "generate_image"
	ToolGenerateVideo         = "generate_video"
	ToolGenerateLongFormVideo = "generate_long_form_video"
	ToolCheckJobStatus        = "check_job_status"
	ToolCancelJob             = "cancel_job"
	ToolDelegateTask          = "delegate_task"
	ToolRequestApproval       = "request_approval"
	ToolSaveMemory            = "save_memory"
	ToolRecallMemories        = "recall_memories"
)

// ErrMissingDependency is returned by RegisterAll when Deps is incomplete.
var ErrMissingDependency = errors.New("studio tools: missing dependency")

// ImageGenerator renders still images and returns their URLs.
type ImageGenerator interface {
	GenerateImages(ctx context.Context, prompt, aspectRatio string, count int) ([]string, error)
}

// AgentDirectory is the part of the Delegation Registry delegate_task uses.
type AgentDirectory interface {
	KnownIDs() []string
	Get(id string) (*agents.Agent, bool)
}

// Deps are the services the studio tools call into.
type Deps struct {
	Images    ImageGenerator
	Admission *usage.Controller
	Approvals *approval.Gate
	Jobs      *jobs.Manager
	Agents    AgentDirectory
	Memory    *memory.Service
}

func (d Deps) check() error {
	switch {
	case d.Images == nil:
		return fmt.Errorf("%w: image generator", ErrMissingDependency)
	case d.Admission == nil:
		return fmt.Errorf("%w: admission controller", ErrMissingDependency)
	case d.Approvals == nil:
		return fmt.Errorf("%w: approval gate", ErrMissingDependency)
	case d.Jobs == nil:
		return fmt.Errorf("%w: job manager", ErrMissingDependency)
	case d.Agents == nil:
		return fmt.Errorf("%w: agent directory", ErrMissingDependency)
	case d.Memory == nil:
		return fmt.Errorf("%w: memory service", ErrMissingDependency)
	}
	return nil
}

// RegisterAll registers every studio tool with the given registry.
func RegisterAll(registry *tools.Registry, deps Deps) error {
	if err := deps.check(); err != nil {
		return err
	}

	allTools := []*tools.Tool{
		// Generation
		GenerateImageTool(deps),
		GenerateVideoTool(deps),
		GenerateLongFormVideoTool(deps),

		// Jobs
		CheckJobStatusTool(deps),
		CancelJobTool(deps),

		// Agents and approvals
		DelegateTaskTool(deps),
		RequestApprovalTool(deps),

		// Memory
		SaveMemoryTool(deps),
		RecallMemoriesTool(deps),
	}

	for _, tool := range allTools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}
