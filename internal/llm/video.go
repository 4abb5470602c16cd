package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"indiistudio/internal/jobs"
	"indiistudio/internal/logging"
)

// FrameExtractor returns a reference to the last frame of a rendered video.
type FrameExtractor func(ctx context.Context, videoURL string) (string, error)

// VideoProvider implements jobs.Provider with Veo long-running operations.
type VideoProvider struct {
	client    *genai.Client
	model     string
	assets    AssetDir
	lastFrame FrameExtractor
	backoff   time.Duration

	mu  sync.Mutex
	ops map[string]*genai.GenerateVideosOperation
}

// NewVideoProvider creates a VideoProvider. lastFrame may be nil, in which
// case chained segments are rendered without a seed frame.
func NewVideoProvider(client *genai.Client, model string, assets AssetDir, lastFrame FrameExtractor) *VideoProvider {
	if model == "" {
		model = "veo-3.0-generate-001"
	}
	return &VideoProvider{
		client:    client,
		model:     model,
		assets:    assets,
		lastFrame: lastFrame,
		backoff:   retryBackoffBase,
		ops:       make(map[string]*genai.GenerateVideosOperation),
	}
}

// Submit implements jobs.Provider.
func (p *VideoProvider) Submit(ctx context.Context, gen jobs.Generation) (string, error) {
	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		AspectRatio:    gen.AspectRatio,
	}
	if gen.DurationSec > 0 {
		d := int32(gen.DurationSec)
		cfg.DurationSeconds = &d
	}

	var image *genai.Image
	frame, err := loadImage(gen.StartFrameURL)
	if err != nil {
		logging.Get(logging.CategoryAPI).Warn("Rendering without start frame: %v", err)
	} else if !frame.empty() {
		image = &genai.Image{GCSURI: frame.gcsURI, ImageBytes: frame.data, MIMEType: frame.mimeType}
	}

	op, err := withRetry(ctx, "generate videos", p.backoff, func(ctx context.Context) (*genai.GenerateVideosOperation, error) {
		return p.client.Models.GenerateVideos(ctx, p.model, gen.Prompt, image, cfg)
	})
	if err != nil {
		return "", fmt.Errorf("video submission failed: %w", err)
	}
	if op == nil || op.Name == "" {
		return "", fmt.Errorf("video submission returned no operation")
	}

	p.mu.Lock()
	p.ops[op.Name] = op
	p.mu.Unlock()
	logging.APIDebug("Submitted Veo operation %s (%ds)", op.Name, gen.DurationSec)
	return op.Name, nil
}

// Status implements jobs.Provider.
func (p *VideoProvider) Status(ctx context.Context, providerJobID string) (jobs.ProviderStatus, error) {
	p.mu.Lock()
	op, ok := p.ops[providerJobID]
	p.mu.Unlock()
	if !ok {
		op = &genai.GenerateVideosOperation{Name: providerJobID}
	}

	if !op.Done {
		updated, err := p.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return jobs.ProviderStatus{}, fmt.Errorf("poll %s: %w", providerJobID, err)
		}
		op = updated
		p.mu.Lock()
		p.ops[providerJobID] = op
		p.mu.Unlock()
	}

	if !op.Done {
		return jobs.ProviderStatus{State: jobs.ProviderRunning, Progress: progressOf(op.Metadata)}, nil
	}

	p.mu.Lock()
	delete(p.ops, providerJobID)
	p.mu.Unlock()

	if op.Error != nil {
		return jobs.ProviderStatus{State: jobs.ProviderFailed, Error: fmt.Sprint(op.Error["message"])}, nil
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		msg := "no video returned"
		if op.Response != nil && len(op.Response.RAIMediaFilteredReasons) > 0 {
			msg = "blocked: " + op.Response.RAIMediaFilteredReasons[0]
		}
		return jobs.ProviderStatus{State: jobs.ProviderFailed, Error: msg}, nil
	}

	video := op.Response.GeneratedVideos[0].Video
	url := video.URI
	if url == "" && len(video.VideoBytes) > 0 {
		saved, err := p.assets.Save("video", video.VideoBytes, video.MIMEType)
		if err != nil {
			return jobs.ProviderStatus{State: jobs.ProviderFailed, Error: err.Error()}, nil
		}
		url = saved
	}

	status := jobs.ProviderStatus{State: jobs.ProviderSucceeded, Progress: 100, OutputURL: url}
	if p.lastFrame != nil {
		frame, err := p.lastFrame(ctx, url)
		if err != nil {
			logging.Get(logging.CategoryAPI).Warn("Could not extract last frame of %s: %v", url, err)
		} else {
			status.LastFrameURL = frame
		}
	}
	return status, nil
}

func progressOf(meta map[string]any) int {
	switch v := meta["progressPercent"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
