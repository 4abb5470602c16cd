package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"indiistudio/internal/logging"
)

// ImageGenerator renders images with Imagen and stores them as local assets.
type ImageGenerator struct {
	client  *genai.Client
	model   string
	assets  AssetDir
	backoff time.Duration
}

// NewImageGenerator creates an ImageGenerator.
func NewImageGenerator(client *genai.Client, model string, assets AssetDir) *ImageGenerator {
	if model == "" {
		model = "imagen-4.0-generate-001"
	}
	return &ImageGenerator{client: client, model: model, assets: assets, backoff: retryBackoffBase}
}

// GenerateImages renders count images and returns their URLs.
func (g *ImageGenerator) GenerateImages(ctx context.Context, prompt, aspectRatio string, count int) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "imagen.GenerateImages")
	defer timer.Stop()

	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: int32(count),
		AspectRatio:    aspectRatio,
		OutputMIMEType: "image/png",
	}
	resp, err := withRetry(ctx, "generate images", g.backoff, func(ctx context.Context) (*genai.GenerateImagesResponse, error) {
		return g.client.Models.GenerateImages(ctx, g.model, prompt, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}

	var urls []string
	var filtered string
	for _, img := range resp.GeneratedImages {
		if img == nil || img.Image == nil {
			continue
		}
		if img.RAIFilteredReason != "" {
			filtered = img.RAIFilteredReason
			continue
		}
		switch {
		case img.Image.GCSURI != "":
			urls = append(urls, img.Image.GCSURI)
		case len(img.Image.ImageBytes) > 0:
			url, err := g.assets.Save("image", img.Image.ImageBytes, img.Image.MIMEType)
			if err != nil {
				return urls, err
			}
			urls = append(urls, url)
		}
	}
	if len(urls) == 0 {
		if filtered != "" {
			return nil, fmt.Errorf("image generation blocked: %s", filtered)
		}
		return nil, errors.New("image generation returned no images")
	}
	logging.API("Generated %d image(s) with %s", len(urls), g.model)
	return urls, nil
}
