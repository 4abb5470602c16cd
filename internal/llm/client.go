// Package llm adapts the Gemini API to the studio's collaborators: the chat
// Model used by the agent runtime, Imagen image generation, the Veo video
// provider behind the job manager, and the embedder used for memory recall.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"indiistudio/internal/logging"
)

// ErrNoAPIKey is returned when no Gemini API key is configured.
var ErrNoAPIKey = errors.New("gemini API key is required (set GEMINI_API_KEY)")

const (
	maxRetries       = 3
	retryBackoffBase = time.Second
	retryBackoffMax  = 8 * time.Second
)

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// retryable reports whether err is a rate limit or transient server error.
func retryable(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// withRetry runs call, retrying retryable errors with exponential backoff.
func withRetry[T any](ctx context.Context, op string, backoff time.Duration, call func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff << (attempt - 1)
			if wait > retryBackoffMax {
				wait = retryBackoffMax
			}
			logging.APIDebug("%s: retry %d after %v: %v", op, attempt, wait, lastErr)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(wait):
			}
		}
		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}
