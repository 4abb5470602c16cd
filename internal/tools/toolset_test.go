package tools

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indiistudio/internal/types"
)

func studioToolset(t *testing.T, calls *atomic.Int32) *Toolset {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(&Tool{
		Name:   "generate_video",
		Schema: videoSchema(),
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			calls.Add(1)
			return types.OK(map[string]any{"user": ec.UserID, "duration": args["duration"]}), nil
		},
	})
	reg.MustRegister(&Tool{
		Name: "generate_image",
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			return types.ToolResult{}, errors.New("provider exploded")
		},
	})
	reg.MustRegister(&Tool{
		Name: "check_job_status",
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			panic("nil job")
		},
	})
	ts, err := reg.Bind([]string{"generate_video", "generate_image", "check_job_status"})
	require.NoError(t, err)
	return ts
}

func TestDispatchSuccess(t *testing.T) {
	var calls atomic.Int32
	ts := studioToolset(t, &calls)
	ec := &types.ExecutionContext{UserID: "u1"}

	res := ts.Dispatch(context.Background(), ec, types.ToolCall{
		Name: "generate_video",
		Args: map[string]any{"prompt": "p", "duration": 8},
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]any{"user": "u1", "duration": float64(8)}, res.Data)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatchInvalidInputNeverReachesHandler(t *testing.T) {
	var calls atomic.Int32
	ts := studioToolset(t, &calls)

	for _, d := range []any{-5, 301} {
		res := ts.Dispatch(context.Background(), &types.ExecutionContext{}, types.ToolCall{
			Name: "generate_video",
			Args: map[string]any{"prompt": "p", "duration": d},
		})
		assert.False(t, res.Success)
		assert.Equal(t, types.CodeInvalidInput, res.ErrorCode)
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestDispatchUnknownTool(t *testing.T) {
	var calls atomic.Int32
	ts := studioToolset(t, &calls)

	res := ts.Dispatch(context.Background(), &types.ExecutionContext{}, types.ToolCall{Name: "generate"})
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeUnknownTool, res.ErrorCode)
	assert.Contains(t, res.Error, "Did you mean: generate_image, generate_video?")

	res = ts.Dispatch(context.Background(), &types.ExecutionContext{}, types.ToolCall{Name: "bake_cake"})
	assert.Equal(t, types.CodeUnknownTool, res.ErrorCode)
	assert.NotContains(t, res.Error, "Did you mean")
}

func TestDispatchHandlerErrorAndPanic(t *testing.T) {
	var calls atomic.Int32
	ts := studioToolset(t, &calls)

	res := ts.Dispatch(context.Background(), &types.ExecutionContext{}, types.ToolCall{Name: "generate_image"})
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeToolExecutionError, res.ErrorCode)
	assert.True(t, strings.Contains(res.Error, "provider exploded"))

	res = ts.Dispatch(context.Background(), &types.ExecutionContext{}, types.ToolCall{Name: "check_job_status"})
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeToolExecutionError, res.ErrorCode)
}

func TestDispatchTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			<-ctx.Done()
			return types.ToolResult{}, ctx.Err()
		},
	})
	ts, err := reg.Bind([]string{"slow"})
	require.NoError(t, err)

	res := ts.Dispatch(context.Background(), &types.ExecutionContext{}, types.ToolCall{Name: "slow"})
	assert.Equal(t, types.CodeToolExecutionError, res.ErrorCode)
	assert.Contains(t, res.Error, "timed out")
}

func TestDispatchFillsMissingErrorCode(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{
		Name: "sloppy",
		Handler: func(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
			return types.ToolResult{Success: false, Error: "nope"}, nil
		},
	})
	ts, err := reg.Bind([]string{"sloppy"})
	require.NoError(t, err)

	res := ts.Dispatch(context.Background(), &types.ExecutionContext{}, types.ToolCall{Name: "sloppy"})
	assert.Equal(t, types.CodeToolExecutionError, res.ErrorCode)
	assert.Equal(t, "nope", res.Error)
}
