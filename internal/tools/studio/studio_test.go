package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"indiistudio/internal/agents"
	"indiistudio/internal/approval"
	"indiistudio/internal/jobs"
	"indiistudio/internal/memory"
	"indiistudio/internal/tools"
	"indiistudio/internal/types"
	"indiistudio/internal/usage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// fakes
// =============================================================================

type countingEmbedder struct {
	calls atomic.Int32
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return []float32{float32(len(text)), 1}, nil
}

type fakeImages struct {
	calls atomic.Int32
	err   error
}

func (f *fakeImages) GenerateImages(_ context.Context, prompt, aspect string, count int) ([]string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	urls := make([]string, count)
	for i := range urls {
		urls[i] = fmt.Sprintf("file:///assets/%s-%d.png", strings.ReplaceAll(aspect, ":", "x"), i)
	}
	return urls, nil
}

type fakeProvider struct {
	mu        sync.Mutex
	failAt    map[int]bool
	submitted []jobs.Generation
}

func (p *fakeProvider) Submit(_ context.Context, gen jobs.Generation) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, gen)
	return fmt.Sprintf("op-%d", len(p.submitted)-1), nil
}

func (p *fakeProvider) Status(_ context.Context, id string) (jobs.ProviderStatus, error) {
	var idx int
	fmt.Sscanf(id, "op-%d", &idx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAt[idx] {
		return jobs.ProviderStatus{State: jobs.ProviderFailed, Error: "safety filter"}, nil
	}
	return jobs.ProviderStatus{
		State:        jobs.ProviderSucceeded,
		OutputURL:    "https://cdn.test/" + id + ".mp4",
		LastFrameURL: "https://cdn.test/" + id + ".png",
	}, nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submitted)
}

type recordingRunner struct {
	mu   sync.Mutex
	ecs  []types.ExecutionContext
	reqs []types.ExecutionRequest
	text string
	err  error
}

func (r *recordingRunner) RunTask(_ context.Context, ec *types.ExecutionContext, req types.ExecutionRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ecs = append(r.ecs, *ec)
	r.reqs = append(r.reqs, req)
	return r.text, r.err
}

// fakeDirectory counts Get calls.
type fakeDirectory struct {
	ids    []string
	live   map[string]*agents.Agent
	lookup atomic.Int32
}

func (d *fakeDirectory) KnownIDs() []string { return d.ids }

func (d *fakeDirectory) Get(id string) (*agents.Agent, bool) {
	d.lookup.Add(1)
	a, ok := d.live[id]
	return a, ok
}

// =============================================================================
// fixture
// =============================================================================

var testTiers = usage.Tiers{
	"free": {
		ChatTokensPerMonth:   1000,
		ImagesPerMonth:       3,
		VideoSecondsPerMonth: 600,
		VideosPerDay:         5,
		MaxVideoSeconds:      300,
	},
}

type fixture struct {
	toolset   *tools.Toolset
	images    *fakeImages
	provider  *fakeProvider
	admission *usage.Controller
	jobs      *jobs.Manager
	approvals *approval.ChannelTransport
	dir       *fakeDirectory
	runner    *recordingRunner
	embedder  *countingEmbedder
	ec        *types.ExecutionContext
}

// newFixture wires every tool. A nil transport uses a channel transport the
// test must answer.
func newFixture(t *testing.T, transport approval.Transport, gateTimeout time.Duration, opts ...func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		images:   &fakeImages{},
		provider: &fakeProvider{failAt: map[int]bool{}},
		runner:   &recordingRunner{text: "Clause 4 limits your sync rights."},
		ec:       &types.ExecutionContext{UserID: "u1", Tier: "free", ProjectID: "album", AgentID: "generalist"},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.admission = usage.NewController(usage.NewMemoryLedger(), testTiers)
	f.jobs = jobs.NewManager(f.provider, jobs.Config{
		SegmentMaxSec: 120,
		PollInterval:  time.Millisecond,
		WaitTimeout:   5 * time.Second,
		MaxConcurrent: 2,
	})
	t.Cleanup(f.jobs.Close)

	if transport == nil {
		f.approvals = approval.NewChannelTransport(1)
		transport = f.approvals
	}
	f.dir = &fakeDirectory{
		ids: []string{"generalist", "legal", "video"},
		live: map[string]*agents.Agent{
			"legal": {Definition: agents.Definition{ID: "legal", Name: "Legal Advisor"}, Runner: f.runner},
		},
	}

	registry := tools.NewRegistry()
	require.NoError(t, RegisterAll(registry, Deps{
		Images:    f.images,
		Admission: f.admission,
		Approvals: approval.NewGate(transport, gateTimeout),
		Jobs:      f.jobs,
		Agents:    f.dir,
		Memory:    memory.NewService(memory.NewMemoryStore(), embedderOf(f)),
	}))
	ts, err := registry.Bind(registry.Names())
	require.NoError(t, err)
	f.toolset = ts
	return f
}

func (f *fixture) call(name string, args map[string]any) types.ToolResult {
	return f.toolset.Dispatch(context.Background(), f.ec, types.ToolCall{ID: "c1", Name: name, Args: args})
}

func (f *fixture) used(t *testing.T, class usage.OperationClass) (used, reserved int64) {
	t.Helper()
	rows, err := f.admission.Usage(context.Background(), f.ec.UserID, f.ec.Tier)
	require.NoError(t, err)
	for _, r := range rows {
		if r.Class == class {
			return r.Used, r.Reserved
		}
	}
	t.Fatalf("class %s missing from usage", class)
	return 0, 0
}

// withEmbedder backs the memory tools with an embedding model.
func withEmbedder(f *fixture) { f.embedder = &countingEmbedder{} }

func embedderOf(f *fixture) memory.Embedder {
	if f.embedder == nil {
		return nil
	}
	return f.embedder
}

func approveAll() approval.Transport { return approval.AutoTransport{Threshold: 1e9} }

// =============================================================================
// registration
// =============================================================================

func TestRegisterAllCoversDefaultRoster(t *testing.T) {
	manager := jobs.NewManager(&fakeProvider{}, jobs.DefaultConfig())
	defer manager.Close()

	registry := tools.NewRegistry()
	require.NoError(t, RegisterAll(registry, Deps{
		Images:    &fakeImages{},
		Admission: usage.NewController(usage.NewMemoryLedger(), testTiers),
		Approvals: approval.NewGate(approveAll(), time.Second),
		Jobs:      manager,
		Agents:    &fakeDirectory{},
		Memory:    memory.NewService(memory.NewMemoryStore(), nil),
	}))
	assert.Equal(t, 9, registry.Count())
	for _, def := range agents.DefaultDefinitions() {
		_, err := registry.Bind(def.Tools)
		assert.NoError(t, err, "agent %s declares a tool without a handler", def.ID)
	}

	err := RegisterAll(tools.NewRegistry(), Deps{})
	assert.True(t, errors.Is(err, ErrMissingDependency))
}

// =============================================================================
// generate_image
// =============================================================================

func TestGenerateImageCommitsActualCount(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)

	res := f.call(ToolGenerateImage, map[string]any{"prompt": "neon cover art", "count": 2.0, "aspect_ratio": "3:4"})
	require.True(t, res.Success, res.Error)
	data := res.Data.(map[string]any)
	assert.Equal(t, 2, data["count"])

	used, reserved := f.used(t, usage.ClassImages)
	assert.Equal(t, int64(2), used)
	assert.Equal(t, int64(0), reserved)
}

func TestGenerateImageFailureReleases(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)
	f.images.err = errors.New("model overloaded")

	res := f.call(ToolGenerateImage, map[string]any{"prompt": "tour poster"})
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeGenerationFailed, res.ErrorCode)
	assert.Contains(t, res.Error, "model overloaded")

	used, reserved := f.used(t, usage.ClassImages)
	assert.Zero(t, used)
	assert.Zero(t, reserved)
	assert.Zero(t, f.admission.Outstanding())
}

func TestGenerateImageQuotaExceeded(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)

	res := f.call(ToolGenerateImage, map[string]any{"prompt": "press kit", "count": 4.0})
	assert.Equal(t, types.CodeQuotaExceeded, res.ErrorCode)
	assert.Contains(t, res.Error, "limit is 3")
	assert.Zero(t, f.images.calls.Load(), "provider must not be called over quota")
}

// =============================================================================
// generate_video
// =============================================================================

func TestGenerateVideoOutOfRangeNeverReachesProvider(t *testing.T) {
	f := newFixture(t, nil, time.Second)

	for _, d := range []float64{-5, 0, 301} {
		res := f.call(ToolGenerateVideo, map[string]any{"prompt": "teaser", "duration": d})
		assert.Equal(t, types.CodeInvalidInput, res.ErrorCode, "duration %v", d)
	}
	assert.Zero(t, f.provider.count())
	assert.Empty(t, f.approvals.Requests(), "no approval should be requested")
}

func TestGenerateVideoDeniedReleasesQuota(t *testing.T) {
	f := newFixture(t, nil, 5*time.Second)
	go func() {
		env := <-f.approvals.Requests()
		env.Resolve(approval.Deny)
	}()

	res := f.call(ToolGenerateVideo, map[string]any{"prompt": "live session clip", "duration": 8.0})
	assert.Equal(t, types.CodeApprovalDenied, res.ErrorCode)
	assert.Zero(t, f.provider.count())
	assert.Zero(t, f.admission.Outstanding())

	used, reserved := f.used(t, usage.ClassVideoSeconds)
	assert.Zero(t, used)
	assert.Zero(t, reserved)
}

func TestGenerateVideoUndeliveredApprovalTimesOut(t *testing.T) {
	// Nobody reads the unbuffered channel.
	f := newFixture(t, approval.NewChannelTransport(0), 30*time.Millisecond)

	res := f.call(ToolGenerateVideo, map[string]any{"prompt": "live session clip", "duration": 8.0})
	assert.Equal(t, types.CodeApprovalTimedOut, res.ErrorCode)
	assert.Zero(t, f.provider.count())
	assert.Zero(t, f.admission.Outstanding())
}

func TestGenerateVideoApprovedAndWaited(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)

	res := f.call(ToolGenerateVideo, map[string]any{"prompt": "lyric video", "duration": 7.5, "wait": true})
	require.True(t, res.Success, res.Error)
	data := res.Data.(map[string]any)
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, "https://cdn.test/op-0.mp4", data["output_url"])

	require.Eventually(t, func() bool { return f.admission.Outstanding() == 0 }, 2*time.Second, 5*time.Millisecond)
	used, _ := f.used(t, usage.ClassVideoSeconds)
	assert.Equal(t, int64(8), used, "duration is rounded up to whole seconds")
	videos, _ := f.used(t, usage.ClassVideos)
	assert.Equal(t, int64(1), videos)
}

// =============================================================================
// generate_long_form_video and job tools
// =============================================================================

func TestLongFormOverCeilingCreatesNoJob(t *testing.T) {
	f := newFixture(t, nil, time.Second)

	res := f.call(ToolGenerateLongFormVideo, map[string]any{"prompt": "tour documentary", "total_duration": 600.0})
	assert.Equal(t, types.CodeQuotaExceeded, res.ErrorCode)
	assert.Contains(t, res.Error, "allows 300s")

	listed, err := f.jobs.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.Empty(t, f.approvals.Requests())
	assert.Zero(t, f.admission.Outstanding())
}

func TestLongFormSegmentFailure(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)
	f.provider.failAt[1] = true

	res := f.call(ToolGenerateLongFormVideo, map[string]any{"prompt": "album trailer", "total_duration": 240.0})
	require.True(t, res.Success, res.Error)
	jobID := res.Data.(map[string]any)["job_id"].(string)

	_, err := f.jobs.WaitForJob(context.Background(), jobID)
	require.NoError(t, err)

	status := f.call(ToolCheckJobStatus, map[string]any{"job_id": jobID})
	assert.False(t, status.Success)
	assert.Equal(t, types.CodeChainSegmentFailed, status.ErrorCode)
	segs := status.Data.(map[string]any)["segments"].([]map[string]any)
	require.Len(t, segs, 2)
	assert.Equal(t, "completed", segs[0]["status"])
	assert.Equal(t, "failed", segs[1]["status"])

	require.Eventually(t, func() bool { return f.admission.Outstanding() == 0 }, 2*time.Second, 5*time.Millisecond)
	used, reserved := f.used(t, usage.ClassVideoSeconds)
	assert.Equal(t, int64(120), used, "only the rendered segment is billed")
	assert.Zero(t, reserved)
	videos, _ := f.used(t, usage.ClassVideos)
	assert.Zero(t, videos)
}

func TestJobToolsScopeToOwner(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)

	res := f.call(ToolGenerateVideo, map[string]any{"prompt": "clip", "duration": 4.0})
	require.True(t, res.Success, res.Error)
	jobID := res.Data.(map[string]any)["job_id"].(string)

	other := *f.ec
	other.UserID = "u2"
	got := f.toolset.Dispatch(context.Background(), &other, types.ToolCall{Name: ToolCheckJobStatus, Args: map[string]any{"job_id": jobID}})
	assert.Equal(t, types.CodeJobNotFound, got.ErrorCode)

	got = f.call(ToolCheckJobStatus, map[string]any{"job_id": "missing"})
	assert.Equal(t, types.CodeJobNotFound, got.ErrorCode)

	_, err := f.jobs.WaitForJob(context.Background(), jobID)
	require.NoError(t, err)
	got = f.call(ToolCancelJob, map[string]any{"job_id": jobID})
	assert.False(t, got.Success)
	assert.Contains(t, got.Error, "already finished")
}

// =============================================================================
// delegate_task
// =============================================================================

func TestDelegateInvalidIDNeverCallsGet(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)

	res := f.call(ToolDelegateTask, map[string]any{"agent_id": "accountant", "task": "do taxes"})
	assert.Equal(t, types.CodeInvalidAgentID, res.ErrorCode)
	for _, id := range f.dir.ids {
		assert.Contains(t, res.Error, id)
	}
	assert.Zero(t, f.dir.lookup.Load())
}

func TestDelegateValidIDMissingInstance(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)

	res := f.call(ToolDelegateTask, map[string]any{"agent_id": "video", "task": "storyboard"})
	assert.Equal(t, types.CodeAgentNotFound, res.ErrorCode)
	assert.Contains(t, res.Error, "not found despite")
	assert.Equal(t, int32(1), f.dir.lookup.Load())
}

func TestDelegateSuccessWrapsName(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)

	res := f.call(ToolDelegateTask, map[string]any{"agent_id": "legal", "task": "Review contract", "context": "label deal v2"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "[Legal Advisor]: Clause 4 limits your sync rights.", res.Data)

	require.Len(t, f.runner.ecs, 1)
	sub := f.runner.ecs[0]
	assert.True(t, sub.Delegated)
	assert.Equal(t, "legal", sub.AgentID)
	assert.Equal(t, "u1", sub.UserID)
	assert.Equal(t, "Review contract", f.runner.reqs[0].Task)
	assert.Equal(t, "label deal v2", f.runner.reqs[0].Context.ChatHistory)
	assert.False(t, f.ec.Delegated, "caller context must not change")
}

func TestDelegateIsSingleLevel(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)
	f.ec.Delegated = true

	res := f.call(ToolDelegateTask, map[string]any{"agent_id": "legal", "task": "x"})
	assert.Equal(t, types.CodeDelegationNotAllowed, res.ErrorCode)
	assert.Zero(t, f.dir.lookup.Load())
}

func TestDelegateRunnerError(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)
	f.runner.err = errors.New("Agent crashed")

	res := f.call(ToolDelegateTask, map[string]any{"agent_id": "legal", "task": "x"})
	assert.Equal(t, types.CodeToolExecutionError, res.ErrorCode)
	assert.Equal(t, "Delegation failed: Agent crashed", res.Error)
}

// =============================================================================
// request_approval and memory
// =============================================================================

func TestRequestApproval(t *testing.T) {
	t.Run("approved", func(t *testing.T) {
		f := newFixture(t, nil, 5*time.Second)
		go func() {
			env := <-f.approvals.Requests()
			assert.Equal(t, "post", env.Request.Reason)
			env.Resolve(approval.Approve)
		}()
		res := f.call(ToolRequestApproval, map[string]any{"content": "New single out Friday!", "type": "post"})
		require.True(t, res.Success, res.Error)
	})

	t.Run("timed out", func(t *testing.T) {
		f := newFixture(t, nil, 20*time.Millisecond)
		res := f.call(ToolRequestApproval, map[string]any{"content": "Email the label"})
		assert.Equal(t, types.CodeApprovalTimedOut, res.ErrorCode)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t, nil, 5*time.Second)
		go func() {
			env := <-f.approvals.Requests()
			env.Resolve(approval.Cancel)
		}()
		res := f.call(ToolRequestApproval, map[string]any{"content": "Post clip"})
		assert.Equal(t, types.CodeApprovalCancelled, res.ErrorCode)
	})
}

func TestMemoryTools(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second)

	res := f.call(ToolSaveMemory, map[string]any{"content": "Always credit the co-producer", "type": "rule"})
	require.True(t, res.Success, res.Error)
	res = f.call(ToolSaveMemory, map[string]any{"content": "Always credit the co-producer"})
	assert.Equal(t, false, res.Data.(map[string]any)["saved"])

	res = f.call(ToolSaveMemory, map[string]any{"content": "x", "type": "opinion"})
	assert.Equal(t, types.CodeInvalidInput, res.ErrorCode)

	res = f.call(ToolRecallMemories, map[string]any{"query": "who gets credit as producer"})
	require.True(t, res.Success, res.Error)
	data := res.Data.(map[string]any)
	assert.Equal(t, 1, data["count"])
}

func TestMemoryEmbeddingsChargeChatTokens(t *testing.T) {
	f := newFixture(t, approveAll(), time.Second, withEmbedder)

	content := strings.Repeat("a", 40) // 11 tokens
	res := f.call(ToolSaveMemory, map[string]any{"content": content})
	require.True(t, res.Success, res.Error)
	used, reserved := f.used(t, usage.ClassChatTokens)
	assert.Equal(t, int64(11), used)
	assert.Zero(t, reserved)

	// A duplicate never reaches the embedder and is not charged.
	res = f.call(ToolSaveMemory, map[string]any{"content": content})
	require.True(t, res.Success, res.Error)
	used, _ = f.used(t, usage.ClassChatTokens)
	assert.Equal(t, int64(11), used)
	assert.Equal(t, int32(1), f.embedder.calls.Load())

	res = f.call(ToolRecallMemories, map[string]any{"query": "aaaa"})
	require.True(t, res.Success, res.Error)
	used, _ = f.used(t, usage.ClassChatTokens)
	assert.Equal(t, int64(13), used)

	// Over the monthly chat token limit: refused before any embedding.
	calls := f.embedder.calls.Load()
	res = f.call(ToolSaveMemory, map[string]any{"content": strings.Repeat("b", 4000)})
	assert.Equal(t, types.CodeQuotaExceeded, res.ErrorCode)
	assert.Equal(t, calls, f.embedder.calls.Load())
	assert.Zero(t, f.admission.Outstanding())
}
