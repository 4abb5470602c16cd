package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"indiistudio/internal/logging"
)

// ErrWaitTimeout is returned by WaitForJob when the job is still running at the deadline.
var ErrWaitTimeout = errors.New("timed out waiting for job")

// maxStatusErrors is how many consecutive provider status errors fail a segment.
const maxStatusErrors = 3

// Config tunes the Manager.
type Config struct {
	// SegmentMaxSec is the longest segment the provider can render in one call.
	SegmentMaxSec int
	PollInterval  time.Duration
	// WaitTimeout bounds WaitForJob when the caller's context has no deadline.
	WaitTimeout   time.Duration
	MaxConcurrent int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SegmentMaxSec: 8,
		PollInterval:  10 * time.Second,
		WaitTimeout:   300 * time.Second,
		MaxConcurrent: 4,
	}
}

// TerminalHook is called once when a job reaches a terminal state.
type TerminalHook func(job *Job)

// SubmitOptions describe who owns a job and how it is bounded.
type SubmitOptions struct {
	UserID string
	// MaxDurationSec rejects longer requests before a job exists. Zero disables the check.
	MaxDurationSec int
	AspectRatio    string
	OnTerminal     TerminalHook
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore replaces the default MemoryStore.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithStitcher replaces the default ConcatStitcher.
func WithStitcher(s Stitcher) Option {
	return func(m *Manager) { m.stitcher = s }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns every job's state. Workers run in background goroutines
// bounded by a semaphore; Close waits for all of them.
type Manager struct {
	store    Store
	provider Provider
	stitcher Stitcher
	cfg      Config
	sem      *semaphore.Weighted
	now      func() time.Time

	mu       sync.Mutex
	closed   bool
	cancels  map[string]context.CancelFunc
	hooks    map[string]TerminalHook
	watchers map[string][]chan struct{}

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a Manager that renders through provider.
func NewManager(provider Provider, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.SegmentMaxSec <= 0 {
		cfg.SegmentMaxSec = def.SegmentMaxSec
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}

	baseCtx, stop := context.WithCancel(context.Background())
	m := &Manager{
		store:    NewMemoryStore(),
		provider: provider,
		stitcher: ConcatStitcher{},
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		now:      time.Now,
		cancels:  make(map[string]context.CancelFunc),
		hooks:    make(map[string]TerminalHook),
		watchers: make(map[string][]chan struct{}),
		baseCtx:  baseCtx,
		stop:     stop,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submit creates a single-generation job and returns immediately.
func (m *Manager) Submit(ctx context.Context, gen Generation, opts SubmitOptions) (*Job, error) {
	if err := checkDuration(gen.DurationSec, opts.MaxDurationSec); err != nil {
		return nil, err
	}
	if gen.Kind == "" {
		gen.Kind = KindVideo
	}
	job := m.newJob(gen.Kind, gen.Prompt, gen.DurationSec, opts)
	job.Segments = []Segment{{
		Index:         0,
		Prompt:        gen.Prompt,
		DurationSec:   gen.DurationSec,
		Status:        SegmentPending,
		StartFrameURL: gen.StartFrameURL,
	}}
	return m.start(ctx, job, opts.OnTerminal)
}

// EnqueueChain splits totalSec into segments of at most SegmentMaxSec and
// renders them in order, each seeded with the previous segment's last frame.
// firstFrameURL, if set, seeds the first segment.
func (m *Manager) EnqueueChain(ctx context.Context, prompt string, totalSec int, firstFrameURL string, opts SubmitOptions) (*Job, error) {
	if err := checkDuration(totalSec, opts.MaxDurationSec); err != nil {
		return nil, err
	}
	durations := splitDuration(totalSec, m.cfg.SegmentMaxSec)
	job := m.newJob(KindLongFormVideo, prompt, totalSec, opts)
	job.Segments = make([]Segment, len(durations))
	for i, d := range durations {
		job.Segments[i] = Segment{
			Index:       i,
			Prompt:      segmentPrompt(prompt, i, len(durations)),
			DurationSec: d,
			Status:      SegmentPending,
		}
	}
	job.Segments[0].StartFrameURL = firstFrameURL
	return m.start(ctx, job, opts.OnTerminal)
}

func checkDuration(sec, ceiling int) error {
	if sec <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDuration, sec)
	}
	if ceiling > 0 && sec > ceiling {
		return fmt.Errorf("%w: %ds requested, %ds allowed", ErrExceedsCeiling, sec, ceiling)
	}
	return nil
}

// splitDuration returns segment lengths that sum to total, none above max.
func splitDuration(total, max int) []int {
	if max <= 0 {
		return []int{total}
	}
	var out []int
	for remaining := total; remaining > 0; remaining -= max {
		if remaining < max {
			out = append(out, remaining)
		} else {
			out = append(out, max)
		}
	}
	return out
}

func segmentPrompt(prompt string, i, n int) string {
	if n == 1 {
		return prompt
	}
	return fmt.Sprintf("%s (Part %d/%d)", prompt, i+1, n)
}

func (m *Manager) newJob(kind Kind, prompt string, totalSec int, opts SubmitOptions) *Job {
	now := m.now()
	return &Job{
		ID:               uuid.NewString(),
		UserID:           opts.UserID,
		Kind:             kind,
		Status:           StatusQueued,
		Prompt:           prompt,
		TotalDurationSec: totalSec,
		AspectRatio:      opts.AspectRatio,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (m *Manager) start(ctx context.Context, job *Job, hook TerminalHook) (*Job, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if err := m.store.Create(ctx, job); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("create job: %w", err)
	}
	jobCtx, cancel := context.WithCancel(m.baseCtx)
	m.cancels[job.ID] = cancel
	if hook != nil {
		m.hooks[job.ID] = hook
	}
	m.wg.Add(1)
	m.mu.Unlock()

	logging.Jobs("Queued %s job %s for user %s: %d segment(s), %ds", job.Kind, job.ID, job.UserID, len(job.Segments), job.TotalDurationSec)
	go m.run(jobCtx, job.ID)
	return job.Clone(), nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns the current snapshot of a job.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// List returns a user's jobs, newest first. An empty userID lists all jobs.
func (m *Manager) List(ctx context.Context, userID string) ([]*Job, error) {
	return m.store.List(ctx, userID)
}

// WaitForJob blocks until the job is terminal. If ctx has no deadline the
// configured WaitTimeout applies. On timeout the latest snapshot is returned
// with ErrWaitTimeout.
func (m *Manager) WaitForJob(ctx context.Context, id string) (*Job, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.WaitTimeout)
		defer cancel()
	}

	m.mu.Lock()
	job, err := m.store.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if job.Status.IsTerminal() {
		m.mu.Unlock()
		return job, nil
	}
	ch := make(chan struct{})
	m.watchers[id] = append(m.watchers[id], ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return m.store.Get(context.WithoutCancel(ctx), id)
	case <-ctx.Done():
		m.removeWatcher(id, ch)
		job, _ := m.store.Get(context.WithoutCancel(ctx), id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return job, fmt.Errorf("%w: %s", ErrWaitTimeout, id)
		}
		return job, ctx.Err()
	}
}

func (m *Manager) removeWatcher(id string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.watchers[id]
	for i, c := range list {
		if c == ch {
			m.watchers[id] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.watchers[id]) == 0 {
		delete(m.watchers, id)
	}
}

// =============================================================================
// CANCELLATION AND SHUTDOWN
// =============================================================================

// Cancel marks a job cancelled and stops its worker. Cancellation is local:
// a generation already running at the provider is abandoned, not recalled.
// Finished jobs return ErrJobTerminal along with their snapshot.
func (m *Manager) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := m.mutate(id, func(j *Job) {
		j.Status = StatusCancelled
		j.Error = "cancelled"
		for i := range j.Segments {
			if j.Segments[i].Status == SegmentProcessing {
				j.Segments[i].Status = SegmentFailed
				j.Segments[i].Error = "cancelled"
			}
		}
	})
	if errors.Is(err, ErrJobTerminal) {
		current, getErr := m.store.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return current, err
	}
	if err != nil {
		return nil, err
	}
	logging.Jobs("Cancelled job %s", id)
	return job, nil
}

// Close stops accepting jobs, interrupts running workers and waits for them.
// Jobs interrupted by Close end as failed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
	logging.JobsDebug("Job manager closed")
}

// =============================================================================
// STATE TRANSITIONS
// =============================================================================

// mutate applies fn to the stored job under the manager lock. Terminal jobs
// are never modified and progress never decreases. When fn makes the job
// terminal, watchers are released, the worker is cancelled and the
// OnTerminal hook runs (outside the lock).
func (m *Manager) mutate(id string, fn func(*Job)) (*Job, error) {
	ctx := context.Background()

	m.mu.Lock()
	job, err := m.store.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if job.Status.IsTerminal() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrJobTerminal, id, job.Status)
	}

	prev := job.Progress
	fn(job)
	if job.Progress < prev {
		job.Progress = prev
	}
	if job.Progress > 100 {
		job.Progress = 100
	}
	job.UpdatedAt = m.now()

	if err := m.store.Update(ctx, job); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	var hook TerminalHook
	if job.Status.IsTerminal() {
		for _, ch := range m.watchers[id] {
			close(ch)
		}
		delete(m.watchers, id)
		if cancel, ok := m.cancels[id]; ok {
			cancel()
			delete(m.cancels, id)
		}
		hook = m.hooks[id]
		delete(m.hooks, id)
	}
	m.mu.Unlock()

	if hook != nil {
		hook(job.Clone())
	}
	return job.Clone(), nil
}

func (m *Manager) fail(id, msg string, segIndex int) {
	_, err := m.mutate(id, func(j *Job) {
		j.Status = StatusFailed
		j.Error = msg
		if segIndex >= 0 && segIndex < len(j.Segments) {
			j.Segments[segIndex].Status = SegmentFailed
			j.Segments[segIndex].Error = msg
		}
	})
	if err == nil {
		logging.Get(logging.CategoryJobs).Warn("Job %s failed: %s", id, msg)
	}
}

// =============================================================================
// WORKER
// =============================================================================

func (m *Manager) run(ctx context.Context, id string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if cancel, ok := m.cancels[id]; ok {
			cancel()
			delete(m.cancels, id)
		}
		m.mu.Unlock()
	}()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.interrupted(id, -1)
		return
	}
	defer m.sem.Release(1)

	job, err := m.mutate(id, func(j *Job) { j.Status = StatusProcessing })
	if err != nil {
		return
	}

	timer := logging.StartTimer(logging.CategoryJobs, "job "+id)
	defer timer.Stop()

	n := len(job.Segments)
	startFrame := job.Segments[0].StartFrameURL
	sourceJob := ""
	outputs := make([]string, 0, n)

	for i := 0; i < n; i++ {
		status, providerJobID, err := m.runSegment(ctx, job, i, startFrame, sourceJob)
		if ctx.Err() != nil {
			m.interrupted(id, i)
			return
		}
		if err != nil {
			msg := err.Error()
			if n > 1 {
				msg = fmt.Sprintf("segment %d of %d failed: %s", i+1, n, err)
			}
			m.fail(id, msg, i)
			return
		}

		outputs = append(outputs, status.OutputURL)
		startFrame = status.LastFrameURL
		sourceJob = providerJobID
		done := i + 1
		if _, err := m.mutate(id, func(j *Job) {
			seg := &j.Segments[i]
			seg.Status = SegmentCompleted
			seg.OutputURL = status.OutputURL
			seg.LastFrameURL = status.LastFrameURL
			j.Progress = done * 100 / n
		}); err != nil {
			return
		}
		logging.JobsDebug("Job %s: segment %d/%d completed", id, done, n)
	}

	output := outputs[0]
	if n > 1 {
		if _, err := m.mutate(id, func(j *Job) { j.Status = StatusStitching }); err != nil {
			return
		}
		output, err = m.stitcher.Stitch(ctx, outputs)
		if ctx.Err() != nil {
			m.interrupted(id, -1)
			return
		}
		if err != nil {
			m.fail(id, fmt.Sprintf("stitching failed: %v", err), -1)
			return
		}
	}

	if _, err := m.mutate(id, func(j *Job) {
		j.Status = StatusCompleted
		j.Progress = 100
		j.OutputURL = output
	}); err == nil {
		logging.Jobs("Job %s completed: %s", id, output)
	}
}

// runSegment renders one segment and polls the provider until it settles.
func (m *Manager) runSegment(ctx context.Context, job *Job, i int, startFrame, sourceJob string) (ProviderStatus, string, error) {
	seg := job.Segments[i]
	if _, err := m.mutate(job.ID, func(j *Job) {
		s := &j.Segments[i]
		s.Status = SegmentProcessing
		s.StartFrameURL = startFrame
		s.SourceJobID = sourceJob
	}); err != nil {
		return ProviderStatus{}, "", err
	}

	providerJobID, err := m.provider.Submit(ctx, Generation{
		Kind:          job.Kind,
		Prompt:        seg.Prompt,
		DurationSec:   seg.DurationSec,
		AspectRatio:   job.AspectRatio,
		StartFrameURL: startFrame,
	})
	if err != nil {
		return ProviderStatus{}, "", fmt.Errorf("submit: %w", err)
	}
	if _, err := m.mutate(job.ID, func(j *Job) { j.Segments[i].ProviderJobID = providerJobID }); err != nil {
		return ProviderStatus{}, providerJobID, err
	}

	single := len(job.Segments) == 1
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	statusErrors := 0
	for {
		status, err := m.provider.Status(ctx, providerJobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ProviderStatus{}, providerJobID, ctx.Err()
			}
			statusErrors++
			logging.JobsDebug("Job %s: status check %d failed: %v", job.ID, statusErrors, err)
			if statusErrors >= maxStatusErrors {
				return ProviderStatus{}, providerJobID, fmt.Errorf("status: %w", err)
			}
		case status.State == ProviderSucceeded:
			return status, providerJobID, nil
		case status.State == ProviderFailed:
			msg := status.Error
			if msg == "" {
				msg = "generation failed"
			}
			return status, providerJobID, errors.New(msg)
		default:
			statusErrors = 0
			if single && status.Progress > 0 {
				progress := status.Progress
				if progress > 99 {
					progress = 99
				}
				if _, err := m.mutate(job.ID, func(j *Job) { j.Progress = progress }); err != nil {
					return ProviderStatus{}, providerJobID, err
				}
			}
		}

		select {
		case <-ctx.Done():
			return ProviderStatus{}, providerJobID, ctx.Err()
		case <-ticker.C:
		}
	}
}

// interrupted records that a worker stopped because its context ended.
// A user cancel already made the job terminal; otherwise Close is shutting down.
func (m *Manager) interrupted(id string, segIndex int) {
	m.fail(id, "interrupted: job manager shut down", segIndex)
}
