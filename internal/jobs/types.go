// Package jobs tracks asynchronous generation work. A Job wraps one provider
// generation, or an ordered chain of segments whose last frames seed each
// other, behind a single state machine:
//
//	queued → processing → [stitching] → completed | failed | cancelled
//
// Progress never decreases and terminal states never change.
package jobs

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when mutating a finished job.
	ErrJobTerminal = errors.New("job already finished")

	// ErrExceedsCeiling is returned when a request is longer than the caller's ceiling.
	ErrExceedsCeiling = errors.New("requested duration exceeds ceiling")

	// ErrInvalidDuration is returned for non-positive durations.
	ErrInvalidDuration = errors.New("duration must be positive")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("job manager closed")
)

// Kind is the type of generation work.
type Kind string

const (
	KindVideo         Kind = "video"
	KindLongFormVideo Kind = "long_form_video"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusStitching  Status = "stitching"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SegmentStatus is the state of one chain segment.
type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentProcessing SegmentStatus = "processing"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
)

// Segment is one provider generation inside a job.
type Segment struct {
	Index       int           `json:"index"`
	Prompt      string        `json:"prompt"`
	DurationSec int           `json:"durationSec"`
	Status      SegmentStatus `json:"status"`

	// ProviderJobID is the provider's id for this segment's generation.
	ProviderJobID string `json:"providerJobId,omitempty"`
	// SourceJobID is the provider job whose last frame seeded this segment.
	SourceJobID   string `json:"sourceJobId,omitempty"`
	StartFrameURL string `json:"startFrameUrl,omitempty"`
	LastFrameURL  string `json:"lastFrameUrl,omitempty"`
	OutputURL     string `json:"outputUrl,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Job is an asynchronously tracked generation task.
type Job struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Kind             Kind      `json:"kind"`
	Status           Status    `json:"status"`
	Progress         int       `json:"progress"`
	Prompt           string    `json:"prompt"`
	TotalDurationSec int       `json:"totalDurationSec"`
	AspectRatio      string    `json:"aspectRatio,omitempty"`
	Segments         []Segment `json:"segments"`
	OutputURL        string    `json:"outputUrl,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand to callers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Segments = append([]Segment(nil), j.Segments...)
	return &c
}

// Generation is one request to the generation provider.
type Generation struct {
	Kind          Kind
	Prompt        string
	DurationSec   int
	AspectRatio   string
	StartFrameURL string
}

// ProviderState is the provider-side state of a generation.
type ProviderState string

const (
	ProviderRunning   ProviderState = "running"
	ProviderSucceeded ProviderState = "succeeded"
	ProviderFailed    ProviderState = "failed"
)

// ProviderStatus is returned by Provider.Status.
type ProviderStatus struct {
	State        ProviderState
	Progress     int
	OutputURL    string
	LastFrameURL string
	Error        string
}

// Provider is the external generation service.
type Provider interface {
	Submit(ctx context.Context, gen Generation) (providerJobID string, err error)
	Status(ctx context.Context, providerJobID string) (ProviderStatus, error)
}

// Stitcher joins completed segment outputs into one asset.
type Stitcher interface {
	Stitch(ctx context.Context, segmentURLs []string) (string, error)
}

// Store persists jobs. Only the Manager writes to it.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, userID string) ([]*Job, error)
}
