// Package approval implements the human-in-the-loop checkpoint placed in
// front of costly or irreversible tool calls.
//
// A guarded handler builds a Request and calls Gate.Guard, which emits the
// request through a Transport and suspends until a human resolves it, the
// wait window elapses, or the caller's context ends. Only an explicit approval
// runs the guarded action; every other outcome fails closed.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"indiistudio/internal/logging"
)

var (
	// ErrDenied is returned when a human denies the request.
	ErrDenied = errors.New("approval denied")

	// ErrTimedOut is returned when no resolution arrives within the wait window.
	ErrTimedOut = errors.New("approval timed out")

	// ErrCancelled is returned when the request is cancelled from the UI or the
	// waiting context ends.
	ErrCancelled = errors.New("approval cancelled")
)

// DefaultTimeout is the wait window when none is configured.
const DefaultTimeout = 5 * time.Minute

// Status is the lifecycle state of a Request.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusDenied
	StatusTimedOut
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusDenied:
		return "denied"
	case StatusTimedOut:
		return "timed_out"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Err maps a terminal status to its error; approved maps to nil.
func (s Status) Err() error {
	switch s {
	case StatusApproved:
		return nil
	case StatusDenied:
		return ErrDenied
	case StatusTimedOut:
		return ErrTimedOut
	default:
		return ErrCancelled
	}
}

// Decision is a human's answer to a Request.
type Decision int

const (
	Approve Decision = iota
	Deny
	Cancel
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case Deny:
		return "deny"
	default:
		return "cancel"
	}
}

// ParseDecision accepts approve/deny/cancel and their common short forms.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "approve", "approved", "yes", "y":
		return Approve, nil
	case "deny", "denied", "no", "n":
		return Deny, nil
	case "cancel", "cancelled":
		return Cancel, nil
	}
	return Cancel, fmt.Errorf("unknown decision %q", s)
}

func (d Decision) status() Status {
	switch d {
	case Approve:
		return StatusApproved
	case Deny:
		return StatusDenied
	default:
		return StatusCancelled
	}
}

// Request describes the exact action awaiting approval.
type Request struct {
	ID            string         `json:"id"`
	ToolName      string         `json:"toolName"`
	Args          map[string]any `json:"args"`
	EstimatedCost float64        `json:"estimatedCost"`
	Reason        string         `json:"reason,omitempty"`
	UserID        string         `json:"userId,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Resolver accepts decisions for pending requests.
type Resolver interface {
	Resolve(id string, d Decision) bool
}

// Transport carries requests to a human UI. Emit must not block for the
// human's answer; decisions come back through the Resolver. The context
// passed to Emit ends when the request is resolved.
type Transport interface {
	Emit(ctx context.Context, req Request, r Resolver) error
}

type pending struct {
	req    Request
	mu     sync.Mutex
	status Status
	done   chan struct{}
}

// settle records the first terminal status and reports whether it won.
func (p *pending) settle(s Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPending {
		return false
	}
	p.status = s
	close(p.done)
	return true
}

func (p *pending) current() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Gate owns ApprovalRequests from creation until resolution.
type Gate struct {
	transport Transport
	timeout   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*pending
}

// NewGate creates a gate emitting through transport.
func NewGate(transport Transport, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		transport: transport,
		timeout:   timeout,
		now:       time.Now,
		pending:   make(map[string]*pending),
	}
}

// Timeout returns the wait window.
func (g *Gate) Timeout() time.Duration { return g.timeout }

// Await emits req and suspends until it is resolved. It returns the terminal
// status; a missing ID or CreatedAt is filled in.
func (g *Gate) Await(ctx context.Context, req Request) (Status, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = g.now()
	}

	p := &pending{req: req, status: StatusPending, done: make(chan struct{})}
	g.mu.Lock()
	if _, dup := g.pending[req.ID]; dup {
		g.mu.Unlock()
		return StatusCancelled, fmt.Errorf("approval request %s already pending", req.ID)
	}
	g.pending[req.ID] = p
	g.mu.Unlock()
	defer g.discard(req.ID)

	// The wait window includes delivery.
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()
	emitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	logging.Approval("Approval requested: %s for %s (cost=%.2f)", req.ID, req.ToolName, req.EstimatedCost)
	if err := g.transport.Emit(emitCtx, req, g); err != nil {
		switch {
		case ctx.Err() != nil:
			if p.settle(StatusCancelled) {
				logging.Approval("Approval %s cancelled before delivery: %v", req.ID, ctx.Err())
			}
		case errors.Is(err, context.DeadlineExceeded):
			if p.settle(StatusTimedOut) {
				logging.Get(logging.CategoryApproval).Warn("Approval %s not delivered within %v", req.ID, g.timeout)
			}
		default:
			p.settle(StatusCancelled)
			logging.Get(logging.CategoryApproval).Error("Failed to emit approval %s: %v", req.ID, err)
			return StatusCancelled, fmt.Errorf("emit approval request: %w", err)
		}
		status := p.current()
		logging.Approval("Approval %s resolved: %s", req.ID, status)
		return status, nil
	}

	select {
	case <-p.done:
	case <-timer.C:
		if p.settle(StatusTimedOut) {
			logging.Get(logging.CategoryApproval).Warn("Approval %s timed out after %v", req.ID, g.timeout)
		}
	case <-ctx.Done():
		if p.settle(StatusCancelled) {
			logging.Approval("Approval %s cancelled: %v", req.ID, ctx.Err())
		}
	}

	status := p.current()
	logging.Approval("Approval %s resolved: %s", req.ID, status)
	return status, nil
}

// Guard runs action exactly once if and only if req is approved.
// Denial, timeout and cancellation return ErrDenied, ErrTimedOut and
// ErrCancelled without running action.
func (g *Gate) Guard(ctx context.Context, req Request, action func(context.Context) error) error {
	status, err := g.Await(ctx, req)
	if err != nil {
		return err
	}
	if status != StatusApproved {
		return status.Err()
	}
	return action(ctx)
}

// Resolve delivers a decision. Only the first resolution of a request is
// accepted; it reports false for later calls and unknown ids.
func (g *Gate) Resolve(id string, d Decision) bool {
	g.mu.Lock()
	p, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		logging.ApprovalDebug("Ignoring decision %s for unknown or resolved request %s", d, id)
		return false
	}
	won := p.settle(d.status())
	if !won {
		logging.ApprovalDebug("Ignoring late decision %s for %s", d, id)
	}
	return won
}

// Pending lists unresolved requests, oldest first.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, 0, len(g.pending))
	for _, p := range g.pending {
		if p.current() == StatusPending {
			out = append(out, p.req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (g *Gate) discard(id string) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}
