package approval

import (
	"context"

	"indiistudio/internal/logging"
)

// ChannelTransport publishes requests on a channel. The receiver resolves them
// through the Resolver delivered alongside each request.
type ChannelTransport struct {
	ch chan Envelope
}

// Envelope pairs a request with the resolver that accepts its decision.
type Envelope struct {
	Request  Request
	Resolver Resolver
}

// Resolve answers the enclosed request.
func (e Envelope) Resolve(d Decision) bool {
	return e.Resolver.Resolve(e.Request.ID, d)
}

// NewChannelTransport creates a transport with the given buffer size.
func NewChannelTransport(buffer int) *ChannelTransport {
	return &ChannelTransport{ch: make(chan Envelope, buffer)}
}

// Requests returns the channel of emitted requests.
func (t *ChannelTransport) Requests() <-chan Envelope { return t.ch }

// Emit implements Transport. It waits for buffer space until ctx ends.
func (t *ChannelTransport) Emit(ctx context.Context, req Request, r Resolver) error {
	select {
	case t.ch <- Envelope{Request: req, Resolver: r}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AutoTransport resolves requests by policy, without a human: requests with
// an estimated cost below Threshold are approved, the rest denied.
type AutoTransport struct {
	Threshold float64
}

// Emit implements Transport.
func (t AutoTransport) Emit(ctx context.Context, req Request, r Resolver) error {
	d := Deny
	if req.EstimatedCost < t.Threshold {
		d = Approve
	}
	logging.Approval("Auto-%s %s (cost=%.2f threshold=%.2f)", d, req.ToolName, req.EstimatedCost, t.Threshold)
	r.Resolve(req.ID, d)
	return nil
}
