// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the histories that the gateway sends
// and to feed controlled replies without a live backend.
//
// Example:
//
//	p := &mock.Provider{Reply: "ok"}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/kurozu/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is a copy of the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Reply is returned as the reply content when Err is nil and Replies is
	// exhausted.
	Reply string

	// Replies, when non-empty, are returned one per call in order before
	// falling back to Reply.
	Replies []string

	// Err, if non-nil, is returned from Complete.
	Err error

	// Gate, if non-nil, makes Complete block until a value is received or the
	// channel is closed (or ctx is done). Use it to hold a request in flight.
	Gate chan struct{}

	// Calls records every invocation of Complete in order.
	Calls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the configured reply or error.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	req.Messages = slices.Clone(req.Messages)

	p.mu.Lock()
	p.Calls = append(p.Calls, CompleteCall{Ctx: ctx, Req: req})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	reply := p.Reply
	if len(p.Replies) > 0 {
		reply = p.Replies[0]
		p.Replies = p.Replies[1:]
	}
	return &llm.CompletionResponse{Content: reply}, nil
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the most recent request, or the zero value if Complete
// was never called.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.CompletionRequest{}
	}
	return p.Calls[len(p.Calls)-1].Req
}
