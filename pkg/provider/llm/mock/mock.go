// Package mock is an in-memory llm.Provider for tests.
//
// Responses are configured through fields before use; calls are recorded so
// tests can assert on the requests callers built. The zero value is usable:
// every method returns its zero result and no error.
package mock

import (
	"context"
	"sync"

	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// StreamCall is one recorded StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider implements llm.Provider with canned responses.
//
// Configure the response fields before handing the Provider to the code
// under test; read the recording fields after that code has returned.
// Concurrent method calls are safe, concurrent reconfiguration is not.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order on the channel returned by
	// StreamCompletion, which is then closed.
	StreamChunks []llm.Chunk

	// StreamErr, when set, makes StreamCompletion fail without opening a
	// channel.
	StreamErr error

	// CompleteFn, when set, handles Complete calls instead of
	// CompleteResponse and CompleteErr. Use it for sequenced replies or to
	// block and simulate a slow model.
	CompleteFn func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteResponse and CompleteErr are returned by Complete when
	// CompleteFn is nil.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount and CountTokensErr are returned by CountTokens.
	TokenCount     int
	CountTokensErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities types.ModelCapabilities

	// StreamCalls records StreamCompletion invocations in order, including
	// ones that failed with StreamErr.
	StreamCalls []StreamCall

	// CompleteCalls records Complete invocations in order.
	CompleteCalls []CompleteCall

	// CountTokensCount is the number of CountTokens invocations.
	CountTokensCount int
}

// StreamCompletion records the call, then either fails with StreamErr or
// returns an already filled and closed channel carrying StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	// Buffered to exactly the chunk count, so no feeding goroutine is
	// needed and nothing leaks when the consumer stops early.
	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// Complete records the call and replies from CompleteFn when set, otherwise
// from CompleteResponse and CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFn, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CountTokens returns TokenCount and CountTokensErr.
func (p *Provider) CountTokens(_ []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCount++
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}
