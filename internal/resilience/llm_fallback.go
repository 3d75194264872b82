package resilience

import (
	"context"

	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/types"
)

// LLMFallback is an [llm.Provider] backed by a failover chain. When the
// configured conversation model stops answering mid-call, the next backend
// picks up the turn instead of leaving the senior waiting on a silent line.
type LLMFallback struct {
	chain *chain[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback wraps primary as the preferred backend. Further backends
// are registered with [LLMFallback.AddFallback] in order of preference.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{chain: newChain(primary, primaryName, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.chain.add(name, provider)
}

// Complete asks the first healthy backend for a completion.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return try(f.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a streaming completion against the first healthy
// backend. Failover covers the initial attempt only; once chunks are
// flowing, a broken stream surfaces to the caller.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return try(f.chain, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend's tokenizer.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return try(f.chain, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities. Static metadata does not
// fail over: prompt budgets are sized against the model we intend to use,
// not whichever backend happens to be up.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if len(f.chain.backends) > 0 {
		return f.chain.backends[0].impl.Capabilities()
	}
	return types.ModelCapabilities{}
}
