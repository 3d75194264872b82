// Package mock provides an in-memory test double for the embeddings
// Provider interface.
//
// The zero value is usable: Embed hands back EmbedResult (nil by default)
// and records what it was asked to embed.
//
//	p := &mock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}}
//	vec, _ := p.Embed(ctx, "grandson Tommy lives in Denver")
package mock

import (
	"context"
	"sync"

	"github.com/agewell-labs/donna/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall is one recorded Embed invocation.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// Provider implements embeddings.Provider with canned responses. Configure
// the exported fields before use; they must not change while calls are in
// flight.
type Provider struct {
	// EmbedResult is returned by Embed, and once per input text by
	// EmbedBatch.
	EmbedResult []float32

	// EmbedErr, when non-nil, makes Embed and EmbedBatch fail.
	EmbedErr error

	// Dim overrides Dimensions. Zero falls back to len(EmbedResult).
	Dim int

	// Model overrides ModelID. Empty falls back to "mock-embed".
	Model string

	mu    sync.Mutex
	calls []EmbedCall
}

// Embed records the call and returns the canned vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, EmbedCall{Ctx: ctx, Text: text})
	return p.EmbedResult, p.EmbedErr
}

// EmbedBatch returns one EmbedResult per input text. Each text is recorded
// as its own call so assertions need only one bookkeeping path.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		p.calls = append(p.calls, EmbedCall{Ctx: ctx, Text: text})
		out[i] = p.EmbedResult
	}
	return out, nil
}

// Dimensions reports Dim, falling back to the length of EmbedResult.
func (p *Provider) Dimensions() int {
	if p.Dim != 0 {
		return p.Dim
	}
	return len(p.EmbedResult)
}

// ModelID reports Model, falling back to a fixed test name.
func (p *Provider) ModelID() string {
	if p.Model != "" {
		return p.Model
	}
	return "mock-embed"
}

// Calls returns a copy of every recorded embedding request, in order.
func (p *Provider) Calls() []EmbedCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EmbedCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset discards recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
