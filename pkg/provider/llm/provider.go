// Package llm is the language-model seam of the pipeline.
//
// A Provider wraps one model API (hosted OpenAI, an any-llm backend, a local
// Ollama instance) behind a uniform surface so the conversation responder and
// the director can complete, stream, and budget tokens without knowing which
// SDK sits underneath.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/agewell-labs/donna/pkg/types"
)

// Usage is the token accounting reported by the backend for one exchange.
// Counts are in the model's native token unit and differ between providers
// for the same text.
type Usage struct {
	// PromptTokens covers the input messages and system prompt. It drives
	// billing and the context-window budget check.
	PromptTokens int

	// CompletionTokens is the size of the generated reply.
	CompletionTokens int

	// TotalTokens is the sum of the other two. Some backends report it
	// directly rather than leaving the caller to add.
	TotalTokens int
}

// CompletionRequest carries everything one completion needs. Messages must
// be non-empty; the zero value is not a valid request.
type CompletionRequest struct {
	// Messages is the conversation so far, oldest first. The reply is driven
	// by the trailing message, normally a "user" turn.
	Messages []types.Message

	// Tools the model may call. Backends without tool calling ignore or
	// reject these; callers should check Capabilities().SupportsToolCalling
	// before offering any.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0]. Zero keeps the
	// backend's own default rather than forcing greedy decoding.
	Temperature float64

	// MaxTokens caps the reply length. Zero means the provider default,
	// usually the model's MaxOutputTokens.
	MaxTokens int

	// SystemPrompt is injected ahead of Messages using whatever mechanism
	// the backend prefers: a "system" role message, a dedicated request
	// field, or similar.
	SystemPrompt string
}

// Chunk is one streaming increment. A chunk may carry text, tool calls, a
// finish signal, or several of these at once.
type Chunk struct {
	// Text is the incremental reply text. May be empty on chunks that only
	// carry a finish signal or tool calls.
	Text string

	// FinishReason is non-empty only on the final chunk: "stop" for a
	// natural end, "length" when MaxTokens cut generation short,
	// "tool_calls" when the model wants tools run, and "error" when the
	// stream died after it had started.
	FinishReason string

	// ToolCalls requested by the model, delivered fully assembled on the
	// chunk that carries the finish reason.
	ToolCalls []types.ToolCall
}

// CompletionResponse is the non-streaming result.
type CompletionResponse struct {
	// Content is the assistant's reply text. Empty when the model answered
	// with tool calls alone.
	Content string

	// ToolCalls the model wants run. The caller executes them and appends
	// the results to the conversation before asking for the next turn.
	ToolCalls []types.ToolCall

	// Usage is the token accounting for this exchange.
	Usage Usage
}

// Provider is one language-model backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and honour context cancellation promptly on every call.
type Provider interface {
	// StreamCompletion sends req and returns a channel emitting Chunks as
	// the model generates. The implementation closes the channel when
	// generation finishes or ctx is cancelled; callers must drain it to
	// avoid leaking the feeding goroutine.
	//
	// A non-nil error is returned only when the stream never starts (bad
	// credentials, malformed request). Failures after that arrive in-band
	// as a Chunk with FinishReason "error". The channel is never nil when
	// the error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the whole reply. The director uses
	// this for guidance calls and the post-call pipeline for summaries; the
	// live turn loop streams instead, so speech synthesis can start before
	// the reply is finished.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how much of the context window the given
	// messages would consume, for budget checks before sending. Estimates
	// may be rough but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities reports static model metadata, assumed constant for the
	// lifetime of the Provider.
	Capabilities() types.ModelCapabilities
}
