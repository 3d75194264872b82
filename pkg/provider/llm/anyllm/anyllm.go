// Package anyllm routes llm.Provider calls through
// github.com/mozilla-ai/any-llm-go, which speaks to OpenAI, Anthropic,
// Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp, and llamafile behind
// one interface. Deployments pick the backend by name in configuration:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.New("ollama", "llama3")
//
// Backends that need credentials read their usual environment variable
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, and so on) when no key option is given.
package anyllm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider adapts an any-llm backend to llm.Provider.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// backends maps the provider names accepted in configuration onto their
// any-llm constructors.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// BackendNames lists the provider names New accepts, sorted.
func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a Provider for the named backend and model.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	factory, ok := backends[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q (supported: %s)",
			providerName, strings.Join(BackendNames(), ", "))
	}
	backend, err := factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// StreamCompletion implements llm.Provider. Tool call fragments are
// reassembled across deltas and attached to the finishing chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chunks, errs := p.backend.CompletionStream(ctx, p.completionParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		var calls []types.ToolCall
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			// any-llm deltas carry no per-call index; fragment order
			// within a chunk is the call's position.
			for i, tc := range choice.Delta.ToolCalls {
				for len(calls) <= i {
					calls = append(calls, types.ToolCall{})
				}
				call := &calls[i]
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" {
				out.ToolCalls = calls
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// The error channel resolves only after the chunk channel closes.
		if err := <-errs; err != nil {
			fail := llm.Chunk{FinishReason: "error", Text: err.Error()}
			select {
			case ch <- fail:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.completionParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	msg := resp.Choices[0].Message

	result := &llm.CompletionResponse{Content: msg.ContentString()}
	for _, tc := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if u := resp.Usage; u != nil {
		result.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return result, nil
}

// CountTokens implements llm.Provider. Four characters per token plus a
// few tokens of per-message framing approximates every backend well enough
// for context budgeting; an exact count would need one tokenizer per
// backend family.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// completionParams converts a CompletionRequest into any-llm params.
func (p *Provider) completionParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, messageParam(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		fn := anyllmlib.Function{
			Name:        td.Name,
			Description: td.Description,
			Parameters:  td.Parameters,
		}
		params.Tools = append(params.Tools, anyllmlib.Tool{Type: "function", Function: fn})
	}

	return params
}

// messageParam converts one conversation message to its any-llm form.
func messageParam(m types.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		call := anyllmlib.FunctionCall{Name: tc.Name, Arguments: tc.Arguments}
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{ID: tc.ID, Type: "function", Function: call})
	}
	return msg
}

// modelLimits maps model name patterns across the OpenAI, Anthropic, and
// Gemini families onto published limits. Scan order matters: specific
// variants precede their generic family pattern. Claude and Gemini entries
// match anywhere in the name because gateways often prepend a vendor
// segment ("anthropic/claude-...").
var modelLimits = []struct {
	pattern  string
	anywhere bool
	window   int
	maxOut   int
	noTools  bool
}{
	{pattern: "gpt-4o-mini", window: 128_000, maxOut: 16_384},
	{pattern: "gpt-4o", window: 128_000, maxOut: 16_384},
	{pattern: "gpt-4-turbo", window: 128_000, maxOut: 4_096},
	{pattern: "gpt-4", window: 8_192, maxOut: 4_096},
	{pattern: "gpt-3.5-turbo", window: 16_385, maxOut: 4_096},
	{pattern: "o1-mini", window: 128_000, maxOut: 65_536, noTools: true},
	{pattern: "o1", window: 200_000, maxOut: 100_000},
	{pattern: "o3-mini", window: 200_000, maxOut: 100_000},
	{pattern: "o3", window: 200_000, maxOut: 100_000},
	{pattern: "claude-3-5-sonnet", anywhere: true, window: 200_000, maxOut: 8_192},
	{pattern: "claude-3-sonnet", anywhere: true, window: 200_000, maxOut: 8_192},
	{pattern: "claude-3-5-haiku", anywhere: true, window: 200_000, maxOut: 8_192},
	{pattern: "claude-3-haiku", anywhere: true, window: 200_000, maxOut: 8_192},
	{pattern: "claude-3-opus", anywhere: true, window: 200_000, maxOut: 4_096},
	{pattern: "claude", anywhere: true, window: 200_000, maxOut: 8_192},
	{pattern: "gemini-2.0-flash", anywhere: true, window: 1_048_576, maxOut: 8_192},
	{pattern: "gemini-1.5-pro", anywhere: true, window: 2_097_152, maxOut: 8_192},
	{pattern: "gemini-1.5-flash", anywhere: true, window: 1_048_576, maxOut: 8_192},
	{pattern: "gemini", anywhere: true, window: 128_000, maxOut: 8_192},
}

func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}

	lower := strings.ToLower(model)
	for _, e := range modelLimits {
		matched := strings.HasPrefix(lower, e.pattern)
		if e.anywhere {
			matched = strings.Contains(lower, e.pattern)
		}
		if matched {
			caps.ContextWindow = e.window
			caps.MaxOutputTokens = e.maxOut
			caps.SupportsToolCalling = !e.noTools
			break
		}
	}
	return caps
}
