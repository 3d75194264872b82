// Package openai implements llm.Provider on top of the official OpenAI Go
// SDK. It is the default reply backend; the same Provider type also serves
// director guidance and post-call summary completions when those are
// configured onto OpenAI models.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider talks to the OpenAI chat completions API with a fixed model.
type Provider struct {
	client oai.Client
	model  string
}

// settings accumulates SDK request options during construction.
type settings struct {
	reqOpts []option.RequestOption
}

// Option configures a Provider.
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible endpoint, such as
// an Azure deployment or a local proxy.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		if url != "" {
			s.reqOpts = append(s.reqOpts, option.WithBaseURL(url))
		}
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(s *settings) {
		if org != "" {
			s.reqOpts = append(s.reqOpts, option.WithOrganization(org))
		}
	}
}

// WithTimeout bounds each request. Streaming completions hold the
// connection open for the whole generation, so this should be generous
// when set at all.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.reqOpts = append(s.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// New builds a Provider for the given model.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	s := &settings{reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(s)
	}

	return &Provider{client: oai.NewClient(s.reqOpts...), model: model}, nil
}

// toolCallBuffer reassembles tool calls from stream deltas. OpenAI splits a
// single call's JSON arguments over many chunks, addressed by index.
type toolCallBuffer struct {
	calls []types.ToolCall
}

func (b *toolCallBuffer) absorb(idx int, id, name, args string) {
	for len(b.calls) <= idx {
		b.calls = append(b.calls, types.ToolCall{})
	}
	call := &b.calls[idx]
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	call.Arguments += args
}

// StreamCompletion implements llm.Provider. Text deltas are forwarded as
// they arrive; tool calls are buffered until complete and attached to the
// chunk that carries the finish reason.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.requestParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		emit := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var buf toolCallBuffer
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			for _, tc := range choice.Delta.ToolCalls {
				buf.absorb(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
			}

			out := llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}
			if choice.FinishReason != "" {
				out.ToolCalls = buf.calls
			}
			if !emit(out) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			emit(llm.Chunk{FinishReason: "error", Text: err.Error()})
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.requestParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}
	msg := resp.Choices[0].Message

	var calls []types.ToolCall
	for _, tc := range msg.ToolCalls {
		calls = append(calls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return &llm.CompletionResponse{
		Content:   msg.Content,
		ToolCalls: calls,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Per-message framing overhead in tokens (role markers and separators),
// the commonly measured figure for GPT-series chat models.
const tokensPerMessage = 4

// CountTokens implements llm.Provider. It approximates rather than calling
// a tokenizer; the context assembler only needs a budget figure, and
// four characters per token is close enough for English prose.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + tokensPerMessage
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// capsByPrefix maps model name prefixes to published limits. Scan order
// matters: a family's specific variants must precede the generic prefix
// ("gpt-4o-mini" before "gpt-4o" before "gpt-4").
var capsByPrefix = []struct {
	prefix  string
	window  int
	maxOut  int
	noTools bool
}{
	{prefix: "gpt-4o-mini", window: 128_000, maxOut: 16_384},
	{prefix: "gpt-4o", window: 128_000, maxOut: 16_384},
	{prefix: "gpt-4.1", window: 1_047_576, maxOut: 32_768},
	{prefix: "gpt-4-turbo", window: 128_000, maxOut: 4_096},
	{prefix: "gpt-4", window: 8_192, maxOut: 4_096},
	{prefix: "gpt-3.5-turbo", window: 16_385, maxOut: 4_096},
	{prefix: "o1-mini", window: 128_000, maxOut: 65_536, noTools: true},
	{prefix: "o1", window: 200_000, maxOut: 100_000},
	{prefix: "o3-mini", window: 200_000, maxOut: 100_000},
	{prefix: "o3", window: 200_000, maxOut: 100_000},
}

func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}

	lower := strings.ToLower(model)
	for _, e := range capsByPrefix {
		if strings.HasPrefix(lower, e.prefix) {
			caps.ContextWindow = e.window
			caps.MaxOutputTokens = e.maxOut
			caps.SupportsToolCalling = !e.noTools
			break
		}
	}
	return caps
}

// requestParams converts a CompletionRequest into SDK params.
func (p *Provider) requestParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := messageParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}

	return params, nil
}

// messageParam converts one conversation message to its SDK form.
func messageParam(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "assistant":
		return assistantParam(m), nil
	case "tool":
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}

// assistantParam carries content, the optional participant name, and any
// tool calls the assistant made in that turn.
func assistantParam(m types.Message) oai.ChatCompletionMessageParamUnion {
	asst := oai.ChatCompletionAssistantMessageParam{}
	if m.Content != "" {
		asst.Content.OfString = oai.String(m.Content)
	}
	if m.Name != "" {
		asst.Name = oai.String(m.Name)
	}
	for _, tc := range m.ToolCalls {
		asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: oai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}
