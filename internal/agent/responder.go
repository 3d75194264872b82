// Package agent implements the conversational responder: the pipeline
// processor that turns the senior's transcripts and the observers' injected
// context into Donna's spoken reply.
//
// The responder is the generation hotspot of the call. Guidance arrives as
// [pipeline.MessagesFrame] appends and accumulates; a final transcript (or
// an append with RunLLM set, used for the opening greeting) starts a
// background streaming completion. Sentences are cut from the token stream
// as they complete and injected downstream, so synthesis starts on the
// first sentence while the model is still writing the rest.
//
// Only one generation runs at a time. A barge-in or a newer turn invalidates
// the in-flight stream through a generation counter: stale streams stop
// emitting mid-sentence and never send their response-end marker.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agewell-labs/donna/internal/callsession"
	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/types"
)

// DefaultTemperature is the sampling temperature for conversation.
const DefaultTemperature = 0.7

// defaultAcknowledgment is spoken when the model fails outright. Silence on
// a phone call reads as a dropped line, so the turn always says something.
const defaultAcknowledgment = "I'm sorry, I lost my train of thought for a moment. What were you saying?"

// finishAborted is the internal relay outcome for a stream invalidated by
// barge-in or a newer turn.
const finishAborted = "aborted"

// ToolExecutor runs model-requested tools. Implementations own their own
// per-tool timeouts.
type ToolExecutor interface {
	// Definitions lists the tools offered to the model.
	Definitions() []types.ToolDefinition

	// Execute runs one tool and returns its JSON-encoded result.
	Execute(ctx context.Context, name, args string) (string, error)
}

// Config holds the dependencies for a [Responder]. Session, Provider and
// SystemPrompt are required; a nil Tools means no tool calling.
type Config struct {
	// Session is the call's shared state. The responder reads the transcript
	// ring and the per-turn token budget from it.
	Session *callsession.Session

	// Provider is the conversation model, typically wrapped in a fallback
	// chain so a primary outage degrades instead of silencing the call.
	Provider llm.Provider

	// SystemPrompt is the assembled persona and call context. It is fixed
	// for the lifetime of the call; per-turn steering arrives as message
	// appends instead.
	SystemPrompt string

	// Tools optionally enables tool calling.
	Tools ToolExecutor

	// Temperature overrides [DefaultTemperature] when > 0.
	Temperature float64

	// DefaultLine overrides the spoken fallback for total model failure.
	DefaultLine string
}

// Responder is the pipeline processor generating Donna's replies.
//
// pending and cancelGen are touched only by the dispatch goroutine; the
// generation counter is the one point of contact with the streaming
// goroutine.
type Responder struct {
	session      *callsession.Session
	provider     llm.Provider
	tools        ToolExecutor
	systemPrompt string
	temperature  float64
	defaultLine  string

	handle *pipeline.Handle

	pending   []types.Message
	cancelGen context.CancelFunc

	gen atomic.Int64
	wg  sync.WaitGroup
}

var (
	_ pipeline.Processor = (*Responder)(nil)
	_ pipeline.Bindable  = (*Responder)(nil)
)

// NewResponder validates cfg and builds the processor.
//
// Errors are prefixed with "agent: ".
func NewResponder(cfg Config) (*Responder, error) {
	if cfg.Session == nil {
		return nil, errors.New("agent: Session must not be nil")
	}
	if cfg.Provider == nil {
		return nil, errors.New("agent: Provider must not be nil")
	}
	if cfg.SystemPrompt == "" {
		return nil, errors.New("agent: SystemPrompt must not be empty")
	}
	r := &Responder{
		session:      cfg.Session,
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		defaultLine:  cfg.DefaultLine,
	}
	if r.temperature <= 0 {
		r.temperature = DefaultTemperature
	}
	if r.defaultLine == "" {
		r.defaultLine = defaultAcknowledgment
	}
	return r, nil
}

// Name implements [pipeline.Processor].
func (r *Responder) Name() string { return "responder" }

// Bind implements [pipeline.Bindable].
func (r *Responder) Bind(h *pipeline.Handle) { r.handle = h }

// Wait blocks until in-flight generation goroutines have finished. Useful
// in tests to synchronise before inspecting emitted frames.
func (r *Responder) Wait() { r.wg.Wait() }

// Process implements [pipeline.Processor].
func (r *Responder) Process(ctx context.Context, frame pipeline.Frame, dir pipeline.Direction, out *pipeline.Emitter) error {
	switch f := frame.(type) {
	case pipeline.MessagesFrame:
		if dir != pipeline.Downstream {
			out.Forward(frame, dir)
			return nil
		}
		// The append protocol terminates here; nothing downstream reads it.
		r.pending = append(r.pending, f.Messages...)
		if f.RunLLM {
			r.startGeneration(ctx)
		}
		return nil

	case pipeline.TranscriptionFrame:
		if dir == pipeline.Downstream && f.Final {
			// Forward first: the walk reaches the tracker and records the
			// turn before the request snapshot below reads the transcript.
			out.Downstream(f)
			r.startGeneration(ctx)
			return nil
		}

	case pipeline.InterruptFrame:
		r.abort()

	case pipeline.CancelFrame:
		r.abort()
	}
	out.Forward(frame, dir)
	return nil
}

// abort invalidates any in-flight generation. Safe to call when none is
// running.
func (r *Responder) abort() {
	if r.cancelGen != nil {
		r.cancelGen()
		r.cancelGen = nil
	}
	r.gen.Add(1)
}

// startGeneration snapshots the conversation and launches one streaming
// completion. A generation already in flight is superseded: the newest turn
// owns the reply.
func (r *Responder) startGeneration(ctx context.Context) {
	r.abort()
	myGen := r.gen.Load()

	req := llm.CompletionRequest{
		SystemPrompt: r.systemPrompt,
		Messages:     r.trimToWindow(r.buildMessages()),
		Temperature:  r.temperature,
		MaxTokens:    r.session.TurnTokenBudget(),
	}
	if r.tools != nil {
		req.Tools = r.tools.Definitions()
	}

	gctx, cancel := context.WithCancel(ctx)
	r.cancelGen = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.generate(gctx, myGen, req)
	}()
}

// buildMessages renders the transcript ring as conversation messages and
// splices the pending guidance appends in, immediately ahead of the latest
// user turn so the model reads the instruction before the utterance it
// shapes.
func (r *Responder) buildMessages() []types.Message {
	transcript := r.session.Transcript()
	msgs := make([]types.Message, 0, len(transcript)+len(r.pending))
	for _, turn := range transcript {
		msgs = append(msgs, types.Message{Role: turn.Role, Content: turn.Text})
	}
	if len(r.pending) > 0 {
		if n := len(msgs); n > 0 && msgs[n-1].Role == "user" {
			tail := msgs[n-1]
			msgs = append(msgs[:n-1], r.pending...)
			msgs = append(msgs, tail)
		} else {
			msgs = append(msgs, r.pending...)
		}
		r.pending = nil
	}
	return msgs
}

// trimToWindow drops the oldest turns while the estimated prompt exceeds
// three quarters of the model's context window. The estimate is advisory;
// counting errors skip the trim.
func (r *Responder) trimToWindow(msgs []types.Message) []types.Message {
	window := r.provider.Capabilities().ContextWindow
	if window <= 0 {
		return msgs
	}
	limit := window * 3 / 4
	for len(msgs) > 4 {
		n, err := r.provider.CountTokens(msgs)
		if err != nil || n <= limit {
			break
		}
		msgs = msgs[1:]
	}
	return msgs
}

// generate runs one completion, relaying sentences downstream as they
// complete. A "tool_calls" finish executes the requested tools and re-runs
// the completion once with their results appended.
func (r *Responder) generate(ctx context.Context, gen int64, req llm.CompletionRequest) {
	started, spoke := false, false
	emit := func(text string) bool {
		if r.gen.Load() != gen || ctx.Err() != nil {
			return false
		}
		if !started {
			started = true
			r.handle.InjectDownstream(pipeline.ResponseStartFrame{})
		}
		r.handle.InjectDownstream(pipeline.TextFrame{Text: text})
		spoke = true
		return true
	}

	for pass := 0; ; pass++ {
		ch, err := r.provider.StreamCompletion(ctx, req)
		if err != nil {
			slog.Warn("responder stream failed",
				"call_sid", r.session.CallSID(), "err", err)
			emit(r.defaultLine)
			break
		}
		text, calls, finish := r.relay(ctx, gen, ch, emit)
		if finish == finishAborted {
			// No response-end marker: the interrupt already told downstream
			// processors to discard the partial response.
			return
		}
		if finish == "tool_calls" && pass == 0 && r.tools != nil && len(calls) > 0 {
			req.Messages = r.toolRound(ctx, req.Messages, text, calls)
			continue
		}
		if finish == "error" {
			slog.Warn("responder stream errored mid-response",
				"call_sid", r.session.CallSID())
		}
		if !spoke {
			emit(r.defaultLine)
		}
		break
	}

	if r.gen.Load() != gen || ctx.Err() != nil {
		return
	}
	if started {
		r.handle.InjectDownstream(pipeline.ResponseEndFrame{})
	}
}

// relay cuts complete sentences out of the token stream and emits them. It
// returns the full accumulated text, any tool calls the model requested,
// and the stream's finish reason ([finishAborted] when invalidated).
func (r *Responder) relay(ctx context.Context, gen int64, ch <-chan llm.Chunk, emit func(string) bool) (string, []types.ToolCall, string) {
	var full, buf strings.Builder
	var calls []types.ToolCall

	flush := func() bool {
		for {
			s := buf.String()
			idx := firstSentenceBoundary(s)
			if idx < 0 {
				return true
			}
			if !emit(s[:idx+1]) {
				return false
			}
			buf.Reset()
			buf.WriteString(strings.TrimLeft(s[idx+1:], " \t\n\r"))
		}
	}

	for {
		select {
		case <-ctx.Done():
			go drainChunks(ch)
			return full.String(), calls, finishAborted

		case chunk, ok := <-ch:
			if !ok {
				if rest := strings.TrimSpace(buf.String()); rest != "" && !emit(rest) {
					return full.String(), calls, finishAborted
				}
				return full.String(), calls, ""
			}
			if chunk.Text != "" {
				full.WriteString(chunk.Text)
				buf.WriteString(chunk.Text)
				if !flush() {
					go drainChunks(ch)
					return full.String(), calls, finishAborted
				}
			}
			if len(chunk.ToolCalls) > 0 {
				calls = append(calls, chunk.ToolCalls...)
			}
			if chunk.FinishReason != "" {
				// A partial sentence ahead of a tool round is preamble for
				// the model, not speech.
				if rest := strings.TrimSpace(buf.String()); rest != "" && chunk.FinishReason != "tool_calls" {
					if !emit(rest) {
						go drainChunks(ch)
						return full.String(), calls, finishAborted
					}
				}
				go drainChunks(ch)
				return full.String(), calls, chunk.FinishReason
			}
		}
	}
}

// toolRound executes the requested tools, announces each result downstream,
// and returns the message list extended with the assistant's request and
// the tool replies for the follow-up completion.
func (r *Responder) toolRound(ctx context.Context, msgs []types.Message, text string, calls []types.ToolCall) []types.Message {
	msgs = append(msgs, types.Message{Role: "assistant", Content: text, ToolCalls: calls})
	for _, c := range calls {
		result, err := r.tools.Execute(ctx, c.Name, c.Arguments)
		if err != nil {
			slog.Warn("tool execution failed",
				"call_sid", r.session.CallSID(), "tool", c.Name, "err", err)
			result = `{"error":"tool unavailable"}`
		}
		r.handle.InjectDownstream(pipeline.FunctionResultFrame{Name: c.Name, CallID: c.ID, Result: result})
		msgs = append(msgs, types.Message{Role: "tool", Content: result, ToolCallID: c.ID})
	}
	return msgs
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// immediately followed by whitespace, or -1.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// drainChunks discards the rest of a stream so the provider's goroutine
// never blocks on an abandoned channel.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
