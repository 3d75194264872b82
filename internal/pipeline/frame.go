package pipeline

import (
	"fmt"

	"github.com/agewell-labs/donna/pkg/types"
)

// Direction is the travel direction of a frame between adjacent processors.
type Direction int

const (
	// Downstream flows from the call input (telephony audio in) towards the
	// call output (telephony audio out).
	Downstream Direction = iota

	// Upstream flows from the output back towards the input. It carries
	// control signals such as the barge-in interrupt.
	Upstream
)

// String returns "downstream" or "upstream".
func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// Frame is the unit of exchange between processors. It is a sealed interface:
// only the frame types in this package implement it, so processors can switch
// exhaustively over the concrete types.
type Frame interface {
	frame()
}

// StartFrame opens a call pipeline. It is the first frame every processor
// sees and carries the telephony identifiers for the call.
type StartFrame struct {
	// CallSID is the provider's call identifier.
	CallSID string

	// StreamSID is the provider's media-stream identifier, needed to address
	// outbound media packets.
	StreamSID string
}

// EndFrame requests a graceful shutdown. Every processor flushes its buffered
// state when it observes the EndFrame; the task ends once the frame has
// walked the full chain. Processors must treat a repeated EndFrame as a
// no-op: the task re-delivers it from the head during draining so that
// processors upstream of the original injection point also flush.
type EndFrame struct {
	// Reason records why the call is ending ("goodbye", "hard_limit",
	// "provider_stop", "max_duration", ...). Informational; logged and kept
	// on the session for the post-call flow.
	Reason string
}

// CancelFrame aborts the pipeline immediately without draining. Used when the
// transport is already gone and flushing output would be pointless.
type CancelFrame struct{}

// InterruptFrame signals a barge-in: the user started speaking while the
// assistant was producing audio. It travels upstream from the speech
// recogniser; when it reaches the head of the chain the task re-emits it
// downstream so that every buffering processor (response generation, speech
// synthesis, the output transport) abandons its in-flight work.
type InterruptFrame struct{}

// AudioFrame carries a block of PCM audio.
type AudioFrame struct {
	Audio types.AudioFrame
}

// TranscriptionFrame carries recognised user speech.
type TranscriptionFrame struct {
	// Text is the transcribed speech.
	Text string

	// Final distinguishes an authoritative result from an interim guess.
	Final bool

	// Confidence is the recogniser's confidence (0–1, zero when unreported).
	Confidence float64
}

// TextFrame carries one assistant sentence on its way to speech synthesis.
type TextFrame struct {
	Text string
}

// MessagesFrame appends messages to the conversation the responder maintains.
// When RunLLM is set the responder starts a generation immediately after the
// append; otherwise the messages accumulate for the next turn.
type MessagesFrame struct {
	Messages []types.Message
	RunLLM   bool
}

// FunctionResultFrame carries the outcome of a tool invocation back into the
// conversation so the model can incorporate it.
type FunctionResultFrame struct {
	// Name is the tool that ran.
	Name string

	// CallID ties the result to the model's tool-call request.
	CallID string

	// Result is the JSON-encoded tool output.
	Result string
}

// ResponseStartFrame marks the beginning of an assistant response. Emitted by
// the responder before its first TextFrame.
type ResponseStartFrame struct{}

// ResponseEndFrame marks the end of an assistant response. Processors that
// accumulate per-response state (the session tracker, the output transport's
// mark bookkeeping) commit on this frame.
type ResponseEndFrame struct{}

func (StartFrame) frame()          {}
func (EndFrame) frame()            {}
func (CancelFrame) frame()         {}
func (InterruptFrame) frame()      {}
func (AudioFrame) frame()          {}
func (TranscriptionFrame) frame()  {}
func (TextFrame) frame()           {}
func (MessagesFrame) frame()       {}
func (FunctionResultFrame) frame() {}
func (ResponseStartFrame) frame()  {}
func (ResponseEndFrame) frame()    {}

// FrameName returns a short type name for logging.
func FrameName(f Frame) string {
	switch f.(type) {
	case StartFrame:
		return "start"
	case EndFrame:
		return "end"
	case CancelFrame:
		return "cancel"
	case InterruptFrame:
		return "interrupt"
	case AudioFrame:
		return "audio"
	case TranscriptionFrame:
		return "transcription"
	case TextFrame:
		return "text"
	case MessagesFrame:
		return "messages"
	case FunctionResultFrame:
		return "function_result"
	case ResponseStartFrame:
		return "response_start"
	case ResponseEndFrame:
		return "response_end"
	default:
		return fmt.Sprintf("%T", f)
	}
}
