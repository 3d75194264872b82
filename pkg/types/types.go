// Package types defines the shared types used across all Donna packages.
//
// These types form the lingua franca between providers, the call pipeline,
// memory layers, and the schedulers. They are intentionally minimal; each
// package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

import "time"

// AudioFrame is one frame of audio moving through the pipeline: decoded from
// the telephony stream, fed to STT, produced by TTS, and re-encoded for the
// caller.
type AudioFrame struct {
	// Data holds 16-bit little-endian signed PCM samples.
	Data []byte

	// SampleRate in Hz: 8000 on the phone leg, 24000 out of TTS.
	SampleRate int

	// Channels is 1 for telephony audio.
	Channels int

	// Timestamp is the capture time relative to stream start.
	Timestamp time.Duration
}

// Transcript is a speech-to-text result. Partial (interim) and final results
// share this shape.
type Transcript struct {
	// Text is what was heard.
	Text string

	// IsFinal separates authoritative results from interim ones.
	IsFinal bool

	// Confidence is the provider's overall score in [0,1], zero when the
	// provider does not report one.
	Confidence float64

	// Words carries per-word detail when the provider supplies it
	// (Deepgram does); nil otherwise.
	Words []WordDetail

	// SpeechFinal indicates the provider's endpointing detected the end of a
	// speech segment. Only meaningful when IsFinal is true.
	SpeechFinal bool

	// UtteranceEnd marks a synthetic turn-completion signal emitted after a
	// prolonged gap. Carries no text; used to flush a pending turn whose last
	// result lacked SpeechFinal.
	UtteranceEnd bool

	// Timestamp is the utterance start relative to session start.
	Timestamp time.Duration

	// Duration is how long the utterance ran.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// TranscriptEntry is a single conversation turn recorded in the call history.
// The session keeps a bounded ring of these; the post-call flow persists them.
type TranscriptEntry struct {
	// Role is "user" for the senior or "assistant" for Donna.
	Role string

	// Text is the spoken content of the turn.
	Text string

	// Timestamp is when this entry was recorded.
	Timestamp time.Time
}

// Message is a single entry in an LLM conversation history.
type Message struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string

	// Content is the message text.
	Content string

	// Name optionally identifies the participant.
	Name string

	// ToolCalls holds tool invocations the assistant asked for.
	ToolCalls []ToolCall

	// ToolCallID links a "tool" role message back to the call it answers.
	ToolCallID string
}

// ToolCall is a tool invocation requested by the LLM. Arguments arrive as
// the raw JSON string the model produced; ID is assigned by the provider.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description tells the model what the tool does.
	Description string

	// Parameters is the JSON Schema for the tool's input.
	Parameters map[string]any

	// EstimatedDurationMs is the declared p50 latency.
	EstimatedDurationMs int

	// MaxDurationMs is the declared p99 upper bound, used as a hard timeout.
	MaxDurationMs int

	// Idempotent marks the tool safe to retry.
	Idempotent bool
}

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the TTS service the voice belongs to.
	Provider string

	// Stability adjusts synthesis consistency (0.0–1.0, provider-specific).
	Stability float64

	// SimilarityBoost adjusts voice similarity (0.0–1.0, provider-specific).
	SimilarityBoost float64

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling.
	SupportsToolCalling bool

	// SupportsStreaming indicates streaming completions.
	SupportsStreaming bool
}

// KeywordBoost is a keyword to boost in STT recognition. Used to improve
// recognition of proper nouns from the senior's profile: family names,
// medication names, place names.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Metoprolol").
	Keyword string

	// Boost is the intensity on the provider's own scale.
	Boost float64
}
