// Package stt is the recognition side of the voice pipeline. A Provider
// opens streaming sessions that take raw caller audio and hand back two
// transcript feeds: fast provisional guesses for spotting interruptions,
// and settled finals for everything that acts on what was said.
//
// Deepgram is the primary backend. A whisper.cpp server or in-process
// model covers deployments that keep caller audio on their own hardware,
// at the price of real partials. The mock provider scripts transcripts
// for tests.
package stt

import (
	"context"

	"github.com/agewell-labs/donna/pkg/types"
)

// Audio encodings a session can be opened with.
const (
	// EncodingLinear16 is 16-bit little-endian signed PCM.
	EncodingLinear16 = "linear16"

	// EncodingMulaw is 8-bit G.711 μ-law, the format Twilio media
	// streams deliver.
	EncodingMulaw = "mulaw"
)

// StreamConfig fixes the audio format and recognition behaviour for one
// session. Zero values defer to provider defaults where one exists; each
// provider documents what it supports.
type StreamConfig struct {
	// SampleRate in Hz. Calls come in at 8000.
	SampleRate int

	// Channels in the audio. Telephony audio is mono.
	Channels int

	// Encoding of the audio bytes, EncodingLinear16 or EncodingMulaw.
	// Empty means linear16.
	Encoding string

	// Language tag for recognition, e.g. "en-US". Empty lets providers
	// that can auto-detect do so.
	Language string

	// EndpointingMs is how much trailing silence settles a final. Zero
	// keeps the provider default.
	EndpointingMs int

	// UtteranceEndMs is the gap after which the caller's turn counts as
	// over, surfaced as a transcript with UtteranceEnd set. Zero turns
	// the events off.
	UtteranceEndMs int

	// InterimResults turns on the Partials feed. Without it a session
	// cannot drive barge-in.
	InterimResults bool

	// Keywords biases recognition toward words the caller is likely to
	// say but the model is likely to miss, medication and family names
	// above all. See types.KeywordBoost.
	Keywords []types.KeywordBoost
}

// SessionHandle is one live transcription stream. Sessions hold network
// connections and goroutines, so every opened session must be closed.
// All methods may be called concurrently.
type SessionHandle interface {
	// SendAudio hands the provider one chunk of audio in the format the
	// session was opened with. It fails once the session is closed.
	SendAudio(chunk []byte) error

	// Partials emits provisional transcripts that may still be revised.
	// They exist to notice the caller interrupting and never reach the
	// conversation log. Closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals emits transcripts the provider has committed to. These are
	// what the call log stores and the LLM sees. Closed when the
	// session ends.
	Finals() <-chan types.Transcript

	// SetKeywords swaps the active keyword bias mid-session. Providers
	// without live vocabulary updates return an error, and audio
	// already in flight may still be recognised against the old list.
	SetKeywords(keywords []types.KeywordBoost) error

	// Close tears the session down, flushing whatever audio is still
	// buffered. The transcript channels close before Close returns.
	// Closing twice is safe.
	Close() error
}

// Provider is a speech-to-text backend. One Provider serves the whole
// process; each active call opens its own session.
type Provider interface {
	// StartStream opens a transcription session configured by cfg. The
	// session accepts audio immediately. It returns an error when the
	// backend rejects the configuration or cannot be reached, or when
	// ctx is already cancelled. The caller owns the handle and must
	// close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
