// Package tts is the synthesis side of the voice pipeline. A Provider
// turns a stream of text fragments into a stream of raw PCM while the
// text is still being generated, so the first sentence of a reply can
// play before the LLM has written the last one.
//
// ElevenLabs is the primary backend. A local Coqui server stands in when
// ElevenLabs is unreachable, and the mock provider records what it was
// asked to say.
package tts

import (
	"context"

	"github.com/agewell-labs/donna/pkg/types"
)

// Provider is a speech synthesis backend. Implementations are safe for
// concurrent use; one Provider serves every active call at once.
type Provider interface {
	// SynthesizeStream speaks the fragments arriving on text in the
	// given voice. Audio comes back as raw PCM slices in text order, as
	// soon as each piece is synthesised.
	//
	// The audio channel closes when text closes and everything has been
	// spoken. It also closes early if ctx is cancelled, which is how
	// barge-in cuts the voice off, or if synthesis fails; ctx.Err()
	// tells the two apart. Only failure to start the stream is reported
	// as an error. The caller must drain the channel.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices fetches the backend's current voice catalogue, which
	// may differ from one call to the next.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// CloneVoice builds a new voice from recorded samples, each a
	// complete audio file in a format the backend accepts (WAV for the
	// implementations in this tree). Onboarding runs it once to capture
	// a familiar voice; it is far too slow for use inside a call.
	// Backends without cloning support and empty sample sets return an
	// error.
	CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error)
}
