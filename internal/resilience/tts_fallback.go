package resilience

import (
	"context"

	"github.com/agewell-labs/donna/pkg/provider/tts"
	"github.com/agewell-labs/donna/pkg/types"
)

// TTSFallback is a [tts.Provider] backed by a failover chain. The fallback
// voice will not sound like Donna's usual one, but an unfamiliar voice
// finishing the sentence beats the line going quiet.
type TTSFallback struct {
	chain *chain[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback wraps primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{chain: newChain(primary, primaryName, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.chain.add(name, provider)
}

// SynthesizeStream opens a synthesis stream against the first healthy
// backend. Failover covers stream setup only.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	return try(f.chain, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices returns the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return try(f.chain, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// CloneVoice builds a voice profile on the first healthy backend.
func (f *TTSFallback) CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error) {
	return try(f.chain, func(p tts.Provider) (*types.VoiceProfile, error) {
		return p.CloneVoice(ctx, samples)
	})
}
