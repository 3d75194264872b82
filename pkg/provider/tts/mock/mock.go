// Package mock is a scriptable stand-in for a synthesis backend.
//
// Tests preload the audio a "voice" should produce and inspect what text
// and voice profile reached it:
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{pcm}}
//	audio, _ := p.SynthesizeStream(ctx, text, types.VoiceProfile{ID: "donna-warm"})
package mock

import (
	"context"
	"sync"

	"github.com/agewell-labs/donna/pkg/provider/tts"
	"github.com/agewell-labs/donna/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStreamCall captures one SynthesizeStream invocation.
type SynthesizeStreamCall struct {
	Ctx   context.Context
	Text  <-chan string
	Voice types.VoiceProfile
}

// Provider implements tts.Provider with canned responses. Configure the
// exported fields before use; call records are guarded by an internal
// mutex so pipeline goroutines may hit the mock concurrently.
type Provider struct {
	// SynthesizeChunks is emitted, in order, on the channel returned by
	// SynthesizeStream.
	SynthesizeChunks [][]byte

	// SynthesizeErr makes SynthesizeStream fail instead.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr script ListVoices.
	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	// CloneVoiceResult and CloneVoiceErr script CloneVoice.
	CloneVoiceResult *types.VoiceProfile
	CloneVoiceErr    error

	mu sync.Mutex

	// SynthesizeStreamCalls records every SynthesizeStream invocation.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// ListVoicesCount and CloneVoiceCount tally the remaining methods.
	ListVoicesCount int
	CloneVoiceCount int
}

// SynthesizeStream records the call, then streams SynthesizeChunks and
// closes. The text channel is drained in the background so a synthesizer
// writing fragments never blocks against the mock.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{
		Ctx:   ctx,
		Text:  text,
		Voice: voice,
	})
	err := p.SynthesizeErr
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		go func() {
			for range text {
			}
		}()
		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case out <- audio:
			}
		}
	}()
	return out, nil
}

// ListVoices returns the scripted voice list.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCount++
	return p.ListVoicesResult, p.ListVoicesErr
}

// CloneVoice returns the scripted profile.
func (p *Provider) CloneVoice(_ context.Context, _ [][]byte) (*types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloneVoiceCount++
	return p.CloneVoiceResult, p.CloneVoiceErr
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCount = 0
	p.CloneVoiceCount = 0
}
