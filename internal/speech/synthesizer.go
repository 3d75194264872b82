package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/pkg/provider/tts"
	"github.com/agewell-labs/donna/pkg/types"
)

// DefaultSynthesisRate is the sample rate of provider audio when the config
// does not say otherwise. ElevenLabs streams 24 kHz mono PCM by default;
// the output transport resamples to the wire rate.
const DefaultSynthesisRate = 24000

// textChunkBuffer bounds how many reply chunks may queue towards a slow TTS
// stream before dispatch blocks on it.
const textChunkBuffer = 32

// DefaultFallbackLine is spoken in place of a reply that could not be
// synthesised at all. It asks the senior to repeat themselves, which makes
// the next turn regenerate the lost reply through a fresh stream.
const DefaultFallbackLine = "I'm sorry, I'm having a little trouble with my voice. Could you say that again for me?"

// SynthesizerConfig holds the dependencies and tuning for a [Synthesizer].
type SynthesizerConfig struct {
	// Provider is the TTS backend, typically wrapped in a fallback chain.
	Provider tts.Provider

	// Voice is the synthesis voice for this call.
	Voice types.VoiceProfile

	// SampleRate is the PCM rate the provider emits. Zero uses
	// [DefaultSynthesisRate].
	SampleRate int

	// FallbackLine replaces a reply when no synthesis stream could be
	// opened for it, so the senior hears something rather than dead air.
	// It plays at most once per call. Zero uses [DefaultFallbackLine].
	FallbackLine string
}

// Synthesizer is the pipeline processor that speaks the assistant's reply.
//
// Text frames terminate here. The first chunk of a response opens one
// streaming TTS session; later chunks feed it, and the provider's audio is
// injected downstream as it arrives, so playback starts while the model is
// still writing.
//
// The response-end marker is withheld: it is re-injected only after the
// provider has produced all audio for the response, which is what lets the
// output transport flush its final partial packet at the true end of speech.
// A barge-in cancels the provider stream mid-word and bumps the generation
// counter so the stale relay drains silently.
//
// A reply whose stream never opens is replaced by a canned fallback line,
// spoken at most once per call. If the line cannot be synthesised either,
// the response passes in silence and the call moves on.
type Synthesizer struct {
	provider     tts.Provider
	voice        types.VoiceProfile
	sampleRate   int
	fallbackLine string
	handle       *pipeline.Handle

	// Stream state below is touched only by the dispatch goroutine; gen is
	// the one point of contact with relay goroutines.
	textCh     chan string
	cancel     context.CancelFunc
	broken     bool
	apologised bool

	gen atomic.Int64
}

var (
	_ pipeline.Processor = (*Synthesizer)(nil)
	_ pipeline.Bindable  = (*Synthesizer)(nil)
)

// NewSynthesizer validates cfg and builds the processor.
func NewSynthesizer(cfg SynthesizerConfig) (*Synthesizer, error) {
	if cfg.Provider == nil {
		return nil, errors.New("speech: synthesizer Provider must not be nil")
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = DefaultSynthesisRate
	}
	line := cfg.FallbackLine
	if line == "" {
		line = DefaultFallbackLine
	}
	return &Synthesizer{
		provider:     cfg.Provider,
		voice:        cfg.Voice,
		sampleRate:   rate,
		fallbackLine: line,
	}, nil
}

// Name implements [pipeline.Processor].
func (s *Synthesizer) Name() string { return "synthesizer" }

// Bind implements [pipeline.Bindable].
func (s *Synthesizer) Bind(h *pipeline.Handle) { s.handle = h }

// Process implements [pipeline.Processor].
func (s *Synthesizer) Process(ctx context.Context, frame pipeline.Frame, dir pipeline.Direction, out *pipeline.Emitter) error {
	if dir != pipeline.Downstream {
		out.Forward(frame, dir)
		return nil
	}
	switch f := frame.(type) {
	case pipeline.TextFrame:
		// Consumed: text becomes audio here, nothing downstream reads it.
		s.feed(ctx, f.Text)
		return nil

	case pipeline.ResponseStartFrame:
		s.broken = false

	case pipeline.ResponseEndFrame:
		if s.textCh != nil {
			// Withhold the marker. Closing the text channel tells the
			// provider the response is complete; the relay re-injects the
			// marker once the audio has fully drained. cancel stays: a
			// barge-in during the tail audio must still be able to stop
			// the provider.
			close(s.textCh)
			s.textCh = nil
			return nil
		}
		if s.broken {
			s.broken = false
			if s.speakFallbackLine(ctx) {
				return nil
			}
		}

	case pipeline.InterruptFrame:
		s.abort()

	case pipeline.EndFrame, pipeline.CancelFrame:
		s.abort()
	}
	out.Forward(frame, dir)
	return nil
}

// feed routes one reply chunk into the response's TTS stream, opening it on
// the first chunk.
func (s *Synthesizer) feed(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if s.textCh == nil {
		if s.broken || !s.openStream(ctx) {
			return
		}
	}
	select {
	case s.textCh <- text:
	case <-ctx.Done():
	}
}

// openStream starts one provider stream and its relay. Returns false when
// the provider refuses; the rest of the response is dropped rather than
// retried chunk by chunk.
func (s *Synthesizer) openStream(ctx context.Context) bool {
	sctx, cancel := context.WithCancel(ctx)
	textCh := make(chan string, textChunkBuffer)
	audio, err := s.provider.SynthesizeStream(sctx, textCh, s.voice)
	if err != nil {
		cancel()
		s.broken = true
		slog.Error("tts stream failed to open, dropping the reply", "err", err)
		return false
	}

	// A fresh stream owns the response: any relay still draining an older
	// stream goes stale now and keeps its end marker to itself.
	gen := s.gen.Add(1)
	s.textCh = textCh
	s.cancel = cancel
	go s.relay(gen, audio, cancel)
	return true
}

// speakFallbackLine plays the canned line in place of a reply whose stream
// never opened. It retries the provider once; the chain behind it may have
// failed over to a healthy backend by now. At most one line plays per call,
// since a senior hearing the same apology every turn would only be confused.
// Reports whether the line is playing, in which case the relay re-injects
// the withheld response-end marker after it.
func (s *Synthesizer) speakFallbackLine(ctx context.Context) bool {
	if s.apologised || ctx.Err() != nil {
		return false
	}
	s.apologised = true
	line := make(chan string, 1)
	line <- s.fallbackLine
	close(line)
	sctx, cancel := context.WithCancel(ctx)
	audio, err := s.provider.SynthesizeStream(sctx, line, s.voice)
	if err != nil {
		cancel()
		slog.Warn("fallback line failed too, response stays silent", "err", err)
		return false
	}
	gen := s.gen.Add(1)
	s.cancel = cancel
	go s.relay(gen, audio, cancel)
	return true
}

// abort invalidates the in-flight stream. Safe to call when none is open.
func (s *Synthesizer) abort() {
	if s.textCh != nil {
		close(s.textCh)
		s.textCh = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen.Add(1)
}

// relay pumps provider audio into the pipeline and, if the stream is still
// current when it ends, re-injects the withheld response-end marker. The
// provider channel is always drained so a cancelled stream cannot block the
// provider's writer.
func (s *Synthesizer) relay(gen int64, audio <-chan []byte, cancel context.CancelFunc) {
	defer cancel()
	for chunk := range audio {
		if s.gen.Load() != gen || len(chunk) == 0 {
			continue
		}
		s.handle.InjectDownstream(pipeline.AudioFrame{Audio: types.AudioFrame{
			Data:       chunk,
			SampleRate: s.sampleRate,
			Channels:   1,
		}})
	}
	if s.gen.Load() != gen {
		return
	}
	s.handle.InjectDownstream(pipeline.ResponseEndFrame{})
}
