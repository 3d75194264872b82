// In-process transcription through the whisper.cpp CGO bindings. Linking
// needs libwhisper.a and whisper.h reachable via LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/agewell-labs/donna/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider on a whisper model loaded in
// process. There is no server to run and no HTTP hop per utterance; the
// price is a CGO build. The model loads once and serves every session.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// NativeOption configures a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the transcription language as a BCP-47 code.
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate sets the rate in Hz assumed for incoming PCM when
// the StreamConfig leaves it zero. Defaults to 8000.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.sampleRate = rate }
}

// WithNativeSilenceThresholdMs sets how much trailing quiet ends an
// utterance. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.silenceThresholdMs = ms }
}

// WithNativeMaxBufferDurationMs caps how much audio one utterance may hold
// before it is transcribed regardless of pauses. Defaults to 10 s.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.maxBufferDurationMs = ms }
}

// NewNative loads the whisper model at modelPath and returns a provider
// backed by it. Call Close when the provider is retired so the model
// memory is released.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path is required")
	}
	p := &NativeProvider{
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p.model = model
	return p, nil
}

// Close releases the loaded model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a transcription session that accepts audio immediately.
// cfg.SampleRate, cfg.Channels, cfg.Encoding, and cfg.Language are honored;
// zero or empty fields fall back to the provider settings. Sessions run
// concurrently without interference because each inference uses its own
// whisper context.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	params := resolveParams(cfg, p.language, p.sampleRate)
	s := &nativeSession{
		model:      p.model,
		language:   params.language,
		sampleRate: params.sampleRate,
		channels:   params.channels,
	}
	seg := newSegmenter(params.sampleRate, params.channels, p.silenceThresholdMs, p.maxBufferDurationMs)
	s.core = newCore(params.mulaw, seg, s.transcribe)
	s.core.start(ctx)
	return s, nil
}

// nativeSession is one live in-process transcription stream.
type nativeSession struct {
	*core
	model      whisperlib.Model
	language   string
	sampleRate int
	channels   int
}

var _ stt.SessionHandle = (*nativeSession)(nil)

// transcribe runs the model over one utterance. Each call gets a fresh
// whisper context; contexts are not goroutine safe but the model is.
func (s *nativeSession) transcribe(_ context.Context, pcm []byte) (string, error) {
	samples := pcmToFloat32(normalizeForWhisper(pcm, s.sampleRate, s.channels))

	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper language not applied", "language", s.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process utterance: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
