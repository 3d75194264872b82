// Package whisper implements speech-to-text on whisper.cpp, keeping
// transcription on-box for deployments that must not ship caller audio to a
// hosted service.
//
// Provider talks to a running whisper-server binary over HTTP and
// NativeProvider links libwhisper directly through the CGO bindings.
// whisper.cpp only transcribes whole clips, so both variants fake a stream:
// incoming PCM is gated on energy, cut into utterances, and each utterance
// is transcribed as one batch. True low-latency partials are impossible
// this way, which means a call that falls back to whisper gives up
// barge-in. Every utterance surfaces once on Partials and once on Finals
// with the same text, and the final carries SpeechFinal so turn taking
// downstream behaves as it does with a real streaming backend.
//
// Whisper models want 16 kHz mono input. Sessions opened at the 8 kHz
// telephony rate resample before inference.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/agewell-labs/donna/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel names the model the server should use for this provider's
// sessions, e.g. "base.en". Empty leaves the choice to the server, which is
// the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the transcription language as a BCP-47 code. Defaults
// to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the rate in Hz assumed for incoming PCM when the
// StreamConfig leaves it zero. Defaults to 8000, the telephony rate.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets how much trailing quiet ends an utterance.
// Shorter values transcribe sooner but split sentences at hesitations,
// which elderly callers produce a lot of. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs caps how much audio one utterance may hold before
// it is transcribed regardless of pauses. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// Provider implements stt.Provider against a whisper-server instance. Any
// number of sessions may be open at once; each keeps its own buffer and
// goroutine and the server is only contacted when an utterance completes.
type Provider struct {
	serverURL           string
	model               string
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client
}

// New builds a Provider for the whisper-server instance at serverURL, e.g.
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server URL is required")
	}
	p := &Provider{
		serverURL:           serverURL,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: inferenceTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a transcription session that accepts audio immediately.
// cfg.SampleRate, cfg.Channels, cfg.Encoding, and cfg.Language are honored;
// zero or empty fields fall back to the provider settings. No connection is
// made to the server until the first utterance completes.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	params := resolveParams(cfg, p.language, p.sampleRate)
	s := &session{
		client:     p.httpClient,
		serverURL:  p.serverURL,
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

// session is one live HTTP-backed transcription stream.
type session struct {
	*core
	client     *http.Client
	serverURL  string
	model      string
	language   string
	sampleRate int
	channels   int
}

var _ stt.SessionHandle = (*session)(nil)

// transcribe posts one utterance to the whisper-server /inference endpoint
// as a WAV upload and returns the recognized text.
func (s *session) transcribe(ctx context.Context, pcm []byte) (string, error) {
	wav := encodeWAV(normalizeForWhisper(pcm, s.sampleRate, s.channels), whisperSampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: build upload: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: build upload: %w", err)
	}
	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return "", fmt.Errorf("whisper: build upload: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return "", fmt.Errorf("whisper: build upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: call server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return result.Text, nil
}
