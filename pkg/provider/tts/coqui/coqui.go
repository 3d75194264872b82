// Package coqui synthesises speech on a self-hosted Coqui TTS server. It
// is the fallback voice for deployments that cannot reach ElevenLabs, or
// that keep synthesis on-box for privacy: quality drops but the call keeps
// talking.
//
// Two server flavours are spoken. APIModeStandard drives the stock Coqui
// image (ghcr.io/coqui-ai/tts-cpu) through GET /api/tts and GET /details.
// APIModeXTTS drives an XTTS v2 API server through POST /tts_to_audio/,
// GET /studio_speakers and POST /clone_speaker, which adds voice cloning.
//
// Neither server streams. SynthesizeStream therefore cuts the incoming
// text into sentences and synthesises them as separate requests, a few in
// flight at once, stitching the audio back together in order.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/agewell-labs/donna/pkg/provider/tts"
	"github.com/agewell-labs/donna/pkg/types"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	xttsSynthPath    = "/tts_to_audio/"
	xttsSpeakersPath = "/studio_speakers"
	xttsClonePath    = "/clone_speaker"

	standardSynthPath   = "/api/tts"
	standardDetailsPath = "/details"
)

// APIMode names which Coqui server API the provider speaks.
type APIMode string

const (
	// APIModeStandard targets the stock Coqui TTS server. It is the
	// default. Voice cloning is unavailable there.
	APIModeStandard APIMode = "standard"

	// APIModeXTTS targets an XTTS v2 API server, which also exposes
	// studio speakers and voice cloning.
	APIModeXTTS APIMode = "xtts"
)

// Option adjusts a Provider at construction.
type Option func(*Provider)

// WithLanguage sets the language code passed to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout caps each HTTP request to the server. Defaults to 30s, which
// leaves room for a long sentence on a CPU-only container.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode picks the server flavour. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate resamples synthesised audio to rate before it is
// emitted, 8000 being the usual value for the telephone leg. Zero keeps
// the model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider synthesises speech through a Coqui server. It is safe for
// concurrent use and a single Provider may serve several calls at once.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	outputRate int
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New builds a Provider for the Coqui server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server URL is required")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// do performs one request against the server and returns the body. Every
// endpoint answers with something small enough to buffer whole, either a
// sentence of audio or a speaker catalogue.
func (p *Provider) do(ctx context.Context, method, path string, body io.Reader, contentType, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.serverURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", accept)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s: server returned HTTP %d", method, path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	return data, nil
}

// ListVoices reports the voices the server can speak with. XTTS servers
// expose their studio speakers. Standard servers expose one entry per
// speaker of a multi-speaker model, or a single entry named after the
// model itself.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		return p.listStudioSpeakers(ctx)
	}
	return p.listModelSpeakers(ctx)
}

func (p *Provider) listStudioSpeakers(ctx context.Context) ([]types.VoiceProfile, error) {
	data, err := p.do(ctx, http.MethodGet, xttsSpeakersPath, nil, "", "application/json")
	if err != nil {
		return nil, err
	}

	// The endpoint answers with an object keyed by speaker name. The
	// values hold embeddings this provider has no use for.
	var speakers map[string]json.RawMessage
	if err := json.Unmarshal(data, &speakers); err != nil {
		return nil, fmt.Errorf("coqui: decode studio speakers: %w", err)
	}

	names := make([]string, 0, len(speakers))
	for name := range speakers {
		names = append(names, name)
	}
	sort.Strings(names)

	voices := make([]types.VoiceProfile, 0, len(names))
	for _, name := range names {
		voices = append(voices, types.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return voices, nil
}

// detailsResponse is the GET /details answer from a standard server.
// Speakers stays empty for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

func (p *Provider) listModelSpeakers(ctx context.Context) ([]types.VoiceProfile, error) {
	data, err := p.do(ctx, http.MethodGet, standardDetailsPath, nil, "", "application/json")
	if err != nil {
		return nil, err
	}
	var details detailsResponse
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("coqui: decode model details: %w", err)
	}

	if len(details.Speakers) == 0 {
		name := details.ModelName
		if name == "" {
			name = "default"
		}
		return []types.VoiceProfile{{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "single-speaker", "model_name": name},
		}}, nil
	}

	ids := append([]string(nil), details.Speakers...)
	sort.Strings(ids)

	voices := make([]types.VoiceProfile, 0, len(ids))
	for _, id := range ids {
		voices = append(voices, types.VoiceProfile{
			ID:       id,
			Name:     id,
			Provider: "coqui",
			Metadata: map[string]string{"type": "speaker", "model_name": details.ModelName},
		})
	}
	return voices, nil
}

// CloneVoice uploads reference recordings and registers the resulting
// speaker on the server. Each sample must be a complete WAV file. Only
// XTTS servers implement cloning; in standard mode the call fails without
// touching the network.
func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error) {
	if p.apiMode != APIModeXTTS {
		return nil, errors.New("coqui: voice cloning is not supported by the standard server API")
	}
	if len(samples) == 0 {
		return nil, errors.New("coqui: voice cloning needs at least one reference sample")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for i, sample := range samples {
		part, err := form.CreateFormFile("wav_files", fmt.Sprintf("sample_%02d.wav", i))
		if err != nil {
			return nil, fmt.Errorf("coqui: build clone form: %w", err)
		}
		if _, err := part.Write(sample); err != nil {
			return nil, fmt.Errorf("coqui: write clone sample %d: %w", i, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("coqui: finish clone form: %w", err)
	}

	data, err := p.do(ctx, http.MethodPost, xttsClonePath, &buf, form.FormDataContentType(), "application/json")
	if err != nil {
		return nil, err
	}

	var clone struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("coqui: decode clone response: %w", err)
	}
	if clone.Name == "" {
		return nil, errors.New("coqui: clone response carries no speaker name")
	}

	return &types.VoiceProfile{
		ID:       clone.Name,
		Name:     clone.Name,
		Provider: "coqui",
		Metadata: map[string]string{"type": "cloned"},
	}, nil
}
