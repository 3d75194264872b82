// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
//
// The default output format is pcm_24000: raw 16-bit mono PCM at 24 kHz, which
// the telephony transport downsamples to 8 kHz μ-law for the phone leg.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/agewell-labs/donna/pkg/provider/tts"
	"github.com/agewell-labs/donna/pkg/types"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	voicesEndpoint   = "https://api.elevenlabs.io/v1/voices"
	addVoiceEndpoint = "https://api.elevenlabs.io/v1/voices/add"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"

	defaultStability       = 0.5
	defaultSimilarityBoost = 0.75
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option customises a Provider.
type Option func(*Provider)

// WithModel overrides the default synthesis model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat overrides the default audio output format, e.g.
// "pcm_16000" or "pcm_24000".
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	httpClient   *http.Client
}

// New creates an ElevenLabs Provider. The API key must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		httpClient:   &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// settingsForVoice maps a VoiceProfile onto the ElevenLabs voice_settings
// object, falling back to service defaults for unset fields. A SpeedFactor of
// exactly 1.0 is omitted because it matches the service default.
func settingsForVoice(voice types.VoiceProfile) *voiceSettings {
	vs := &voiceSettings{
		Stability:       voice.Stability,
		SimilarityBoost: voice.SimilarityBoost,
	}
	if vs.Stability == 0 {
		vs.Stability = defaultStability
	}
	if vs.SimilarityBoost == 0 {
		vs.SimilarityBoost = defaultSimilarityBoost
	}
	if voice.SpeedFactor != 0 && voice.SpeedFactor != 1.0 {
		vs.Speed = voice.SpeedFactor
	}
	return vs
}

// send marshals msg and writes it to conn as a single text frame.
func send(ctx context.Context, conn *websocket.Conn, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// SynthesizeStream opens a WebSocket to ElevenLabs, pipes text fragments from
// the text channel, and returns a channel emitting raw PCM audio chunks.
//
// The returned audio channel is closed when synthesis is complete or ctx is
// cancelled. Cancellation also closes the socket, which makes ElevenLabs stop
// generating; this is how barge-in cuts off a response mid-sentence.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, buildURLForVoice(voice.ID, p.model, p.outputFormat), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// The BOI message authenticates and configures the stream.
	boi := boiMessage{
		Text:          " ", // the service rejects an empty first text value
		VoiceSettings: settingsForVoice(voice),
		XiAPIKey:      p.apiKey,
	}
	if err := send(ctx, conn, boi); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	audioCh := make(chan []byte, 256)
	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			readAudio(ctx, conn, audioCh)
		}()

		writeText(ctx, conn, text, readDone)
	}()

	return audioCh, nil
}

// readAudio decodes audio frames off the socket into out until the socket
// closes or ctx is cancelled. Frames without audio (keepalives, errors) are
// skipped.
func readAudio(ctx context.Context, conn *websocket.Conn, out chan<- []byte) {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil || resp.Audio == "" {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
		if err != nil {
			continue
		}
		select {
		case out <- pcm:
		case <-ctx.Done():
			return
		}
	}
}

// writeText forwards text fragments to the socket. When the text channel
// closes it sends the empty-string flush, making the service synthesise
// whatever remains in its buffer, then waits for readDone so the audio tail
// is not lost.
func writeText(ctx context.Context, conn *websocket.Conn, text <-chan string, readDone <-chan struct{}) {
	for {
		select {
		case sentence, ok := <-text:
			if !ok {
				_ = send(ctx, conn, textMessage{Text: ""})
				<-readDone
				return
			}
			if sentence == "" {
				continue
			}
			if err := send(ctx, conn, textMessage{Text: sentence}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// ---- voice management ----

// voicesResponse mirrors the body of GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is one entry in the voices list.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// doJSON executes req with the API key header attached and decodes the JSON
// response body into out. Non-200 statuses are reported as errors.
func (p *Provider) doJSON(req *http.Request, out any) error {
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListVoices returns all voices available to the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	var vr voicesResponse
	if err := p.doJSON(req, &vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	return mapVoices(vr), nil
}

// CloneVoice uploads the supplied WAV samples to POST /v1/voices/add and
// returns the newly created voice. The voice name is generated because the
// interface carries no display name.
func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error) {
	if len(samples) == 0 {
		return nil, errors.New("elevenlabs: CloneVoice requires at least one audio sample")
	}

	name := "donna-clone-" + uuid.NewString()[:8]

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", name); err != nil {
		return nil, fmt.Errorf("elevenlabs: write name field: %w", err)
	}
	for i, sample := range samples {
		fw, err := mw.CreateFormFile("files", fmt.Sprintf("sample_%02d.wav", i))
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: create form file: %w", err)
		}
		if _, err := fw.Write(sample); err != nil {
			return nil, fmt.Errorf("elevenlabs: write sample: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("elevenlabs: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addVoiceEndpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: add voice: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var added struct {
		VoiceID string `json:"voice_id"`
	}
	if err := p.doJSON(req, &added); err != nil {
		return nil, fmt.Errorf("elevenlabs: add voice: %w", err)
	}
	if added.VoiceID == "" {
		return nil, errors.New("elevenlabs: add voice response missing voice_id")
	}

	return &types.VoiceProfile{
		ID:       added.VoiceID,
		Name:     name,
		Provider: "elevenlabs",
		Metadata: map[string]string{"category": "cloned"},
	}, nil
}

// ---- helpers ----

// buildWSMessage constructs the JSON text payload for a single text fragment.
// Used by tests to verify the payload shape without opening a real connection.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

// buildURLForVoice constructs the WebSocket URL for a given voice, model, and
// output format.
func buildURLForVoice(voiceID, model, outputFormat string) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model, outputFormat)
}

// mapVoices converts the raw API response into VoiceProfile values.
func mapVoices(vr voicesResponse) []types.VoiceProfile {
	profiles := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]types.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	return mapVoices(vr), nil
}
