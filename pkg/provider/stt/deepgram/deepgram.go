// Package deepgram implements stt.Provider on top of the Deepgram streaming
// WebSocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/agewell-labs/donna/pkg/provider/stt"
	"github.com/agewell-labs/donna/pkg/types"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	defaultLanguage   = "en-US"
	defaultSampleRate = 8000

	// handshakeTimeout bounds the WebSocket dial. Every moment spent
	// waiting here is caller speech nobody hears, so a session that cannot
	// come up quickly is better handed to the fallback provider.
	handshakeTimeout = 1500 * time.Millisecond
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en-US").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey string

	// Session defaults; StreamConfig fields override them per stream.
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		apiKey:     apiKey,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Encoding, cfg.Language, cfg.EndpointingMs,
// cfg.UtteranceEndMs, and cfg.Keywords.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	// Build the WebSocket URL with query parameters.
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	// The deadline covers the handshake only; the session itself lives on
	// ctx until Close.
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan types.Transcript, transcriptBuf),
		finals:   make(chan types.Transcript, transcriptBuf),
		audio:    make(chan []byte, audioBuf),
		done:     make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)
	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang, sr, enc := cfg.Language, cfg.SampleRate, cfg.Encoding
	if lang == "" {
		lang = p.language
	}
	if sr == 0 {
		sr = p.sampleRate
	}
	if enc == "" {
		enc = stt.EncodingLinear16
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("encoding", enc)
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.InterimResults {
		q.Set("interim_results", "true")
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.EndpointingMs))
	}
	if cfg.UtteranceEndMs > 0 {
		// Deepgram requires interim results for utterance-end tracking.
		q.Set("interim_results", "true")
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMs))
	}

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Metoprolol:5")
		val := fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost)
		q.Add("keywords", val)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON shape of a Deepgram Results event. UtteranceEnd
// events reuse the Type field but carry an incompatible channel payload, so
// they are probed separately before a full decode.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []deepgramAlternative `json:"alternatives"`
	} `json:"channel"`
}

type deepgramAlternative struct {
	Transcript string         `json:"transcript"`
	Confidence float64        `json:"confidence"`
	Words      []deepgramWord `json:"words"`
}

type deepgramWord struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Channel capacities for a live session. audioBuf covers roughly five
// seconds of 20 ms telephony frames.
const (
	transcriptBuf = 64
	audioBuf      = 256
)

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	partials chan types.Transcript
	finals   chan types.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	kwMu     sync.RWMutex
	keywords []types.KeywordBoost // stored for reference; Deepgram doesn't support mid-stream updates
}

var errSessionClosed = errors.New("deepgram: session is closed")

// SendAudio queues an audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan types.Transcript { return s.finals }

// SetKeywords records the new keyword list. Deepgram only accepts keywords
// in the stream URL, so a mid-session change cannot take effect.
func (s *session) SetKeywords(keywords []types.KeywordBoost) error {
	s.kwMu.Lock()
	s.keywords = keywords
	s.kwMu.Unlock()
	return fmt.Errorf("deepgram: %w", errNotSupported)
}

var errNotSupported = errors.New("mid-session keyword updates are not supported")

// Close flushes pending audio and tears the socket down. Safe to call more
// than once.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// CloseStream makes Deepgram transcribe whatever it has buffered
		// before the socket goes away.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop pumps queued audio onto the socket as binary messages.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			s.drainAudio(ctx)
			return
		}
	}
}

// drainAudio forwards whatever is still queued at close, so the CloseStream
// flush covers the caller's last words.
func (s *session) drainAudio(ctx context.Context) {
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
		default:
			return
		}
	}
}

// readLoop decodes Deepgram messages and routes transcripts to the partial
// and final channels until the socket closes.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation; nothing left to read.
			return
		}
		if t, ok := parseDeepgramResponse(msg); ok {
			s.deliver(t)
		}
	}
}

// deliver routes one transcript without blocking past session close.
func (s *session) deliver(t types.Transcript) {
	ch := s.partials
	if t.IsFinal {
		ch = s.finals
	}
	select {
	case ch <- t:
	case <-s.done:
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (Transcript, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (types.Transcript, bool) {
	// Probe the type first: UtteranceEnd messages carry an incompatible
	// "channel" shape (an index array, not an object).
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return types.Transcript{}, false
	}

	// UtteranceEnd carries no alternatives; surface it as a synthetic final so
	// the consumer can flush a pending turn.
	if probe.Type == "UtteranceEnd" {
		return types.Transcript{IsFinal: true, UtteranceEnd: true}, true
	}
	if probe.Type != "Results" {
		return types.Transcript{}, false
	}

	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil || len(resp.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return types.Transcript{
		Text:        alt.Transcript,
		IsFinal:     resp.IsFinal,
		SpeechFinal: resp.SpeechFinal,
		Confidence:  alt.Confidence,
		Words:       wordDetails(alt.Words),
	}, true
}

// wordDetails converts Deepgram word timings, given in fractional seconds,
// to per-word durations.
func wordDetails(ws []deepgramWord) []types.WordDetail {
	out := make([]types.WordDetail, 0, len(ws))
	for _, w := range ws {
		out = append(out, types.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	return out
}
