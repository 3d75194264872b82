// Session machinery shared by both whisper variants. The HTTP provider and
// the in-process provider cut the incoming stream into utterances the same
// way and differ only in how an utterance becomes text.

package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/agewell-labs/donna/pkg/audio"
	"github.com/agewell-labs/donna/pkg/provider/stt"
	"github.com/agewell-labs/donna/pkg/types"
)

const (
	// defaultRMSThreshold separates speech from line noise on 16-bit PCM.
	// Telephony hiss stays well under 300 while speech at a normal volume
	// lands in the thousands.
	defaultRMSThreshold = 300.0

	// defaultSampleRate matches the telephony leg. Twilio media streams
	// deliver 8 kHz mono.
	defaultSampleRate = 8000

	// defaultSilenceThresholdMs is the trailing quiet that ends an utterance.
	defaultSilenceThresholdMs = 500

	// defaultMaxBufferDurationMs cuts an utterance even when the caller never
	// pauses, so transcripts keep arriving during a monologue.
	defaultMaxBufferDurationMs = 10_000

	defaultLanguage = "en"

	// inferenceTimeout bounds one utterance transcription, including the
	// closing flush that runs after the session context is already gone.
	inferenceTimeout = 30 * time.Second
)

var (
	errNotSupported  = errors.New("keyword boosting is not supported by whisper.cpp")
	errSessionClosed = errors.New("whisper: session is closed")
)

// streamParams is a StreamConfig with the provider-level defaults filled in.
type streamParams struct {
	language   string
	sampleRate int
	channels   int
	mulaw      bool
}

func resolveParams(cfg stt.StreamConfig, language string, sampleRate int) streamParams {
	p := streamParams{
		language:   cfg.Language,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		mulaw:      cfg.Encoding == stt.EncodingMulaw,
	}
	if p.language == "" {
		p.language = language
	}
	if p.sampleRate <= 0 {
		p.sampleRate = sampleRate
	}
	if p.channels <= 0 {
		p.channels = 1
	}
	return p
}

// segmenter cuts a PCM stream into utterances. Quiet audio before any
// speech is dropped; once speech starts everything is kept, and the
// utterance ends after silenceLimitMs of trailing quiet or at maxBytes
// when the caller talks straight through every pause.
type segmenter struct {
	sampleRate     int
	channels       int
	silenceLimitMs int
	maxBytes       int

	buf     []byte
	voiced  bool
	quietMs int
}

func newSegmenter(sampleRate, channels, silenceLimitMs, maxDurationMs int) segmenter {
	bytesPerMs := sampleRate * channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 16 // 8 kHz mono 16-bit
	}
	return segmenter{
		sampleRate:     sampleRate,
		channels:       channels,
		silenceLimitMs: silenceLimitMs,
		maxBytes:       maxDurationMs * bytesPerMs,
	}
}

// feed buffers one chunk and reports whether the current utterance is
// complete.
func (g *segmenter) feed(chunk []byte) bool {
	if computeRMS(chunk) >= defaultRMSThreshold {
		g.voiced = true
		g.quietMs = 0
		g.buf = append(g.buf, chunk...)
		return g.maxBytes > 0 && len(g.buf) >= g.maxBytes
	}
	if !g.voiced {
		return false
	}
	g.buf = append(g.buf, chunk...)
	g.quietMs += chunkDurationMs(chunk, g.sampleRate, g.channels)
	return g.quietMs >= g.silenceLimitMs
}

// take returns the buffered utterance and resets for the next one. It
// returns nil when nothing voiced has been buffered.
func (g *segmenter) take() []byte {
	pcm, voiced := g.buf, g.voiced
	g.buf = nil
	g.voiced = false
	g.quietMs = 0
	if !voiced || len(pcm) == 0 {
		return nil
	}
	return pcm
}

// core implements stt.SessionHandle for both whisper variants. Each
// provider embeds it in its session type and supplies transcribe, which
// turns one utterance of session-rate PCM into text.
type core struct {
	audioCh  chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	mulaw      bool
	seg        segmenter
	transcribe func(ctx context.Context, pcm []byte) (string, error)
}

func newCore(mulaw bool, seg segmenter, transcribe func(context.Context, []byte) (string, error)) *core {
	return &core{
		audioCh:    make(chan []byte, 256),
		partials:   make(chan types.Transcript, 64),
		finals:     make(chan types.Transcript, 64),
		done:       make(chan struct{}),
		mulaw:      mulaw,
		seg:        seg,
		transcribe: transcribe,
	}
}

// start launches the receive loop. Cancelling ctx winds the session down
// the same way Close does.
func (c *core) start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// SendAudio queues one chunk for segmentation. The chunk must match the
// sample rate, channel count, and encoding agreed in StreamConfig.
func (c *core) SendAudio(chunk []byte) error {
	select {
	case <-c.done:
		return errSessionClosed
	default:
	}
	select {
	case c.audioCh <- chunk:
		return nil
	case <-c.done:
		return errSessionClosed
	}
}

// Partials carries one interim transcript per utterance. Whisper has no
// cheaper interim pass, so it arrives together with the final and holds
// the same text. Closed when the session ends.
func (c *core) Partials() <-chan types.Transcript { return c.partials }

// Finals carries the committed transcript for each utterance. Closed when
// the session ends.
func (c *core) Finals() <-chan types.Transcript { return c.finals }

// SetKeywords reports that keyword boosting is unavailable. whisper.cpp
// has no vocabulary-boost API, so medication and family names cannot be
// weighted; the session stays usable regardless.
func (c *core) SetKeywords(_ []types.KeywordBoost) error {
	return fmt.Errorf("whisper: %w", errNotSupported)
}

// Close flushes any buffered speech for one last transcription and closes
// both transcript channels. Repeated calls are no-ops.
func (c *core) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
	return nil
}

// run owns all segmentation state. Confining it to one goroutine keeps the
// session lock-free.
func (c *core) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.partials)
	defer close(c.finals)

	for {
		select {
		case <-ctx.Done():
			c.finalFlush()
			return
		case <-c.done:
			c.finalFlush()
			return
		case chunk := <-c.audioCh:
			if c.mulaw {
				chunk = audio.DecodeUlaw(chunk)
			}
			if c.seg.feed(chunk) {
				c.flush(ctx)
			}
		}
	}
}

// flush transcribes the buffered utterance, if any, and hands the text to
// both channels.
func (c *core) flush(ctx context.Context) {
	pcm := c.seg.take()
	if pcm == nil {
		return
	}
	text, err := c.transcribe(ctx, pcm)
	if err != nil {
		slog.Error("whisper transcription failed", "error", err)
		return
	}
	if text == "" {
		return
	}

	// Both channels are buffered. If the consumer walked away, dropping
	// the transcript beats wedging the loop.
	select {
	case c.partials <- types.Transcript{Text: text}:
	default:
	}
	select {
	case c.finals <- types.Transcript{Text: text, IsFinal: true, SpeechFinal: true}:
	default:
	}
}

// finalFlush transcribes whatever is still buffered at shutdown. The
// session context is usually dead by then, so the last call runs under its
// own deadline.
func (c *core) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), inferenceTimeout)
	defer cancel()
	c.flush(ctx)
}

// computeRMS measures the energy of 16-bit little-endian PCM in raw sample
// units, 0 through 32767. Buffers shorter than one sample read as 0.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// chunkDurationMs converts a chunk length to milliseconds of audio.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return len(chunk) * 1000 / (sampleRate * channels * (bitsPerSample / 8))
}
