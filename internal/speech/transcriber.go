// Package speech connects the call pipeline to the speech providers. The
// [Transcriber] feeds caller audio into a streaming STT session and injects
// transcription frames back into the chain; the [Synthesizer] streams reply
// text through TTS and injects the resulting audio.
//
// Both processors do their provider I/O on background goroutines and re-enter
// the pipeline through a [pipeline.Handle], keeping the dispatch goroutine
// free of network latency.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/pkg/provider/stt"
	"github.com/agewell-labs/donna/pkg/types"
)

// callAudioRate is the sample rate of inbound call audio. The telephony
// transport decodes provider μ-law to 8 kHz mono PCM before it reaches us.
const callAudioRate = 8000

// SpeakingProbe reports whether assistant audio is currently queued or
// playing. The transcriber consults it to decide whether caller speech is a
// barge-in. The telephony output transport implements it.
type SpeakingProbe interface {
	Speaking() bool
}

// TranscriberConfig holds the dependencies and tuning for a [Transcriber].
type TranscriberConfig struct {
	// Provider is the STT backend, typically wrapped in a fallback chain.
	Provider stt.Provider

	// Language is the BCP-47 recognition language. Empty lets the provider
	// decide.
	Language string

	// EndpointingMs is the silence after which the provider finalises the
	// current utterance. Zero uses the provider default.
	EndpointingMs int

	// UtteranceEndMs is the gap after which the provider closes a
	// conversational turn. Zero disables utterance-end events and turns are
	// cut on endpointing alone.
	UtteranceEndMs int

	// Keywords boosts recognition of uncommon vocabulary: medication names,
	// family members, the senior's own name.
	Keywords []types.KeywordBoost

	// Probe enables barge-in detection. Nil disables it.
	Probe SpeakingProbe
}

// Transcriber is the pipeline processor that turns caller audio into
// transcription frames.
//
// Inbound audio frames terminate here: they are fed to the STT session and
// never forwarded, so the caller's own voice cannot reach the output
// transport. Recognition results re-enter the chain through the bound
// handle as [pipeline.TranscriptionFrame] injections.
//
// Deepgram-style providers cut a turn into several final segments; the
// transcriber buffers them and emits one joined final frame when the
// provider signals end of speech, so everything downstream sees exactly one
// final per conversational turn. Interim results are forwarded as non-final
// frames and drive barge-in.
type Transcriber struct {
	provider stt.Provider
	cfg      TranscriberConfig
	handle   *pipeline.Handle

	mu      sync.Mutex
	sess    stt.SessionHandle
	ended   bool
	retried bool

	// sendFailed is touched only by the dispatch goroutine.
	sendFailed bool

	// Turn assembly state, touched only by the relay goroutine. At most one
	// relay runs at a time; a reconnect starts the next one only after the
	// previous has exited.
	segments []string
	turnConf float64

	// interruptPending suppresses duplicate barge-in injections until the
	// interrupt has travelled the chain and come back through Process.
	interruptPending atomic.Bool
}

var (
	_ pipeline.Processor = (*Transcriber)(nil)
	_ pipeline.Bindable  = (*Transcriber)(nil)
)

// NewTranscriber validates cfg and builds the processor.
func NewTranscriber(cfg TranscriberConfig) (*Transcriber, error) {
	if cfg.Provider == nil {
		return nil, errors.New("speech: transcriber Provider must not be nil")
	}
	return &Transcriber{provider: cfg.Provider, cfg: cfg}, nil
}

// Name implements [pipeline.Processor].
func (t *Transcriber) Name() string { return "transcriber" }

// Bind implements [pipeline.Bindable].
func (t *Transcriber) Bind(h *pipeline.Handle) { t.handle = h }

// Process implements [pipeline.Processor].
func (t *Transcriber) Process(ctx context.Context, frame pipeline.Frame, dir pipeline.Direction, out *pipeline.Emitter) error {
	switch f := frame.(type) {
	case pipeline.StartFrame:
		if dir == pipeline.Downstream {
			go t.open(ctx)
		}

	case pipeline.AudioFrame:
		if dir == pipeline.Downstream {
			// Consumed: caller audio must not continue towards the output.
			t.sendAudio(f.Audio.Data)
			return nil
		}

	case pipeline.InterruptFrame:
		t.interruptPending.Store(false)

	case pipeline.EndFrame, pipeline.CancelFrame:
		t.closeSession()
	}
	out.Forward(frame, dir)
	return nil
}

// open starts an STT session and its relay goroutine. Runs off the dispatch
// goroutine; audio arriving before the session is up is dropped, which costs
// at most the connect window of a call that opens with the assistant
// greeting anyway.
func (t *Transcriber) open(ctx context.Context) {
	sess, err := t.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate:     callAudioRate,
		Channels:       1,
		Encoding:       stt.EncodingLinear16,
		Language:       t.cfg.Language,
		EndpointingMs:  t.cfg.EndpointingMs,
		UtteranceEndMs: t.cfg.UtteranceEndMs,
		InterimResults: true,
		Keywords:       t.cfg.Keywords,
	})
	if err != nil {
		slog.Error("stt session failed to open", "err", err)
		return
	}

	t.mu.Lock()
	if t.ended || t.sess != nil {
		t.mu.Unlock()
		_ = sess.Close()
		return
	}
	t.sess = sess
	t.mu.Unlock()

	go t.relay(ctx, sess)
}

// sendAudio hands one chunk to the live session. A dead or not-yet-open
// session drops the chunk; the relay goroutine owns recovery.
func (t *Transcriber) sendAudio(data []byte) {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.SendAudio(data); err != nil {
		if !t.sendFailed {
			slog.Warn("stt send failed", "err", err)
			t.sendFailed = true
		}
		return
	}
	t.sendFailed = false
}

// closeSession shuts the session down. Safe to call repeatedly.
func (t *Transcriber) closeSession() {
	t.mu.Lock()
	sess := t.sess
	t.sess = nil
	t.ended = true
	t.mu.Unlock()
	if sess != nil {
		if err := sess.Close(); err != nil {
			slog.Debug("stt session close", "err", err)
		}
	}
}

// relay consumes the session's result channels until both close, then hands
// off to sessionClosed for the reconnect decision.
func (t *Transcriber) relay(ctx context.Context, sess stt.SessionHandle) {
	partials, finals := sess.Partials(), sess.Finals()
	for partials != nil || finals != nil {
		select {
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			t.onPartial(tr)
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			t.onFinal(tr)
		case <-ctx.Done():
			return
		}
	}
	t.sessionClosed(ctx)
}

func (t *Transcriber) onPartial(tr types.Transcript) {
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return
	}
	t.maybeInterrupt()
	t.handle.InjectDownstream(pipeline.TranscriptionFrame{
		Text:       text,
		Confidence: tr.Confidence,
	})
}

// onFinal buffers final segments and flushes the joined turn when the
// provider marks end of speech. An utterance-end carries no text of its
// own; it exists to flush a turn whose last segment lacked the speech-final
// marker.
func (t *Transcriber) onFinal(tr types.Transcript) {
	if tr.UtteranceEnd {
		t.flushTurn()
		return
	}
	if text := strings.TrimSpace(tr.Text); text != "" {
		t.maybeInterrupt()
		t.segments = append(t.segments, text)
		if tr.Confidence > 0 && (t.turnConf == 0 || tr.Confidence < t.turnConf) {
			// A turn is only as reliable as its shakiest segment.
			t.turnConf = tr.Confidence
		}
	}
	if tr.SpeechFinal {
		t.flushTurn()
	}
}

func (t *Transcriber) flushTurn() {
	if len(t.segments) == 0 {
		return
	}
	text := strings.Join(t.segments, " ")
	conf := t.turnConf
	t.segments = nil
	t.turnConf = 0
	t.handle.InjectDownstream(pipeline.TranscriptionFrame{
		Text:       text,
		Final:      true,
		Confidence: conf,
	})
}

// maybeInterrupt raises a barge-in when the caller speaks over queued
// assistant audio. One interrupt per episode: the flag holds further
// injections until the frame has walked the chain, and the interrupt itself
// silences the output, so Speaking turns false for the partials that follow.
func (t *Transcriber) maybeInterrupt() {
	if t.cfg.Probe == nil || !t.cfg.Probe.Speaking() {
		return
	}
	if !t.interruptPending.CompareAndSwap(false, true) {
		return
	}
	slog.Debug("barge-in, interrupting assistant")
	t.handle.InjectUpstream(pipeline.InterruptFrame{})
}

// sessionClosed runs when the provider closed our channels. One silent
// reconnect is attempted; a second loss leaves the call running without
// recognition rather than bouncing the session forever.
func (t *Transcriber) sessionClosed(ctx context.Context) {
	t.flushTurn()

	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.sess = nil
	if t.retried {
		t.mu.Unlock()
		slog.Warn("stt session lost twice, transcription disabled for the rest of the call")
		return
	}
	t.retried = true
	t.mu.Unlock()

	slog.Warn("stt session lost, reconnecting")
	t.open(ctx)
}
