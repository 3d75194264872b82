package telephony

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/pkg/audio"
)

// telephonyRate is the sample rate of the provider's μ-law media streams.
const telephonyRate = 8000

// packetBytes is the μ-law payload size of one outbound media message:
// 800 bytes is 100 ms at 8 kHz. Small packets keep mark acknowledgements
// tracking real playback closely, which Speaking and the goodbye silence
// window depend on.
const packetBytes = 800

// flushTimeout bounds how long an ending call waits for the provider to
// acknowledge queued playback before the socket is torn down anyway.
const flushTimeout = 10 * time.Second

// sendTimeout bounds a single websocket write.
const sendTimeout = 5 * time.Second

// outQueueSize is one minute of queued outbound packets, far more than any
// single assistant response produces.
const outQueueSize = 600

// MediaSink is the outbound half of a media stream connection. Implemented
// by [SocketWriter]; tests substitute a recorder.
type MediaSink interface {
	// SendMedia transmits one base64 μ-law payload.
	SendMedia(ctx context.Context, payload string) error

	// SendMark asks the provider to echo name back once all audio queued
	// before it has been played.
	SendMark(ctx context.Context, name string) error

	// SendClear discards audio the provider has buffered but not played.
	SendClear(ctx context.Context) error
}

// Input heads the call pipeline. Decoding happens in the socket read loop;
// this stage only accounts for caller audio volume so call logs show how
// much the caller produced, and passes everything through.
type Input struct {
	packets int64
	bytes   int64
	ended   bool
}

// NewInput builds the head-of-chain bookkeeping stage.
func NewInput() *Input { return &Input{} }

// Name implements pipeline.Processor.
func (in *Input) Name() string { return "telephony.input" }

// Process implements pipeline.Processor.
func (in *Input) Process(_ context.Context, frame pipeline.Frame, dir pipeline.Direction, out *pipeline.Emitter) error {
	switch f := frame.(type) {
	case pipeline.AudioFrame:
		if dir == pipeline.Downstream {
			in.packets++
			in.bytes += int64(len(f.Audio.Data))
		}
	case pipeline.EndFrame:
		if !in.ended {
			in.ended = true
			slog.Debug("caller audio received",
				"packets", in.packets,
				"pcm_bytes", in.bytes,
			)
		}
	}
	out.Forward(frame, dir)
	return nil
}

type outItemKind int

const (
	outItemMedia outItemKind = iota
	outItemMark
)

type outItem struct {
	kind    outItemKind
	epoch   int
	payload string
	name    string
}

// Output tails the call pipeline and feeds assistant audio back to the
// provider. PCM frames are converted to 8 kHz mono, μ-law encoded, chunked
// into fixed-size packets and queued to a sender goroutine; each packet is
// followed by a mark so the provider's acknowledgements track how much audio
// has actually been played to the caller.
//
// On a barge-in InterruptFrame the queue is purged, pending marks are
// forgotten and a clear message wipes the provider's playback buffer. On
// EndFrame the remaining buffer is flushed and the processor blocks until
// the final mark comes back (bounded by flushTimeout), because closing the
// socket discards whatever the provider has not yet played.
type Output struct {
	sink MediaSink
	conv *audio.FormatConverter

	// pcmBuf and markSeq are only touched from Process on the task's
	// dispatch goroutine.
	pcmBuf  []byte
	markSeq int

	mu          sync.Mutex
	epoch       int
	outstanding int // marks queued but not yet echoed back
	abandoned   bool
	closed      bool

	queue      chan outItem
	senderDone chan struct{}
	flushCh    chan struct{}
}

// NewOutput builds the tail-of-chain transport stage and starts its sender
// goroutine. The goroutine exits when an EndFrame or CancelFrame is
// processed.
func NewOutput(sink MediaSink) *Output {
	o := &Output{
		sink: sink,
		conv: &audio.FormatConverter{
			Target: audio.Format{SampleRate: telephonyRate, Channels: 1},
		},
		queue:      make(chan outItem, outQueueSize),
		senderDone: make(chan struct{}),
		flushCh:    make(chan struct{}, 1),
	}
	go o.sender()
	return o
}

// Name implements pipeline.Processor.
func (o *Output) Name() string { return "telephony.output" }

// Process implements pipeline.Processor. The tail consumes every downstream
// frame; nothing is forwarded.
func (o *Output) Process(ctx context.Context, frame pipeline.Frame, _ pipeline.Direction, _ *pipeline.Emitter) error {
	switch f := frame.(type) {
	case pipeline.AudioFrame:
		o.enqueueAudio(f)
	case pipeline.ResponseEndFrame:
		// Flush the partial packet so the response's last syllables are not
		// held back waiting for more audio.
		o.flushPartial()
	case pipeline.InterruptFrame:
		o.interrupt(ctx)
	case pipeline.EndFrame:
		o.shutdown(ctx, true)
	case pipeline.CancelFrame:
		o.shutdown(ctx, false)
	}
	return nil
}

// HandleMark records a mark acknowledgement from the provider. Called from
// the socket read loop.
func (o *Output) HandleMark(name string) {
	o.mu.Lock()
	if o.outstanding > 0 {
		o.outstanding--
	}
	drained := o.outstanding == 0
	o.mu.Unlock()
	if drained {
		select {
		case o.flushCh <- struct{}{}:
		default:
		}
	}
}

// Speaking reports whether assistant audio is queued, in flight, or still
// being played to the caller. The speech recogniser consults this to decide
// whether user speech is a barge-in.
func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outstanding > 0 && !o.abandoned
}

// Abandon marks the sink unusable. Shutdown stops waiting for playback
// acknowledgements that can no longer arrive; called by the socket handler
// when the connection is already gone.
func (o *Output) Abandon() {
	o.mu.Lock()
	o.abandoned = true
	o.mu.Unlock()
	select {
	case o.flushCh <- struct{}{}:
	default:
	}
}

func (o *Output) enqueueAudio(f pipeline.AudioFrame) {
	converted := o.conv.Convert(f.Audio)
	if len(converted.Data) == 0 {
		return
	}
	o.pcmBuf = append(o.pcmBuf, converted.Data...)
	for len(o.pcmBuf) >= packetBytes*2 { // 2 PCM bytes per μ-law byte
		o.emitPacket(o.pcmBuf[:packetBytes*2])
		o.pcmBuf = o.pcmBuf[packetBytes*2:]
	}
}

// flushPartial emits whatever PCM is buffered as a short final packet.
func (o *Output) flushPartial() {
	if len(o.pcmBuf) >= 2 {
		o.emitPacket(o.pcmBuf)
	}
	o.pcmBuf = nil
}

// emitPacket μ-law encodes one packet and queues it together with its mark.
// The mark is counted as outstanding immediately so Speaking covers the
// whole queued-sent-playing window.
func (o *Output) emitPacket(pcm []byte) {
	payload := base64.StdEncoding.EncodeToString(audio.EncodeUlaw(pcm))
	o.markSeq++
	name := fmt.Sprintf("pkt-%d", o.markSeq)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	epoch := o.epoch
	o.outstanding++
	o.mu.Unlock()

	o.push(outItem{kind: outItemMedia, epoch: epoch, payload: payload})
	o.push(outItem{kind: outItemMark, epoch: epoch, name: name})
}

// push queues an item without ever blocking the dispatch goroutine. A full
// queue means the socket stopped draining; dropping is the only safe move.
func (o *Output) push(it outItem) {
	select {
	case o.queue <- it:
	default:
		slog.Warn("outbound media queue full, dropping packet")
		if it.kind == outItemMark {
			o.mu.Lock()
			if o.outstanding > 0 {
				o.outstanding--
			}
			o.mu.Unlock()
		}
	}
}

// interrupt abandons all unplayed assistant audio: locally queued packets
// are purged and the provider is told to clear its playback buffer.
func (o *Output) interrupt(ctx context.Context) {
	o.mu.Lock()
	o.epoch++
	o.outstanding = 0
	o.mu.Unlock()
	o.pcmBuf = nil

	// Drain whatever the sender has not picked up yet. Items it already
	// holds are discarded by the epoch check.
purge:
	for {
		select {
		case <-o.queue:
		default:
			break purge
		}
	}

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := o.sink.SendClear(sctx); err != nil {
		slog.Warn("clear message failed", "err", err)
	}
}

// shutdown flushes remaining audio and stops the sender. When graceful it
// waits (bounded) for the provider to acknowledge playback of everything
// queued, since closing the socket discards the provider-side buffer.
func (o *Output) shutdown(ctx context.Context, graceful bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if graceful {
		o.flushPartial()
	}

	o.mu.Lock()
	o.closed = true
	if !graceful {
		o.epoch++ // sender discards whatever is still queued
	}
	abandoned := o.abandoned
	o.mu.Unlock()
	close(o.queue)

	if !graceful || abandoned {
		return
	}

	deadline := time.NewTimer(flushTimeout)
	defer deadline.Stop()

	select {
	case <-o.senderDone:
	case <-deadline.C:
		slog.Warn("timed out flushing outbound audio")
		return
	case <-ctx.Done():
		return
	}

	for {
		o.mu.Lock()
		done := o.outstanding == 0 || o.abandoned
		o.mu.Unlock()
		if done {
			return
		}
		select {
		case <-o.flushCh:
		case <-deadline.C:
			slog.Warn("timed out waiting for playback acknowledgement")
			return
		case <-ctx.Done():
			return
		}
	}
}

// sender drains the queue onto the socket. It is the only goroutine that
// writes media and marks, so their relative order is preserved.
func (o *Output) sender() {
	defer close(o.senderDone)
	for it := range o.queue {
		o.mu.Lock()
		stale := it.epoch != o.epoch
		abandoned := o.abandoned
		o.mu.Unlock()
		if stale || abandoned {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		var err error
		if it.kind == outItemMedia {
			err = o.sink.SendMedia(ctx, it.payload)
		} else {
			err = o.sink.SendMark(ctx, it.name)
		}
		cancel()
		if err != nil {
			slog.Warn("outbound media write failed", "err", err)
			o.Abandon()
		}
	}
}
