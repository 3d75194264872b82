package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/pkg/provider/stt"
	sttmock "github.com/agewell-labs/donna/pkg/provider/stt/mock"
	"github.com/agewell-labs/donna/pkg/types"
)

// frameSink terminates a test chain and records everything that reached it.
// Injections arrive from relay goroutines, so access is mutex-guarded.
type frameSink struct {
	mu     sync.Mutex
	frames []pipeline.Frame
}

func (s *frameSink) Name() string { return "sink" }

func (s *frameSink) Process(_ context.Context, f pipeline.Frame, dir pipeline.Direction, out *pipeline.Emitter) error {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	out.Forward(f, dir)
	return nil
}

func (s *frameSink) snapshot() []pipeline.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.Frame(nil), s.frames...)
}

func (s *frameSink) finals() []pipeline.TranscriptionFrame {
	var out []pipeline.TranscriptionFrame
	for _, f := range s.snapshot() {
		if tf, ok := f.(pipeline.TranscriptionFrame); ok && tf.Final {
			out = append(out, tf)
		}
	}
	return out
}

func (s *frameSink) partials() []pipeline.TranscriptionFrame {
	var out []pipeline.TranscriptionFrame
	for _, f := range s.snapshot() {
		if tf, ok := f.(pipeline.TranscriptionFrame); ok && !tf.Final {
			out = append(out, tf)
		}
	}
	return out
}

func (s *frameSink) interrupts() int {
	n := 0
	for _, f := range s.snapshot() {
		if _, ok := f.(pipeline.InterruptFrame); ok {
			n++
		}
	}
	return n
}

func (s *frameSink) audioFrames() []types.AudioFrame {
	var out []types.AudioFrame
	for _, f := range s.snapshot() {
		if af, ok := f.(pipeline.AudioFrame); ok {
			out = append(out, af.Audio)
		}
	}
	return out
}

func (s *frameSink) responseEnds() int {
	n := 0
	for _, f := range s.snapshot() {
		if _, ok := f.(pipeline.ResponseEndFrame); ok {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type stubProbe struct {
	on atomic.Bool
}

func (p *stubProbe) Speaking() bool { return p.on.Load() }

func newMockSession() *sttmock.Session {
	return &sttmock.Session{
		PartialsCh: make(chan types.Transcript, 8),
		FinalsCh:   make(chan types.Transcript, 8),
	}
}

// startTranscriber runs [transcriber, sink] and opens the call.
func startTranscriber(t *testing.T, cfg TranscriberConfig) (*pipeline.Task, *frameSink, chan error) {
	t.Helper()
	tr, err := NewTranscriber(cfg)
	if err != nil {
		t.Fatalf("NewTranscriber: %v", err)
	}
	tail := &frameSink{}
	task := pipeline.NewTask([]pipeline.Processor{tr, tail})
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(context.Background()) }()
	task.Inject(pipeline.Head, pipeline.StartFrame{CallSID: "CA123", StreamSID: "MZ1"}, pipeline.Downstream)
	return task, tail, errCh
}

func endTask(t *testing.T, task *pipeline.Task, errCh chan error) {
	t.Helper()
	task.Inject(pipeline.Head, pipeline.EndFrame{Reason: "test"}, pipeline.Downstream)
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("task run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestTranscriberJoinsTurnSegments(t *testing.T) {
	sess := newMockSession()
	provider := &sttmock.Provider{Session: sess}
	task, tail, errCh := startTranscriber(t, TranscriberConfig{
		Provider:       provider,
		Language:       "en-US",
		EndpointingMs:  300,
		UtteranceEndMs: 1000,
	})

	sess.FinalsCh <- types.Transcript{Text: "I took my pills", IsFinal: true, Confidence: 0.95}
	sess.FinalsCh <- types.Transcript{Text: "this morning", IsFinal: true, Confidence: 0.9, SpeechFinal: true}

	waitFor(t, func() bool { return len(tail.finals()) == 1 }, "no final turn emitted")
	got := tail.finals()[0]
	if got.Text != "I took my pills this morning" {
		t.Errorf("turn text = %q", got.Text)
	}
	if got.Confidence != 0.9 {
		t.Errorf("turn confidence = %v, want the weakest segment's 0.9", got.Confidence)
	}

	cfg := provider.StartStreamCalls[0].Cfg
	if cfg.SampleRate != 8000 || cfg.Channels != 1 {
		t.Errorf("stream format = %d Hz / %d ch, want 8000/1", cfg.SampleRate, cfg.Channels)
	}
	if cfg.Encoding != stt.EncodingLinear16 {
		t.Errorf("encoding = %q", cfg.Encoding)
	}
	if !cfg.InterimResults {
		t.Error("interim results not requested; barge-in needs them")
	}
	if cfg.Language != "en-US" || cfg.EndpointingMs != 300 || cfg.UtteranceEndMs != 1000 {
		t.Errorf("tuning not passed through: %+v", cfg)
	}

	endTask(t, task, errCh)
}

func TestTranscriberFlushesTurnOnUtteranceEnd(t *testing.T) {
	sess := newMockSession()
	task, tail, errCh := startTranscriber(t, TranscriberConfig{Provider: &sttmock.Provider{Session: sess}})

	// The last segment never gets a speech-final marker; the gap event must
	// flush it.
	sess.FinalsCh <- types.Transcript{Text: "is it raining today", IsFinal: true, Confidence: 0.8}
	sess.FinalsCh <- types.Transcript{IsFinal: true, UtteranceEnd: true}

	waitFor(t, func() bool { return len(tail.finals()) == 1 }, "utterance end did not flush the turn")
	if got := tail.finals()[0].Text; got != "is it raining today" {
		t.Errorf("turn text = %q", got)
	}

	// A gap with nothing pending must not emit an empty turn.
	sess.FinalsCh <- types.Transcript{IsFinal: true, UtteranceEnd: true}
	sess.FinalsCh <- types.Transcript{Text: "hello", IsFinal: true, SpeechFinal: true, Confidence: 0.9}

	waitFor(t, func() bool { return len(tail.finals()) == 2 }, "second turn not emitted")
	if got := tail.finals()[1].Text; got != "hello" {
		t.Errorf("second turn = %q, an empty turn slipped in ahead of it", got)
	}

	endTask(t, task, errCh)
}

func TestTranscriberForwardsPartials(t *testing.T) {
	sess := newMockSession()
	task, tail, errCh := startTranscriber(t, TranscriberConfig{Provider: &sttmock.Provider{Session: sess}})

	sess.PartialsCh <- types.Transcript{Text: " um I was ", Confidence: 0.4}
	sess.PartialsCh <- types.Transcript{Text: "   "}
	sess.PartialsCh <- types.Transcript{Text: "um I was going"}

	waitFor(t, func() bool { return len(tail.partials()) == 2 }, "partials not forwarded")
	got := tail.partials()
	if got[0].Text != "um I was" || got[0].Final {
		t.Errorf("partial[0] = %+v", got[0])
	}
	if got[1].Text != "um I was going" {
		t.Errorf("partial[1] = %q, blank partial was not dropped", got[1].Text)
	}

	endTask(t, task, errCh)
}

func TestTranscriberConsumesCallerAudio(t *testing.T) {
	sess := newMockSession()
	task, tail, errCh := startTranscriber(t, TranscriberConfig{Provider: &sttmock.Provider{Session: sess}})

	// Prove the session is open before sending audio; frames that race the
	// connect are dropped by design.
	sess.PartialsCh <- types.Transcript{Text: "hm"}
	waitFor(t, func() bool { return len(tail.partials()) == 1 }, "session not open")

	for i := 0; i < 3; i++ {
		task.Inject(pipeline.Head, pipeline.AudioFrame{Audio: types.AudioFrame{
			Data:       make([]byte, 320),
			SampleRate: 8000,
			Channels:   1,
		}}, pipeline.Downstream)
	}

	waitFor(t, func() bool { return sess.SendAudioCallCount() == 3 }, "audio not sent to the session")
	endTask(t, task, errCh)

	if got := len(tail.audioFrames()); got != 0 {
		t.Errorf("%d audio frames passed the transcriber; caller audio must terminate there", got)
	}
}

func TestTranscriberRaisesBargeIn(t *testing.T) {
	sess := newMockSession()
	probe := &stubProbe{}
	probe.on.Store(true)
	task, tail, errCh := startTranscriber(t, TranscriberConfig{
		Provider: &sttmock.Provider{Session: sess},
		Probe:    probe,
	})

	sess.PartialsCh <- types.Transcript{Text: "wait", Confidence: 0.5}
	waitFor(t, func() bool { return tail.interrupts() == 1 }, "no interrupt for speech over playback")

	// The interrupt has walked the chain (the sink saw it), so the guard has
	// re-armed and continued speech raises a fresh one.
	sess.PartialsCh <- types.Transcript{Text: "wait stop", Confidence: 0.5}
	waitFor(t, func() bool { return tail.interrupts() == 2 }, "guard did not re-arm after the interrupt")

	probe.on.Store(false)
	sess.PartialsCh <- types.Transcript{Text: "okay", Confidence: 0.5}
	waitFor(t, func() bool { return len(tail.partials()) == 3 }, "partial not forwarded")
	if got := tail.interrupts(); got != 2 {
		t.Errorf("interrupts = %d after playback went quiet, want 2", got)
	}

	endTask(t, task, errCh)
}

// seqSTTProvider hands out pre-built sessions one per StartStream call.
type seqSTTProvider struct {
	mu       sync.Mutex
	sessions []*sttmock.Session
	calls    int
}

func (p *seqSTTProvider) StartStream(_ context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.sessions) {
		return nil, errors.New("no session scripted for this call")
	}
	s := p.sessions[p.calls]
	p.calls++
	return s, nil
}

func (p *seqSTTProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ stt.Provider = (*seqSTTProvider)(nil)

func TestTranscriberReconnectsOnce(t *testing.T) {
	sess1, sess2 := newMockSession(), newMockSession()
	provider := &seqSTTProvider{sessions: []*sttmock.Session{sess1, sess2}}
	task, tail, errCh := startTranscriber(t, TranscriberConfig{Provider: provider})

	// A segment is buffered when the provider drops the stream; it must not
	// be lost.
	sess1.FinalsCh <- types.Transcript{Text: "my knee has been", IsFinal: true, Confidence: 0.7}
	close(sess1.PartialsCh)
	close(sess1.FinalsCh)

	waitFor(t, func() bool { return len(tail.finals()) == 1 }, "buffered segment lost on stream drop")
	if got := tail.finals()[0].Text; got != "my knee has been" {
		t.Errorf("flushed turn = %q", got)
	}
	waitFor(t, func() bool { return provider.callCount() == 2 }, "no reconnect after stream drop")

	sess2.FinalsCh <- types.Transcript{Text: "better today", IsFinal: true, SpeechFinal: true, Confidence: 0.9}
	waitFor(t, func() bool { return len(tail.finals()) == 2 }, "reconnected session not relaying")

	// A second loss is terminal for recognition, not for the call.
	close(sess2.PartialsCh)
	close(sess2.FinalsCh)
	endTask(t, task, errCh)

	if got := provider.callCount(); got != 2 {
		t.Errorf("StartStream calls = %d, want 2", got)
	}
}

func TestTranscriberClosesSessionOnEnd(t *testing.T) {
	sess := newMockSession()
	task, tail, errCh := startTranscriber(t, TranscriberConfig{Provider: &sttmock.Provider{Session: sess}})

	sess.PartialsCh <- types.Transcript{Text: "hi"}
	waitFor(t, func() bool { return len(tail.partials()) == 1 }, "session not open")

	endTask(t, task, errCh)
	if sess.CloseCallCount != 1 {
		t.Errorf("session Close calls = %d, want 1", sess.CloseCallCount)
	}
}

func TestTranscriberSurvivesProviderOutage(t *testing.T) {
	provider := &sttmock.Provider{StartStreamErr: errors.New("stt down")}
	task, tail, errCh := startTranscriber(t, TranscriberConfig{Provider: provider})

	// The call carries on without recognition: audio is dropped, the end
	// drains cleanly.
	task.Inject(pipeline.Head, pipeline.AudioFrame{Audio: types.AudioFrame{
		Data:       make([]byte, 320),
		SampleRate: 8000,
		Channels:   1,
	}}, pipeline.Downstream)

	endTask(t, task, errCh)
	if got := len(tail.finals()); got != 0 {
		t.Errorf("finals = %d from a dead provider", got)
	}
}
