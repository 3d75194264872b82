package whisper_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/agewell-labs/donna/pkg/provider/stt"
	"github.com/agewell-labs/donna/pkg/provider/stt/whisper"
	"github.com/agewell-labs/donna/pkg/types"
)

// nativeModelPath skips the test unless WHISPER_MODEL_PATH points at a
// downloaded ggml model. Loading one takes real memory, so these run as
// opt-in integration tests.
func nativeModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set")
	}
	return p
}

func newNativeProvider(t *testing.T, opts ...whisper.NativeOption) *whisper.NativeProvider {
	t.Helper()
	p, err := whisper.NewNative(nativeModelPath(t), opts...)
	if err != nil {
		t.Fatalf("NewNative() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func openNativeSession(t *testing.T, p *whisper.NativeProvider) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestNewNativeRejectsBadModelPath(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("NewNative with an empty model path returned nil error")
	}
	if _, err := whisper.NewNative("/nonexistent/model.bin"); err == nil {
		t.Fatal("NewNative with a missing model file returned nil error")
	}
}

func TestNewNativeAppliesOptions(t *testing.T) {
	p, err := whisper.NewNative(nativeModelPath(t),
		whisper.WithNativeLanguage("en"),
		whisper.WithNativeSampleRate(8000),
		whisper.WithNativeSilenceThresholdMs(300),
		whisper.WithNativeMaxBufferDurationMs(5000),
	)
	if err != nil {
		t.Fatalf("NewNative() error = %v", err)
	}
	p.Close()
}

func TestNativeStartStreamProvidesChannels(t *testing.T) {
	p := newNativeProvider(t)
	h := openNativeSession(t, p)

	if h.Partials() == nil {
		t.Error("Partials() = nil")
	}
	if h.Finals() == nil {
		t.Error("Finals() = nil")
	}
}

func TestNativeStartStreamRejectsCancelledContext(t *testing.T) {
	p := newNativeProvider(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 8000, Channels: 1}); err == nil {
		t.Fatal("StartStream with a cancelled context returned nil error")
	}
}

func TestNativeSetKeywordsUnsupported(t *testing.T) {
	p := newNativeProvider(t)
	h := openNativeSession(t, p)

	if err := h.SetKeywords([]types.KeywordBoost{{Keyword: "Lisinopril", Boost: 5}}); err == nil {
		t.Fatal("SetKeywords returned nil error")
	}
}

func TestNativeSilenceProducesNoTranscript(t *testing.T) {
	p := newNativeProvider(t,
		whisper.WithNativeSilenceThresholdMs(50),
		whisper.WithNativeSampleRate(8000),
	)
	h := openNativeSession(t, p)

	_ = h.SendAudio(silencePCM(8000))
	time.Sleep(150 * time.Millisecond)
	h.Close()

	for tr := range h.Finals() {
		t.Errorf("unexpected transcript %q for silence-only audio", tr.Text)
	}
}

func TestNativeUtteranceProducesTranscript(t *testing.T) {
	p := newNativeProvider(t,
		whisper.WithNativeLanguage("en"),
		whisper.WithNativeSilenceThresholdMs(100),
		whisper.WithNativeSampleRate(8000),
	)
	h := openNativeSession(t, p)

	if err := h.SendAudio(speechPCM(800)); err != nil {
		t.Fatalf("SendAudio(speech) error = %v", err)
	}
	if err := h.SendAudio(silencePCM(800)); err != nil {
		t.Fatalf("SendAudio(silence) error = %v", err)
	}

	// A sine tone transcribes to model-dependent text, so only the transcript
	// flags are worth asserting.
	select {
	case tr := <-h.Finals():
		if !tr.IsFinal {
			t.Error("final transcript has IsFinal = false")
		}
		if !tr.SpeechFinal {
			t.Error("final transcript has SpeechFinal = false")
		}
		t.Logf("transcribed text: %q", tr.Text)
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for the final transcript")
	}
}

func TestNativeCloseIsIdempotent(t *testing.T) {
	p := newNativeProvider(t)
	h := openNativeSession(t, p)

	if err := h.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestNativeSendAudioAfterCloseFails(t *testing.T) {
	p := newNativeProvider(t)
	h := openNativeSession(t, p)
	h.Close()

	if err := h.SendAudio(speechPCM(100)); err == nil {
		t.Fatal("SendAudio after Close returned nil error")
	}
}

func TestNativeCloseClosesTranscriptChannels(t *testing.T) {
	p := newNativeProvider(t)
	h := openNativeSession(t, p)
	h.Close()

	for name, ch := range map[string]<-chan types.Transcript{
		"Partials": h.Partials(),
		"Finals":   h.Finals(),
	} {
		select {
		case _, open := <-ch:
			if open {
				t.Errorf("%s channel still open after Close", name)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for the %s channel to close", name)
		}
	}
}
