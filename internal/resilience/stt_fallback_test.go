package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/agewell-labs/donna/pkg/provider/stt"
	sttmock "github.com/agewell-labs/donna/pkg/provider/stt/mock"
	"github.com/agewell-labs/donna/pkg/types"
)

func TestSTTFallbackPrefersPrimary(t *testing.T) {
	t.Parallel()

	sess := &sttmock.Session{
		PartialsCh: make(chan types.Transcript, 1),
		FinalsCh:   make(chan types.Transcript, 1),
	}
	primary := &sttmock.Provider{Session: sess}
	spare := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	fb.AddFallback("whisper", spare)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 8000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("StartStream() = %v, want nil", err)
	}
	if handle == nil {
		t.Fatal("StartStream() handle = nil")
	}
	if len(primary.StartStreamCalls) != 1 {
		t.Fatalf("primary streams = %d, want 1", len(primary.StartStreamCalls))
	}
	if len(spare.StartStreamCalls) != 0 {
		t.Fatalf("spare streams = %d, want 0", len(spare.StartStreamCalls))
	}
	_ = handle.Close()
}

func TestSTTFallbackFailsOver(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{StartStreamErr: errors.New("websocket refused")}
	spare := &sttmock.Provider{Session: &sttmock.Session{
		PartialsCh: make(chan types.Transcript, 1),
		FinalsCh:   make(chan types.Transcript, 1),
	}}

	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	fb.AddFallback("whisper", spare)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 8000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("StartStream() = %v, want nil", err)
	}
	if len(spare.StartStreamCalls) != 1 {
		t.Fatalf("spare streams = %d, want 1", len(spare.StartStreamCalls))
	}
	_ = handle.Close()
}

func TestSTTFallbackExhausted(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{StartStreamErr: errors.New("websocket refused")}
	spare := &sttmock.Provider{StartStreamErr: errors.New("model not loaded")}

	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	fb.AddFallback("whisper", spare)

	_, err := fb.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("StartStream() = %v, want ErrChainExhausted", err)
	}
}
