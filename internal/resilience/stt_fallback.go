package resilience

import (
	"context"

	"github.com/agewell-labs/donna/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] backed by a failover chain. A call whose
// transcription stream cannot be opened against the primary is carried by
// the next backend; without a transcript Donna is deaf for the whole call.
type STTFallback struct {
	chain *chain[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback wraps primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{chain: newChain(primary, primaryName, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.chain.add(name, provider)
}

// StartStream opens a transcription session against the first healthy
// backend. Failover covers stream setup only; an established session that
// later breaks is the caller's to handle.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return try(f.chain, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
