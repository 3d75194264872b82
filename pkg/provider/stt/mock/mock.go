// Package mock is an in-memory stt.Provider and stt.SessionHandle for tests.
//
// Tests drive recognition by sending Transcript values on a Session's
// channels, standing in for a live recogniser:
//
//	sess := &mock.Session{
//	    PartialsCh: make(chan types.Transcript, 1),
//	    FinalsCh:   make(chan types.Transcript, 1),
//	}
//	p := &mock.Provider{Session: sess}
package mock

import (
	"context"
	"sync"

	"github.com/agewell-labs/donna/pkg/provider/stt"
	"github.com/agewell-labs/donna/pkg/types"
)

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// StartStreamCall is one recorded StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider implements stt.Provider, handing out a configured Session.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. When nil, each call returns a
	// fresh Session with buffered channels.
	Session stt.SessionHandle

	// StartStreamErr, when set, makes StartStream fail.
	StartStreamErr error

	// StartStreamCalls records StartStream invocations in order, including
	// ones that failed with StartStreamErr.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session or StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})

	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{
		PartialsCh: make(chan types.Transcript, 16),
		FinalsCh:   make(chan types.Transcript, 16),
	}, nil
}

// Session implements stt.SessionHandle. The test owns both channels: it
// sends the transcripts the consumer should see and closes them when the
// feigned recogniser is done.
type Session struct {
	mu sync.Mutex

	// PartialsCh is handed out by Partials.
	PartialsCh chan types.Transcript

	// FinalsCh is handed out by Finals.
	FinalsCh chan types.Transcript

	// SendAudioErr, SetKeywordsErr, and CloseErr are returned by the
	// corresponding methods. Leave nil for success.
	SendAudioErr   error
	SetKeywordsErr error
	CloseErr       error

	// LastKeywords holds the boost list from the most recent SetKeywords.
	LastKeywords []types.KeywordBoost

	// CloseCallCount is the number of Close invocations. Read it only
	// after the consumer has shut down.
	CloseCallCount int

	audioSends int
}

// SendAudio counts the call and returns SendAudioErr.
func (s *Session) SendAudio(_ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioSends++
	return s.SendAudioErr
}

// SendAudioCallCount reports how many chunks were sent. Safe to poll while
// the consumer is still pumping audio.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioSends
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan types.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan types.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

// SetKeywords stores the list in LastKeywords and returns SetKeywordsErr.
func (s *Session) SetKeywords(keywords []types.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastKeywords = append([]types.KeywordBoost(nil), keywords...)
	return s.SetKeywordsErr
}

// Close counts the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}
