package callcontext

import (
	"sync"
	"time"

	"github.com/agewell-labs/donna/pkg/memory"
)

// Prepared is one prefetched call bundle: everything the media-stream
// handshake needs the instant the call connects.
type Prepared struct {
	// Context is the assembled call context.
	Context *CallContext

	// SystemPrompt is the rendered conversation prompt.
	SystemPrompt string

	// Greeting is the opening line to synthesize as soon as audio is up.
	Greeting string

	// Kind records why the call was placed.
	Kind memory.CallType

	// CreatedAt is when the bundle was stashed; [Stash.Sweep] evicts on it.
	CreatedAt time.Time
}

// Stash carries prepared bundles across the gap between placing an outbound
// call and its media stream connecting. Entries are keyed by provider call
// SID or, for caregiver-triggered manual calls where no SID exists yet, by
// the destination phone number. Every lookup is one-time-consume: the
// handshake takes the entry, and a retry of the same call builds fresh.
type Stash struct {
	mu      sync.Mutex
	byCall  map[string]*Prepared
	byPhone map[string]*Prepared
}

// NewStash returns an empty stash.
func NewStash() *Stash {
	return &Stash{
		byCall:  make(map[string]*Prepared),
		byPhone: make(map[string]*Prepared),
	}
}

// PutCall stashes p under the provider call SID.
func (s *Stash) PutCall(callSID string, p *Prepared) {
	if callSID == "" || p == nil {
		return
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCall[callSID] = p
}

// PutPhone stashes p under the destination phone number. The number is
// normalized with [memory.NormalizePhone] so the webhook's caller-id format
// does not have to match the caregiver's input.
func (s *Stash) PutPhone(phone string, p *Prepared) {
	key := memory.NormalizePhone(phone)
	if key == "" || p == nil {
		return
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPhone[key] = p
}

// TakeCall consumes the entry stashed under callSID, if any.
func (s *Stash) TakeCall(callSID string) (*Prepared, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byCall[callSID]
	if ok {
		delete(s.byCall, callSID)
	}
	return p, ok
}

// TakePhone consumes the entry stashed under the normalized phone number,
// if any.
func (s *Stash) TakePhone(phone string) (*Prepared, bool) {
	key := memory.NormalizePhone(phone)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byPhone[key]
	if ok {
		delete(s.byPhone, key)
	}
	return p, ok
}

// Drop removes the entry for callSID without returning it. Post-call
// cleanup calls it so a bundle for a call that never connected does not
// linger.
func (s *Stash) Drop(callSID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byCall, callSID)
}

// Sweep evicts entries older than maxAge and reports how many were
// removed. The scheduler runs it on its poll tick; a bundle that old
// belongs to a call that never connected.
func (s *Stash) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, p := range s.byCall {
		if p.CreatedAt.Before(cutoff) {
			delete(s.byCall, k)
			n++
		}
	}
	for k, p := range s.byPhone {
		if p.CreatedAt.Before(cutoff) {
			delete(s.byPhone, k)
			n++
		}
	}
	return n
}
