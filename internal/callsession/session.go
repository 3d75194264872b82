// Package callsession holds the mutable per-call state shared by the
// observers, the director, the responder, and the post-call flow.
//
// The session is written from two places: processors running on the pipeline
// task's dispatch goroutine, and the director's background analysis task. A
// single mutex with short critical sections covers both; every mutation is
// either a last-writer-wins scalar or an append-only bounded list.
package callsession

import (
	"strings"
	"sync"
	"time"

	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/types"
)

// CallKind classifies why the call exists.
type CallKind string

const (
	// KindCheckIn is a conversational call with no specific reminder to
	// deliver, either inbound from the senior or caregiver-initiated.
	KindCheckIn CallKind = "check-in"

	// KindReminder is an outbound call fired to deliver a due reminder.
	KindReminder CallKind = "reminder"

	// KindScheduled is a routine outbound call placed by the scheduler.
	KindScheduled CallKind = "scheduled"
)

// Bounded-list capacities. The transcript ring backs both the director's
// rolling context and the post-call persistence, so it is the largest.
const (
	TranscriptCap = 40
	TopicsCap     = 10
	QuestionsCap  = 8
	AdviceCap     = 8
)

// ReminderResponse records how the senior reacted to a delivered reminder.
type ReminderResponse struct {
	// Status is acknowledged or confirmed.
	Status memory.DeliveryStatus

	// Text is what the senior said.
	Text string

	// At is when the response was recognised.
	At time.Time
}

// TurnStats accumulates per-turn latency between the senior's final
// transcript and the first assistant audio reaching the wire.
type TurnStats struct {
	Turns        int
	TotalLatency time.Duration
	MaxLatency   time.Duration
}

// Session is one call's shared state.
type Session struct {
	seniorID    string
	kind        CallKind
	startedAt   time.Time
	maxDuration time.Duration

	mu                 sync.Mutex
	callSID            string
	pendingReminders   []memory.Reminder
	remindersDelivered []string
	deliveredKeys      map[string]struct{}
	goodbyeInProgress  bool
	donnaSaidGoodbye   bool
	seniorSaidGoodbye  bool
	callEnding         bool
	terminationReason  string
	reminderResponse   *ReminderResponse
	transcript         []types.TranscriptEntry
	topics             []string
	questions          []string
	advice             []string
	turnTokenBudget    int
	stats              TurnStats
	turnStartedAt      time.Time
}

// New creates a session for one call. callSID may be empty for inbound calls
// until the media stream's start event supplies it.
func New(callSID, seniorID string, kind CallKind, maxDuration time.Duration) *Session {
	return &Session{
		callSID:       callSID,
		seniorID:      seniorID,
		kind:          kind,
		startedAt:     time.Now(),
		maxDuration:   maxDuration,
		deliveredKeys: make(map[string]struct{}),
	}
}

// SeniorID returns the senior this call belongs to.
func (s *Session) SeniorID() string { return s.seniorID }

// Kind returns the call kind.
func (s *Session) Kind() CallKind { return s.kind }

// StartedAt returns the session creation time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// MaxDuration returns the configured call duration cap.
func (s *Session) MaxDuration() time.Duration { return s.maxDuration }

// Elapsed returns how long the call has been running.
func (s *Session) Elapsed() time.Duration { return time.Since(s.startedAt) }

// CallSID returns the provider call identifier.
func (s *Session) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

// SetCallSID stores the provider call identifier once the media stream
// reveals it.
func (s *Session) SetCallSID(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sid != "" {
		s.callSID = sid
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Reminders
// ─────────────────────────────────────────────────────────────────────────────

// SetPendingReminders replaces the reminders this call may deliver.
func (s *Session) SetPendingReminders(rems []memory.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingReminders = append([]memory.Reminder(nil), rems...)
}

// PendingReminders returns all reminders attached to the call.
func (s *Session) PendingReminders() []memory.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Reminder(nil), s.pendingReminders...)
}

// RemainingReminders returns pending reminders not yet marked delivered,
// matching by id or case-folded title.
func (s *Session) RemainingReminders() []memory.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.Reminder
	for _, r := range s.pendingReminders {
		if _, ok := s.deliveredKeys[deliveredKey(r.ID)]; ok {
			continue
		}
		if _, ok := s.deliveredKeys[deliveredKey(r.Title)]; ok {
			continue
		}
		out = append(out, r)
	}
	return out
}

// MarkReminderDelivered records that a reminder was spoken. The set only
// grows: a title or id already present is not added again, so a reminder is
// never delivered twice within one call.
func (s *Session) MarkReminderDelivered(titleOrID string) {
	key := deliveredKey(titleOrID)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveredKeys[key]; ok {
		return
	}
	s.deliveredKeys[key] = struct{}{}
	s.remindersDelivered = append(s.remindersDelivered, titleOrID)
}

// RemindersDelivered returns what was delivered, in delivery order.
func (s *Session) RemindersDelivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.remindersDelivered...)
}

// SetReminderResponse records the senior's reaction. Upgrades only: a
// confirmed response is never downgraded back to acknowledged.
func (s *Session) SetReminderResponse(resp ReminderResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reminderResponse != nil &&
		s.reminderResponse.Status == memory.DeliveryConfirmed &&
		resp.Status != memory.DeliveryConfirmed {
		return
	}
	s.reminderResponse = &resp
}

// ReminderResponse returns the recorded reaction, or nil.
func (s *Session) ReminderResponse() *ReminderResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reminderResponse == nil {
		return nil
	}
	cp := *s.reminderResponse
	return &cp
}

func deliveredKey(titleOrID string) string {
	return strings.ToLower(strings.TrimSpace(titleOrID))
}

// ─────────────────────────────────────────────────────────────────────────────
// Goodbye and termination flags
// ─────────────────────────────────────────────────────────────────────────────

// BeginGoodbye marks that the call is winding down towards a scheduled end.
func (s *Session) BeginGoodbye() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goodbyeInProgress = true
	s.callEnding = true
}

// CancelGoodbye clears the goodbye and call-ending flags; the barge-in path
// calls it when the senior keeps talking after a goodbye.
func (s *Session) CancelGoodbye() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goodbyeInProgress = false
	s.callEnding = false
}

// GoodbyeInProgress reports whether a goodbye window is open.
func (s *Session) GoodbyeInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goodbyeInProgress
}

// MarkDonnaGoodbye records that the assistant said goodbye.
func (s *Session) MarkDonnaGoodbye() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.donnaSaidGoodbye = true
}

// MarkSeniorGoodbye records that the senior said goodbye.
func (s *Session) MarkSeniorGoodbye() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seniorSaidGoodbye = true
}

// Goodbyes reports who has said goodbye so far.
func (s *Session) Goodbyes() (donna, senior bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.donnaSaidGoodbye, s.seniorSaidGoodbye
}

// CallEnding reports whether an end has been initiated.
func (s *Session) CallEnding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callEnding
}

// SetTerminationReason records why the call ended. Last writer wins; the end
// frame observed at drain is the authoritative source.
func (s *Session) SetTerminationReason(reason string) {
	if reason == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminationReason = reason
}

// TerminationReason returns the recorded reason, or "".
func (s *Session) TerminationReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminationReason
}

// ─────────────────────────────────────────────────────────────────────────────
// Transcript and conversation artefacts
// ─────────────────────────────────────────────────────────────────────────────

// AppendTurn records one conversation turn. The transcript is a ring: beyond
// TranscriptCap entries the oldest turn is dropped.
func (s *Session) AppendTurn(role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, types.TranscriptEntry{
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	})
	if len(s.transcript) > TranscriptCap {
		s.transcript = s.transcript[len(s.transcript)-TranscriptCap:]
	}
}

// Transcript returns a copy of the transcript ring, oldest first.
func (s *Session) Transcript() []types.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TranscriptEntry(nil), s.transcript...)
}

// AddTopic records a discussed topic. Case-insensitive dedupe, FIFO beyond
// TopicsCap.
func (s *Session) AddTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = appendBounded(s.topics, topic, TopicsCap)
}

// Topics returns the discussed topics.
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

// LastTopic returns the most recently discussed topic, or "".
func (s *Session) LastTopic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.topics) == 0 {
		return ""
	}
	return s.topics[len(s.topics)-1]
}

// AddQuestion records a question the assistant asked.
func (s *Session) AddQuestion(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions = appendBounded(s.questions, q, QuestionsCap)
}

// Questions returns the questions asked.
func (s *Session) Questions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.questions...)
}

// AddAdvice records an advice clause the assistant gave.
func (s *Session) AddAdvice(a string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advice = appendBounded(s.advice, a, AdviceCap)
}

// Advice returns the advice given.
func (s *Session) Advice() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.advice...)
}

// appendBounded appends item to list with case-insensitive dedupe and FIFO
// eviction at limit entries.
func appendBounded(list []string, item string, limit int) []string {
	item = strings.TrimSpace(item)
	if item == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, item) {
			return list
		}
	}
	list = append(list, item)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

// SetTurnTokenBudget stores the observer's response-length recommendation
// for the upcoming generation.
func (s *Session) SetTurnTokenBudget(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnTokenBudget = n
}

// TurnTokenBudget returns the current response-length recommendation, or 0
// when none has been set.
func (s *Session) TurnTokenBudget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnTokenBudget
}

// ─────────────────────────────────────────────────────────────────────────────
// Turn metrics
// ─────────────────────────────────────────────────────────────────────────────

// BeginTurn marks the arrival of a final user transcript; the next first
// audio closes the latency sample.
func (s *Session) BeginTurn(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnStartedAt = at
}

// NoteFirstAudio closes the open latency sample, if any. Repeated calls
// within one turn are no-ops.
func (s *Session) NoteFirstAudio(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnStartedAt.IsZero() {
		return
	}
	latency := at.Sub(s.turnStartedAt)
	s.turnStartedAt = time.Time{}
	if latency < 0 {
		return
	}
	s.stats.Turns++
	s.stats.TotalLatency += latency
	if latency > s.stats.MaxLatency {
		s.stats.MaxLatency = latency
	}
}

// Stats returns the accumulated turn metrics.
func (s *Session) Stats() TurnStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
