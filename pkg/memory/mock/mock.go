// Package mock provides in-memory test doubles for the memory layer interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. The call log is guarded
// by an internal [sync.Mutex]; response fields are plain fields and must be
// configured before the mock is handed to the code under test.
//
// Typical usage:
//
//	store := &mock.MemoryStore{}
//	store.CriticalResult = []memory.Record{{Content: "allergic to penicillin"}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Critical"); got != 1 {
//	    t.Errorf("expected 1 Critical call, got %d", got)
//	}
//
// Mocks whose callers need argument-dependent behaviour also expose an
// optional *Fn field; when set it takes precedence over the fixed Result/Err
// fields.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/types"
)

// Call is one recorded method invocation.
type Call struct {
	// Method names the interface method that was called.
	Method string

	// Args are the non-context arguments, in declaration order.
	Args []any
}

// recorder is the call log embedded in every mock below. Its exported
// methods are promoted onto the mock types.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

// record appends one invocation to the log.
func (r *recorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears the call log without altering response configuration.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// copySlice returns a defensive copy of a configured result slice. A nil
// configuration maps to the empty non-nil slice the store contracts promise.
func copySlice[T any](res []T) []T {
	out := make([]T, len(res))
	copy(out, res)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// MemoryStore mock
// ─────────────────────────────────────────────────────────────────────────────

// MemoryStore is a configurable test double for [memory.MemoryStore].
// All exported *Err fields default to nil (success); all exported *Result
// slice fields default to nil (empty slice returned).
type MemoryStore struct {
	recorder

	// RememberResult is the inserted flag returned by [MemoryStore.Remember].
	RememberResult bool

	// RememberErr is returned by [MemoryStore.Remember] when non-nil.
	RememberErr error

	// SearchResult is returned by [MemoryStore.Search].
	// When nil, Search returns an empty non-nil slice.
	SearchResult []memory.SearchResult

	// SearchErr is returned by [MemoryStore.Search] when non-nil.
	SearchErr error

	// CriticalResult is returned by [MemoryStore.Critical].
	// When nil, Critical returns an empty non-nil slice.
	CriticalResult []memory.Record

	// CriticalErr is returned by [MemoryStore.Critical] when non-nil.
	CriticalErr error

	// BackgroundResult is returned by [MemoryStore.Background].
	// When nil, Background returns an empty non-nil slice.
	BackgroundResult []memory.Record

	// BackgroundErr is returned by [MemoryStore.Background] when non-nil.
	BackgroundErr error
}

// Remember implements [memory.MemoryStore].
func (m *MemoryStore) Remember(_ context.Context, rec memory.Record) (bool, error) {
	m.record("Remember", rec)
	return m.RememberResult, m.RememberErr
}

// Search implements [memory.MemoryStore].
func (m *MemoryStore) Search(_ context.Context, seniorID string, embedding []float32, topK int, minSimilarity float64) ([]memory.SearchResult, error) {
	m.record("Search", seniorID, embedding, topK, minSimilarity)
	return copySlice(m.SearchResult), m.SearchErr
}

// Critical implements [memory.MemoryStore].
func (m *MemoryStore) Critical(_ context.Context, seniorID string, limit int) ([]memory.Record, error) {
	m.record("Critical", seniorID, limit)
	return copySlice(m.CriticalResult), m.CriticalErr
}

// Background implements [memory.MemoryStore].
func (m *MemoryStore) Background(_ context.Context, seniorID string, minEffective float64, limit int) ([]memory.Record, error) {
	m.record("Background", seniorID, minEffective, limit)
	return copySlice(m.BackgroundResult), m.BackgroundErr
}

// Ensure MemoryStore satisfies the interface at compile time.
var _ memory.MemoryStore = (*MemoryStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// SeniorStore mock
// ─────────────────────────────────────────────────────────────────────────────

// SeniorStore is a configurable test double for [memory.SeniorStore].
type SeniorStore struct {
	recorder

	// GetFn, when non-nil, handles [SeniorStore.Get] instead of the fixed
	// fields. Use it when a test spans several seniors.
	GetFn func(ctx context.Context, id string) (*memory.Senior, error)

	// GetResult is returned by [SeniorStore.Get] when GetFn is nil.
	GetResult *memory.Senior

	// GetErr is returned by [SeniorStore.Get] when non-nil and GetFn is nil.
	GetErr error

	// ByPhoneResult is returned by [SeniorStore.ByPhone].
	ByPhoneResult *memory.Senior

	// ByPhoneErr is returned by [SeniorStore.ByPhone] when non-nil.
	ByPhoneErr error
}

// Get implements [memory.SeniorStore].
func (m *SeniorStore) Get(ctx context.Context, id string) (*memory.Senior, error) {
	m.record("Get", id)
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	return m.GetResult, m.GetErr
}

// ByPhone implements [memory.SeniorStore].
func (m *SeniorStore) ByPhone(_ context.Context, phone string) (*memory.Senior, error) {
	m.record("ByPhone", phone)
	return m.ByPhoneResult, m.ByPhoneErr
}

// Ensure SeniorStore satisfies the interface at compile time.
var _ memory.SeniorStore = (*SeniorStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// ReminderStore mock
// ─────────────────────────────────────────────────────────────────────────────

// ReminderStore is a configurable test double for [memory.ReminderStore].
type ReminderStore struct {
	recorder

	// GetFn, when non-nil, handles [ReminderStore.Get] instead of the fixed
	// fields. Use it when a test spans several reminders.
	GetFn func(ctx context.Context, id string) (*memory.Reminder, error)

	// GetResult is returned by [ReminderStore.Get] when GetFn is nil.
	GetResult *memory.Reminder

	// GetErr is returned by [ReminderStore.Get] when non-nil and GetFn is nil.
	GetErr error

	// ListActiveResult is returned by [ReminderStore.ListActive].
	// When nil, ListActive returns an empty non-nil slice.
	ListActiveResult []memory.Reminder

	// ListActiveErr is returned by [ReminderStore.ListActive] when non-nil.
	ListActiveErr error

	// ListForSeniorResult is returned by [ReminderStore.ListForSenior].
	// When nil, ListForSenior returns an empty non-nil slice.
	ListForSeniorResult []memory.Reminder

	// ListForSeniorErr is returned by [ReminderStore.ListForSenior] when non-nil.
	ListForSeniorErr error
}

// Get implements [memory.ReminderStore].
func (m *ReminderStore) Get(ctx context.Context, id string) (*memory.Reminder, error) {
	m.record("Get", id)
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	return m.GetResult, m.GetErr
}

// ListActive implements [memory.ReminderStore].
func (m *ReminderStore) ListActive(_ context.Context) ([]memory.Reminder, error) {
	m.record("ListActive")
	return copySlice(m.ListActiveResult), m.ListActiveErr
}

// ListForSenior implements [memory.ReminderStore].
func (m *ReminderStore) ListForSenior(_ context.Context, seniorID string) ([]memory.Reminder, error) {
	m.record("ListForSenior", seniorID)
	return copySlice(m.ListForSeniorResult), m.ListForSeniorErr
}

// Ensure ReminderStore satisfies the interface at compile time.
var _ memory.ReminderStore = (*ReminderStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// DeliveryStore mock
// ─────────────────────────────────────────────────────────────────────────────

// DeliveryStore is a configurable test double for [memory.DeliveryStore].
type DeliveryStore struct {
	recorder

	// CreateErr is returned by [DeliveryStore.Create] when non-nil.
	CreateErr error

	// GetResult is returned by [DeliveryStore.Get].
	GetResult *memory.Delivery

	// GetErr is returned by [DeliveryStore.Get] when non-nil.
	GetErr error

	// ForInstanceFn, when non-nil, handles [DeliveryStore.ForInstance]
	// instead of the fixed fields. Use it when a scheduler test needs
	// different histories per reminder occurrence.
	ForInstanceFn func(ctx context.Context, reminderID string, scheduledFor time.Time) ([]memory.Delivery, error)

	// ForInstanceResult is returned by [DeliveryStore.ForInstance] when
	// ForInstanceFn is nil. When nil, an empty non-nil slice is returned.
	ForInstanceResult []memory.Delivery

	// ForInstanceErr is returned by [DeliveryStore.ForInstance] when
	// non-nil and ForInstanceFn is nil.
	ForInstanceErr error

	// TransitionErr is returned by [DeliveryStore.Transition] when non-nil.
	TransitionErr error

	// RedeliverErr is returned by [DeliveryStore.Redeliver] when non-nil.
	RedeliverErr error

	// PendingForCallResult is returned by [DeliveryStore.PendingForCall].
	// When nil, an empty non-nil slice is returned.
	PendingForCallResult []memory.Delivery

	// PendingForCallErr is returned by [DeliveryStore.PendingForCall] when non-nil.
	PendingForCallErr error

	// StaleRetriesResult is returned by [DeliveryStore.StaleRetries].
	// When nil, an empty non-nil slice is returned.
	StaleRetriesResult []memory.Delivery

	// StaleRetriesErr is returned by [DeliveryStore.StaleRetries] when non-nil.
	StaleRetriesErr error
}

// Create implements [memory.DeliveryStore].
func (m *DeliveryStore) Create(_ context.Context, d memory.Delivery) error {
	m.record("Create", d)
	return m.CreateErr
}

// Get implements [memory.DeliveryStore].
func (m *DeliveryStore) Get(_ context.Context, id string) (*memory.Delivery, error) {
	m.record("Get", id)
	return m.GetResult, m.GetErr
}

// ForInstance implements [memory.DeliveryStore].
func (m *DeliveryStore) ForInstance(ctx context.Context, reminderID string, scheduledFor time.Time) ([]memory.Delivery, error) {
	m.record("ForInstance", reminderID, scheduledFor)
	if m.ForInstanceFn != nil {
		return m.ForInstanceFn(ctx, reminderID, scheduledFor)
	}
	return copySlice(m.ForInstanceResult), m.ForInstanceErr
}

// Transition implements [memory.DeliveryStore].
func (m *DeliveryStore) Transition(_ context.Context, id string, to memory.DeliveryStatus, userResponse string) error {
	m.record("Transition", id, to, userResponse)
	return m.TransitionErr
}

// Redeliver implements [memory.DeliveryStore].
func (m *DeliveryStore) Redeliver(_ context.Context, id, callID string) error {
	m.record("Redeliver", id, callID)
	return m.RedeliverErr
}

// PendingForCall implements [memory.DeliveryStore].
func (m *DeliveryStore) PendingForCall(_ context.Context, callID string) ([]memory.Delivery, error) {
	m.record("PendingForCall", callID)
	return copySlice(m.PendingForCallResult), m.PendingForCallErr
}

// StaleRetries implements [memory.DeliveryStore].
func (m *DeliveryStore) StaleRetries(_ context.Context, olderThan time.Time) ([]memory.Delivery, error) {
	m.record("StaleRetries", olderThan)
	return copySlice(m.StaleRetriesResult), m.StaleRetriesErr
}

// Ensure DeliveryStore satisfies the interface at compile time.
var _ memory.DeliveryStore = (*DeliveryStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// DailyContextStore mock
// ─────────────────────────────────────────────────────────────────────────────

// DailyContextStore is a configurable test double for [memory.DailyContextStore].
type DailyContextStore struct {
	recorder

	// AppendCallErr is returned by [DailyContextStore.AppendCall] when non-nil.
	AppendCallErr error

	// TodayResult is returned by [DailyContextStore.Today]. A nil value
	// models a day with no calls yet.
	TodayResult *memory.DailyContext

	// TodayErr is returned by [DailyContextStore.Today] when non-nil.
	TodayErr error
}

// AppendCall implements [memory.DailyContextStore].
func (m *DailyContextStore) AppendCall(_ context.Context, entry memory.DailyEntry) error {
	m.record("AppendCall", entry)
	return m.AppendCallErr
}

// Today implements [memory.DailyContextStore].
func (m *DailyContextStore) Today(_ context.Context, seniorID, day string) (*memory.DailyContext, error) {
	m.record("Today", seniorID, day)
	return m.TodayResult, m.TodayErr
}

// Ensure DailyContextStore satisfies the interface at compile time.
var _ memory.DailyContextStore = (*DailyContextStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// ConversationStore mock
// ─────────────────────────────────────────────────────────────────────────────

// ConversationStore is a configurable test double for [memory.ConversationStore].
type ConversationStore struct {
	recorder

	// CreateErr is returned by [ConversationStore.Create] when non-nil.
	CreateErr error

	// CompleteErr is returned by [ConversationStore.Complete] when non-nil.
	CompleteErr error

	// ByCallResult is returned by [ConversationStore.ByCall].
	ByCallResult *memory.Conversation

	// ByCallErr is returned by [ConversationStore.ByCall] when non-nil.
	ByCallErr error
}

// Create implements [memory.ConversationStore].
func (m *ConversationStore) Create(_ context.Context, conv memory.Conversation) error {
	m.record("Create", conv)
	return m.CreateErr
}

// Complete implements [memory.ConversationStore].
func (m *ConversationStore) Complete(_ context.Context, callID string, endedAt time.Time, status memory.ConversationStatus, transcript []types.TranscriptEntry) error {
	m.record("Complete", callID, endedAt, status, transcript)
	return m.CompleteErr
}

// ByCall implements [memory.ConversationStore].
func (m *ConversationStore) ByCall(_ context.Context, callID string) (*memory.Conversation, error) {
	m.record("ByCall", callID)
	return m.ByCallResult, m.ByCallErr
}

// Ensure ConversationStore satisfies the interface at compile time.
var _ memory.ConversationStore = (*ConversationStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// AnalysisStore mock
// ─────────────────────────────────────────────────────────────────────────────

// AnalysisStore is a configurable test double for [memory.AnalysisStore].
type AnalysisStore struct {
	recorder

	// SaveErr is returned by [AnalysisStore.Save] when non-nil.
	SaveErr error

	// ByConversationResult is returned by [AnalysisStore.ByConversation].
	ByConversationResult *memory.Analysis

	// ByConversationErr is returned by [AnalysisStore.ByConversation] when non-nil.
	ByConversationErr error
}

// Save implements [memory.AnalysisStore].
func (m *AnalysisStore) Save(_ context.Context, a memory.Analysis) error {
	m.record("Save", a)
	return m.SaveErr
}

// ByConversation implements [memory.AnalysisStore].
func (m *AnalysisStore) ByConversation(_ context.Context, conversationID string) (*memory.Analysis, error) {
	m.record("ByConversation", conversationID)
	return m.ByConversationResult, m.ByConversationErr
}

// Ensure AnalysisStore satisfies the interface at compile time.
var _ memory.AnalysisStore = (*AnalysisStore)(nil)
