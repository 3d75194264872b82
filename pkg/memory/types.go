package memory

import (
	"math"
	"strings"
	"time"

	"github.com/agewell-labs/donna/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Long-term memories
// ─────────────────────────────────────────────────────────────────────────────

// MemoryType classifies what kind of knowledge a memory record holds.
type MemoryType string

// Known memory types.
const (
	// MemoryFact is a durable piece of information ("grandson Tommy lives in Denver").
	MemoryFact MemoryType = "fact"

	// MemoryPreference captures likes and dislikes ("prefers morning calls").
	MemoryPreference MemoryType = "preference"

	// MemoryEvent records something that happened or will happen ("doctor visit on Tuesday").
	MemoryEvent MemoryType = "event"

	// MemoryConcern flags something that needs attention ("mentioned dizziness twice").
	// Concerns always surface in call context regardless of importance score.
	MemoryConcern MemoryType = "concern"

	// MemoryRelationship describes people in the senior's life ("Sarah is her daughter").
	MemoryRelationship MemoryType = "relationship"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryFact, MemoryPreference, MemoryEvent, MemoryConcern, MemoryRelationship:
		return true
	}
	return false
}

// Tuning constants for the memory layer. Implementations and callers share
// these so that storage-side SQL and in-process scoring agree.
const (
	// DedupThreshold is the cosine similarity at or above which two memories of
	// the same senior are considered duplicates on write.
	DedupThreshold = 0.90

	// CriticalImportance is the importance score at or above which a memory is
	// treated as critical regardless of its type.
	CriticalImportance = 80

	// DecayHalfLifeDays is the half-life of a memory's importance: effective
	// importance halves for every this many days since the memory was created.
	DecayHalfLifeDays = 30.0

	// RecencyBoostWindow is how recently a memory must have been accessed for
	// its access count to contribute a boost to effective importance.
	RecencyBoostWindow = 7 * 24 * time.Hour

	// RecencyBoostCap bounds the access-count boost.
	RecencyBoostCap = 10
)

// Record is a single long-term memory about a senior, extracted from a call
// and stored with its embedding for semantic recall on later calls.
type Record struct {
	// ID is the unique identifier for this memory (e.g., a UUID).
	ID string

	// SeniorID is the senior this memory belongs to. Memories are never
	// shared or searched across seniors.
	SeniorID string

	// Type classifies the memory. Must be one of the MemoryType constants.
	Type MemoryType

	// Content is the memory itself, phrased as a short standalone statement.
	Content string

	// Embedding is the vector representation of Content.
	// Dimension must match the store configuration (e.g., 1536 for OpenAI
	// text-embedding-3-small).
	Embedding []float32

	// Importance scores how much this memory matters, 0–100.
	Importance float64

	// CreatedAt is when the memory was first stored.
	CreatedAt time.Time

	// LastAccessedAt is when the memory last appeared in a search result.
	LastAccessedAt time.Time

	// AccessCount is how many times the memory has appeared in search results.
	AccessCount int

	// SourceCallID identifies the call the memory was extracted from.
	SourceCallID string
}

// EffectiveImportance is the stored importance adjusted for age and recent
// use: the score decays with a DecayHalfLifeDays half-life, and memories
// accessed within RecencyBoostWindow earn back up to RecencyBoostCap points
// from their access count. This is the ranking key for background memories.
func (r Record) EffectiveImportance(now time.Time) float64 {
	ageDays := now.Sub(r.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	eff := r.Importance * math.Pow(0.5, ageDays/DecayHalfLifeDays)
	if !r.LastAccessedAt.IsZero() && now.Sub(r.LastAccessedAt) < RecencyBoostWindow {
		boost := float64(r.AccessCount)
		if boost > RecencyBoostCap {
			boost = RecencyBoostCap
		}
		eff += boost
	}
	return eff
}

// SearchResult pairs a retrieved memory with its cosine similarity to the
// query embedding. Higher Similarity values indicate closer matches.
type SearchResult struct {
	// Record is the retrieved memory.
	Record Record

	// Similarity is the cosine similarity to the query embedding, 0–1.
	Similarity float64
}

// ─────────────────────────────────────────────────────────────────────────────
// Seniors
// ─────────────────────────────────────────────────────────────────────────────

// Senior is the profile of one person the platform calls. Profiles are
// provisioned outside the call path; the runtime only reads them.
type Senior struct {
	// ID is the unique identifier for this senior (e.g., a UUID).
	ID string

	// FirstName is what Donna calls the senior.
	FirstName string

	// Phone is the senior's phone number in the format calls are placed to
	// (E.164 where available). Inbound matching normalizes both sides with
	// NormalizePhone.
	Phone string

	// Timezone is the senior's IANA timezone name (e.g., "America/Chicago").
	// Drives reminder scheduling and the daily-context calendar day.
	Timezone string

	// Interests lists conversation topics the senior enjoys.
	Interests []string

	// MedicalNotes holds free-form health context for the conversation agent.
	MedicalNotes string

	// Family lists short descriptors of family members
	// (e.g., "daughter Sarah in Portland").
	Family []string

	// CreatedAt is when the profile was provisioned.
	CreatedAt time.Time
}

// Location resolves the senior's timezone, falling back to UTC when the
// field is empty or not a valid IANA name.
func (s *Senior) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NormalizePhone reduces a phone number to its significant trailing digits:
// everything but digits is stripped, and numbers longer than ten digits keep
// only the last ten. This makes "+1 (555) 123-4567" and "5551234567" compare
// equal regardless of country code and formatting.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// ─────────────────────────────────────────────────────────────────────────────
// Reminders and deliveries
// ─────────────────────────────────────────────────────────────────────────────

// ReminderType classifies what a reminder is for.
type ReminderType string

// Known reminder types.
const (
	ReminderMedication  ReminderType = "medication"
	ReminderAppointment ReminderType = "appointment"
	ReminderCustom      ReminderType = "custom"
)

// Reminder is a scheduled prompt to be delivered to a senior by phone.
type Reminder struct {
	// ID is the unique identifier for this reminder (e.g., a UUID).
	ID string

	// SeniorID is the senior this reminder belongs to.
	SeniorID string

	// Type classifies the reminder.
	Type ReminderType

	// Title is the short reminder line spoken on the call.
	Title string

	// Description adds optional detail ("the white pill with breakfast").
	Description string

	// ScheduledTime is when the reminder fires. For one-shot reminders this
	// is the full instant; for recurring reminders only the clock time
	// (hh:mm, interpreted in the senior's timezone) is meaningful and the
	// date portion is ignored.
	ScheduledTime time.Time

	// Recurring marks a reminder that fires every day at the scheduled
	// clock time. Each calendar day is a fresh delivery instance.
	Recurring bool

	// Active gates whether the scheduler considers this reminder at all.
	Active bool

	// CreatedAt is when the reminder was provisioned.
	CreatedAt time.Time
}

// DeliveryStatus tracks a reminder delivery instance through its lifecycle.
type DeliveryStatus string

// Delivery states. A delivery is created in DeliveryDelivered when the
// reminder is spoken on a call, then settles into one of the terminal states
// or DeliveryRetryPending when the call ends.
const (
	// DeliveryDelivered means the reminder was spoken on a call that has not
	// yet ended; the outcome is still unknown.
	DeliveryDelivered DeliveryStatus = "delivered"

	// DeliveryAcknowledged means the senior heard the reminder ("okay, I will").
	DeliveryAcknowledged DeliveryStatus = "acknowledged"

	// DeliveryConfirmed means the senior confirmed the action was done
	// ("I already took it").
	DeliveryConfirmed DeliveryStatus = "confirmed"

	// DeliveryRetryPending means the call ended without acknowledgment and
	// another attempt is allowed.
	DeliveryRetryPending DeliveryStatus = "retry_pending"

	// DeliveryMaxAttempts means the attempt budget is exhausted without
	// acknowledgment. No further calls are placed for this instance.
	DeliveryMaxAttempts DeliveryStatus = "max_attempts"
)

// Terminal reports whether s is an end state. Terminal deliveries never
// transition again, and their instance is never re-fired.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case DeliveryAcknowledged, DeliveryConfirmed, DeliveryMaxAttempts:
		return true
	}
	return false
}

// MaxDeliveryAttempts is the number of calls placed for one reminder
// instance before it is marked DeliveryMaxAttempts.
const MaxDeliveryAttempts = 2

// Delivery is one attempt sequence at getting a reminder instance to a
// senior. Recurring reminders produce a fresh Delivery per calendar day;
// retries of the same instance update the existing row rather than
// creating a new one.
type Delivery struct {
	// ID is the unique identifier for this delivery (e.g., a UUID).
	ID string

	// ReminderID is the reminder being delivered.
	ReminderID string

	// SeniorID is the senior being reminded (denormalized from the reminder).
	SeniorID string

	// ScheduledFor identifies the instance: the instant this occurrence was
	// due. Together with ReminderID it is the instance identity that due
	// checks test against.
	ScheduledFor time.Time

	// CallID is the call the reminder was most recently spoken on.
	CallID string

	// Status is the current lifecycle state.
	Status DeliveryStatus

	// AttemptCount is how many calls have been placed for this instance.
	AttemptCount int

	// UserResponse is what the senior said when the reminder was delivered,
	// recorded at call end when available.
	UserResponse string

	// DeliveredAt is when the reminder was most recently spoken.
	DeliveredAt time.Time

	// CreatedAt is when the first attempt was made.
	CreatedAt time.Time

	// UpdatedAt is when the row last changed state.
	UpdatedAt time.Time
}

// ─────────────────────────────────────────────────────────────────────────────
// Daily call context
// ─────────────────────────────────────────────────────────────────────────────

// DailyEntry is one call's contribution to a senior's daily context,
// appended by the post-call flow.
type DailyEntry struct {
	// SeniorID is the senior the call was with.
	SeniorID string

	// Day is the senior-local calendar day in "2006-01-02" form.
	// Use LocalDay to compute it.
	Day string

	// CallID is the call this entry came from.
	CallID string

	// Topics are the subjects discussed on the call.
	Topics []string

	// RemindersDelivered lists reminder titles spoken on the call.
	RemindersDelivered []string

	// AdviceGiven lists advice Donna offered.
	AdviceGiven []string

	// KeyMoments lists notable exchanges worth carrying into later calls.
	KeyMoments []string

	// Summary is a short synopsis of the call.
	Summary string
}

// DailyContext is the aggregate of all of a senior's calls on one calendar
// day, deduplicated, as assembled for the next call. A second call on the
// same day uses it to avoid repeating topics and reminders.
type DailyContext struct {
	// SeniorID is the senior the context belongs to.
	SeniorID string

	// Day is the senior-local calendar day in "2006-01-02" form.
	Day string

	// CallCount is how many calls contributed to this aggregate.
	CallCount int

	// Topics are all subjects discussed today, deduplicated in first-seen order.
	Topics []string

	// RemindersDelivered lists reminder titles already spoken today.
	RemindersDelivered []string

	// AdviceGiven lists advice already offered today.
	AdviceGiven []string

	// KeyMoments lists today's notable exchanges.
	KeyMoments []string

	// Summaries holds one synopsis per call, in call order.
	Summaries []string
}

// LocalDay formats t as a calendar day in loc, in the "2006-01-02" form the
// daily-context stores key on.
func LocalDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversations and analyses
// ─────────────────────────────────────────────────────────────────────────────

// CallType records how a call came to be.
type CallType string

// Known call types.
const (
	// CallInbound is a call the senior placed to Donna.
	CallInbound CallType = "inbound"

	// CallOutbound is a companionship call Donna placed.
	CallOutbound CallType = "outbound"

	// CallReminder is an outbound call placed to deliver a due reminder.
	CallReminder CallType = "reminder"
)

// ConversationStatus tracks a conversation record's lifecycle.
type ConversationStatus string

// Conversation states.
const (
	// ConversationActive means the call is still in progress.
	ConversationActive ConversationStatus = "active"

	// ConversationCompleted means the call ended normally.
	ConversationCompleted ConversationStatus = "completed"

	// ConversationFailed means the call ended abnormally (carrier error,
	// no answer, stream failure).
	ConversationFailed ConversationStatus = "failed"
)

// Conversation is the persistent record of one call.
type Conversation struct {
	// ID is the unique identifier for this conversation (e.g., a UUID).
	ID string

	// SeniorID is the senior on the call.
	SeniorID string

	// CallID is the telephony provider's call identifier. Unique per call;
	// the post-call flow keys on it.
	CallID string

	// Type records how the call was initiated.
	Type CallType

	// Status is the current lifecycle state.
	Status ConversationStatus

	// StartedAt is when the media stream opened.
	StartedAt time.Time

	// EndedAt is when the call ended. Zero while active.
	EndedAt time.Time

	// DurationSeconds is the call length. Zero while active.
	DurationSeconds int

	// Transcript is the full turn-by-turn record, persisted at call end.
	Transcript []types.TranscriptEntry
}

// Analysis is the structured result of the post-call review of one
// conversation, produced by the language model and stored for caregivers
// and future context.
type Analysis struct {
	// ID is the unique identifier for this analysis (e.g., a UUID).
	ID string

	// ConversationID is the conversation analysed.
	ConversationID string

	// SeniorID is the senior on the call (denormalized for querying).
	SeniorID string

	// Summary is a short synopsis of the call.
	Summary string

	// Topics are the subjects discussed.
	Topics []string

	// EngagementScore rates how engaged the senior was, 0–100.
	EngagementScore int

	// Concerns lists anything that needs caregiver attention.
	Concerns []string

	// PositiveObservations lists encouraging signs from the call.
	PositiveObservations []string

	// FollowUpSuggestions lists topics or actions for the next call.
	FollowUpSuggestions []string

	// CallQuality rates the technical quality of the call ("good",
	// "degraded", "poor").
	CallQuality string

	// CreatedAt is when the analysis was stored.
	CreatedAt time.Time
}
