// Package memory defines the persistence layer of the Donna companion platform.
//
// Storage is organised around the senior:
//
//   - Long-term memories ([MemoryStore]): embedding-indexed facts, preferences,
//     events, concerns, and relationships extracted from calls, with
//     similarity-based deduplication and time-decayed importance ranking.
//   - Reminders and deliveries ([ReminderStore] / [DeliveryStore]): scheduled
//     prompts and the lifecycle of getting each occurrence acknowledged.
//   - Daily context ([DailyContextStore]): what already happened on today's
//     calls, so a second call does not repeat the first.
//   - Conversations and analyses ([ConversationStore] / [AnalysisStore]): the
//     per-call record and its post-call review.
//
// All interfaces are public so that external packages can supply alternative
// storage backends (Postgres/pgvector, in-memory, …) without depending on
// donna internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"

	"github.com/agewell-labs/donna/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Long-term memories
// ─────────────────────────────────────────────────────────────────────────────

// MemoryStore persists and retrieves long-term memories. Callers are
// responsible for producing embeddings; [Manager] wraps a MemoryStore
// together with an embedding provider for text-level use.
type MemoryStore interface {
	// Remember stores a memory, deduplicating against the senior's existing
	// records: when the nearest same-senior memory has cosine similarity of
	// at least DedupThreshold, no new row is written; instead, if the
	// incoming importance exceeds the stored one, the existing record's
	// importance and last-accessed time are refreshed. Returns true when a
	// new record was inserted.
	//
	// rec.ID, rec.SeniorID, rec.Content, and rec.Embedding must be set.
	// A zero rec.CreatedAt defaults to now.
	Remember(ctx context.Context, rec Record) (bool, error)

	// Search returns up to topK of the senior's memories with cosine
	// similarity to embedding of at least minSimilarity, most similar
	// first. Returned records have their last-accessed time and access
	// count updated as a side effect.
	Search(ctx context.Context, seniorID string, embedding []float32, topK int, minSimilarity float64) ([]SearchResult, error)

	// Critical returns the senior's must-know memories: every record that is
	// a concern or has importance of at least CriticalImportance, highest
	// importance first, capped at limit. A limit of 0 means the
	// implementation may apply its own default.
	Critical(ctx context.Context, seniorID string, limit int) ([]Record, error)

	// Background returns the senior's general-context memories ranked by
	// effective importance (see [Record.EffectiveImportance]), highest
	// first, dropping records scoring below minEffective and capping the
	// result at limit.
	Background(ctx context.Context, seniorID string, minEffective float64, limit int) ([]Record, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Seniors
// ─────────────────────────────────────────────────────────────────────────────

// SeniorStore reads senior profiles. Provisioning happens outside the call
// runtime, so the interface is read-only.
type SeniorStore interface {
	// Get returns the senior with the given ID, or (nil, nil) when no such
	// senior exists.
	Get(ctx context.Context, id string) (*Senior, error)

	// ByPhone returns the senior whose phone number matches the given one
	// after NormalizePhone on both sides, or (nil, nil) when none matches.
	// Used to identify inbound callers.
	ByPhone(ctx context.Context, phone string) (*Senior, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Reminders and deliveries
// ─────────────────────────────────────────────────────────────────────────────

// ReminderStore reads reminder definitions. Like seniors, reminders are
// provisioned outside the call runtime; the scheduler and the call-context
// assembler only read them. Delivery state lives in [DeliveryStore].
type ReminderStore interface {
	// Get returns the reminder with the given ID, or (nil, nil) when no
	// such reminder exists.
	Get(ctx context.Context, id string) (*Reminder, error)

	// ListActive returns every active reminder across all seniors. The
	// scheduler sweeps this on each tick to find due occurrences.
	ListActive(ctx context.Context) ([]Reminder, error)

	// ListForSenior returns the senior's active reminders.
	ListForSenior(ctx context.Context, seniorID string) ([]Reminder, error)
}

// DeliveryStore persists the delivery lifecycle of reminder occurrences.
// One Delivery row covers all attempts at one occurrence; see
// [DeliveryStatus] for the state machine.
type DeliveryStore interface {
	// Create records a first delivery attempt. d.ID, d.ReminderID,
	// d.SeniorID, and d.ScheduledFor must be set; a zero d.Status defaults
	// to DeliveryDelivered and a zero d.AttemptCount to 1.
	Create(ctx context.Context, d Delivery) error

	// Get returns the delivery with the given ID, or (nil, nil) when no
	// such delivery exists.
	Get(ctx context.Context, id string) (*Delivery, error)

	// ForInstance returns the deliveries recorded for one reminder
	// occurrence, newest first. The scheduler's due check treats the
	// occurrence as handled when any exist in a non-retryable state.
	ForInstance(ctx context.Context, reminderID string, scheduledFor time.Time) ([]Delivery, error)

	// Transition moves a delivery to a new status, recording the senior's
	// response when given. Transitions out of terminal states are refused
	// with an error, so a confirmed delivery can never regress.
	Transition(ctx context.Context, id string, to DeliveryStatus, userResponse string) error

	// Redeliver marks a retry attempt: the delivery returns to
	// DeliveryDelivered on the given call, its attempt count is
	// incremented, and its delivered-at time is refreshed. Only valid from
	// DeliveryRetryPending; any other state is refused with an error.
	Redeliver(ctx context.Context, id, callID string) error

	// PendingForCall returns the deliveries spoken on the given call that
	// are still in DeliveryDelivered, i.e. awaiting their end-of-call
	// outcome.
	PendingForCall(ctx context.Context, callID string) ([]Delivery, error)

	// StaleRetries returns deliveries sitting in DeliveryRetryPending whose
	// last state change is older than the given instant. The scheduler
	// re-fires these.
	StaleRetries(ctx context.Context, olderThan time.Time) ([]Delivery, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Daily call context
// ─────────────────────────────────────────────────────────────────────────────

// DailyContextStore accumulates per-day call context. Each completed call
// appends one entry; reads aggregate the whole day.
type DailyContextStore interface {
	// AppendCall records one call's contribution to the senior's day.
	// entry.SeniorID, entry.Day, and entry.CallID must be set.
	AppendCall(ctx context.Context, entry DailyEntry) error

	// Today aggregates all entries for the senior on the given day
	// (senior-local, "2006-01-02"), deduplicating topics, reminders,
	// advice, and key moments in first-seen order. Returns (nil, nil) when
	// the day has no entries yet.
	Today(ctx context.Context, seniorID, day string) (*DailyContext, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversations and analyses
// ─────────────────────────────────────────────────────────────────────────────

// ConversationStore persists per-call conversation records.
type ConversationStore interface {
	// Create records a conversation at call start, in ConversationActive.
	// conv.ID, conv.SeniorID, and conv.CallID must be set; a zero
	// conv.StartedAt defaults to now.
	Create(ctx context.Context, conv Conversation) error

	// Complete closes the conversation identified by its call ID: status
	// and transcript are stored, the end time is recorded, and the duration
	// is derived from the stored start time. Completing an unknown call ID
	// is an error.
	Complete(ctx context.Context, callID string, endedAt time.Time, status ConversationStatus, transcript []types.TranscriptEntry) error

	// ByCall returns the conversation for the given call ID, or (nil, nil)
	// when no such conversation exists.
	ByCall(ctx context.Context, callID string) (*Conversation, error)
}

// AnalysisStore persists post-call analyses.
type AnalysisStore interface {
	// Save stores an analysis. a.ID, a.ConversationID, and a.SeniorID must
	// be set; a zero a.CreatedAt defaults to now. Saving twice for the same
	// conversation replaces the earlier analysis.
	Save(ctx context.Context, a Analysis) error

	// ByConversation returns the analysis for the given conversation, or
	// (nil, nil) when none has been stored.
	ByConversation(ctx context.Context, conversationID string) (*Analysis, error)
}
