// Package postcall finalises an ended call.
//
// The pipeline's exit hands the session here, and a fixed sequence runs:
// the conversation record is closed, the call is reviewed by a model, the
// review is saved, long-term memories are extracted from the transcript,
// the daily context gets the call's contribution, reminder deliveries
// settle into their end-of-call state, and the prefetch stash is cleared.
//
// Every stage is isolated: a failure is logged and the remaining stages
// still run, so a flaky model or a slow store never loses the parts of
// finalisation that do not depend on it.
package postcall

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agewell-labs/donna/internal/callcontext"
	"github.com/agewell-labs/donna/internal/callsession"
	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/provider/llm"
)

// DefaultAnalysisTimeout bounds each model call made during finalisation.
const DefaultAnalysisTimeout = 60 * time.Second

// keyMomentsCap bounds how many review observations carry into the daily
// context.
const keyMomentsCap = 6

// Config configures an [Orchestrator].
type Config struct {
	// Conversations closes the per-call record.
	Conversations memory.ConversationStore

	// Analyses stores the model's call review.
	Analyses memory.AnalysisStore

	// Memories receives extracted long-term memories (deduped by the store).
	Memories *memory.Manager

	// Daily receives the call's contribution to the senior's day.
	Daily memory.DailyContextStore

	// Deliveries settles reminder deliveries spoken on the call.
	Deliveries memory.DeliveryStore

	// Stash is cleared of the call's prefetched bundle.
	Stash *callcontext.Stash

	// Provider runs the review and extraction completions.
	Provider llm.Provider

	// AnalysisTimeout overrides [DefaultAnalysisTimeout] when positive.
	AnalysisTimeout time.Duration

	// Now overrides the clock. Defaults to time.Now; tests pin it.
	Now func() time.Time
}

// Orchestrator runs the post-call sequence. Safe for concurrent use; each
// call's finalisation is independent.
type Orchestrator struct {
	conversations memory.ConversationStore
	analyses      memory.AnalysisStore
	memories      *memory.Manager
	daily         memory.DailyContextStore
	deliveries    memory.DeliveryStore
	stash         *callcontext.Stash
	provider      llm.Provider
	timeout       time.Duration
	now           func() time.Time
}

// New creates an [Orchestrator] with the given configuration.
func New(cfg Config) *Orchestrator {
	timeout := cfg.AnalysisTimeout
	if timeout <= 0 {
		timeout = DefaultAnalysisTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		conversations: cfg.Conversations,
		analyses:      cfg.Analyses,
		memories:      cfg.Memories,
		daily:         cfg.Daily,
		deliveries:    cfg.Deliveries,
		stash:         cfg.Stash,
		provider:      cfg.Provider,
		timeout:       timeout,
		now:           now,
	}
}

// Finalize runs the full post-call sequence for one ended call. senior may
// be nil when the caller was never identified; timezone-dependent stages
// then use UTC. Finalize never returns an error and never panics outward:
// the call is over, and whatever can still be salvaged is.
func (o *Orchestrator) Finalize(ctx context.Context, sess *callsession.Session, senior *memory.Senior, status memory.ConversationStatus) {
	callID := sess.CallSID()
	endedAt := o.now()
	transcript := sess.Transcript()

	slog.Info("post-call finalisation started",
		"call_sid", callID,
		"senior_id", sess.SeniorID(),
		"status", status,
		"turns", len(transcript),
	)

	step(callID, "complete conversation", func() error {
		return o.conversations.Complete(ctx, callID, endedAt, status, transcript)
	})

	var rev *review
	step(callID, "review call", func() error {
		var err error
		rev, err = o.review(ctx, sess, transcript, endedAt.Sub(sess.StartedAt()))
		if err != nil {
			// The default review keeps the later stages fed; the senior's
			// day must not lose its record because a model was down.
			rev = defaultReview(sess, len(transcript))
			return err
		}
		return nil
	})
	if rev == nil {
		rev = defaultReview(sess, len(transcript))
	}

	step(callID, "save analysis", func() error {
		conv, err := o.conversations.ByCall(ctx, callID)
		if err != nil {
			return fmt.Errorf("conversation lookup: %w", err)
		}
		if conv == nil {
			return fmt.Errorf("no conversation recorded for call %s", callID)
		}
		return o.analyses.Save(ctx, memory.Analysis{
			ID:                   uuid.NewString(),
			ConversationID:       conv.ID,
			SeniorID:             sess.SeniorID(),
			Summary:              rev.Summary,
			Topics:               rev.Topics,
			EngagementScore:      rev.EngagementScore,
			Concerns:             rev.Concerns,
			PositiveObservations: rev.PositiveObservations,
			FollowUpSuggestions:  rev.FollowUpSuggestions,
			CallQuality:          rev.CallQuality,
			CreatedAt:            endedAt,
		})
	})

	step(callID, "extract memories", func() error {
		return o.extract(ctx, sess.SeniorID(), callID, transcript)
	})

	step(callID, "append daily context", func() error {
		loc := time.UTC
		if senior != nil {
			loc = senior.Location()
		}
		return o.daily.AppendCall(ctx, memory.DailyEntry{
			SeniorID:           sess.SeniorID(),
			Day:                memory.LocalDay(endedAt, loc),
			CallID:             callID,
			Topics:             sess.Topics(),
			RemindersDelivered: sess.RemindersDelivered(),
			AdviceGiven:        sess.Advice(),
			KeyMoments:         keyMoments(rev),
			Summary:            rev.Summary,
		})
	})

	step(callID, "finalise deliveries", func() error {
		return o.finalizeDeliveries(ctx, sess, callID)
	})

	step(callID, "clear prefetch", func() error {
		o.stash.Drop(callID)
		return nil
	})

	slog.Info("post-call finalisation done", "call_sid", callID)
}

// finalizeDeliveries settles every reminder spoken on the call that is
// still awaiting its outcome. An acknowledgment recognised during the call
// decides the state; otherwise the attempt budget does.
func (o *Orchestrator) finalizeDeliveries(ctx context.Context, sess *callsession.Session, callID string) error {
	pending, err := o.deliveries.PendingForCall(ctx, callID)
	if err != nil {
		return fmt.Errorf("pending deliveries: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	resp := sess.ReminderResponse()
	var lastErr error
	for _, d := range pending {
		to := memory.DeliveryRetryPending
		text := ""
		switch {
		case resp != nil && resp.Status != "":
			to = resp.Status
			text = resp.Text
		case d.AttemptCount >= memory.MaxDeliveryAttempts:
			to = memory.DeliveryMaxAttempts
		}
		if err := o.deliveries.Transition(ctx, d.ID, to, text); err != nil {
			lastErr = err
			slog.Warn("delivery transition failed",
				"call_sid", callID, "delivery_id", d.ID, "to", to, "err", err)
			continue
		}
		slog.Info("delivery settled",
			"call_sid", callID, "delivery_id", d.ID, "to", to)
	}
	return lastErr
}

// keyMoments folds the review's notable observations into the daily
// context, concerns first.
func keyMoments(rev *review) []string {
	moments := make([]string, 0, len(rev.Concerns)+len(rev.PositiveObservations))
	moments = append(moments, rev.Concerns...)
	moments = append(moments, rev.PositiveObservations...)
	if len(moments) > keyMomentsCap {
		moments = moments[:keyMomentsCap]
	}
	return moments
}

// step runs one finalisation stage. Failures and panics are logged and
// swallowed: no stage may prevent the ones after it.
func step(callID, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("post-call step panicked", "step", name, "call_sid", callID, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		slog.Warn("post-call step failed", "step", name, "call_sid", callID, "err", err)
	}
}
