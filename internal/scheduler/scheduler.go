// Package scheduler places Donna's outbound reminder calls.
//
// A poll loop sweeps active reminders on a fixed interval and fires the due
// ones. Firing is prefetch-first: the call context is assembled, rendered,
// and stashed before the dial, so the media handshake has everything ready
// the instant the senior answers. A delivery row then tracks the occurrence
// through acknowledgment or retry; an occurrence that ends a call without
// acknowledgment is re-fired once after a cool-down, and two unacknowledged
// attempts close it.
//
// The scheduler also serves caregiver-triggered calls: it pre-builds the
// same bundle keyed by the destination phone number, since no call SID
// exists until the caregiver's dial goes out.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agewell-labs/donna/internal/callcontext"
	"github.com/agewell-labs/donna/pkg/memory"
)

const (
	// DefaultInterval is the poll period when [Config.Interval] is zero.
	DefaultInterval = time.Minute

	// retryDelay is how long a retry_pending delivery waits before the
	// sweep re-fires it.
	retryDelay = 30 * time.Minute

	// fireTimeout bounds one firing sequence: context assembly plus the
	// REST dial.
	fireTimeout = 30 * time.Second

	// stashTTL is how long an unconsumed prefetched bundle survives. A
	// bundle this old belongs to a call that was never answered.
	stashTTL = 10 * time.Minute
)

// Dialer places outbound calls and returns the provider's call SID.
// *telephony.Caller satisfies it.
type Dialer interface {
	Place(ctx context.Context, to, answerURL string) (string, error)
}

// Config configures a [Scheduler].
type Config struct {
	// Reminders is swept for due occurrences on every tick.
	Reminders memory.ReminderStore

	// Deliveries records and advances occurrence state.
	Deliveries memory.DeliveryStore

	// Seniors resolves the callee profile (phone number, timezone).
	Seniors memory.SeniorStore

	// Assembler builds the per-call context before the dial.
	Assembler *callcontext.Assembler

	// Stash receives prepared bundles for the media handshake to consume.
	Stash *callcontext.Stash

	// Dialer places the outbound calls.
	Dialer Dialer

	// AnswerURL is the webhook the telephony provider fetches call
	// instructions from once the callee picks up.
	AnswerURL string

	// Persona overrides the system-prompt persona. Empty uses the default.
	Persona string

	// Interval is the poll period. Defaults to [DefaultInterval] if zero.
	Interval time.Duration

	// Now overrides the clock. Defaults to time.Now; tests pin it.
	Now func() time.Time
}

// Scheduler runs the reminder poll loop.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	reminders  memory.ReminderStore
	deliveries memory.DeliveryStore
	seniors    memory.SeniorStore
	assembler  *callcontext.Assembler
	stash      *callcontext.Stash
	dialer     Dialer
	answerURL  string
	persona    string
	interval   time.Duration
	now        func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a [Scheduler] with the given configuration.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		reminders:  cfg.Reminders,
		deliveries: cfg.Deliveries,
		seniors:    cfg.Seniors,
		assembler:  cfg.Assembler,
		stash:      cfg.Stash,
		dialer:     cfg.Dialer,
		answerURL:  cfg.AnswerURL,
		persona:    cfg.Persona,
		interval:   interval,
		now:        now,
		done:       make(chan struct{}),
	}
}

// Start begins the poll loop in a background goroutine. The loop runs until
// [Scheduler.Stop] is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop halts the poll loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	// Catch anything already due at startup before settling into the tick.
	s.PollOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.PollOnce(ctx)
		}
	}
}

// PollOnce runs one sweep immediately: due reminders fire, stale retries
// re-fire, and expired prefetch bundles are evicted.
func (s *Scheduler) PollOnce(ctx context.Context) {
	now := s.now()

	rems, err := s.reminders.ListActive(ctx)
	if err != nil {
		slog.Warn("reminder sweep failed", "err", err)
		rems = nil
	}
	for _, r := range rems {
		s.consider(ctx, r, now)
	}

	stale, err := s.deliveries.StaleRetries(ctx, now.Add(-retryDelay))
	if err != nil {
		slog.Warn("stale retry sweep failed", "err", err)
		stale = nil
	}
	for _, d := range stale {
		s.retry(ctx, d)
	}

	if n := s.stash.Sweep(stashTTL); n > 0 {
		slog.Debug("expired prefetch bundles evicted", "count", n)
	}
}

// consider fires r if one of its occurrences is due and unhandled.
func (s *Scheduler) consider(ctx context.Context, r memory.Reminder, now time.Time) {
	senior, err := s.seniors.Get(ctx, r.SeniorID)
	if err != nil {
		slog.Warn("senior lookup failed", "reminder_id", r.ID, "senior_id", r.SeniorID, "err", err)
		return
	}
	if senior == nil {
		slog.Warn("reminder points at unknown senior", "reminder_id", r.ID, "senior_id", r.SeniorID)
		return
	}

	scheduledFor, due := occurrence(r, now, senior.Location())
	if !due {
		return
	}

	existing, err := s.deliveries.ForInstance(ctx, r.ID, scheduledFor)
	if err != nil {
		slog.Warn("delivery history lookup failed", "reminder_id", r.ID, "err", err)
		return
	}
	if len(existing) > 0 {
		// The occurrence already has a delivery row: settled, in flight on
		// a live call, or waiting out the retry delay. The stale-retry
		// sweep owns re-firing.
		return
	}

	s.fire(ctx, r, senior, scheduledFor, nil)
}

// retry re-fires a delivery that has sat in retry_pending past the delay.
func (s *Scheduler) retry(ctx context.Context, d memory.Delivery) {
	if d.AttemptCount >= memory.MaxDeliveryAttempts {
		// The end-of-call transition normally settles exhausted rows;
		// closing here keeps a missed one out of every future sweep.
		if err := s.deliveries.Transition(ctx, d.ID, memory.DeliveryMaxAttempts, ""); err != nil {
			slog.Warn("exhausted delivery not closed", "delivery_id", d.ID, "err", err)
		}
		return
	}

	r, err := s.reminders.Get(ctx, d.ReminderID)
	if err != nil {
		slog.Warn("reminder lookup failed", "delivery_id", d.ID, "reminder_id", d.ReminderID, "err", err)
		return
	}
	if r == nil || !r.Active {
		// The reminder was deactivated while the retry waited. There is no
		// cancelled state, so the attempt budget closes the occurrence.
		slog.Info("retry closed, reminder inactive", "delivery_id", d.ID, "reminder_id", d.ReminderID)
		if err := s.deliveries.Transition(ctx, d.ID, memory.DeliveryMaxAttempts, ""); err != nil {
			slog.Warn("inactive-reminder delivery not closed", "delivery_id", d.ID, "err", err)
		}
		return
	}

	senior, err := s.seniors.Get(ctx, d.SeniorID)
	if err != nil {
		slog.Warn("senior lookup failed", "delivery_id", d.ID, "senior_id", d.SeniorID, "err", err)
		return
	}
	if senior == nil {
		slog.Warn("delivery points at unknown senior", "delivery_id", d.ID, "senior_id", d.SeniorID)
		return
	}

	s.fire(ctx, *r, senior, d.ScheduledFor, &d)
}

// fire runs one firing sequence: assemble and stash the call bundle, place
// the outbound call, then record the delivery. retryOf is nil on a first
// attempt and the existing row on a re-fire.
func (s *Scheduler) fire(ctx context.Context, r memory.Reminder, senior *memory.Senior, scheduledFor time.Time, retryOf *memory.Delivery) {
	ctx, cancel := context.WithTimeout(ctx, fireTimeout)
	defer cancel()

	// The due reminder is pinned into the context so the prompt's reminder
	// block covers exactly this occurrence.
	cc, err := s.assembler.Assemble(ctx, r.SeniorID, callcontext.AssembleOptions{
		Reminders: []memory.Reminder{r},
	})
	if err != nil {
		slog.Warn("reminder context assembly failed", "reminder_id", r.ID, "senior_id", r.SeniorID, "err", err)
		return
	}
	prepared := &callcontext.Prepared{
		Context:      cc,
		SystemPrompt: callcontext.FormatSystemPrompt(cc, s.persona),
		Greeting:     callcontext.Greeting(cc, s.now()),
		Kind:         memory.CallReminder,
	}

	callSID, err := s.dialer.Place(ctx, senior.Phone, s.answerURL)
	if err != nil {
		// No delivery row was written, so the occurrence stays due and the
		// next tick tries again.
		slog.Warn("reminder call failed to place", "reminder_id", r.ID, "senior_id", r.SeniorID, "err", err)
		return
	}
	s.stash.PutCall(callSID, prepared)

	if retryOf != nil {
		if err := s.deliveries.Redeliver(ctx, retryOf.ID, callSID); err != nil {
			slog.Error("delivery retry not recorded", "delivery_id", retryOf.ID, "call_sid", callSID, "err", err)
			return
		}
		slog.Info("reminder re-fired",
			"reminder_id", r.ID,
			"delivery_id", retryOf.ID,
			"senior_id", r.SeniorID,
			"call_sid", callSID,
			"attempt", retryOf.AttemptCount+1,
		)
		return
	}

	d := memory.Delivery{
		ID:           uuid.NewString(),
		ReminderID:   r.ID,
		SeniorID:     r.SeniorID,
		ScheduledFor: scheduledFor,
		CallID:       callSID,
		Status:       memory.DeliveryDelivered,
		AttemptCount: 1,
		DeliveredAt:  s.now(),
	}
	if err := s.deliveries.Create(ctx, d); err != nil {
		// The call is already live; without the row the occurrence would
		// fire again next tick, so this is worth an error-level line.
		slog.Error("delivery not recorded", "delivery_id", d.ID, "reminder_id", r.ID, "call_sid", callSID, "err", err)
		return
	}
	slog.Info("reminder fired",
		"reminder_id", r.ID,
		"delivery_id", d.ID,
		"senior_id", r.SeniorID,
		"call_sid", callSID,
	)
}

// PrepareManualCall pre-builds the call bundle for a caregiver-triggered
// call to the senior and stashes it under the senior's phone number, where
// the media handshake finds it once the call connects. Returns the phone
// number to dial.
func (s *Scheduler) PrepareManualCall(ctx context.Context, seniorID string) (string, error) {
	senior, err := s.seniors.Get(ctx, seniorID)
	if err != nil {
		return "", fmt.Errorf("scheduler: senior %q: %w", seniorID, err)
	}
	if senior == nil {
		return "", fmt.Errorf("scheduler: senior %q: unknown", seniorID)
	}

	cc, err := s.assembler.Assemble(ctx, seniorID, callcontext.AssembleOptions{})
	if err != nil {
		return "", fmt.Errorf("scheduler: manual-call context: %w", err)
	}
	s.stash.PutPhone(senior.Phone, &callcontext.Prepared{
		Context:      cc,
		SystemPrompt: callcontext.FormatSystemPrompt(cc, s.persona),
		Greeting:     callcontext.Greeting(cc, s.now()),
		Kind:         memory.CallOutbound,
	})
	slog.Info("manual call prepared", "senior_id", seniorID)
	return senior.Phone, nil
}
