// Package callcontext assembles everything Donna must know before speaking
// with a senior: the profile, tiered long-term memories, what earlier calls
// today already covered, and the reminders this call should work in.
//
// Assembly happens once per call, before the media stream goes live: on
// scheduler prefetch for outbound calls, on the webhook handshake for
// inbound ones. Use [FormatSystemPrompt] to render the assembled
// [CallContext] into the conversation model's system prompt, and [Stash] to
// carry a prefetched bundle across the gap between placing a call and its
// media stream connecting.
package callcontext

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agewell-labs/donna/pkg/memory"
)

// Tier caps and floors for one context build.
const (
	// CriticalLimit caps tier 1, the must-know memories.
	CriticalLimit = 3

	// ContextualLimit caps tier 2, the topic memories added per
	// [Assembler.Contextual] call.
	ContextualLimit = 3

	// BackgroundLimit caps tier 3, the general-context memories.
	BackgroundLimit = 5

	// BackgroundMinEffective is the effective-importance floor for tier 3.
	BackgroundMinEffective = 50

	// DefaultSearchThreshold is the cosine-similarity floor for tier-2
	// topic search.
	DefaultSearchThreshold = 0.65
)

// ErrUnknownSenior is returned by [Assembler.Assemble] when no senior with
// the given ID exists.
var ErrUnknownSenior = errors.New("callcontext: unknown senior")

// MemoryReader is the slice of the memory layer the assembler reads.
// [memory.Manager] satisfies it.
type MemoryReader interface {
	Critical(ctx context.Context, seniorID string, limit int) ([]memory.Record, error)
	Background(ctx context.Context, seniorID string, minEffective float64, limit int) ([]memory.Record, error)
	Search(ctx context.Context, seniorID, query string, topK int, minSimilarity float64) ([]memory.SearchResult, error)
}

// CallContext is the assembled context for one call. The exported fields
// are set once by [Assembler.Assemble] and read-only afterwards; tier-2
// records accumulate behind the mutex as [Assembler.Contextual] runs
// mid-call.
type CallContext struct {
	// Senior is the profile of the person on the call.
	Senior *memory.Senior

	// Critical holds tier 1: concerns and top-importance memories.
	Critical []memory.Record

	// Background holds tier 3: general context ranked by effective
	// importance, grouped by type when rendered.
	Background []memory.Record

	// Today aggregates the senior's earlier calls on their current local
	// day. Nil when this is the first call of the day.
	Today *memory.DailyContext

	// Reminders are the reminders this call may deliver.
	Reminders []memory.Reminder

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration

	mu         sync.Mutex
	contextual []memory.Record
	seen       map[string]struct{}
}

// ContextualRecords returns the tier-2 memories accumulated so far.
func (cc *CallContext) ContextualRecords() []memory.Record {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return append([]memory.Record(nil), cc.contextual...)
}

func (cc *CallContext) seenCount() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.seen)
}

// MemoryLines flattens the assembled tiers into plain content lines,
// critical first, capped at limit. The director's briefing consumes these.
func (cc *CallContext) MemoryLines(limit int) []string {
	var lines []string
	for _, r := range cc.Critical {
		if len(lines) == limit {
			return lines
		}
		lines = append(lines, r.Content)
	}
	for _, r := range cc.Background {
		if len(lines) == limit {
			return lines
		}
		lines = append(lines, r.Content)
	}
	return lines
}

// Assembler builds [CallContext] values from the memory layer.
type Assembler struct {
	seniors   memory.SeniorStore
	memories  MemoryReader
	daily     memory.DailyContextStore
	reminders memory.ReminderStore

	searchThreshold float64
	clock           func() time.Time
}

// Option configures an [Assembler].
type Option func(*Assembler)

// WithSearchThreshold overrides the tier-2 similarity floor.
func WithSearchThreshold(v float64) Option {
	return func(a *Assembler) {
		if v > 0 {
			a.searchThreshold = v
		}
	}
}

// WithClock substitutes the time source used to derive the senior's local
// day.
func WithClock(clock func() time.Time) Option {
	return func(a *Assembler) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAssembler builds an assembler over the given stores. reminders may be
// nil when every caller supplies reminders through [AssembleOptions].
func NewAssembler(seniors memory.SeniorStore, memories MemoryReader, daily memory.DailyContextStore, reminders memory.ReminderStore, opts ...Option) *Assembler {
	a := &Assembler{
		seniors:         seniors,
		memories:        memories,
		daily:           daily,
		reminders:       reminders,
		searchThreshold: DefaultSearchThreshold,
		clock:           time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AssembleOptions adjusts one build.
type AssembleOptions struct {
	// Reminders, when non-nil, are attached to the context as-is instead
	// of querying the reminder store. The scheduler passes the due
	// reminder it is firing here.
	Reminders []memory.Reminder
}

// Assemble builds the context for one call.
//
// The profile is fetched first: an unknown senior fails the build before
// any memory queries run, and the profile's timezone keys the daily-context
// day. The remaining fetches (critical tier, background tier, daily
// context, reminders) then run concurrently via errgroup; any failure
// aborts the build with a wrapped error.
func (a *Assembler) Assemble(ctx context.Context, seniorID string, opts AssembleOptions) (*CallContext, error) {
	start := time.Now()

	senior, err := a.seniors.Get(ctx, seniorID)
	if err != nil {
		return nil, fmt.Errorf("call context: senior profile %q: %w", seniorID, err)
	}
	if senior == nil {
		return nil, fmt.Errorf("call context: senior %q: %w", seniorID, ErrUnknownSenior)
	}

	cc := &CallContext{
		Senior: senior,
		seen:   make(map[string]struct{}),
	}
	now := a.clock()
	today := memory.LocalDay(now, senior.Location())

	var background []memory.Record
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		recs, err := a.memories.Critical(egCtx, seniorID, CriticalLimit)
		if err != nil {
			return fmt.Errorf("call context: critical memories: %w", err)
		}
		cc.Critical = recs
		return nil
	})

	eg.Go(func() error {
		// Over-fetched: rows that also rank critical are suppressed below.
		recs, err := a.memories.Background(egCtx, seniorID, BackgroundMinEffective, BackgroundLimit+CriticalLimit)
		if err != nil {
			return fmt.Errorf("call context: background memories: %w", err)
		}
		background = recs
		return nil
	})

	eg.Go(func() error {
		day, err := a.daily.Today(egCtx, seniorID, today)
		if err != nil {
			return fmt.Errorf("call context: daily context for %s: %w", today, err)
		}
		cc.Today = day
		return nil
	})

	if opts.Reminders != nil {
		cc.Reminders = append([]memory.Reminder(nil), opts.Reminders...)
	} else if a.reminders != nil {
		eg.Go(func() error {
			rems, err := a.reminders.ListForSenior(egCtx, seniorID)
			if err != nil {
				return fmt.Errorf("call context: reminders: %w", err)
			}
			cc.Reminders = relevantToday(rems, now, senior.Location())
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Cross-tier suppression: a record already surfaced as critical never
	// reappears as background within the same build.
	for _, r := range cc.Critical {
		cc.seen[r.ID] = struct{}{}
	}
	for _, r := range background {
		if len(cc.Background) == BackgroundLimit {
			break
		}
		if _, dup := cc.seen[r.ID]; dup {
			continue
		}
		cc.seen[r.ID] = struct{}{}
		cc.Background = append(cc.Background, r)
	}

	cc.AssemblyDuration = time.Since(start)
	return cc, nil
}

// Contextual runs tier 2: a semantic search against the current
// conversation topic. Records already surfaced by an earlier tier, or by an
// earlier Contextual call within the same build, are suppressed so the
// model never sees the same memory twice. Returns at most ContextualLimit
// fresh records; an empty topic returns nothing.
func (a *Assembler) Contextual(ctx context.Context, cc *CallContext, topic string) ([]memory.Record, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" || cc == nil || cc.Senior == nil {
		return nil, nil
	}

	// Headroom for rows the suppression filter will drop.
	topK := ContextualLimit + cc.seenCount()
	results, err := a.memories.Search(ctx, cc.Senior.ID, topic, topK, a.searchThreshold)
	if err != nil {
		return nil, fmt.Errorf("call context: topic search %q: %w", topic, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	var fresh []memory.Record
	for _, res := range results {
		if len(fresh) == ContextualLimit {
			break
		}
		if _, dup := cc.seen[res.Record.ID]; dup {
			continue
		}
		cc.seen[res.Record.ID] = struct{}{}
		fresh = append(fresh, res.Record)
	}
	cc.contextual = append(cc.contextual, fresh...)
	return fresh, nil
}

// relevantToday filters the senior's reminders to the ones worth raising on
// a call today: recurring reminders always qualify, one-shot reminders only
// once their day has arrived. Overdue one-shots stay until resolved.
func relevantToday(rems []memory.Reminder, now time.Time, loc *time.Location) []memory.Reminder {
	y, m, d := now.In(loc).Date()
	endOfDay := time.Date(y, m, d, 23, 59, 59, 0, loc)

	var out []memory.Reminder
	for _, r := range rems {
		if r.Recurring || !r.ScheduledTime.After(endOfDay) {
			out = append(out, r)
		}
	}
	return out
}
