// Package director implements the second observation layer: a per-turn
// model analysis of where the conversation stands and where it should go.
//
// Unlike the synchronous observer, the director never blocks a turn. Each
// final transcript dispatches a background analysis; the result is cached
// and injected as a short coaching line ahead of the *next* turn. What the
// director sees in turn N shapes turn N+1.
//
// The director also owns the clock: past the soft ceiling it forces the
// conversation to wind down, and past the hard ceiling it schedules the end
// of the call outright.
package director

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agewell-labs/donna/internal/callsession"
	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/types"
)

// DefaultAnalysisTimeout bounds one background analysis call.
const DefaultAnalysisTimeout = 3 * time.Second

const (
	// hardLimitAfter is the elapsed time past which any new transcript
	// schedules the end of the call.
	hardLimitAfter = 12 * time.Minute

	// windDownAfter forces subsequent coaching into winding-down.
	windDownAfter = 9 * time.Minute

	// closingEndAfter ends the call shortly after the analysis itself says
	// the conversation reached its closing phase.
	closingEndAfter = 8 * time.Minute

	analysisMaxTokens   = 400
	analysisTemp        = 0.2
	maxBriefingMemories = 5
)

// Briefing is the per-call background assembled before the call connects:
// who the senior is, what earlier calls today covered, and the most
// relevant remembered facts.
type Briefing struct {
	Profile      string
	DailySummary string
	Memories     []string
}

// Director is the pipeline processor. The cached result and in-flight flag
// are shared with the background analysis goroutine under mu; the
// end-scheduling state belongs to the dispatch goroutine alone.
type Director struct {
	session  *callsession.Session
	provider llm.Provider
	briefing Briefing
	handle   *pipeline.Handle

	timeout time.Duration
	clock   func() time.Time

	hardEndDelay    time.Duration
	closingEndDelay time.Duration

	mu       sync.Mutex
	cached   *Result
	inFlight bool

	endScheduled bool
}

var (
	_ pipeline.Processor = (*Director)(nil)
	_ pipeline.Bindable  = (*Director)(nil)
)

// Option configures a [Director].
type Option func(*Director)

// WithAnalysisTimeout overrides the per-analysis deadline.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(dir *Director) {
		if d > 0 {
			dir.timeout = d
		}
	}
}

// WithClock substitutes the time source used for elapsed-call checks.
func WithClock(clock func() time.Time) Option {
	return func(dir *Director) {
		if clock != nil {
			dir.clock = clock
		}
	}
}

// New builds a director for one call.
func New(session *callsession.Session, provider llm.Provider, briefing Briefing, opts ...Option) *Director {
	d := &Director{
		session:         session,
		provider:        provider,
		briefing:        briefing,
		timeout:         DefaultAnalysisTimeout,
		clock:           time.Now,
		hardEndDelay:    3 * time.Second,
		closingEndDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements [pipeline.Processor].
func (d *Director) Name() string { return "director" }

// Bind implements [pipeline.Bindable].
func (d *Director) Bind(h *pipeline.Handle) { d.handle = h }

// Process implements [pipeline.Processor].
func (d *Director) Process(ctx context.Context, frame pipeline.Frame, dir pipeline.Direction, out *pipeline.Emitter) error {
	f, ok := frame.(pipeline.TranscriptionFrame)
	if !ok || dir != pipeline.Downstream || !f.Final {
		out.Forward(frame, dir)
		return nil
	}

	elapsed := d.clock().Sub(d.session.StartedAt())

	d.injectCached(elapsed, out)
	d.applyTimeFallbacks(elapsed)
	out.Downstream(f)
	d.dispatchAnalysis(ctx, elapsed)
	return nil
}

// injectCached emits the previous turn's coaching line, wrapped in guidance
// sentinels so an echo can never be spoken. Suppressed while a goodbye is
// in progress: coaching a call that is ending only confuses the model.
func (d *Director) injectCached(elapsed time.Duration, out *pipeline.Emitter) {
	res := d.snapshot()
	if res == nil || d.session.GoodbyeInProgress() {
		return
	}
	line := res.CompactLine(elapsed >= windDownAfter)
	if line == "" {
		return
	}
	out.Downstream(pipeline.MessagesFrame{
		Messages: []types.Message{{Role: "user", Content: "<guidance>" + line + "</guidance>"}},
		RunLLM:   false,
	})
}

// applyTimeFallbacks enforces the call ceilings regardless of what the
// analysis says. The scheduled end is deliberately not cancellable by
// barge-in; past the ceiling the call ends even if the senior keeps
// talking.
func (d *Director) applyTimeFallbacks(elapsed time.Duration) {
	if d.endScheduled || d.handle == nil {
		return
	}
	switch {
	case elapsed >= hardLimitAfter:
		d.endScheduled = true
		d.session.SetTerminationReason("hard_limit")
		d.handle.After(d.hardEndDelay, pipeline.EndFrame{Reason: "hard_limit"})
		slog.Info("call past hard limit, end scheduled",
			"call_sid", d.session.CallSID(),
			"elapsed", elapsed.Round(time.Second),
			"delay", d.hardEndDelay)
	case elapsed > closingEndAfter && d.cachedPhase() == PhaseClosing:
		d.endScheduled = true
		d.session.SetTerminationReason("closing")
		d.handle.After(d.closingEndDelay, pipeline.EndFrame{Reason: "closing"})
		slog.Info("closing phase past soft limit, end scheduled",
			"call_sid", d.session.CallSID(),
			"elapsed", elapsed.Round(time.Second),
			"delay", d.closingEndDelay)
	}
}

func (d *Director) cachedPhase() string {
	if res := d.snapshot(); res != nil {
		return res.Analysis.CallPhase
	}
	return ""
}

func (d *Director) snapshot() *Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cached
}

// dispatchAnalysis starts one background analysis for this turn. At most
// one runs at a time; a turn arriving mid-analysis is simply not analysed,
// the next one will be.
func (d *Director) dispatchAnalysis(ctx context.Context, elapsed time.Duration) {
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		return
	}
	d.inFlight = true
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			d.inFlight = false
			d.mu.Unlock()
		}()

		actx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		resp, err := d.provider.Complete(actx, d.buildRequest(elapsed))
		if err != nil || resp == nil {
			slog.Warn("director analysis failed",
				"call_sid", d.session.CallSID(), "err", err)
			return
		}
		res, err := ParseResult(resp.Content)
		if err != nil {
			slog.Warn("director analysis unusable",
				"call_sid", d.session.CallSID(), "err", err)
			return
		}

		// Record the delivery decision immediately so the very next prompt
		// build already treats the reminder as spoken, even if the model
		// paraphrases rather than quoting the title.
		if res.Reminder.ShouldDeliver && res.Reminder.WhichReminder != "" {
			which := resolveReminder(res.Reminder.WhichReminder, d.session.RemainingReminders())
			d.session.MarkReminderDelivered(which)
		}
		if res.ModelRecommendation != "" {
			slog.Debug("director model recommendation",
				"call_sid", d.session.CallSID(),
				"recommendation", res.ModelRecommendation)
		}

		d.mu.Lock()
		d.cached = res
		d.mu.Unlock()

		slog.Debug("director analysis cached",
			"call_sid", d.session.CallSID(),
			"phase", res.Analysis.CallPhase,
			"engagement", res.Analysis.EngagementLevel,
			"tone", res.Analysis.EmotionalTone)
	}()
}

const analysisSystemPrompt = `You are the conversation director for Donna, a warm phone companion for seniors. Read the call so far and steer the next turn. Reply with ONLY a JSON object, no prose, in exactly this shape:
{
  "analysis": {"call_phase": "opening|rapport|main|winding_down|closing", "engagement_level": "high|medium|low", "current_topic": "...", "emotional_tone": "positive|neutral|concerned|sad"},
  "direction": {"stay_or_shift": "stay|transition|wrap_up", "next_topic": "...", "pacing_note": "good|too_fast|dragging|time_to_close"},
  "reminder": {"should_deliver": false, "which_reminder": "", "delivery_approach": ""},
  "guidance": {"tone": "...", "priority_action": "...", "specific_instruction": "..."},
  "model_recommendation": ""
}
Set reminder.should_deliver true only when the conversation has a natural opening for one of the pending reminders, and name it in which_reminder.`

func (d *Director) buildRequest(elapsed time.Duration) llm.CompletionRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "Call time: %d minutes in.\n", int(elapsed.Minutes()))
	if d.briefing.Profile != "" {
		fmt.Fprintf(&b, "Senior: %s\n", d.briefing.Profile)
	}
	if d.briefing.DailySummary != "" {
		fmt.Fprintf(&b, "Earlier today: %s\n", d.briefing.DailySummary)
	}
	if mems := d.briefing.Memories; len(mems) > 0 {
		if len(mems) > maxBriefingMemories {
			mems = mems[:maxBriefingMemories]
		}
		b.WriteString("Remembered about them:\n")
		for _, m := range mems {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if pending := d.session.RemainingReminders(); len(pending) > 0 {
		b.WriteString("Reminders still to deliver:\n")
		for _, r := range pending {
			fmt.Fprintf(&b, "- %s\n", r.Title)
		}
	}
	if delivered := d.session.RemindersDelivered(); len(delivered) > 0 {
		fmt.Fprintf(&b, "Already delivered: %s\n", strings.Join(delivered, "; "))
	}
	b.WriteString("Transcript:\n")
	for _, turn := range d.session.Transcript() {
		speaker := "Donna"
		if turn.Role == "user" {
			speaker = "Senior"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, turn.Text)
	}

	return llm.CompletionRequest{
		SystemPrompt: analysisSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: b.String()}},
		Temperature:  analysisTemp,
		MaxTokens:    analysisMaxTokens,
	}
}
