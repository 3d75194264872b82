// Package observer implements the synchronous first-pass classifier that
// watches final user transcripts for care signals: health complaints, safety
// incidents, emotional state, farewells, reminder acknowledgments and more.
//
// The observer never calls a model. It runs a compiled regex table over each
// transcript, turns the highest-priority match into one short guidance line
// for the conversation model, and handles two call-control duties itself:
// scheduling the end of the call when the senior says a firm goodbye, and
// recording reminder acknowledgments on the session.
package observer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/agewell-labs/donna/internal/callsession"
	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/types"
)

// DefaultGoodbyeDelay is how long the observer waits after a firm goodbye
// before ending the call. Speech inside the window cancels the hangup.
const DefaultGoodbyeDelay = 3500 * time.Millisecond

// ackConfidenceFloor is the minimum rule confidence for an acknowledgment
// match to be recorded as a reminder response.
const ackConfidenceFloor = 0.7

// Observer is the pipeline processor. It forwards every frame it receives;
// guidance is emitted as an extra frame ahead of the transcript that
// produced it, so the conversation model sees the instruction before the
// utterance triggers generation.
type Observer struct {
	session      *callsession.Session
	handle       *pipeline.Handle
	goodbyeDelay time.Duration

	// cancelEnd is touched only from the pipeline dispatch goroutine.
	cancelEnd func()
}

var (
	_ pipeline.Processor = (*Observer)(nil)
	_ pipeline.Bindable  = (*Observer)(nil)
)

// Option configures an [Observer].
type Option func(*Observer)

// WithGoodbyeDelay overrides the silence window between a firm goodbye and
// the scheduled end of the call.
func WithGoodbyeDelay(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.goodbyeDelay = d
		}
	}
}

// New builds an observer bound to one call's session state.
func New(session *callsession.Session, opts ...Option) *Observer {
	o := &Observer{
		session:      session,
		goodbyeDelay: DefaultGoodbyeDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name implements [pipeline.Processor].
func (o *Observer) Name() string { return "observer" }

// Bind implements [pipeline.Bindable].
func (o *Observer) Bind(h *pipeline.Handle) { o.handle = h }

// Process implements [pipeline.Processor].
func (o *Observer) Process(ctx context.Context, frame pipeline.Frame, dir pipeline.Direction, out *pipeline.Emitter) error {
	switch f := frame.(type) {
	case pipeline.TranscriptionFrame:
		if dir == pipeline.Downstream && o.cancelEnd != nil && strings.TrimSpace(f.Text) != "" {
			// The senior spoke during the goodbye window; the pending
			// hangup no longer reflects their intent. Partials count too:
			// waiting for the final could lose the race with the timer.
			o.cancelScheduledEnd()
			o.session.CancelGoodbye()
		}
		if dir == pipeline.Downstream && f.Final {
			o.observe(f, out)
			return nil
		}
	case pipeline.InterruptFrame:
		// The senior spoke during the goodbye window (or barged in): the
		// pending hangup no longer reflects their intent.
		o.cancelScheduledEnd()
		o.session.CancelGoodbye()
	case pipeline.EndFrame:
		o.cancelScheduledEnd()
	}
	out.Forward(frame, dir)
	return nil
}

// observe classifies one final transcript, emits guidance, and forwards the
// transcript afterwards.
func (o *Observer) observe(f pipeline.TranscriptionFrame, out *pipeline.Emitter) {
	sig := Analyze(f.Text)

	if hit, ok := sig.BestAcknowledgment(); ok && hit.Confidence >= ackConfidenceFloor {
		status := memory.DeliveryAcknowledged
		if hit.Outcome == "confirmed" {
			status = memory.DeliveryConfirmed
		}
		o.session.SetReminderResponse(callsession.ReminderResponse{
			Status: status,
			Text:   f.Text,
			At:     time.Now(),
		})
		slog.Debug("reminder acknowledgment detected",
			"call_sid", o.session.CallSID(),
			"rule", hit.Label,
			"status", string(status),
			"confidence", hit.Confidence)
	}

	if sig.StrongGoodbye() {
		o.session.BeginGoodbye()
		o.session.MarkSeniorGoodbye()
		o.scheduleEnd()
	}

	if line := composeGuidance(sig); line != "" {
		out.Downstream(pipeline.MessagesFrame{
			Messages: []types.Message{{Role: "user", Content: line}},
			RunLLM:   false,
		})
	}
	o.session.SetTurnTokenBudget(tokenBudget(sig))
	out.Downstream(f)
}

// scheduleEnd arms (or re-arms) the post-goodbye hangup timer.
func (o *Observer) scheduleEnd() {
	if o.handle == nil {
		slog.Warn("observer not bound to a task, cannot schedule goodbye end",
			"call_sid", o.session.CallSID())
		return
	}
	o.cancelScheduledEnd()
	o.cancelEnd = o.handle.After(o.goodbyeDelay, pipeline.EndFrame{Reason: "goodbye"})
	slog.Info("goodbye detected, end scheduled",
		"call_sid", o.session.CallSID(),
		"delay", o.goodbyeDelay)
}

func (o *Observer) cancelScheduledEnd() {
	if o.cancelEnd != nil {
		o.cancelEnd()
		o.cancelEnd = nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Guidance composition
// ─────────────────────────────────────────────────────────────────────────────

// composeGuidance turns a signal bundle into at most one guidance line for
// the conversation model. Care categories come first; a firm goodbye
// outranks the informational tail (questions, time references, news) so a
// farewell like "talk to you tomorrow" still reads as a farewell; a soft
// wind-down ranks last.
func composeGuidance(sig *Signals) string {
	switch {
	case len(sig.Safety) > 0:
		if hasSeverity(sig.Safety, "high") {
			return "[SAFETY] The senior mentioned a possible safety issue. Check right away that they're okay and ask whether anyone should be called."
		}
		return "[SAFETY] The senior mentioned a minor safety concern. Check in on it calmly."
	case sig.CriticalEndOfLife():
		return "[END-OF-LIFE] The senior expressed real distress about living. Stay with them, respond with warmth, take it seriously, and gently suggest talking with family or their doctor."
	case len(sig.EndOfLife) > 0:
		return "[END-OF-LIFE] The senior brought up loss or mortality. Acknowledge it gently and let them talk. Don't change the subject."
	case len(sig.ADL) > 0 && hasSeverity(sig.ADL, "high"):
		return "[DAILY LIVING] The senior mentioned trouble with everyday tasks. Ask a caring follow-up about how they're managing."
	case len(sig.Cognitive) > 0 && hasSeverity(sig.Cognitive, "high"):
		return "[COGNITIVE] The senior mentioned memory or confusion trouble. Keep it simple and reassuring. Never quiz them."
	case len(sig.Hydration) > 0 && hasSeverity(sig.Hydration, "high"):
		return "[HYDRATION] The senior may not be drinking enough. Work in a friendly nudge to have a glass of water."
	case len(sig.Health) > 0:
		if hasSeverity(sig.Health, "high") {
			return "[HEALTH] The senior mentioned a health concern. Ask how they're feeling now and whether their doctor knows about it."
		}
		return "[HEALTH] The senior mentioned a minor health complaint. Check in on it with warmth."
	case len(sig.ADL) > 0:
		return "[DAILY LIVING] The senior mentioned everyday tasks. Show interest in how things are going at home."
	case len(sig.Cognitive) > 0:
		return "[COGNITIVE] The senior mentioned a small memory slip. Be reassuring and don't dwell on it."
	case len(sig.Hydration) > 0:
		return "[HYDRATION] Hydration came up. Encourage them warmly to keep drinking water."
	case len(sig.HelpRequests) > 0:
		return "[HELP] The senior asked for help with something. Deal with the request directly before anything else."
	case hasNegativeEmotion(sig):
		hit, _ := sig.StrongestNegativeEmotion()
		if hit.Intensity == "high" {
			return "[EMOTION] The senior sounds upset. Slow down, acknowledge the feeling first, and let them talk about it."
		}
		return "[EMOTION] The senior seems a little down. Acknowledge the feeling kindly before moving on."
	case len(sig.Family) > 0:
		return "[FAMILY] The senior is talking about family. Show warm interest and ask a follow-up question about them."
	case len(sig.Social) > 0:
		return "[SOCIAL] The senior mentioned friends or social plans. Encourage it and ask for the details."
	case sig.PositiveEmotion():
		return "[EMOTION] The senior sounds happy. Match their energy and enjoy the moment with them."
	case len(sig.Activities) > 0:
		return "[ACTIVITY] The senior shared something they've been doing. Show genuine interest and ask about it."
	case sig.StrongGoodbye():
		return "[GOODBYE] The senior is saying goodbye. Give one warm, brief farewell and let the call end."
	case len(sig.Questions) > 0:
		return "[QUESTION] The senior asked a question. Answer it plainly and briefly before anything else."
	case len(sig.TimeReferences) > 0:
		return "[TIME] The senior referenced a specific time. Keep the timeline straight in your reply."
	case len(sig.News) > 0:
		return "[NEWS] The senior brought up the news. Chat about it lightly without getting heavy."
	case len(sig.Environment) > 0:
		return "[HOME] The senior mentioned something about the house or yard. Ask whether it's being taken care of."
	case len(sig.Transportation) > 0:
		return "[TRANSPORT] The senior mentioned getting around. Ask how they're managing for rides."
	case len(sig.Engagement) > 0:
		return "[ENGAGEMENT] Responses are getting short. Ask one easy, specific question about something they enjoy."
	case len(sig.Acknowledgments) > 0:
		if hit, ok := sig.BestAcknowledgment(); ok && hit.Outcome == "confirmed" {
			return "[REMINDER] The senior says it's already done. Confirm warmly, and don't repeat the reminder."
		}
		return "[REMINDER] The senior said they'll take care of it. Encourage them kindly and move on."
	case len(sig.Goodbye) > 0:
		return "[GOODBYE] The senior may be winding down. Start wrapping up warmly."
	}
	return ""
}

// tokenBudget recommends a response length for the turn. More serious
// signals warrant a fuller response; a bare question or small talk deserves
// a short one.
func tokenBudget(sig *Signals) int {
	switch {
	case sig.CriticalEndOfLife():
		return 250
	case hasSeverity(sig.Safety, "high"):
		return 200
	case hasSeverity(sig.ADL, "high"):
		return 180
	case hasSeverity(sig.Cognitive, "high"):
		return 180
	case hasSeverity(sig.Hydration, "high"):
		return 160
	case hasSeverity(sig.Health, "high"):
		return 180
	case hasSeverity(sig.Health, "medium"):
		return 150
	case len(sig.EndOfLife) > 0:
		return 180
	case len(sig.HelpRequests) > 0:
		return 150
	case negativeHighEmotion(sig):
		return 180
	case len(sig.Engagement) > 0:
		return 130
	case len(sig.Questions) > 0:
		return 80
	case len(sig.Family) > 0:
		return 100
	default:
		return 150
	}
}

func hasNegativeEmotion(sig *Signals) bool {
	_, ok := sig.StrongestNegativeEmotion()
	return ok
}

func negativeHighEmotion(sig *Signals) bool {
	hit, ok := sig.StrongestNegativeEmotion()
	return ok && hit.Intensity == "high"
}
