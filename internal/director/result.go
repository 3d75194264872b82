package director

import (
	"regexp"
	"strings"
)

// Call phases, roughly in the order a call moves through them.
const (
	PhaseOpening     = "opening"
	PhaseRapport     = "rapport"
	PhaseMain        = "main"
	PhaseWindingDown = "winding_down"
	PhaseClosing     = "closing"
)

// Engagement levels.
const (
	EngagementHigh   = "high"
	EngagementMedium = "medium"
	EngagementLow    = "low"
)

// Emotional tones. Sad and concerned are the notable ones; they travel on
// the coaching line so the model softens its register.
const (
	TonePositive  = "positive"
	ToneNeutral   = "neutral"
	ToneConcerned = "concerned"
	ToneSad       = "sad"
)

// Steering choices.
const (
	SteerStay       = "stay"
	SteerTransition = "transition"
	SteerWrapUp     = "wrap_up"
)

// Pacing notes (informational).
const (
	PacingGood        = "good"
	PacingTooFast     = "too_fast"
	PacingDragging    = "dragging"
	PacingTimeToClose = "time_to_close"
)

// Result is one round of director analysis. At most one is cached per call;
// each new analysis replaces the last.
type Result struct {
	Analysis Analysis `json:"analysis"`
	Course   Course   `json:"direction"`
	Reminder Reminder `json:"reminder"`
	Guidance Guidance `json:"guidance"`

	// ModelRecommendation is advisory ("switch to the larger model for this
	// senior"). It is logged and otherwise ignored.
	ModelRecommendation string `json:"model_recommendation"`
}

// Analysis is the director's read of where the conversation stands.
type Analysis struct {
	CallPhase       string `json:"call_phase"`
	EngagementLevel string `json:"engagement_level"`
	CurrentTopic    string `json:"current_topic"`
	EmotionalTone   string `json:"emotional_tone"`
}

// Course says whether to stay on the current topic or move.
type Course struct {
	StayOrShift string `json:"stay_or_shift"`
	NextTopic   string `json:"next_topic"`
	PacingNote  string `json:"pacing_note"`
}

// Reminder is the director's call on whether now is a natural moment to
// work a pending reminder into the conversation.
type Reminder struct {
	ShouldDeliver    bool   `json:"should_deliver"`
	WhichReminder    string `json:"which_reminder"`
	DeliveryApproach string `json:"delivery_approach"`
}

// Guidance is freeform coaching for the conversation model.
type Guidance struct {
	Tone                string `json:"tone"`
	PriorityAction      string `json:"priority_action"`
	SpecificInstruction string `json:"specific_instruction"`
}

// maxInstructionLen bounds the freeform instruction on the coaching line.
const maxInstructionLen = 80

// stageDirections are words that describe performance, not content. They
// read absurdly over a phone line, so they never make it onto the line.
var stageDirections = regexp.MustCompile(`(?i)\b(laugh(s|ing|ed)?|pause(s|d|ing)?|sigh(s|ing|ed)?|smile(s|d|ing)?|nod(s|ded|ding)?)\b`)

// CompactLine renders the result as the single coaching line injected ahead
// of the next turn. Special states win over freeform instruction, first
// match first. forceWindDown substitutes the winding-down directive when
// the call has run long, regardless of the analysed phase.
func (r *Result) CompactLine(forceWindDown bool) string {
	phase := r.Analysis.CallPhase
	if forceWindDown && phase != PhaseClosing {
		phase = PhaseWindingDown
	}

	var line string
	switch {
	case phase == PhaseClosing:
		line = "CLOSING: Say a warm goodbye. Keep it brief."
	case phase == PhaseWindingDown:
		line = "WINDING DOWN: Summarize key points, confirm action items, begin warm sign-off."
	case r.Reminder.ShouldDeliver && r.Reminder.WhichReminder != "":
		line = "REMIND: " + r.Reminder.WhichReminder
	case r.Analysis.EngagementLevel == EngagementLow:
		line = "RE-ENGAGE"
	case r.Course.StayOrShift == SteerTransition && r.Course.NextTopic != "":
		line = "SHIFT→" + r.Course.NextTopic
	case r.Course.StayOrShift == SteerWrapUp:
		line = "WRAP-UP"
	default:
		line = compactInstruction(r.Guidance.SpecificInstruction)
		if line == "" {
			line = strings.TrimSpace(r.Guidance.PriorityAction)
		}
	}
	if line == "" {
		return ""
	}

	switch r.Analysis.EmotionalTone {
	case ToneSad, ToneConcerned:
		line += " (" + r.Analysis.EmotionalTone + ")"
	}
	return line
}

// compactInstruction strips stage directions and truncates at a word
// boundary.
func compactInstruction(s string) string {
	s = stageDirections.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxInstructionLen {
		cut := s[:maxInstructionLen]
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
		s = strings.TrimRight(cut, " ,;:")
	}
	return s
}
