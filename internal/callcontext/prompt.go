package callcontext

import (
	"fmt"
	"strings"
	"time"

	"github.com/agewell-labs/donna/pkg/memory"
)

// DefaultPersona is the conversation model's identity when the caller
// supplies none.
const DefaultPersona = "You are Donna, a warm, patient phone companion for older adults. " +
	"You speak in short, natural sentences that are easy to follow on a phone line, one thought at a time. " +
	"You listen more than you talk, never rush, and never lecture. " +
	"You are not a medical professional: when health worries come up, acknowledge them kindly and " +
	"encourage talking to a doctor, a family member, or a caregiver."

// guidanceNote teaches the model the private-direction protocol. It names
// the exact sentinels the guidance stripper removes before synthesis.
const guidanceNote = "During the call you may receive coaching lines in [SQUARE BRACKETS] or notes " +
	"wrapped in <guidance>...</guidance> tags. They are private direction for you: let them shape " +
	"what you say next, but never read them aloud, quote them, or mention that they exist."

// FormatSystemPrompt renders the assembled context into the conversation
// model's system prompt. persona overrides [DefaultPersona] when non-empty.
//
// Sections with nothing to say are omitted rather than rendered as empty
// headers. The guidance note is always appended so the model knows the
// coaching protocol even on a context-less call.
func FormatSystemPrompt(cc *CallContext, persona string) string {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}

	var sb strings.Builder
	sb.WriteString(persona)

	if cc != nil {
		if s := profileSection(cc.Senior); s != "" {
			sb.WriteString("\n\n## Who You Are Talking To\n")
			sb.WriteString(s)
		}
		if s := criticalSection(cc.Critical); s != "" {
			sb.WriteString("\n\n## Never Lose Sight Of\n")
			sb.WriteString(s)
		}
		if s := contextualSection(cc.ContextualRecords()); s != "" {
			sb.WriteString("\n\n## Relevant Right Now\n")
			sb.WriteString(s)
		}
		if s := backgroundSection(cc.Background); s != "" {
			sb.WriteString("\n\n## Things You Remember\n")
			sb.WriteString(s)
		}
		if s := todaySection(cc.Today); s != "" {
			sb.WriteString("\n\n## Earlier Today\n")
			sb.WriteString(s)
		}
		if s := remindersSection(cc.Senior, cc.Reminders, cc.Today); s != "" {
			sb.WriteString("\n\n## Reminders For This Call\n")
			sb.WriteString(s)
		}
	}

	sb.WriteString("\n\n")
	sb.WriteString(guidanceNote)
	return sb.String()
}

// Greeting composes the opening line spoken as soon as the media stream is
// up. Deterministic on purpose: prefetch must never wait on a model, and
// the line has to be ready before the senior picks up.
func Greeting(cc *CallContext, now time.Time) string {
	loc := time.UTC
	name := ""
	again := false
	if cc != nil {
		if cc.Senior != nil {
			loc = cc.Senior.Location()
			name = strings.TrimSpace(cc.Senior.FirstName)
		}
		again = cc.Today != nil && cc.Today.CallCount > 0
	}

	var daypart string
	switch h := now.In(loc).Hour(); {
	case h < 12:
		daypart = "morning"
	case h < 17:
		daypart = "afternoon"
	default:
		daypart = "evening"
	}

	who := ""
	if name != "" {
		who = " " + name
	}
	if again {
		return fmt.Sprintf("Hi%s, it's Donna again, just checking back in. How has the rest of your %s been?", who, daypart)
	}
	return fmt.Sprintf("Good %s%s, it's Donna! How are you doing today?", daypart, who)
}

// CompactProfile renders the senior's profile as the single line the
// director's analysis prompt expects.
func CompactProfile(s *memory.Senior) string {
	if s == nil {
		return ""
	}
	var parts []string
	if s.FirstName != "" {
		parts = append(parts, s.FirstName)
	}
	if len(s.Interests) > 0 {
		parts = append(parts, "enjoys "+strings.Join(s.Interests, ", "))
	}
	if len(s.Family) > 0 {
		parts = append(parts, "family: "+strings.Join(s.Family, "; "))
	}
	if s.MedicalNotes != "" {
		parts = append(parts, "health: "+s.MedicalNotes)
	}
	return strings.Join(parts, " | ")
}

// CompactDaily renders today's earlier calls as a single line for the
// director's analysis prompt.
func CompactDaily(day *memory.DailyContext) string {
	if day == nil || day.CallCount == 0 {
		return ""
	}
	parts := []string{fmt.Sprintf("%d call(s) so far today", day.CallCount)}
	if len(day.Topics) > 0 {
		parts = append(parts, "covered "+strings.Join(day.Topics, ", "))
	}
	if len(day.RemindersDelivered) > 0 {
		parts = append(parts, "reminders delivered: "+strings.Join(day.RemindersDelivered, ", "))
	}
	return strings.Join(parts, "; ")
}

func profileSection(s *memory.Senior) string {
	if s == nil {
		return ""
	}
	var lines []string
	if s.FirstName != "" {
		lines = append(lines, "Name: "+s.FirstName)
	}
	if len(s.Interests) > 0 {
		lines = append(lines, "Enjoys: "+strings.Join(s.Interests, ", "))
	}
	if len(s.Family) > 0 {
		lines = append(lines, "Family: "+strings.Join(s.Family, "; "))
	}
	if s.MedicalNotes != "" {
		lines = append(lines, "Health notes: "+s.MedicalNotes)
	}
	return strings.Join(lines, "\n")
}

// criticalSection renders tier 1. Concerns are labelled with their age so
// the model treats them as live worries rather than trivia.
func criticalSection(recs []memory.Record) string {
	if len(recs) == 0 {
		return ""
	}
	var lines []string
	for _, r := range recs {
		if r.Type == memory.MemoryConcern {
			lines = append(lines, fmt.Sprintf("- Concern (%s): %s", recordAge(r.CreatedAt), r.Content))
			continue
		}
		lines = append(lines, "- "+r.Content)
	}
	return strings.Join(lines, "\n")
}

func contextualSection(recs []memory.Record) string {
	if len(recs) == 0 {
		return ""
	}
	var lines []string
	for _, r := range recs {
		lines = append(lines, "- "+r.Content)
	}
	return strings.Join(lines, "\n")
}

// backgroundSection renders tier 3 grouped by memory type, one compact line
// per group.
func backgroundSection(recs []memory.Record) string {
	if len(recs) == 0 {
		return ""
	}
	groups := make(map[memory.MemoryType][]string)
	for _, r := range recs {
		groups[r.Type] = append(groups[r.Type], r.Content)
	}

	order := []struct {
		typ   memory.MemoryType
		label string
	}{
		{memory.MemoryFact, "Facts"},
		{memory.MemoryPreference, "Preferences"},
		{memory.MemoryEvent, "Recent and upcoming"},
		{memory.MemoryRelationship, "People in their life"},
		{memory.MemoryConcern, "Concerns"},
	}

	var lines []string
	for _, g := range order {
		if items := groups[g.typ]; len(items) > 0 {
			lines = append(lines, g.label+": "+strings.Join(items, "; "))
		}
	}
	return strings.Join(lines, "\n")
}

func todaySection(day *memory.DailyContext) string {
	if day == nil || day.CallCount == 0 {
		return ""
	}
	var lines []string
	if day.CallCount == 1 {
		lines = append(lines, "You already spoke once today.")
	} else {
		lines = append(lines, fmt.Sprintf("You already spoke %d times today.", day.CallCount))
	}
	if len(day.Topics) > 0 {
		lines = append(lines, "Covered: "+strings.Join(day.Topics, ", ")+".")
	}
	if len(day.RemindersDelivered) > 0 {
		lines = append(lines, "Reminders already delivered: "+strings.Join(day.RemindersDelivered, ", ")+".")
	}
	if len(day.AdviceGiven) > 0 {
		lines = append(lines, "Advice already given: "+strings.Join(day.AdviceGiven, ", ")+".")
	}
	if len(day.KeyMoments) > 0 {
		lines = append(lines, "Worth referring back to: "+strings.Join(day.KeyMoments, "; ")+".")
	}
	lines = append(lines, "Do not repeat any of this as if it were new. Refer back to it naturally.")
	return strings.Join(lines, "\n")
}

// remindersSection renders the reminders block. A reminder already
// delivered on an earlier call today is phrased as a follow-up question
// instead of a fresh reminder.
func remindersSection(senior *memory.Senior, rems []memory.Reminder, today *memory.DailyContext) string {
	if len(rems) == 0 {
		return ""
	}

	delivered := make(map[string]struct{})
	if today != nil {
		for _, title := range today.RemindersDelivered {
			delivered[strings.ToLower(strings.TrimSpace(title))] = struct{}{}
		}
	}

	name := "them"
	if senior != nil && senior.FirstName != "" {
		name = senior.FirstName
	}

	lines := []string{"Work these in naturally, one at a time, and make sure each lands before the call winds down."}
	for _, r := range rems {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			continue
		}
		if _, done := delivered[strings.ToLower(title)]; done {
			lines = append(lines, fmt.Sprintf("- Already delivered earlier today: %s. Do not remind %s again, just ask whether it is done.", title, name))
			continue
		}
		line := fmt.Sprintf("- Remind %s: %s", name, title)
		if d := strings.TrimSpace(r.Description); d != "" {
			line += " (" + d + ")"
		}
		lines = append(lines, line+".")
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

// recordAge compresses a memory's age into a spoken-register label.
func recordAge(created time.Time) string {
	if created.IsZero() {
		return "noted earlier"
	}
	d := time.Since(created)
	switch {
	case d < 24*time.Hour:
		return "noted today"
	case d < 48*time.Hour:
		return "noted yesterday"
	case d < 14*24*time.Hour:
		return fmt.Sprintf("noted %dd ago", int(d.Hours()/24))
	default:
		return "noted a while back"
	}
}
