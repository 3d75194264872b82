package callsession

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/agewell-labs/donna/internal/pipeline"
)

// topicPatterns maps conversation topics to keyword patterns. A final user
// transcript that hits a pattern adds the topic to the session.
var topicPatterns = []struct {
	topic   string
	pattern *regexp.Regexp
}{
	{"gardening", regexp.MustCompile(`(?i)\b(garden|gardening|flowers?|roses?|tomato(es)?|planting|weeds?|vegetable)\b`)},
	{"cooking", regexp.MustCompile(`(?i)\b(cook|cooking|baking|baked?|recipe|dinner|supper|casserole|soup)\b`)},
	{"walking", regexp.MustCompile(`(?i)\b(walk|walked|walking|stroll)\b`)},
	{"reading", regexp.MustCompile(`(?i)\b(read|reading|book|novel|magazine|newspaper)\b`)},
	{"religion", regexp.MustCompile(`(?i)\b(church|pastor|prayer|praying|bible|sermon|mass|synagogue|temple)\b`)},
	{"television", regexp.MustCompile(`(?i)\b(tv|television|show|watched|watching|episode|jeopardy|wheel of fortune)\b`)},
	{"grandchildren", regexp.MustCompile(`(?i)\b(grandson|granddaughter|grandkids?|grandchild(ren)?)\b`)},
	{"family", regexp.MustCompile(`(?i)\b(son|daughter|sister|brother|niece|nephew|husband|wife|family)\b`)},
	{"medical", regexp.MustCompile(`(?i)\b(doctor|appointment|medication|medicine|pills?|prescription|nurse|clinic|hospital)\b`)},
	{"weather", regexp.MustCompile(`(?i)\b(weather|rain|raining|sunny|snow|snowing|storm|hot|cold out)\b`)},
	{"sleep", regexp.MustCompile(`(?i)\b(sleep|slept|sleeping|nap|insomnia|tired|rest)\b`)},
	{"friends", regexp.MustCompile(`(?i)\b(friend|friends|neighbor|neighbour|bridge club|card game)\b`)},
	{"pain", regexp.MustCompile(`(?i)\b(pain|ache|aching|hurts?|hurting|sore|arthritis)\b`)},
	{"pets", regexp.MustCompile(`(?i)\b(dog|cat|puppy|kitten|bird|pet)\b`)},
	{"music", regexp.MustCompile(`(?i)\b(music|song|singing|radio|piano|choir)\b`)},
	{"crafts", regexp.MustCompile(`(?i)\b(knit|knitting|crochet|quilt|quilting|sewing|crafts?|puzzle)\b`)},
}

// advicePattern captures advice clauses by their introducing verb phrase up
// to the end of the sentence.
var advicePattern = regexp.MustCompile(`(?i)\b(you should|try to|don't forget to|make sure to|remember to|how about)\b([^.!?\n]*)`)

// farewellPattern recognises the assistant wrapping up, so the session knows
// Donna said her goodbye.
var farewellPattern = regexp.MustCompile(`(?i)\b(goodbye|bye[\s-]?bye|talk (to you )?(tomorrow|soon|later)|have a (good|great|lovely|wonderful) (day|night|evening|afternoon)|take care)\b`)

// Tracker is the pipeline processor that maintains the session's transcript
// ring and conversation artefacts.
//
// User turns commit on final transcription frames. Assistant text
// accumulates across the response's text frames and commits on the
// response-end frame; an interrupt commits whatever was spoken before the
// senior cut in. Every frame is forwarded unchanged.
type Tracker struct {
	session *Session

	// current accumulates the in-progress assistant response. Only the
	// dispatch goroutine touches it.
	current strings.Builder
	ended   bool
}

var _ pipeline.Processor = (*Tracker)(nil)

// NewTracker creates a tracker bound to session.
func NewTracker(session *Session) *Tracker {
	return &Tracker{session: session}
}

// Name implements [pipeline.Processor].
func (t *Tracker) Name() string { return "tracker" }

// Process implements [pipeline.Processor].
func (t *Tracker) Process(_ context.Context, frame pipeline.Frame, dir pipeline.Direction, out *pipeline.Emitter) error {
	switch f := frame.(type) {
	case pipeline.StartFrame:
		t.session.SetCallSID(f.CallSID)

	case pipeline.TranscriptionFrame:
		if f.Final && dir == pipeline.Downstream {
			t.session.AppendTurn("user", f.Text)
			t.session.BeginTurn(time.Now())
			for _, tp := range topicPatterns {
				if tp.pattern.MatchString(f.Text) {
					t.session.AddTopic(tp.topic)
				}
			}
		}

	case pipeline.ResponseStartFrame:
		t.current.Reset()

	case pipeline.TextFrame:
		if dir == pipeline.Downstream {
			if t.current.Len() > 0 {
				t.current.WriteString(" ")
			}
			t.current.WriteString(strings.TrimSpace(f.Text))
		}

	case pipeline.ResponseEndFrame:
		t.commitAssistant(true)

	case pipeline.InterruptFrame:
		// Barge-in: record what was said before the cut, skip extraction on
		// the incomplete text.
		t.commitAssistant(false)

	case pipeline.EndFrame:
		if !t.ended {
			t.ended = true
			t.commitAssistant(true)
			t.session.SetTerminationReason(f.Reason)
		}
	}

	out.Forward(frame, dir)
	return nil
}

// commitAssistant flushes the accumulated assistant text into the transcript
// and, when the response completed normally, extracts questions and advice.
func (t *Tracker) commitAssistant(extract bool) {
	text := strings.TrimSpace(t.current.String())
	t.current.Reset()
	if text == "" {
		return
	}
	t.session.AppendTurn("assistant", text)
	if farewellPattern.MatchString(text) {
		t.session.MarkDonnaGoodbye()
	}
	if !extract {
		return
	}
	for _, q := range extractQuestions(text) {
		t.session.AddQuestion(q)
	}
	for _, a := range extractAdvice(text) {
		t.session.AddAdvice(a)
	}
}

// extractQuestions returns each question in text, split on '?' boundaries.
func extractQuestions(text string) []string {
	var out []string
	rest := text
	for {
		idx := strings.IndexByte(rest, '?')
		if idx < 0 {
			return out
		}
		q := rest[:idx+1]
		rest = rest[idx+1:]
		// Trim back to the start of the question's own sentence.
		if cut := strings.LastIndexAny(q[:len(q)-1], ".!?"); cut >= 0 {
			q = q[cut+1:]
		}
		q = strings.TrimSpace(q)
		if len(q) > 3 {
			out = append(out, q)
		}
	}
}

// extractAdvice returns advice clauses introduced by a known verb phrase.
func extractAdvice(text string) []string {
	var out []string
	for _, m := range advicePattern.FindAllStringSubmatch(text, -1) {
		if strings.TrimSpace(m[2]) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(m[1]+m[2]))
	}
	return out
}
