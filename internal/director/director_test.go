package director

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agewell-labs/donna/internal/callsession"
	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/provider/llm/mock"
)

const lowEngagementJSON = `{
  "analysis": {"call_phase": "main", "engagement_level": "low", "current_topic": "garden", "emotional_tone": "neutral"},
  "direction": {"stay_or_shift": "stay", "next_topic": "", "pacing_note": "good"},
  "reminder": {"should_deliver": false, "which_reminder": "", "delivery_approach": ""},
  "guidance": {"tone": "warm", "priority_action": "draw her out", "specific_instruction": ""}
}`

const closingJSON = `{
  "analysis": {"call_phase": "closing", "engagement_level": "medium", "current_topic": "goodbyes", "emotional_tone": "positive"},
  "direction": {"stay_or_shift": "wrap_up", "next_topic": "", "pacing_note": "time_to_close"},
  "reminder": {"should_deliver": false, "which_reminder": "", "delivery_approach": ""},
  "guidance": {"tone": "warm", "priority_action": "say goodbye", "specific_instruction": ""}
}`

const deliverJSON = `{
  "analysis": {"call_phase": "main", "engagement_level": "high", "current_topic": "morning routine", "emotional_tone": "neutral"},
  "direction": {"stay_or_shift": "stay", "next_topic": "", "pacing_note": "good"},
  "reminder": {"should_deliver": true, "which_reminder": "take your heart pill", "delivery_approach": "mention it alongside breakfast"},
  "guidance": {"tone": "warm", "priority_action": "work the reminder in", "specific_instruction": ""}
}`

// sink terminates a test chain and records everything that reached it.
type sink struct {
	frames []pipeline.Frame
}

func (s *sink) Name() string { return "sink" }

func (s *sink) Process(_ context.Context, f pipeline.Frame, dir pipeline.Direction, out *pipeline.Emitter) error {
	s.frames = append(s.frames, f)
	out.Forward(f, dir)
	return nil
}

func newSession() *callsession.Session {
	return callsession.New("CA200", "senior-1", callsession.KindCheckIn, 0)
}

// harness runs [director, sink] and lets a test interleave turns with
// waits on the director's background state.
type harness struct {
	task  *pipeline.Task
	tail  *sink
	errCh chan error
}

func startTask(d *Director) *harness {
	tail := &sink{}
	task := pipeline.NewTask([]pipeline.Processor{d, tail})
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(context.Background()) }()
	return &harness{task: task, tail: tail, errCh: errCh}
}

func (h *harness) say(text string) {
	h.task.Inject(pipeline.Head, pipeline.TranscriptionFrame{Text: text, Final: true, Confidence: 0.9}, pipeline.Downstream)
}

// wait blocks until the task finishes on its own.
func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.errCh:
		if err != nil {
			t.Fatalf("task run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

// end injects an end frame and waits the task out.
func (h *harness) end(t *testing.T) {
	t.Helper()
	h.task.Inject(pipeline.Head, pipeline.EndFrame{Reason: "test"}, pipeline.Downstream)
	h.wait(t)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestDirectorAnalyzesAndCachesResult(t *testing.T) {
	session := newSession()
	session.SetPendingReminders([]memory.Reminder{{ID: "r1", Title: "Take your heart pill"}})
	session.AppendTurn("assistant", "Good morning Margaret, how was your start to the day?")
	session.AppendTurn("user", "The garden kept me busy all morning")

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: lowEngagementJSON}}
	d := New(session, p, Briefing{
		Profile:      "Margaret, 82, retired teacher, loves her garden",
		DailySummary: "Morning call covered her breakfast and the weather.",
		Memories:     []string{"Daughter Sarah lives in Portland"},
	})

	h := startTask(d)
	h.say("The garden kept me busy all morning")
	waitFor(t, "analysis to cache", func() bool { return d.snapshot() != nil })
	h.end(t)

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if !strings.Contains(req.SystemPrompt, "JSON") {
		t.Error("system prompt should demand a JSON reply")
	}
	if req.Temperature != analysisTemp || req.MaxTokens != analysisMaxTokens {
		t.Errorf("request tuning = (%v, %d)", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 1 {
		t.Fatalf("request carries %d messages, want 1", len(req.Messages))
	}
	content := req.Messages[0].Content
	for _, want := range []string{
		"Margaret, 82",
		"Earlier today:",
		"Daughter Sarah lives in Portland",
		"Take your heart pill",
		"Senior: The garden kept me busy all morning",
		"Donna: Good morning Margaret",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("analysis prompt missing %q:\n%s", want, content)
		}
	}

	res := d.snapshot()
	if res.Analysis.CallPhase != PhaseMain || res.Analysis.EngagementLevel != EngagementLow {
		t.Errorf("cached result = %+v", res.Analysis)
	}
}

func TestDirectorInjectsCachedGuidanceNextTurn(t *testing.T) {
	session := newSession()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: lowEngagementJSON}}
	d := New(session, p, Briefing{})

	h := startTask(d)
	h.say("Fine, I suppose.")
	waitFor(t, "analysis to cache", func() bool { return d.snapshot() != nil })
	h.say("Mm-hmm.")
	h.end(t)

	guidanceIdx, secondTurnIdx := -1, -1
	turns := 0
	for i, f := range h.tail.frames {
		switch fr := f.(type) {
		case pipeline.MessagesFrame:
			guidanceIdx = i
			if fr.RunLLM {
				t.Error("coaching line must not trigger a model run")
			}
			if len(fr.Messages) != 1 || fr.Messages[0].Content != "<guidance>RE-ENGAGE</guidance>" {
				t.Errorf("coaching line = %+v", fr.Messages)
			}
		case pipeline.TranscriptionFrame:
			turns++
			if turns == 2 {
				secondTurnIdx = i
			}
		}
	}
	if guidanceIdx < 0 {
		t.Fatal("no coaching line reached the sink")
	}
	if secondTurnIdx < 0 || guidanceIdx > secondTurnIdx {
		t.Errorf("coaching at %d, second turn at %d; guidance must precede the turn it shapes", guidanceIdx, secondTurnIdx)
	}
}

func TestDirectorSkipsGuidanceDuringGoodbye(t *testing.T) {
	session := newSession()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: lowEngagementJSON}}
	d := New(session, p, Briefing{})

	h := startTask(d)
	h.say("Fine, I suppose.")
	waitFor(t, "analysis to cache", func() bool { return d.snapshot() != nil })
	session.BeginGoodbye()
	h.say("Bye now.")
	h.end(t)

	for _, f := range h.tail.frames {
		if _, ok := f.(pipeline.MessagesFrame); ok {
			t.Fatal("coaching line injected while a goodbye is in progress")
		}
	}
}

func TestDirectorSingleFlight(t *testing.T) {
	session := newSession()
	gate := make(chan struct{})
	var calls atomic.Int32
	p := &mock.Provider{CompleteFn: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &llm.CompletionResponse{Content: lowEngagementJSON}, nil
	}}
	d := New(session, p, Briefing{})

	h := startTask(d)
	h.say("Let me tell you about my morning.")
	h.say("And then there was the mail.")
	waitFor(t, "first analysis to start", func() bool { return calls.Load() == 1 })
	close(gate)
	waitFor(t, "first analysis to cache", func() bool { return d.snapshot() != nil })
	if got := calls.Load(); got != 1 {
		t.Fatalf("analysis ran %d times for two overlapping turns, want 1", got)
	}

	first := d.snapshot()
	h.say("Oh, and the neighbor stopped by.")
	waitFor(t, "a fresh analysis", func() bool { return d.snapshot() != first })
	h.end(t)

	if got := calls.Load(); got != 2 {
		t.Errorf("analysis ran %d times in total, want 2", got)
	}
}

func TestDirectorMarksDeliveredReminder(t *testing.T) {
	session := newSession()
	session.SetPendingReminders([]memory.Reminder{{ID: "r1", Title: "Take your heart pill"}})
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: deliverJSON}}
	d := New(session, p, Briefing{})

	h := startTask(d)
	h.say("I was just about to have breakfast.")
	waitFor(t, "delivery to be recorded", func() bool { return len(session.RemindersDelivered()) == 1 })
	h.end(t)

	if got := session.RemindersDelivered(); got[0] != "Take your heart pill" {
		t.Errorf("delivered = %v, want the canonical title", got)
	}
	if rem := session.RemainingReminders(); len(rem) != 0 {
		t.Errorf("reminder still listed as remaining: %v", rem)
	}
}

func TestDirectorFailedAnalysisKeepsCache(t *testing.T) {
	session := newSession()
	var calls atomic.Int32
	p := &mock.Provider{CompleteFn: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch calls.Add(1) {
		case 1:
			return &llm.CompletionResponse{Content: lowEngagementJSON}, nil
		case 2:
			return nil, errors.New("backend down")
		default:
			return &llm.CompletionResponse{Content: "I had trouble with that request."}, nil
		}
	}}
	d := New(session, p, Briefing{})

	settled := func(n int32) func() bool {
		return func() bool {
			d.mu.Lock()
			idle := !d.inFlight
			d.mu.Unlock()
			return calls.Load() == n && idle
		}
	}

	h := startTask(d)
	h.say("Fine, I suppose.")
	waitFor(t, "first analysis", settled(1))
	first := d.snapshot()
	if first == nil {
		t.Fatal("first analysis did not cache")
	}

	h.say("Still here.")
	waitFor(t, "failed analysis to settle", settled(2))
	if d.snapshot() != first {
		t.Error("provider error must leave the cache untouched")
	}

	h.say("Hello?")
	waitFor(t, "unparseable analysis to settle", settled(3))
	if d.snapshot() != first {
		t.Error("unparseable reply must leave the cache untouched")
	}
	h.end(t)
}

func TestDirectorRepairsDamagedReply(t *testing.T) {
	session := newSession()
	damaged := "```json\n" + `{
	  "analysis": {"call_phase": "winding_down", "engagement_level": "medium", "current_topic": "family", "emotional_tone": "positive"},
	  "direction": {"stay_or_shift": "wrap_up", "next_topic": "", "pacing_note": "time_to_close",}`
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: damaged}}
	d := New(session, p, Briefing{})

	h := startTask(d)
	h.say("That was lovely to hear.")
	waitFor(t, "repaired analysis to cache", func() bool { return d.snapshot() != nil })
	h.end(t)

	if got := d.snapshot().Analysis.CallPhase; got != PhaseWindingDown {
		t.Errorf("cached phase = %q, want %q", got, PhaseWindingDown)
	}
}

func TestDirectorHardLimitEndsCall(t *testing.T) {
	session := newSession()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: lowEngagementJSON}}
	clock := func() time.Time { return session.StartedAt().Add(13 * time.Minute) }
	d := New(session, p, Briefing{}, WithClock(clock))
	d.hardEndDelay = 20 * time.Millisecond

	h := startTask(d)
	h.say("And another thing about the neighbors...")
	h.wait(t)

	if got := h.task.EndReason(); got != "hard_limit" {
		t.Errorf("end reason = %q, want hard_limit", got)
	}
	if got := session.TerminationReason(); got != "hard_limit" {
		t.Errorf("termination reason = %q, want hard_limit", got)
	}
}

func TestDirectorClosingPhaseEndsCall(t *testing.T) {
	session := newSession()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: closingJSON}}
	clock := func() time.Time { return session.StartedAt().Add(8*time.Minute + 30*time.Second) }
	d := New(session, p, Briefing{}, WithClock(clock))
	d.closingEndDelay = 20 * time.Millisecond

	h := startTask(d)
	h.say("Well, it was lovely talking.")
	waitFor(t, "closing analysis to cache", func() bool { return d.snapshot() != nil })
	h.say("You too, dear.")
	h.wait(t)

	if got := h.task.EndReason(); got != "closing" {
		t.Errorf("end reason = %q, want closing", got)
	}
	if got := session.TerminationReason(); got != "closing" {
		t.Errorf("termination reason = %q, want closing", got)
	}
	var sawClosingLine bool
	for _, f := range h.tail.frames {
		if fr, ok := f.(pipeline.MessagesFrame); ok &&
			strings.Contains(fr.Messages[0].Content, "CLOSING: Say a warm goodbye.") {
			sawClosingLine = true
		}
	}
	if !sawClosingLine {
		t.Error("second turn should carry the closing coaching line")
	}
}

func TestDirectorForcesWindDownPastNineMinutes(t *testing.T) {
	session := newSession()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: lowEngagementJSON}}
	clock := func() time.Time { return session.StartedAt().Add(10 * time.Minute) }
	d := New(session, p, Briefing{}, WithClock(clock))

	h := startTask(d)
	h.say("Fine, I suppose.")
	waitFor(t, "analysis to cache", func() bool { return d.snapshot() != nil })
	h.say("Mm-hmm.")
	h.end(t)

	var line string
	for _, f := range h.tail.frames {
		if fr, ok := f.(pipeline.MessagesFrame); ok {
			line = fr.Messages[0].Content
		}
	}
	if !strings.Contains(line, "WINDING DOWN:") {
		t.Errorf("coaching past the soft ceiling = %q, want a winding-down directive", line)
	}
}

func TestDirectorIgnoresInterimAndNonText(t *testing.T) {
	session := newSession()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: lowEngagementJSON}}
	d := New(session, p, Briefing{})

	h := startTask(d)
	h.task.Inject(pipeline.Head, pipeline.TranscriptionFrame{Text: "the gar", Final: false}, pipeline.Downstream)
	h.task.Inject(pipeline.Head, pipeline.TextFrame{Text: "hello"}, pipeline.Downstream)
	h.end(t)

	if len(p.CompleteCalls) != 0 {
		t.Errorf("Complete called %d times for interim input, want 0", len(p.CompleteCalls))
	}
	if d.snapshot() != nil {
		t.Error("nothing should be cached")
	}
	if len(h.tail.frames) != 3 {
		t.Errorf("sink saw %d frames, want interim, text and end", len(h.tail.frames))
	}
}
