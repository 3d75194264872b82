package observer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agewell-labs/donna/internal/callsession"
	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/pkg/memory"
)

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
	return callsession.New("CA100", "senior-1", callsession.KindCheckIn, 0)
}

// runThrough pushes frames through [observer, sink] and ends the task.
func runThrough(t *testing.T, obs *Observer, frames []pipeline.Frame) *sink {
	t.Helper()
	tail := &sink{}
	task := pipeline.NewTask([]pipeline.Processor{obs, tail})
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(context.Background()) }()
	for _, f := range frames {
		task.Inject(pipeline.Head, f, pipeline.Downstream)
	}
	task.Inject(pipeline.Head, pipeline.EndFrame{Reason: "test"}, pipeline.Downstream)
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("task run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
	return tail
}

func TestObserverEmitsGuidanceBeforeTranscript(t *testing.T) {
	session := newSession()
	tail := runThrough(t, New(session), []pipeline.Frame{
		pipeline.TranscriptionFrame{Text: "My chest hurts this morning", Final: true, Confidence: 0.92},
	})

	if len(tail.frames) != 3 { // guidance, transcript, end
		t.Fatalf("sink saw %d frames, want 3: %+v", len(tail.frames), tail.frames)
	}
	msg, ok := tail.frames[0].(pipeline.MessagesFrame)
	if !ok {
		t.Fatalf("first frame = %T, want MessagesFrame", tail.frames[0])
	}
	if msg.RunLLM {
		t.Error("guidance frame must not trigger a model run")
	}
	if len(msg.Messages) != 1 || msg.Messages[0].Role != "user" {
		t.Fatalf("guidance messages = %+v, want one user message", msg.Messages)
	}
	if !strings.HasPrefix(msg.Messages[0].Content, "[HEALTH]") {
		t.Errorf("guidance = %q, want [HEALTH] prefix", msg.Messages[0].Content)
	}
	if _, ok := tail.frames[1].(pipeline.TranscriptionFrame); !ok {
		t.Errorf("second frame = %T, want the forwarded transcript", tail.frames[1])
	}
	if got := session.TurnTokenBudget(); got != 180 {
		t.Errorf("token budget = %d, want 180 for a serious health signal", got)
	}
}

func TestObserverNoMatchEmitsNothingExtra(t *testing.T) {
	session := newSession()
	tail := runThrough(t, New(session), []pipeline.Frame{
		pipeline.TranscriptionFrame{Text: "the quick brown fox vaulted the fence", Final: true},
	})

	if len(tail.frames) != 2 { // transcript, end
		t.Fatalf("sink saw %d frames, want 2: %+v", len(tail.frames), tail.frames)
	}
	if got := session.TurnTokenBudget(); got != 150 {
		t.Errorf("token budget = %d, want the 150 default", got)
	}
}

func TestObserverIgnoresInterimTranscripts(t *testing.T) {
	session := newSession()
	tail := runThrough(t, New(session), []pipeline.Frame{
		pipeline.TranscriptionFrame{Text: "my chest hur", Final: false},
	})

	if len(tail.frames) != 2 { // interim forwarded untouched, end
		t.Fatalf("sink saw %d frames, want 2: %+v", len(tail.frames), tail.frames)
	}
	if _, ok := tail.frames[0].(pipeline.TranscriptionFrame); !ok {
		t.Errorf("first frame = %T, want the interim transcript", tail.frames[0])
	}
}

func TestObserverStrongGoodbyeEndsCall(t *testing.T) {
	session := newSession()
	obs := New(session, WithGoodbyeDelay(30*time.Millisecond))
	tail := &sink{}
	task := pipeline.NewTask([]pipeline.Processor{obs, tail})
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(context.Background()) }()

	task.Inject(pipeline.Head, pipeline.TranscriptionFrame{Text: "Goodbye Donna, talk to you tomorrow!", Final: true}, pipeline.Downstream)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("task run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled end never fired")
	}
	if got := task.EndReason(); got != "goodbye" {
		t.Errorf("end reason = %q, want goodbye", got)
	}
	if !session.GoodbyeInProgress() {
		t.Error("goodbye-in-progress should be set")
	}
	if _, senior := session.Goodbyes(); !senior {
		t.Error("senior-said-goodbye should be set")
	}

	var sawGoodbyeGuidance bool
	for _, f := range tail.frames {
		if msg, ok := f.(pipeline.MessagesFrame); ok && len(msg.Messages) == 1 &&
			strings.HasPrefix(msg.Messages[0].Content, "[GOODBYE]") {
			sawGoodbyeGuidance = true
		}
	}
	if !sawGoodbyeGuidance {
		t.Error("expected [GOODBYE] guidance ahead of the farewell transcript")
	}
}

func TestObserverFalseGoodbyeCancelsEnd(t *testing.T) {
	session := newSession()
	obs := New(session, WithGoodbyeDelay(300*time.Millisecond))
	tail := &sink{}
	task := pipeline.NewTask([]pipeline.Processor{obs, tail})
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(context.Background()) }()

	task.Inject(pipeline.Head, pipeline.TranscriptionFrame{Text: "Goodbye Donna!", Final: true}, pipeline.Downstream)

	// Wait for the farewell to be processed before barging in.
	deadline := time.Now().Add(time.Second)
	for !session.GoodbyeInProgress() {
		if time.Now().After(deadline) {
			t.Fatal("goodbye was never registered")
		}
		time.Sleep(time.Millisecond)
	}

	task.Inject(pipeline.Head, pipeline.InterruptFrame{}, pipeline.Downstream)
	task.Inject(pipeline.Head, pipeline.TranscriptionFrame{Text: "Oh wait, I forgot to tell you something.", Final: true}, pipeline.Downstream)

	select {
	case <-errCh:
		t.Fatal("call ended despite the cancelled goodbye")
	case <-time.After(500 * time.Millisecond):
	}
	if session.GoodbyeInProgress() {
		t.Error("goodbye-in-progress should have been cleared by the interrupt")
	}

	task.Inject(pipeline.Head, pipeline.EndFrame{Reason: "test"}, pipeline.Downstream)
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("task run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
	if got := task.EndReason(); got != "test" {
		t.Errorf("end reason = %q, want test", got)
	}
}

func TestObserverRecordsConfirmedAcknowledgment(t *testing.T) {
	session := newSession()
	runThrough(t, New(session), []pipeline.Frame{
		pipeline.TranscriptionFrame{Text: "Yes, I already took it", Final: true},
	})

	resp := session.ReminderResponse()
	if resp == nil {
		t.Fatal("expected a reminder response on the session")
	}
	if resp.Status != memory.DeliveryConfirmed {
		t.Errorf("status = %q, want confirmed", resp.Status)
	}
	if resp.Text != "Yes, I already took it" {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestObserverRecordsAcknowledgedResponse(t *testing.T) {
	session := newSession()
	runThrough(t, New(session), []pipeline.Frame{
		pipeline.TranscriptionFrame{Text: "Okay, I'll take them right after lunch", Final: true},
	})

	resp := session.ReminderResponse()
	if resp == nil {
		t.Fatal("expected a reminder response on the session")
	}
	if resp.Status != memory.DeliveryAcknowledged {
		t.Errorf("status = %q, want acknowledged", resp.Status)
	}
}

func TestObserverSkipsLowConfidenceAcknowledgment(t *testing.T) {
	session := newSession()
	runThrough(t, New(session), []pipeline.Frame{
		pipeline.TranscriptionFrame{Text: "Okay.", Final: true},
	})

	if resp := session.ReminderResponse(); resp != nil {
		t.Errorf("bare filler should not be recorded as a response, got %+v", resp)
	}
	// It still reads as low engagement.
	if got := session.TurnTokenBudget(); got != 130 {
		t.Errorf("token budget = %d, want 130 for low engagement", got)
	}
}

func TestGuidancePriority(t *testing.T) {
	cases := []struct {
		name string
		text string
		tag  string
	}{
		{"safety beats health", "I fell in the kitchen this morning and my hip hurts", "[SAFETY]"},
		{"safety beats cognitive", "I can't remember if I took my pills", "[SAFETY]"},
		{"critical distress", "I don't want to go on anymore", "[END-OF-LIFE]"},
		{"loss beats emotion", "I've been so lonely since my husband passed", "[END-OF-LIFE]"},
		{"adl", "it's gotten hard to shower by myself", "[DAILY LIVING]"},
		{"cognitive", "I keep forgetting things lately", "[COGNITIVE]"},
		{"hydration", "I haven't had any water today", "[HYDRATION]"},
		{"health", "my knee hurts so bad today", "[HEALTH]"},
		{"help", "can you help me figure out this form?", "[HELP]"},
		{"emotion", "I've been feeling down all week", "[EMOTION]"},
		{"family", "my daughter came by with the kids", "[FAMILY]"},
		{"social", "bridge club meets on Thursday", "[SOCIAL]"},
		{"activity", "I spent the afternoon gardening", "[ACTIVITY]"},
		{"goodbye beats time reference", "Goodbye Donna, talk to you tomorrow!", "[GOODBYE]"},
		{"question", "what time is it over there?", "[QUESTION]"},
		{"engagement", "fine.", "[ENGAGEMENT]"},
		{"acknowledgment", "I already took them, dear", "[REMINDER]"},
		{"weak goodbye", "well, it's getting late", "[GOODBYE]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line := composeGuidance(Analyze(tc.text))
			if line == "" {
				t.Fatalf("composeGuidance(%q) = empty", tc.text)
			}
			if !strings.HasPrefix(line, tc.tag) {
				t.Errorf("composeGuidance(%q) = %q, want %s prefix", tc.text, line, tc.tag)
			}
			if strings.ContainsAny(line, "\n") {
				t.Errorf("guidance must be a single line, got %q", line)
			}
		})
	}
}

func TestTokenBudgets(t *testing.T) {
	cases := []struct {
		text   string
		budget int
	}{
		{"I don't want to live anymore", 250},
		{"I fell down the stairs this morning", 200},
		{"it's gotten hard to shower by myself", 180},
		{"I keep forgetting things lately", 180},
		{"I haven't had any water today", 160},
		{"my chest hurts", 180},
		{"I've had a little headache", 150},
		{"we talked about my funeral arrangements", 180},
		{"can you help me figure out this form?", 150},
		{"I've been so lonely", 180},
		{"fine.", 130},
		{"what time is it over there?", 80},
		{"my daughter came by with the kids", 100},
		{"I spent the afternoon gardening", 150},
	}
	for _, tc := range cases {
		if got := tokenBudget(Analyze(tc.text)); got != tc.budget {
			t.Errorf("tokenBudget(%q) = %d, want %d", tc.text, got, tc.budget)
		}
	}
}
