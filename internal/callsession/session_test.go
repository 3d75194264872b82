package callsession

import (
	"fmt"
	"testing"
	"time"

	"github.com/agewell-labs/donna/pkg/memory"
)

func TestTranscriptRing(t *testing.T) {
	s := New("CA100", "senior-1", KindCheckIn, 10*time.Minute)
	for i := 0; i < TranscriptCap+5; i++ {
		s.AppendTurn("user", fmt.Sprintf("turn %d", i))
	}
	got := s.Transcript()
	if len(got) != TranscriptCap {
		t.Fatalf("transcript length = %d, want %d", len(got), TranscriptCap)
	}
	if got[0].Text != "turn 5" {
		t.Errorf("oldest turn = %q, want turn 5 (head dropped)", got[0].Text)
	}
	if got[len(got)-1].Text != fmt.Sprintf("turn %d", TranscriptCap+4) {
		t.Errorf("newest turn = %q", got[len(got)-1].Text)
	}
}

func TestAppendTurnSkipsEmpty(t *testing.T) {
	s := New("CA100", "senior-1", KindCheckIn, 0)
	s.AppendTurn("user", "   ")
	s.AppendTurn("assistant", "")
	if got := len(s.Transcript()); got != 0 {
		t.Errorf("transcript length = %d, want 0", got)
	}
}

func TestBoundedListsDedupeAndEvict(t *testing.T) {
	s := New("CA100", "senior-1", KindCheckIn, 0)

	s.AddTopic("Gardening")
	s.AddTopic("gardening") // case-insensitive duplicate
	for i := 0; i < TopicsCap+3; i++ {
		s.AddTopic(fmt.Sprintf("topic-%d", i))
	}
	topics := s.Topics()
	if len(topics) != TopicsCap {
		t.Fatalf("topics length = %d, want %d", len(topics), TopicsCap)
	}
	// "Gardening" plus topic-0..topic-3 were evicted FIFO.
	if topics[0] == "Gardening" {
		t.Error("oldest topic survived past the cap")
	}
	if topics[len(topics)-1] != fmt.Sprintf("topic-%d", TopicsCap+2) {
		t.Errorf("newest topic = %q", topics[len(topics)-1])
	}

	for i := 0; i < QuestionsCap+2; i++ {
		s.AddQuestion(fmt.Sprintf("question %d?", i))
	}
	if got := len(s.Questions()); got != QuestionsCap {
		t.Errorf("questions length = %d, want %d", got, QuestionsCap)
	}
	for i := 0; i < AdviceCap+2; i++ {
		s.AddAdvice(fmt.Sprintf("try to do thing %d", i))
	}
	if got := len(s.Advice()); got != AdviceCap {
		t.Errorf("advice length = %d, want %d", got, AdviceCap)
	}
}

func TestLastTopic(t *testing.T) {
	s := New("CA100", "senior-1", KindCheckIn, 0)
	if got := s.LastTopic(); got != "" {
		t.Errorf("LastTopic on fresh session = %q, want empty", got)
	}
	s.AddTopic("weather")
	s.AddTopic("family")
	if got := s.LastTopic(); got != "family" {
		t.Errorf("LastTopic = %q, want family", got)
	}
}

func TestRemindersDeliveredOnlyGrows(t *testing.T) {
	s := New("CA100", "senior-1", KindReminder, 0)
	s.SetPendingReminders([]memory.Reminder{
		{ID: "rem-1", Title: "Blood Pressure Pill"},
		{ID: "rem-2", Title: "Cardiology Appointment"},
	})

	s.MarkReminderDelivered("blood pressure pill") // case-folded title
	s.MarkReminderDelivered("Blood Pressure Pill") // duplicate
	if got := s.RemindersDelivered(); len(got) != 1 {
		t.Fatalf("delivered = %v, want one entry", got)
	}

	remaining := s.RemainingReminders()
	if len(remaining) != 1 || remaining[0].ID != "rem-2" {
		t.Errorf("remaining = %+v, want only rem-2", remaining)
	}

	// Marking by id removes it from remaining too.
	s.MarkReminderDelivered("rem-2")
	if got := s.RemainingReminders(); len(got) != 0 {
		t.Errorf("remaining after both delivered = %+v, want none", got)
	}
	if got := s.RemindersDelivered(); len(got) != 2 {
		t.Errorf("delivered = %v, want two entries", got)
	}
}

func TestReminderResponseUpgradeOnly(t *testing.T) {
	s := New("CA100", "senior-1", KindReminder, 0)
	if got := s.ReminderResponse(); got != nil {
		t.Fatalf("fresh session has response %+v", got)
	}

	s.SetReminderResponse(ReminderResponse{Status: memory.DeliveryAcknowledged, Text: "okay"})
	s.SetReminderResponse(ReminderResponse{Status: memory.DeliveryConfirmed, Text: "already took it"})
	got := s.ReminderResponse()
	if got == nil || got.Status != memory.DeliveryConfirmed {
		t.Fatalf("response = %+v, want confirmed", got)
	}

	// A later acknowledgment must not downgrade the confirmation.
	s.SetReminderResponse(ReminderResponse{Status: memory.DeliveryAcknowledged, Text: "sure"})
	got = s.ReminderResponse()
	if got.Status != memory.DeliveryConfirmed {
		t.Errorf("response downgraded to %q", got.Status)
	}
	if got.Text != "already took it" {
		t.Errorf("response text = %q, want the confirming words", got.Text)
	}
}

func TestGoodbyeFlags(t *testing.T) {
	s := New("CA100", "senior-1", KindCheckIn, 0)

	s.BeginGoodbye()
	if !s.GoodbyeInProgress() || !s.CallEnding() {
		t.Fatal("BeginGoodbye did not set both flags")
	}

	s.CancelGoodbye()
	if s.GoodbyeInProgress() || s.CallEnding() {
		t.Fatal("CancelGoodbye did not clear both flags")
	}

	s.MarkDonnaGoodbye()
	s.MarkSeniorGoodbye()
	donna, senior := s.Goodbyes()
	if !donna || !senior {
		t.Errorf("Goodbyes = %v, %v, want both true", donna, senior)
	}
}

func TestTerminationReason(t *testing.T) {
	s := New("CA100", "senior-1", KindCheckIn, 0)
	s.SetTerminationReason("")
	if got := s.TerminationReason(); got != "" {
		t.Errorf("empty reason stored as %q", got)
	}
	s.SetTerminationReason("goodbye")
	s.SetTerminationReason("hard_limit")
	if got := s.TerminationReason(); got != "hard_limit" {
		t.Errorf("reason = %q, want last writer hard_limit", got)
	}
}

func TestTurnStats(t *testing.T) {
	s := New("CA100", "senior-1", KindCheckIn, 0)
	base := time.Now()

	// First audio without an open turn is a no-op.
	s.NoteFirstAudio(base)
	if got := s.Stats(); got.Turns != 0 {
		t.Fatalf("stats = %+v, want zero", got)
	}

	s.BeginTurn(base)
	s.NoteFirstAudio(base.Add(800 * time.Millisecond))
	s.NoteFirstAudio(base.Add(2 * time.Second)) // same turn, ignored

	s.BeginTurn(base.Add(5 * time.Second))
	s.NoteFirstAudio(base.Add(5*time.Second + 1200*time.Millisecond))

	got := s.Stats()
	if got.Turns != 2 {
		t.Fatalf("turns = %d, want 2", got.Turns)
	}
	if got.TotalLatency != 2*time.Second {
		t.Errorf("total latency = %v, want 2s", got.TotalLatency)
	}
	if got.MaxLatency != 1200*time.Millisecond {
		t.Errorf("max latency = %v, want 1.2s", got.MaxLatency)
	}
}

func TestSetCallSID(t *testing.T) {
	s := New("", "senior-1", KindCheckIn, 0)
	s.SetCallSID("")
	if got := s.CallSID(); got != "" {
		t.Errorf("CallSID = %q, want empty", got)
	}
	s.SetCallSID("CA200")
	if got := s.CallSID(); got != "CA200" {
		t.Errorf("CallSID = %q, want CA200", got)
	}
}
