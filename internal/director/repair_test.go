package director

import (
	"strings"
	"testing"
)

func TestRepair(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"valid untouched",
			`{"a": 1, "b": [2, 3]}`,
			`{"a": 1, "b": [2, 3]}`,
		},
		{
			"trailing comma in object",
			`{"a": 1,}`,
			`{"a": 1}`,
		},
		{
			"trailing comma in array",
			`{"a": [1, 2,]}`,
			`{"a": [1, 2]}`,
		},
		{
			"trailing comma with whitespace",
			"{\"a\": 1,\n  }",
			`{"a": 1}`,
		},
		{
			"unterminated string",
			`{"a": "cut off`,
			`{"a": "cut off"}`,
		},
		{
			"missing closers",
			`{"a": {"b": [1, 2`,
			`{"a": {"b": [1, 2]}}`,
		},
		{
			"markdown fence",
			"```json\n{\"a\": 1}\n```",
			`{"a": 1}`,
		},
		{
			"prose around the object",
			"Here is the analysis:\n{\"a\": 1}\nHope that helps!",
			`{"a": 1}`,
		},
		{
			"mismatched closer dropped",
			`{"a": [1, 2}`,
			`{"a": [1, 2]}`,
		},
		{
			"escaped quotes preserved",
			`{"a": "say \"hi\" now",}`,
			`{"a": "say \"hi\" now"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Repair(tc.in); got != tc.want {
				t.Errorf("Repair(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseResultStrict(t *testing.T) {
	raw := `{
	  "analysis": {"call_phase": "Main", "engagement_level": "HIGH", "current_topic": "garden", "emotional_tone": " neutral "},
	  "direction": {"stay_or_shift": "stay", "next_topic": "", "pacing_note": "good"},
	  "reminder": {"should_deliver": true, "which_reminder": "heart pill", "delivery_approach": "casual"},
	  "guidance": {"tone": "warm", "priority_action": "ask about the garden", "specific_instruction": "ask what she planted"}
	}`
	res, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if res.Analysis.CallPhase != PhaseMain {
		t.Errorf("call_phase = %q, want normalized %q", res.Analysis.CallPhase, PhaseMain)
	}
	if res.Analysis.EngagementLevel != EngagementHigh {
		t.Errorf("engagement = %q", res.Analysis.EngagementLevel)
	}
	if res.Analysis.EmotionalTone != ToneNeutral {
		t.Errorf("tone = %q", res.Analysis.EmotionalTone)
	}
	if !res.Reminder.ShouldDeliver || res.Reminder.WhichReminder != "heart pill" {
		t.Errorf("reminder = %+v", res.Reminder)
	}
}

func TestParseResultRepairsDamage(t *testing.T) {
	raw := "```json\n" + `{
	  "analysis": {"call_phase": "winding_down", "engagement_level": "medium", "current_topic": "family", "emotional_tone": "positive"},
	  "direction": {"stay_or_shift": "wrap_up", "next_topic": "", "pacing_note": "time_to_close",},
	  "guidance": {"tone": "warm", "priority_action": "begin sign-off` // cut off mid-string, no fences closed
	res, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if res.Analysis.CallPhase != PhaseWindingDown {
		t.Errorf("call_phase = %q", res.Analysis.CallPhase)
	}
	if res.Course.StayOrShift != SteerWrapUp {
		t.Errorf("stay_or_shift = %q", res.Course.StayOrShift)
	}
	if !strings.HasPrefix(res.Guidance.PriorityAction, "begin sign-off") {
		t.Errorf("priority_action = %q", res.Guidance.PriorityAction)
	}
}

func TestParseResultHopelessInput(t *testing.T) {
	if _, err := ParseResult("I could not produce an analysis, sorry."); err == nil {
		t.Fatal("expected an error for a reply with no object")
	}
}
