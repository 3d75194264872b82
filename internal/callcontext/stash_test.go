package callcontext

import (
	"testing"
	"time"

	"github.com/agewell-labs/donna/pkg/memory"
)

func TestStashTakeCallConsumesOnce(t *testing.T) {
	t.Parallel()

	s := NewStash()
	s.PutCall("CA100", &Prepared{SystemPrompt: "prompt", Kind: memory.CallReminder})

	p, ok := s.TakeCall("CA100")
	if !ok || p == nil {
		t.Fatal("first TakeCall should return the bundle")
	}
	if p.SystemPrompt != "prompt" || p.Kind != memory.CallReminder {
		t.Errorf("bundle = %+v, want the stashed one", p)
	}
	if p.CreatedAt.IsZero() {
		t.Error("PutCall should stamp CreatedAt")
	}

	if _, ok := s.TakeCall("CA100"); ok {
		t.Error("second TakeCall should miss; entries are one-time-consume")
	}
}

func TestStashTakeCallMiss(t *testing.T) {
	t.Parallel()

	s := NewStash()
	if p, ok := s.TakeCall("CA404"); ok || p != nil {
		t.Errorf("TakeCall on an empty stash = (%v, %v), want (nil, false)", p, ok)
	}
}

func TestStashPhoneNormalization(t *testing.T) {
	t.Parallel()

	s := NewStash()
	s.PutPhone("+1 (555) 123-4567", &Prepared{Greeting: "hello"})

	p, ok := s.TakePhone("5551234567")
	if !ok || p == nil || p.Greeting != "hello" {
		t.Fatalf("TakePhone with a differently formatted number missed: (%+v, %v)", p, ok)
	}
	if _, ok := s.TakePhone("+15551234567"); ok {
		t.Error("phone entries must be one-time-consume too")
	}
}

func TestStashIgnoresEmptyKeys(t *testing.T) {
	t.Parallel()

	s := NewStash()
	s.PutCall("", &Prepared{})
	s.PutPhone("ext. only", &Prepared{})

	if _, ok := s.TakeCall(""); ok {
		t.Error("empty call SID must not be stashed")
	}
	if _, ok := s.TakePhone("ext. only"); ok {
		t.Error("a number with no digits must not be stashed")
	}
}

func TestStashDrop(t *testing.T) {
	t.Parallel()

	s := NewStash()
	s.PutCall("CA200", &Prepared{})
	s.Drop("CA200")

	if _, ok := s.TakeCall("CA200"); ok {
		t.Error("Drop should remove the entry")
	}
}

func TestStashSweepEvictsOldEntries(t *testing.T) {
	t.Parallel()

	s := NewStash()
	s.PutCall("CA-old", &Prepared{CreatedAt: time.Now().Add(-30 * time.Minute)})
	s.PutCall("CA-new", &Prepared{})
	s.PutPhone("5550001111", &Prepared{CreatedAt: time.Now().Add(-time.Hour)})

	if n := s.Sweep(10 * time.Minute); n != 2 {
		t.Fatalf("Sweep removed %d entries, want 2", n)
	}
	if _, ok := s.TakeCall("CA-old"); ok {
		t.Error("stale call entry survived the sweep")
	}
	if _, ok := s.TakePhone("5550001111"); ok {
		t.Error("stale phone entry survived the sweep")
	}
	if _, ok := s.TakeCall("CA-new"); !ok {
		t.Error("fresh entry must survive the sweep")
	}
}
