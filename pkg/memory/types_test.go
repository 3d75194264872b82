package memory_test

import (
	"math"
	"testing"
	"time"

	"github.com/agewell-labs/donna/pkg/memory"
)

func TestMemoryTypeValid(t *testing.T) {
	valid := []memory.MemoryType{
		memory.MemoryFact,
		memory.MemoryPreference,
		memory.MemoryEvent,
		memory.MemoryConcern,
		memory.MemoryRelationship,
	}
	for _, mt := range valid {
		if !mt.Valid() {
			t.Errorf("expected %q to be valid", mt)
		}
	}

	for _, mt := range []memory.MemoryType{"", "opinion", "FACT"} {
		if mt.Valid() {
			t.Errorf("expected %q to be invalid", mt)
		}
	}
}

func TestEffectiveImportance_FreshMemory(t *testing.T) {
	now := time.Now()
	rec := memory.Record{Importance: 80, CreatedAt: now}

	got := rec.EffectiveImportance(now)
	if math.Abs(got-80) > 0.001 {
		t.Errorf("fresh memory: got %.3f, want 80", got)
	}
}

func TestEffectiveImportance_HalvesPerHalfLife(t *testing.T) {
	now := time.Now()

	oneHalfLife := memory.Record{
		Importance: 80,
		CreatedAt:  now.Add(-memory.DecayHalfLifeDays * 24 * time.Hour),
	}
	if got := oneHalfLife.EffectiveImportance(now); math.Abs(got-40) > 0.001 {
		t.Errorf("after one half-life: got %.3f, want 40", got)
	}

	twoHalfLives := memory.Record{
		Importance: 80,
		CreatedAt:  now.Add(-2 * memory.DecayHalfLifeDays * 24 * time.Hour),
	}
	if got := twoHalfLives.EffectiveImportance(now); math.Abs(got-20) > 0.001 {
		t.Errorf("after two half-lives: got %.3f, want 20", got)
	}
}

func TestEffectiveImportance_RecencyBoost(t *testing.T) {
	now := time.Now()
	base := memory.Record{
		Importance: 60,
		CreatedAt:  now,
	}

	t.Run("recent access adds access count", func(t *testing.T) {
		rec := base
		rec.LastAccessedAt = now.Add(-time.Hour)
		rec.AccessCount = 5
		if got := rec.EffectiveImportance(now); math.Abs(got-65) > 0.001 {
			t.Errorf("got %.3f, want 65", got)
		}
	})

	t.Run("boost is capped", func(t *testing.T) {
		rec := base
		rec.LastAccessedAt = now.Add(-time.Hour)
		rec.AccessCount = 25
		if got := rec.EffectiveImportance(now); math.Abs(got-70) > 0.001 {
			t.Errorf("got %.3f, want 70 (capped boost)", got)
		}
	})

	t.Run("stale access earns nothing", func(t *testing.T) {
		rec := base
		rec.LastAccessedAt = now.Add(-8 * 24 * time.Hour)
		rec.AccessCount = 5
		if got := rec.EffectiveImportance(now); math.Abs(got-60) > 0.001 {
			t.Errorf("got %.3f, want 60 (no boost)", got)
		}
	})

	t.Run("never accessed earns nothing", func(t *testing.T) {
		rec := base
		rec.AccessCount = 5
		if got := rec.EffectiveImportance(now); math.Abs(got-60) > 0.001 {
			t.Errorf("got %.3f, want 60 (no boost)", got)
		}
	})
}

func TestEffectiveImportance_FutureCreatedAt(t *testing.T) {
	// Clock skew must not inflate the score above the stored importance.
	now := time.Now()
	rec := memory.Record{Importance: 50, CreatedAt: now.Add(time.Hour)}

	if got := rec.EffectiveImportance(now); math.Abs(got-50) > 0.001 {
		t.Errorf("got %.3f, want 50", got)
	}
}

func TestDeliveryStatusTerminal(t *testing.T) {
	tests := []struct {
		status   memory.DeliveryStatus
		terminal bool
	}{
		{memory.DeliveryDelivered, false},
		{memory.DeliveryRetryPending, false},
		{memory.DeliveryAcknowledged, true},
		{memory.DeliveryConfirmed, true},
		{memory.DeliveryMaxAttempts, true},
		{memory.DeliveryStatus(""), false},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("Terminal(%q) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{"formatted US number", "+1 (555) 123-4567", "5551234567"},
		{"bare ten digits", "5551234567", "5551234567"},
		{"international keeps last ten", "+44 20 7946 0958", "2079460958"},
		{"short number unchanged", "911", "911"},
		{"empty", "", ""},
		{"letters stripped", "call 555-0100", "5550100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := memory.NormalizePhone(tt.phone); got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.phone, got, tt.want)
			}
		})
	}
}

func TestLocalDay(t *testing.T) {
	// 2026-03-01 02:30 UTC is still 2026-02-28 in UTC-6.
	instant := time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)
	central := time.FixedZone("CST", -6*3600)

	if got := memory.LocalDay(instant, time.UTC); got != "2026-03-01" {
		t.Errorf("UTC day = %q, want 2026-03-01", got)
	}
	if got := memory.LocalDay(instant, central); got != "2026-02-28" {
		t.Errorf("CST day = %q, want 2026-02-28", got)
	}
}

func TestSeniorLocation(t *testing.T) {
	t.Run("empty falls back to UTC", func(t *testing.T) {
		s := &memory.Senior{}
		if got := s.Location(); got != time.UTC {
			t.Errorf("got %v, want UTC", got)
		}
	})

	t.Run("invalid falls back to UTC", func(t *testing.T) {
		s := &memory.Senior{Timezone: "Mars/Olympus_Mons"}
		if got := s.Location(); got != time.UTC {
			t.Errorf("got %v, want UTC", got)
		}
	})

	t.Run("valid zone resolves", func(t *testing.T) {
		s := &memory.Senior{Timezone: "UTC"}
		if got := s.Location(); got.String() != "UTC" {
			t.Errorf("got %v, want UTC", got)
		}
	})
}
