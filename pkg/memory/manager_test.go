package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agewell-labs/donna/pkg/memory"
	memmock "github.com/agewell-labs/donna/pkg/memory/mock"
	embmock "github.com/agewell-labs/donna/pkg/provider/embeddings/mock"
)

func TestManagerRemember(t *testing.T) {
	store := &memmock.MemoryStore{RememberResult: true}
	embedder := &embmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}}
	mgr := memory.NewManager(store, embedder)

	inserted, err := mgr.Remember(context.Background(), "senior-1", memory.MemoryFact,
		"  grandson Tommy lives in Denver  ", 70, "call-42")
	if err != nil {
		t.Fatalf("Remember returned error: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true")
	}

	embeds := embedder.Calls()
	if len(embeds) != 1 {
		t.Fatalf("expected 1 embed call, got %d", len(embeds))
	}
	if got := embeds[0].Text; got != "grandson Tommy lives in Denver" {
		t.Errorf("embedded %q, want trimmed content", got)
	}

	calls := store.Calls()
	if len(calls) != 1 || calls[0].Method != "Remember" {
		t.Fatalf("expected 1 Remember store call, got %+v", calls)
	}
	rec, ok := calls[0].Args[0].(memory.Record)
	if !ok {
		t.Fatalf("expected Record arg, got %T", calls[0].Args[0])
	}
	if rec.ID == "" {
		t.Error("expected a generated ID")
	}
	if rec.SeniorID != "senior-1" {
		t.Errorf("SeniorID = %q, want senior-1", rec.SeniorID)
	}
	if rec.Type != memory.MemoryFact {
		t.Errorf("Type = %q, want fact", rec.Type)
	}
	if rec.Content != "grandson Tommy lives in Denver" {
		t.Errorf("Content = %q, want trimmed", rec.Content)
	}
	if len(rec.Embedding) != 3 {
		t.Errorf("Embedding length = %d, want 3", len(rec.Embedding))
	}
	if rec.Importance != 70 {
		t.Errorf("Importance = %v, want 70", rec.Importance)
	}
	if rec.SourceCallID != "call-42" {
		t.Errorf("SourceCallID = %q, want call-42", rec.SourceCallID)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestManagerRemember_ClampsImportance(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"above range", 150, 100},
		{"below range", -5, 0},
		{"in range", 55, 55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memmock.MemoryStore{}
			embedder := &embmock.Provider{EmbedResult: []float32{1}}
			mgr := memory.NewManager(store, embedder)

			if _, err := mgr.Remember(context.Background(), "s1", memory.MemoryEvent, "bingo night", tt.in, ""); err != nil {
				t.Fatalf("Remember returned error: %v", err)
			}

			rec := store.Calls()[0].Args[0].(memory.Record)
			if rec.Importance != tt.want {
				t.Errorf("Importance = %v, want %v", rec.Importance, tt.want)
			}
		})
	}
}

func TestManagerRemember_EmptyContent(t *testing.T) {
	store := &memmock.MemoryStore{}
	embedder := &embmock.Provider{}
	mgr := memory.NewManager(store, embedder)

	if _, err := mgr.Remember(context.Background(), "s1", memory.MemoryFact, "   ", 50, ""); err == nil {
		t.Fatal("expected error for empty content")
	}
	if len(embedder.Calls()) != 0 {
		t.Error("expected no embed calls")
	}
	if store.CallCount("Remember") != 0 {
		t.Error("expected no store calls")
	}
}

func TestManagerRemember_UnknownType(t *testing.T) {
	mgr := memory.NewManager(&memmock.MemoryStore{}, &embmock.Provider{})

	_, err := mgr.Remember(context.Background(), "s1", "opinion", "likes tea", 50, "")
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if !strings.Contains(err.Error(), "opinion") {
		t.Errorf("error %q should name the bad type", err)
	}
}

func TestManagerRemember_EmbedError(t *testing.T) {
	embedErr := errors.New("provider down")
	store := &memmock.MemoryStore{}
	mgr := memory.NewManager(store, &embmock.Provider{EmbedErr: embedErr})

	_, err := mgr.Remember(context.Background(), "s1", memory.MemoryFact, "likes tea", 50, "")
	if !errors.Is(err, embedErr) {
		t.Fatalf("expected wrapped embed error, got %v", err)
	}
	if store.CallCount("Remember") != 0 {
		t.Error("expected no store call after embed failure")
	}
}

func TestManagerSearch(t *testing.T) {
	want := []memory.SearchResult{
		{Record: memory.Record{Content: "daughter Sarah visits Sundays"}, Similarity: 0.82},
	}
	store := &memmock.MemoryStore{SearchResult: want}
	embedder := &embmock.Provider{EmbedResult: []float32{0.5, 0.5}}
	mgr := memory.NewManager(store, embedder)

	got, err := mgr.Search(context.Background(), "senior-1", "family visits", 5, 0.65)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(got) != 1 || got[0].Record.Content != want[0].Record.Content {
		t.Errorf("got %+v, want %+v", got, want)
	}

	calls := store.Calls()
	if len(calls) != 1 || calls[0].Method != "Search" {
		t.Fatalf("expected 1 Search call, got %+v", calls)
	}
	if calls[0].Args[0] != "senior-1" {
		t.Errorf("seniorID = %v, want senior-1", calls[0].Args[0])
	}
	if calls[0].Args[2] != 5 {
		t.Errorf("topK = %v, want 5", calls[0].Args[2])
	}
	if calls[0].Args[3] != 0.65 {
		t.Errorf("minSimilarity = %v, want 0.65", calls[0].Args[3])
	}
}

func TestManagerSearch_EmptyQuery(t *testing.T) {
	store := &memmock.MemoryStore{}
	mgr := memory.NewManager(store, &embmock.Provider{})

	if _, err := mgr.Search(context.Background(), "s1", "  ", 5, 0.65); err == nil {
		t.Fatal("expected error for empty query")
	}
	if store.CallCount("Search") != 0 {
		t.Error("expected no store calls")
	}
}

func TestManagerSearch_EmbedError(t *testing.T) {
	embedErr := errors.New("timeout")
	mgr := memory.NewManager(&memmock.MemoryStore{}, &embmock.Provider{EmbedErr: embedErr})

	if _, err := mgr.Search(context.Background(), "s1", "family", 5, 0.65); !errors.Is(err, embedErr) {
		t.Fatalf("expected wrapped embed error, got %v", err)
	}
}

func TestManagerCriticalAndBackground_PassThrough(t *testing.T) {
	store := &memmock.MemoryStore{
		CriticalResult:   []memory.Record{{Content: "fell last month", Type: memory.MemoryConcern}},
		BackgroundResult: []memory.Record{{Content: "plays bridge on Tuesdays"}},
	}
	mgr := memory.NewManager(store, &embmock.Provider{})

	crit, err := mgr.Critical(context.Background(), "senior-1", 3)
	if err != nil {
		t.Fatalf("Critical returned error: %v", err)
	}
	if len(crit) != 1 || crit[0].Type != memory.MemoryConcern {
		t.Errorf("Critical = %+v", crit)
	}

	bg, err := mgr.Background(context.Background(), "senior-1", 50, 5)
	if err != nil {
		t.Fatalf("Background returned error: %v", err)
	}
	if len(bg) != 1 || bg[0].Content != "plays bridge on Tuesdays" {
		t.Errorf("Background = %+v", bg)
	}

	if store.CallCount("Critical") != 1 || store.CallCount("Background") != 1 {
		t.Errorf("unexpected store calls: %+v", store.Calls())
	}
}
